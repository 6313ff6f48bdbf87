package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvHome           = "HERALD_HOME"
	EnvOutputFormat   = "HERALD_OUTPUT_FORMAT"
	EnvVerbose        = "HERALD_VERBOSE"
	EnvLogLevel       = "HERALD_LOG_LEVEL"
	EnvInternalURL    = "HERALD_INTERNAL_URL"
	EnvSigningTimeout = "HERALD_SIGNING_TIMEOUT"
	EnvMetricsAddr    = "HERALD_METRICS_ADDR"
	EnvNoColor        = "NO_COLOR"

	// EnvRPCPrefix and EnvRPCSuffix frame per-network RPC overrides,
	// e.g. HERALD_POLKADOT_RPC.
	EnvRPCPrefix = "HERALD_"
	EnvRPCSuffix = "_RPC"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
//
//nolint:gocognit,gocyclo // Environment variable overrides require sequential checks
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	for i := range cfg.Networks {
		if v := os.Getenv(RPCEnvName(cfg.Networks[i].ID)); v != "" {
			cfg.Networks[i].RPC = SanitizeURL(v)
		}
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}

	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Output.Verbose = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv(EnvInternalURL); v != "" {
		cfg.Signing.InternalURL = SanitizeURL(v)
	}

	// HERALD_SIGNING_TIMEOUT is in seconds
	if v := os.Getenv(EnvSigningTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Signing.TimeoutSeconds = secs
		}
	}

	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.Metrics.Addr = strings.TrimSpace(v)
	}

	// NO_COLOR disables colored output
	if _, ok := os.LookupEnv(EnvNoColor); ok {
		cfg.Output.Color = "never"
	}
}

// RPCEnvName returns the RPC override variable of a network,
// e.g. "asset-hub" becomes HERALD_ASSET_HUB_RPC.
func RPCEnvName(networkID string) string {
	name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(networkID))
	return EnvRPCPrefix + name + EnvRPCSuffix
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}

// SanitizeURL trims copy-paste artifacts from a user-provided URL. Values
// that do not parse as absolute URLs are returned trimmed but otherwise untouched.
func SanitizeURL(raw string) string {
	raw = strings.Trim(strings.TrimSpace(raw), `"'`)
	raw = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == ' ' {
			return -1
		}
		return r
	}, raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return u.String()
}
