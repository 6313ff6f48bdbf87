// Package config provides configuration management for Herald.
package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrz1836/herald/internal/chain"
	"github.com/mrz1836/herald/internal/fileutil"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// Config represents the application configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Home      string          `yaml:"home"`
	Networks  []NetworkConfig `yaml:"networks"`
	Keystore  KeystoreConfig  `yaml:"keystore"`
	History   HistoryConfig   `yaml:"history"`
	Signing   SigningConfig   `yaml:"signing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NetworkConfig declares one chain.
type NetworkConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Type           string `yaml:"type"` // extrinsic or contract
	RPC            string `yaml:"rpc"`
	Symbol         string `yaml:"symbol"`
	Decimals       int    `yaml:"decimals"`
	MinimumBalance string `yaml:"minimum_balance,omitempty"` // Base units
	Explorer       string `yaml:"explorer,omitempty"`        // Template with {hash} or a prefix
	EVMChainID     int64  `yaml:"evm_chain_id,omitempty"`
	SS58Prefix     uint16 `yaml:"ss58_prefix,omitempty"`
	TransferCall   string `yaml:"transfer_call,omitempty"` // Hex pallet and call index, e.g. "0403"
	MetadataHash   bool   `yaml:"metadata_hash,omitempty"`
}

// KeystoreConfig defines where accounts are kept.
type KeystoreConfig struct {
	Dir              string `yaml:"dir"`
	ScryptWorkFactor int    `yaml:"scrypt_work_factor,omitempty"`
}

// HistoryConfig defines the transaction history database.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// SigningConfig defines signing settings.
type SigningConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	InternalURL    string `yaml:"internal_url,omitempty"`
}

// RateLimitConfig defines the per-chain request budget of the chain facade.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	Retries           int     `yaml:"retries"`
}

// MetricsConfig defines the metrics endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Color         string `yaml:"color"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, heralderr.WithCause(heralderr.WithDetail(heralderr.ErrConfigInvalid, path), err)
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, data, 0o600)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// Validate checks the network declarations.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Networks))
	for i := range c.Networks {
		n := &c.Networks[i]
		if n.ID == "" {
			return heralderr.WithDetail(heralderr.ErrConfigInvalid, fmt.Sprintf("network %d has no id", i))
		}
		if seen[n.ID] {
			return heralderr.WithDetail(heralderr.ErrConfigInvalid, fmt.Sprintf("network %q declared twice", n.ID))
		}
		seen[n.ID] = true

		if _, ok := chain.ParseType(n.Type); !ok {
			return heralderr.WithDetail(heralderr.ErrConfigInvalid, fmt.Sprintf("network %q has unknown type %q", n.ID, n.Type))
		}
		if n.Decimals < 0 {
			return heralderr.WithDetail(heralderr.ErrConfigInvalid, fmt.Sprintf("network %q has negative decimals", n.ID))
		}
		if _, err := n.minimumBalance(); err != nil {
			return err
		}
		if _, err := n.TransferCallIndex(); err != nil {
			return err
		}
	}
	return nil
}

// ChainInfos converts the network declarations to chain metadata.
func (c *Config) ChainInfos() ([]chain.Info, error) {
	infos := make([]chain.Info, 0, len(c.Networks))
	for i := range c.Networks {
		info, err := c.Networks[i].Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Network returns the declaration of the network with id.
func (c *Config) Network(id string) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if n.ID == id {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// Info converts the declaration to chain metadata.
func (n NetworkConfig) Info() (chain.Info, error) {
	chainType, ok := chain.ParseType(n.Type)
	if !ok {
		return chain.Info{}, heralderr.WithDetail(heralderr.ErrConfigInvalid, fmt.Sprintf("network %q has unknown type %q", n.ID, n.Type))
	}
	minimum, err := n.minimumBalance()
	if err != nil {
		return chain.Info{}, err
	}
	name := n.Name
	if name == "" {
		name = n.ID
	}
	return chain.Info{
		ID:             chain.ID(n.ID),
		Name:           name,
		Type:           chainType,
		Symbol:         n.Symbol,
		Decimals:       n.Decimals,
		MinimumBalance: minimum,
		ExplorerURL:    n.Explorer,
		EVMChainID:     n.EVMChainID,
	}, nil
}

// TransferCallIndex parses the transfer call index, or returns nil when unset.
func (n NetworkConfig) TransferCallIndex() (*[2]byte, error) {
	if n.TransferCall == "" {
		return nil, nil //nolint:nilnil // unset means the adapter default
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(n.TransferCall, "0x"))
	if err != nil || len(raw) != 2 {
		return nil, heralderr.WithDetail(heralderr.ErrConfigInvalid,
			fmt.Sprintf("network %q: transfer_call must be two hex bytes", n.ID))
	}
	return &[2]byte{raw[0], raw[1]}, nil
}

func (n NetworkConfig) minimumBalance() (*big.Int, error) {
	if n.MinimumBalance == "" {
		return nil, nil //nolint:nilnil // no minimum balance
	}
	v, ok := new(big.Int).SetString(n.MinimumBalance, 10)
	if !ok || v.Sign() < 0 {
		return nil, heralderr.WithDetail(heralderr.ErrConfigInvalid,
			fmt.Sprintf("network %q: minimum_balance must be a non-negative integer", n.ID))
	}
	return v, nil
}

// GetHome returns the herald home directory path.
func (c *Config) GetHome() string {
	return c.Home
}

// KeystoreDir returns the keystore directory, relative paths resolved against home.
func (c *Config) KeystoreDir() string {
	return c.resolve(c.Keystore.Dir)
}

// HistoryPath returns the history database path.
func (c *Config) HistoryPath() string {
	return c.resolve(c.History.Path)
}

// SigningTimeout returns the external signing timeout.
func (c *Config) SigningTimeout() time.Duration {
	return time.Duration(c.Signing.TimeoutSeconds) * time.Second
}

// GetLoggingLevel returns the configured logging level.
func (c *Config) GetLoggingLevel() string {
	return c.Logging.Level
}

// GetLoggingFile returns the configured log file path.
func (c *Config) GetLoggingFile() string {
	return c.resolve(c.Logging.File)
}

// GetOutputFormat returns the default output format.
func (c *Config) GetOutputFormat() string {
	return c.Output.DefaultFormat
}

// IsVerbose returns true if verbose output is enabled.
func (c *Config) IsVerbose() bool {
	return c.Output.Verbose
}

func (c *Config) resolve(path string) string {
	path = ExpandHome(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ExpandHome(c.Home), path)
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// DefaultHome returns the default herald home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".herald"
	}
	return filepath.Join(home, ".herald")
}
