package config

// Default endpoints of the built-in networks. All are public, no-API-key providers.
const (
	DefaultEthereumRPCURL = "https://ethereum-rpc.publicnode.com"
	DefaultSepoliaRPCURL  = "https://ethereum-sepolia-rpc.publicnode.com"
	DefaultPolkadotRPCURL = "wss://rpc.polkadot.io"
	DefaultWestendRPCURL  = "wss://westend-rpc.polkadot.io"
)

// Defaults for the remaining settings.
const (
	DefaultSigningTimeoutSeconds = 300
	DefaultRequestsPerSecond     = 5
	DefaultBurst                 = 10
	DefaultRetries               = 3
)

// DefaultNetworks returns the built-in network declarations.
func DefaultNetworks() []NetworkConfig {
	return []NetworkConfig{
		{
			ID:             "polkadot",
			Name:           "Polkadot",
			Type:           "extrinsic",
			RPC:            DefaultPolkadotRPCURL,
			Symbol:         "DOT",
			Decimals:       10,
			MinimumBalance: "10000000000",
			Explorer:       "https://polkadot.subscan.io/extrinsic",
			SS58Prefix:     0,
		},
		{
			ID:             "westend",
			Name:           "Westend",
			Type:           "extrinsic",
			RPC:            DefaultWestendRPCURL,
			Symbol:         "WND",
			Decimals:       12,
			MinimumBalance: "1000000000",
			Explorer:       "https://westend.subscan.io/extrinsic",
			SS58Prefix:     42,
		},
		{
			ID:         "ethereum",
			Name:       "Ethereum",
			Type:       "contract",
			RPC:        DefaultEthereumRPCURL,
			Symbol:     "ETH",
			Decimals:   18,
			Explorer:   "https://etherscan.io/tx/{hash}",
			EVMChainID: 1,
		},
		{
			ID:         "sepolia",
			Name:       "Sepolia",
			Type:       "contract",
			RPC:        DefaultSepoliaRPCURL,
			Symbol:     "ETH",
			Decimals:   18,
			Explorer:   "https://sepolia.etherscan.io/tx/{hash}",
			EVMChainID: 11155111,
		},
	}
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version:  1,
		Home:     "~/.herald",
		Networks: DefaultNetworks(),
		Keystore: KeystoreConfig{
			Dir: "keystore",
		},
		History: HistoryConfig{
			Path: "history.db",
		},
		Signing: SigningConfig{
			TimeoutSeconds: DefaultSigningTimeoutSeconds,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurst,
			Retries:           DefaultRetries,
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
			Color:         "auto",
			Verbose:       false,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  "herald.log",
		},
	}
}
