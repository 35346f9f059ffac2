package config

import "path/filepath"

// Default values for a fresh configuration.
const (
	DefaultOrigin          = "imali-dashboard"
	DefaultRPCTimeout      = 30
	DefaultRateLimit       = 10.0
	DefaultBurst           = 20
	DefaultApprovalTimeout = 120
	DefaultLocalAccounts   = 5
	DefaultLocalChain      = 137
)

// DefaultWalletSources is the detection order when nothing is configured:
// a paired remote wallet first, then the local development wallet.
//
//nolint:gochecknoglobals // Configuration default, copied into each Config
var DefaultWalletSources = []string{SourceRemote, SourceLocal}

// Defaults returns the default configuration rooted at ~/.imali.
func Defaults() *Config {
	return DefaultsForHome("~/.imali")
}

// DefaultsForHome returns the default configuration with every data file
// placed under home.
func DefaultsForHome(home string) *Config {
	sources := make([]string, len(DefaultWalletSources))
	copy(sources, DefaultWalletSources)

	return &Config{
		Version: 1,
		Home:    home,
		RPC: RPCConfig{
			TimeoutSeconds: DefaultRPCTimeout,
			RateLimit:      DefaultRateLimit,
			Burst:          DefaultBurst,
		},
		Wallet: WalletConfig{
			Sources:                sources,
			Origin:                 DefaultOrigin,
			ApprovalTimeoutSeconds: DefaultApprovalTimeout,
			Local: LocalWalletConfig{
				Keystore:     filepath.Join(home, "wallet", "keystore.age"),
				Store:        filepath.Join(home, "wallet", "state.db"),
				Accounts:     DefaultLocalAccounts,
				DefaultChain: DefaultLocalChain,
				MemoryLock:   true,
			},
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
			Color:         "auto",
			Verbose:       false,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  filepath.Join(home, "imali.log"),
		},
	}
}
