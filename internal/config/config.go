// Package config provides configuration management for Imali.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/IMALI-DEFI/Imali-sub000/internal/fileutil"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// Wallet source names understood by the CLI.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Config represents the application configuration.
type Config struct {
	Version  int            `yaml:"version" validate:"gte=1"`
	Home     string         `yaml:"home" validate:"required"`
	Registry RegistryConfig `yaml:"registry"`
	RPC      RPCConfig      `yaml:"rpc"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RegistryConfig points at an optional chain registry file that replaces
// the embedded default.
type RegistryConfig struct {
	File string `yaml:"file,omitempty"`
}

// RPCConfig controls the read backends used by contract handles.
type RPCConfig struct {
	// Overrides replaces the registry RPC list for a chain id.
	Overrides      map[uint64][]string `yaml:"overrides,omitempty" validate:"dive,min=1,dive,url"`
	TimeoutSeconds int                 `yaml:"timeout_seconds" validate:"gte=1,lte=600"`
	RateLimit      float64             `yaml:"rate_limit" validate:"gte=0"`
	Burst          int                 `yaml:"burst" validate:"gte=1"`
}

// WalletConfig defines how a wallet provider is detected.
type WalletConfig struct {
	// Sources is the ordered list of provider sources tried on connect.
	Sources                []string           `yaml:"sources" validate:"min=1,dive,oneof=local remote"`
	Origin                 string             `yaml:"origin" validate:"required"`
	ApprovalTimeoutSeconds int                `yaml:"approval_timeout_seconds" validate:"gte=1"`
	Local                  LocalWalletConfig  `yaml:"local"`
	Remote                 RemoteWalletConfig `yaml:"remote"`
}

// LocalWalletConfig defines the local development wallet.
type LocalWalletConfig struct {
	Keystore     string `yaml:"keystore" validate:"required"`
	Store        string `yaml:"store" validate:"required"`
	Accounts     int    `yaml:"accounts" validate:"gte=1,lte=100"`
	DefaultChain uint64 `yaml:"default_chain" validate:"gt=0"`
	MemoryLock   bool   `yaml:"memory_lock"`
}

// RemoteWalletConfig defines the remote wallet session bridge.
type RemoteWalletConfig struct {
	URL string `yaml:"url,omitempty" validate:"omitempty,url"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format" validate:"oneof=auto text json"`
	Color         string `yaml:"color"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=off none error debug"`
	File  string `yaml:"file"`
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, imalierr.WithCause(imalierr.ErrConfigNotFound, err)
		}
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, imalierr.WithCause(imalierr.ErrConfigInvalid, err)
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

// Validate checks the configuration with its struct tags.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var fields []string
		var verrs validator.ValidationErrors
		if imalierr.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
		}
		return imalierr.WithDetails(
			imalierr.WithCause(imalierr.ErrConfigInvalid, err),
			map[string]string{"fields": strings.Join(fields, ", ")},
		)
	}
	return nil
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// GetHome returns the imali home directory path.
func (c *Config) GetHome() string {
	return c.Home
}

// GetLoggingLevel returns the configured logging level.
func (c *Config) GetLoggingLevel() string {
	return c.Logging.Level
}

// GetLoggingFile returns the configured log file path.
func (c *Config) GetLoggingFile() string {
	return c.Logging.File
}

// GetOutputFormat returns the default output format.
func (c *Config) GetOutputFormat() string {
	return c.Output.DefaultFormat
}

// IsVerbose returns true if verbose output is enabled.
func (c *Config) IsVerbose() bool {
	return c.Output.Verbose
}

// RPCTimeout returns the per-request RPC timeout.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPC.TimeoutSeconds) * time.Second
}

// ApprovalTimeout bounds how long a wallet prompt may stay open.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.Wallet.ApprovalTimeoutSeconds) * time.Second
}

// RPCOverride returns the configured RPC list for a chain, if any.
func (c *Config) RPCOverride(chainID uint64) ([]string, bool) {
	urls, ok := c.RPC.Overrides[chainID]
	return urls, ok && len(urls) > 0
}

// ExpandPath resolves a leading "~/" against the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// DefaultHome returns the default imali home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".imali"
	}
	return filepath.Join(home, ".imali")
}
