package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Environment variable names.
const (
	EnvHome          = "IMALI_HOME"
	EnvRegistryFile  = "IMALI_REGISTRY_FILE"
	EnvRemoteURL     = "IMALI_REMOTE_URL"
	EnvWalletSources = "IMALI_WALLET_SOURCES"
	EnvOutputFormat  = "IMALI_OUTPUT_FORMAT"
	EnvVerbose       = "IMALI_VERBOSE"
	EnvLogLevel      = "IMALI_LOG_LEVEL"
	EnvNoColor       = "NO_COLOR"

	// EnvPassphrase supplies the local keystore passphrase without a
	// terminal prompt. Intended for scripted use.
	EnvPassphrase = "IMALI_PASSPHRASE"

	// EnvRPCPrefix followed by a chain id overrides that chain's RPC list,
	// e.g. IMALI_RPC_137=https://a,https://b.
	EnvRPCPrefix = "IMALI_RPC_"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
//
//nolint:gocognit,gocyclo // Environment variable overrides require sequential checks
func ApplyEnvironment(cfg *Config) {
	applyEnvironment(cfg, os.Environ())
}

func applyEnvironment(cfg *Config, environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	if v := env[EnvHome]; v != "" {
		cfg.Home = v
	}

	if v := env[EnvRegistryFile]; v != "" {
		cfg.Registry.File = strings.TrimSpace(v)
	}

	if v := env[EnvRemoteURL]; v != "" {
		cfg.Wallet.Remote.URL = SanitizeURL(v)
	}

	if v := env[EnvWalletSources]; v != "" {
		cfg.Wallet.Sources = splitList(strings.ToLower(v))
	}

	if v := env[EnvOutputFormat]; v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}

	if v := env[EnvVerbose]; v != "" {
		cfg.Output.Verbose = parseBool(v)
	}

	if v := env[EnvLogLevel]; v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	// NO_COLOR disables colored output
	if _, ok := env[EnvNoColor]; ok {
		cfg.Output.Color = "never"
	}

	for k, v := range env {
		suffix, ok := strings.CutPrefix(k, EnvRPCPrefix)
		if !ok || v == "" {
			continue
		}
		chainID, err := strconv.ParseUint(suffix, 10, 64)
		if err != nil || chainID == 0 {
			continue
		}
		urls := splitList(v)
		for i := range urls {
			urls[i] = SanitizeURL(urls[i])
		}
		if cfg.RPC.Overrides == nil {
			cfg.RPC.Overrides = make(map[uint64][]string)
		}
		cfg.RPC.Overrides[chainID] = urls
	}
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

// SanitizeURL cleans a URL string by removing whitespace and control
// characters left over from copy-paste. Unparseable input is returned
// trimmed so validation can report it.
func SanitizeURL(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)

	u, err := url.Parse(cleaned)
	if err != nil {
		return cleaned
	}
	return u.String()
}
