package cli

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IMALI-DEFI/Imali-sub000/internal/config"
	"github.com/IMALI-DEFI/Imali-sub000/internal/output"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// configCmd is the parent command for configuration operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and modify imali configuration settings.`,
}

// configInitCmd initializes the configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long: `Create a default configuration file at ~/.imali/config.yaml.

If a configuration file already exists, this command will not overwrite it
unless --force is specified.`,
	Example: `  imali config init
  imali config init --force`,
	RunE: runConfigInit,
}

// configShowCmd shows the current configuration.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration after environment and flag overrides.`,
	Example: `  imali config show
  imali config show -o json`,
	RunE: runConfigShow,
}

// configGetCmd gets a specific configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Get a configuration value",
	Long: `Get a specific configuration value by its dotted path.`,
	Example: `  imali config get wallet.origin
  imali config get wallet.local.default_chain
  imali config get logging.level`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

// configSetCmd sets a configuration value.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value by its dotted path. The file is
validated before it is written.`,
	Example: `  imali config set wallet.remote.url ws://localhost:8546
  imali config set wallet.sources remote,local
  imali config set logging.level debug`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

// configValidateCmd validates the configuration file.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Check the configuration file and the chain registry it points at.`,
	Example: `  imali config validate`,
	RunE: runConfigValidate,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var configForce bool

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing configuration")

	configCmd.GroupID = "config"
	appendSubcommandList(configCmd)
}

// configKey reads and writes one configuration value as a string.
type configKey struct {
	get func(c *config.Config) string
	set func(c *config.Config, value string) error
}

// configKeys lists every path reachable through config get/set.
//
//nolint:gochecknoglobals // Static lookup table
var configKeys = map[string]configKey{
	"home": {
		get: func(c *config.Config) string { return c.Home },
		set: func(c *config.Config, v string) error { c.Home = v; return nil },
	},
	"registry.file": {
		get: func(c *config.Config) string { return c.Registry.File },
		set: func(c *config.Config, v string) error { c.Registry.File = v; return nil },
	},
	"rpc.timeout_seconds": {
		get: func(c *config.Config) string { return strconv.Itoa(c.RPC.TimeoutSeconds) },
		set: func(c *config.Config, v string) error { return setInt(&c.RPC.TimeoutSeconds, v) },
	},
	"rpc.rate_limit": {
		get: func(c *config.Config) string { return strconv.FormatFloat(c.RPC.RateLimit, 'f', -1, 64) },
		set: func(c *config.Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return invalidValue(v, "a number")
			}
			c.RPC.RateLimit = f
			return nil
		},
	},
	"rpc.burst": {
		get: func(c *config.Config) string { return strconv.Itoa(c.RPC.Burst) },
		set: func(c *config.Config, v string) error { return setInt(&c.RPC.Burst, v) },
	},
	"wallet.sources": {
		get: func(c *config.Config) string { return strings.Join(c.Wallet.Sources, ",") },
		set: func(c *config.Config, v string) error {
			var sources []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					sources = append(sources, s)
				}
			}
			c.Wallet.Sources = sources
			return nil
		},
	},
	"wallet.origin": {
		get: func(c *config.Config) string { return c.Wallet.Origin },
		set: func(c *config.Config, v string) error { c.Wallet.Origin = v; return nil },
	},
	"wallet.approval_timeout_seconds": {
		get: func(c *config.Config) string { return strconv.Itoa(c.Wallet.ApprovalTimeoutSeconds) },
		set: func(c *config.Config, v string) error { return setInt(&c.Wallet.ApprovalTimeoutSeconds, v) },
	},
	"wallet.local.keystore": {
		get: func(c *config.Config) string { return c.Wallet.Local.Keystore },
		set: func(c *config.Config, v string) error { c.Wallet.Local.Keystore = v; return nil },
	},
	"wallet.local.store": {
		get: func(c *config.Config) string { return c.Wallet.Local.Store },
		set: func(c *config.Config, v string) error { c.Wallet.Local.Store = v; return nil },
	},
	"wallet.local.accounts": {
		get: func(c *config.Config) string { return strconv.Itoa(c.Wallet.Local.Accounts) },
		set: func(c *config.Config, v string) error { return setInt(&c.Wallet.Local.Accounts, v) },
	},
	"wallet.local.default_chain": {
		get: func(c *config.Config) string { return strconv.FormatUint(c.Wallet.Local.DefaultChain, 10) },
		set: func(c *config.Config, v string) error {
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return invalidValue(v, "a chain id")
			}
			c.Wallet.Local.DefaultChain = id
			return nil
		},
	},
	"wallet.local.memory_lock": {
		get: func(c *config.Config) string { return strconv.FormatBool(c.Wallet.Local.MemoryLock) },
		set: func(c *config.Config, v string) error { return setBool(&c.Wallet.Local.MemoryLock, v) },
	},
	"wallet.remote.url": {
		get: func(c *config.Config) string { return redactURL(c.Wallet.Remote.URL) },
		set: func(c *config.Config, v string) error { c.Wallet.Remote.URL = v; return nil },
	},
	"output.default_format": {
		get: func(c *config.Config) string { return c.Output.DefaultFormat },
		set: func(c *config.Config, v string) error { c.Output.DefaultFormat = v; return nil },
	},
	"output.color": {
		get: func(c *config.Config) string { return c.Output.Color },
		set: func(c *config.Config, v string) error {
			if v != "auto" && v != "always" && v != "never" {
				return invalidValue(v, "auto, always, or never")
			}
			c.Output.Color = v
			return nil
		},
	},
	"output.verbose": {
		get: func(c *config.Config) string { return strconv.FormatBool(c.Output.Verbose) },
		set: func(c *config.Config, v string) error { return setBool(&c.Output.Verbose, v) },
	},
	"logging.level": {
		get: func(c *config.Config) string { return c.Logging.Level },
		set: func(c *config.Config, v string) error { c.Logging.Level = v; return nil },
	},
	"logging.file": {
		get: func(c *config.Config) string { return c.Logging.File },
		set: func(c *config.Config, v string) error { c.Logging.File = v; return nil },
	},
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return invalidValue(v, "an integer")
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return invalidValue(v, "true or false")
	}
	*dst = b
	return nil
}

// redactURL hides credentials embedded in an endpoint URL.
func redactURL(raw string) string {
	u, err := url.Parse(config.SanitizeURL(raw))
	if err != nil {
		return raw
	}
	return u.Redacted()
}

func invalidValue(value, valid string) error {
	return imalierr.WithDetails(imalierr.ErrInvalidInput, map[string]string{"value": value, "valid": valid})
}

func lookupConfigKey(path string) (configKey, error) {
	k, ok := configKeys[path]
	if !ok {
		return configKey{}, imalierr.WithSuggestion(
			imalierr.WithDetails(imalierr.ErrNotFound, map[string]string{"path": path}),
			fmt.Sprintf("configuration path '%s' not found; run 'imali config show' to list settings", path),
		)
	}
	return k, nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	home := config.ExpandPath(cfg.Home)
	configPath := config.Path(home)

	if _, err := os.Stat(configPath); err == nil && !configForce {
		return imalierr.WithSuggestion(
			imalierr.ErrGeneral,
			fmt.Sprintf("configuration already exists at %s. Use --force to overwrite.", configPath),
		)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	defaultCfg := config.DefaultsForHome(cfg.Home)

	if err := config.Save(defaultCfg, configPath); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	w := cmd.OutOrStdout()
	out(w, "Configuration initialized at %s\n", configPath)
	outln(w)
	outln(w, "Edit this file to configure:")
	outln(w, "  - wallet.sources: Wallets to try, in order (remote, local)")
	outln(w, "  - wallet.remote.url: Your wallet bridge endpoint")
	outln(w, "  - rpc.overrides: RPC endpoints per chain id")
	outln(w, "  - logging.level: Log level (off/error/debug)")

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	if formatter.Format() == output.FormatJSON {
		return output.WriteJSON(w, configValues(cfg))
	}
	return displayConfigText(w, cfg)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	k, err := lookupConfigKey(args[0])
	if err != nil {
		return err
	}
	outln(cmd.OutOrStdout(), k.get(cfg))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	path, value := args[0], args[1]

	k, err := lookupConfigKey(path)
	if err != nil {
		return err
	}

	configPath := config.Path(config.ExpandPath(cfg.Home))
	current, err := config.Load(configPath)
	if err != nil {
		if !imalierr.Is(err, imalierr.ErrConfigNotFound) {
			return err
		}
		current = config.DefaultsForHome(cfg.Home)
	}

	if err := k.set(current, value); err != nil {
		return err
	}
	if err := current.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := config.Save(current, configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	return output.FormatSuccess(cmd.OutOrStdout(), fmt.Sprintf("Set %s = %s", path, k.get(current)), formatter.Format())
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	configPath := config.Path(config.ExpandPath(cfg.Home))
	fileCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := fileCfg.Validate(); err != nil {
		return err
	}
	if _, err := loadRegistry(fileCfg); err != nil {
		return err
	}

	if formatter.Format() == output.FormatJSON {
		return output.WriteJSON(cmd.OutOrStdout(), map[string]any{"valid": true, "path": configPath})
	}
	out(cmd.OutOrStdout(), "Configuration at %s is valid\n", configPath)
	return nil
}

// configValues returns every configuration value keyed by dotted path.
func configValues(c *config.Config) map[string]string {
	values := make(map[string]string, len(configKeys))
	for path, k := range configKeys {
		values[path] = k.get(c)
	}
	for id, urls := range c.RPC.Overrides {
		sanitized := make([]string, len(urls))
		for i, u := range urls {
			sanitized[i] = redactURL(u)
		}
		values["rpc.overrides."+strconv.FormatUint(id, 10)] = strings.Join(sanitized, ",")
	}
	return values
}

// displayConfigText shows the config in text format.
func displayConfigText(w io.Writer, c *config.Config) error {
	values := configValues(c)
	paths := make([]string, 0, len(values))
	for p := range values {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	table := output.NewTable("Setting", "Value")
	for _, p := range paths {
		v := values[p]
		if v == "" {
			v = "(not configured)"
		}
		table.AddRow(p, v)
	}

	outln(w, "Configuration:")
	outln(w)
	return table.Render(w)
}
