// Package cli implements the imali command-line interface.
//
// This package uses global variables to manage CLI state, which is the standard
// pattern for Cobra-based CLI applications. The globals are initialized in
// PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IMALI-DEFI/Imali-sub000/internal/config"
	"github.com/IMALI-DEFI/Imali-sub000/internal/metrics"
	"github.com/IMALI-DEFI/Imali-sub000/internal/output"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

var (
	// Global flags
	homeDir      string
	outputFormat string
	verbose      bool
	sourcesFlag  []string
	assumeYes    bool
	showMetrics  bool

	// Global state initialized in PersistentPreRunE
	cfg       *config.Config
	logger    *config.Logger
	formatter *output.Formatter
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "imali",
	Short: "Wallet session and multi-chain contract resolution",
	Long: `Imali connects to a wallet, keeps track of its account and network, and
resolves the dashboard's contracts on the chain each one lives on, asking the
wallet to switch networks when needed.`,
	Example: `  imali wallet init
  imali wallet connect
  imali contract Staking --call totalStaked
  imali contracts list --filter stak`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initGlobals()
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		format := output.FormatText
		if formatter != nil {
			format = formatter.Format()
		}
		_ = output.FormatError(os.Stderr, err, format)
		return err
	}
	return nil
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	return imalierr.ExitCode(err)
}

// initGlobals initializes global configuration, logger, and formatter.
// Precedence is flags, then environment, then the config file, then
// defaults.
func initGlobals() error {
	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	configPath := config.Path(home)
	var err error
	cfg, err = config.Load(configPath)
	switch {
	case imalierr.Is(err, imalierr.ErrConfigNotFound):
		cfg = config.DefaultsForHome(home)
	case err != nil:
		return err
	}

	config.ApplyEnvironment(cfg)

	if homeDir != "" {
		cfg.Home = homeDir
	}
	if verbose {
		cfg.Output.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if outputFormat != "" && outputFormat != "auto" {
		cfg.Output.DefaultFormat = outputFormat
	}
	if len(sourcesFlag) > 0 {
		cfg.Wallet.Sources = sourcesFlag
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logLevel := config.ParseLogLevel(cfg.Logging.Level)
	logger, err = config.NewLogger(logLevel, config.ExpandPath(cfg.Logging.File))
	if err != nil {
		// Fall back to a null logger if the log file can't be created
		logger = config.NullLogger()
	}

	explicitFormat := output.ParseFormat(cfg.Output.DefaultFormat)
	detectedFormat := output.DetectFormat(os.Stdout, explicitFormat)
	formatter = output.NewFormatter(detectedFormat)

	return nil
}

// cleanup releases resources.
func cleanup() {
	if showMetrics && formatter != nil {
		outln(os.Stderr)
		_ = reportMetrics(os.Stderr, metrics.Global, formatter.Format())
	}
	if logger != nil {
		_ = logger.Close()
	}
}

// Config returns the global configuration.
func Config() *config.Config {
	return cfg
}

// Logger returns the global logger.
func Logger() *config.Logger {
	return logger
}

// Formatter returns the global output formatter.
func Formatter() *output.Formatter {
	return formatter
}

// out is a helper for CLI output that ignores write errors (standard pattern for CLI tools).
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func out(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}

// outln is a helper for CLI output with newline.
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func outln(w io.Writer, args ...any) {
	fmt.Fprintln(w, args...)
}

// visitCommands calls fn for cmd and every command below it, parents first.
func visitCommands(cmd *cobra.Command, fn func(*cobra.Command)) {
	fn(cmd)
	for _, sub := range cmd.Commands() {
		visitCommands(sub, fn)
	}
}

// appendSubcommandList lists a group command's visible subcommands at the
// end of its Long help, so "imali wallet --help" names every operation.
// Leaf commands are left alone.
func appendSubcommandList(cmd *cobra.Command) {
	var subs []*cobra.Command
	width := 16
	for _, sub := range cmd.Commands() {
		if !sub.IsAvailableCommand() {
			continue
		}
		subs = append(subs, sub)
		width = max(width, len(sub.Name()))
	}
	if len(subs) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(cmd.Long)
	sb.WriteString("\n\nSubcommands:\n")
	for _, sub := range subs {
		fmt.Fprintf(&sb, "  %-*s %s\n", width, sub.Name(), sub.Short)
	}
	cmd.Long = sb.String()
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "wallet", Title: "Wallet Operations:"},
		&cobra.Group{ID: "contracts", Title: "Contracts & Networks:"},
		&cobra.Group{ID: "config", Title: "Configuration:"},
	)
	rootCmd.SetHelpCommandGroupID("config")
	rootCmd.SetCompletionCommandGroupID("config")

	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "imali data directory (default: ~/.imali)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "auto", "output format: text, json, auto")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringSliceVar(&sourcesFlag, "wallet-source", nil,
		"wallet sources to try in order: local, remote (default from config)")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "print wallet, RPC and cache metrics to stderr when done")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "approve local wallet prompts without asking")
}
