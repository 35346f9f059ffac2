package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IMALI-DEFI/Imali-sub000/internal/output"
)

// BuildInfo carries version metadata injected at build time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

//nolint:gochecknoglobals // Set once from main before Execute
var buildInfo BuildInfo

// SetBuildInfo records the build metadata shown by the version command.
func SetBuildInfo(info BuildInfo) {
	buildInfo = info
	rootCmd.Version = formatVersion(info)
}

func formatVersion(info BuildInfo) string {
	version, commit, date := info.Version, info.Commit, info.Date
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Long:  `Print the imali version, commit and build date.`,
	Example: `  imali version
  imali version -o json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if formatter.IsJSON() {
			return output.WriteJSON(cmd.OutOrStdout(), map[string]string{
				"version": buildInfo.Version,
				"commit":  buildInfo.Commit,
				"date":    buildInfo.Date,
			})
		}
		outln(cmd.OutOrStdout(), "imali "+formatVersion(buildInfo))
		return nil
	},
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.GroupID = "config"
}
