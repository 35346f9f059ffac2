package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAllCommandsHaveShortDescription walks the entire command tree and
// verifies that every command has a non-empty Short description.
func TestAllCommandsHaveShortDescription(t *testing.T) {
	visitCommands(rootCmd, func(cmd *cobra.Command) {
		t.Run(cmd.CommandPath(), func(t *testing.T) {
			assert.NotEmpty(t, cmd.Short, "%s: missing Short description", cmd.CommandPath())
		})
	})
}

// TestAllCommandsHaveLongDescription verifies every command has a Long
// description.
func TestAllCommandsHaveLongDescription(t *testing.T) {
	visitCommands(rootCmd, func(cmd *cobra.Command) {
		if cmd.Name() == "help" {
			return
		}
		t.Run(cmd.CommandPath(), func(t *testing.T) {
			assert.NotEmpty(t, cmd.Long, "%s: missing Long description", cmd.CommandPath())
		})
	})
}

// TestLeafCommandsHaveExamples verifies that every leaf command has an
// Example and that no Long text embeds one.
func TestLeafCommandsHaveExamples(t *testing.T) {
	visitCommands(rootCmd, func(cmd *cobra.Command) {
		if cmd.RunE == nil && cmd.Run == nil || cmd.Name() == "help" {
			return
		}
		t.Run(cmd.CommandPath(), func(t *testing.T) {
			assert.NotEmpty(t, cmd.Example, "%s: leaf command missing Example field", cmd.CommandPath())
			assert.NotContains(t, cmd.Long, "\nExample:")
		})
	})
}

// TestAllFlagsHaveDescriptions verifies every registered flag has a usage
// string.
func TestAllFlagsHaveDescriptions(t *testing.T) {
	visitCommands(rootCmd, func(cmd *cobra.Command) {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			t.Run(cmd.CommandPath()+"/--"+f.Name, func(t *testing.T) {
				assert.NotEmpty(t, f.Usage, "flag --%s on %s has no description", f.Name, cmd.CommandPath())
			})
		})
	})
}

// TestCommandGroupsAssigned verifies every top-level command has a GroupID.
func TestCommandGroupsAssigned(t *testing.T) {
	for _, cmd := range rootCmd.Commands() {
		if !cmd.IsAvailableCommand() || cmd.Name() == "help" {
			continue
		}
		t.Run(cmd.Name(), func(t *testing.T) {
			assert.NotEmpty(t, cmd.GroupID, "top-level command %q missing GroupID", cmd.Name())
		})
	}
}

func TestRootHelpContainsGroups(t *testing.T) {
	resetFlags(t)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	rootCmd.SetArgs([]string{"--help"})

	require.NoError(t, rootCmd.Execute())

	help := buf.String()
	assert.Contains(t, help, "Wallet Operations:")
	assert.Contains(t, help, "Contracts & Networks:")
	assert.Contains(t, help, "Configuration:")
}

func TestParentCommandsListSubcommands(t *testing.T) {
	parents := map[*cobra.Command][]string{
		walletCmd:    {"init", "connect", "status", "switch", "watch"},
		chainsCmd:    {"list", "show"},
		contractsCmd: {"list", "resolve"},
		configCmd:    {"init", "show", "get", "set", "validate"},
	}

	for cmd, subs := range parents {
		t.Run(cmd.Name(), func(t *testing.T) {
			require.Contains(t, cmd.Long, "Subcommands:")
			for _, sub := range subs {
				assert.Contains(t, cmd.Long, "  "+sub+" ")
			}
		})
	}
}

func TestAppendSubcommandList(t *testing.T) {
	parent := &cobra.Command{Use: "parent", Long: "Parent command."}
	parent.AddCommand(
		&cobra.Command{Use: "alpha", Short: "First child", Run: func(*cobra.Command, []string) {}},
		&cobra.Command{Use: "hidden", Short: "Hidden child", Hidden: true, Run: func(*cobra.Command, []string) {}},
	)
	appendSubcommandList(parent)

	assert.True(t, strings.HasPrefix(parent.Long, "Parent command.\n\nSubcommands:\n"))
	assert.Contains(t, parent.Long, "alpha")
	assert.NotContains(t, parent.Long, "hidden")

	leaf := &cobra.Command{Use: "leaf", Long: "Leaf."}
	appendSubcommandList(leaf)
	assert.Equal(t, "Leaf.", leaf.Long)
}
