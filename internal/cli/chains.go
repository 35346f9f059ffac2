package cli

import (
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IMALI-DEFI/Imali-sub000/internal/output"
	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
)

// chainsCmd is the parent command for chain registry operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "Inspect the chain registry",
	Long:  `List the networks imali knows and the parameters it gives wallets when adding them.`,
}

// chainsListCmd lists registered chains.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var chainsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List registered chains",
	Aliases: []string{"ls"},
	Long: `List every chain in the registry.`,
	Example: `  imali chains list
  imali chains list -o json`,
	RunE: runChainsList,
}

// chainsShowCmd shows one chain.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var chainsShowCmd = &cobra.Command{
	Use:   "show <chain>",
	Short: "Show one chain",
	Long: `Show a chain's currency, RPC endpoints and explorer. The chain may be a
decimal id, a 0x-prefixed hex id or a registry key.`,
	Example: `  imali chains show polygon
  imali chains show 0x2105`,
	Args: cobra.ExactArgs(1),
	RunE: runChainsShow,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(chainsCmd)
	chainsCmd.AddCommand(chainsListCmd)
	chainsCmd.AddCommand(chainsShowCmd)

	chainsCmd.GroupID = "contracts"
	appendSubcommandList(chainsCmd)
}

// chainView is the printable form of a chain descriptor.
type chainView struct {
	ID       uint64   `json:"id"`
	HexID    string   `json:"hex_id"`
	Key      string   `json:"key"`
	Name     string   `json:"name"`
	Currency string   `json:"currency"`
	Decimals uint8    `json:"decimals"`
	RPCURLs  []string `json:"rpc_urls"`
	Explorer string   `json:"explorer,omitempty"`
	Testnet  bool     `json:"testnet"`
}

func chainViewOf(c registry.ChainDescriptor) chainView {
	urls := make([]string, len(c.RPCURLs))
	for i, u := range c.RPCURLs {
		urls[i] = redactURL(u)
	}
	return chainView{
		ID:       c.ID,
		HexID:    c.HexID(),
		Key:      c.Key,
		Name:     c.Name,
		Currency: c.Currency.Symbol,
		Decimals: c.Currency.Decimals,
		RPCURLs:  urls,
		Explorer: c.ExplorerURL,
		Testnet:  c.Testnet,
	}
}

func runChainsList(cmd *cobra.Command, _ []string) error {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	chains := reg.Chains()
	views := make([]chainView, len(chains))
	for i, c := range chains {
		views[i] = chainViewOf(c)
	}

	return formatter.Render(cmd.OutOrStdout(), views, func(w io.Writer) error {
		table := output.NewTable("ID", "Key", "Name", "Currency", "Testnet").AlignRight(0)
		for _, v := range views {
			table.AddRow(strconv.FormatUint(v.ID, 10), v.Key, v.Name, v.Currency, strconv.FormatBool(v.Testnet))
		}
		return table.Render(w)
	})
}

func runChainsShow(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	chain, err := reg.LookupChain(args[0])
	if err != nil {
		return err
	}

	v := chainViewOf(chain)
	return formatter.Render(cmd.OutOrStdout(), v, func(w io.Writer) error {
		displayChainText(w, v)
		return nil
	})
}

func displayChainText(w io.Writer, v chainView) {
	out(w, "Name:     %s\n", v.Name)
	out(w, "Key:      %s\n", v.Key)
	out(w, "Chain ID: %d (%s)\n", v.ID, v.HexID)
	out(w, "Currency: %s (%d decimals)\n", v.Currency, v.Decimals)
	if v.Explorer != "" {
		out(w, "Explorer: %s\n", v.Explorer)
	}
	if v.Testnet {
		outln(w, "Testnet:  yes")
	}
	out(w, "RPC:      %s\n", strings.Join(v.RPCURLs, "\n          "))
}
