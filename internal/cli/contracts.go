package cli

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/IMALI-DEFI/Imali-sub000/internal/output"
	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	// contractsFilter fuzzy-matches contract names.
	contractsFilter string
	// contractsChain restricts listing and resolution to one chain.
	contractsChain string
)

// contractsCmd is the parent command for contract registry operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "Inspect the contract registry",
	Long:  `List registered contracts and where each one is deployed.`,
}

// contractsListCmd lists registered contracts.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var contractsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List registered contracts",
	Aliases: []string{"ls"},
	Long: `List every registered contract with its pinned chain and deployments.

--filter fuzzy-matches contract names, best match first.`,
	Example: `  imali contracts list
  imali contracts list --filter stk
  imali contracts list --chain bsc`,
	RunE: runContractsList,
}

// contractsResolveCmd resolves a contract without touching the wallet.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var contractsResolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Show the address a contract resolves to",
	Long: `Resolve a contract name to its deployment. Pinned contracts resolve on
their own chain; others need --chain.`,
	Example: `  imali contracts resolve Staking
  imali contracts resolve Token --chain base`,
	Args: cobra.ExactArgs(1),
	RunE: runContractsResolve,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(contractsCmd)
	contractsCmd.AddCommand(contractsListCmd)
	contractsCmd.AddCommand(contractsResolveCmd)

	contractsListCmd.Flags().StringVar(&contractsFilter, "filter", "", "fuzzy filter on contract names")
	contractsListCmd.Flags().StringVar(&contractsChain, "chain", "", "only contracts usable on this chain")
	contractsResolveCmd.Flags().StringVar(&contractsChain, "chain", "", "chain to resolve on")

	contractsCmd.GroupID = "contracts"
	appendSubcommandList(contractsCmd)
}

// contractView is the printable form of a registered contract.
type contractView struct {
	Name        string            `json:"name"`
	PinnedChain uint64            `json:"pinned_chain,omitempty"`
	Deployments map[string]string `json:"deployments"`
	Methods     []string          `json:"methods"`
}

func contractViewOf(info registry.ContractInfo) contractView {
	deployments := make(map[string]string, len(info.Deployments))
	for id, addr := range info.Deployments {
		deployments[strconv.FormatUint(id, 10)] = addr.Hex()
	}
	return contractView{
		Name:        info.Name,
		PinnedChain: info.Chain,
		Deployments: deployments,
		Methods:     info.Methods,
	}
}

// contractNames adapts a contract list to fuzzy.Source.
type contractNames []registry.ContractInfo

func (c contractNames) String(i int) string { return c[i].Name }
func (c contractNames) Len() int            { return len(c) }

// filterContracts keeps contracts matching pattern, ordered by match score.
func filterContracts(infos []registry.ContractInfo, pattern string) []registry.ContractInfo {
	if pattern == "" {
		return infos
	}
	matches := fuzzy.FindFrom(pattern, contractNames(infos))
	out := make([]registry.ContractInfo, len(matches))
	for i, m := range matches {
		out[i] = infos[m.Index]
	}
	return out
}

// usableOn reports whether a contract can be resolved on chainID.
func usableOn(info registry.ContractInfo, chainID uint64) bool {
	if info.Chain != 0 && info.Chain != chainID {
		return false
	}
	_, ok := info.Deployments[chainID]
	return ok
}

func runContractsList(cmd *cobra.Command, _ []string) error {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	infos := filterContracts(reg.Contracts(), contractsFilter)
	if contractsChain != "" {
		chain, err := reg.LookupChain(contractsChain)
		if err != nil {
			return err
		}
		kept := infos[:0:0]
		for _, info := range infos {
			if usableOn(info, chain.ID) {
				kept = append(kept, info)
			}
		}
		infos = kept
	}

	views := make([]contractView, len(infos))
	for i, info := range infos {
		views[i] = contractViewOf(info)
	}

	w := cmd.OutOrStdout()
	if formatter.Format() == output.FormatJSON {
		return output.WriteJSON(w, views)
	}

	if len(views) == 0 {
		outln(w, "No contracts match.")
		return nil
	}

	table := output.NewTable("Name", "Chain", "Deployed on")
	for _, v := range views {
		pinned := "follows wallet"
		if v.PinnedChain != 0 {
			pinned = describeChainID(reg, v.PinnedChain)
		}
		ids := make([]string, 0, len(v.Deployments))
		for id := range v.Deployments {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			a, _ := strconv.ParseUint(ids[i], 10, 64)
			b, _ := strconv.ParseUint(ids[j], 10, 64)
			return a < b
		})
		table.AddRow(v.Name, pinned, strings.Join(ids, ", "))
	}
	return table.Render(w)
}

func describeChainID(reg *registry.Registry, id uint64) string {
	if c, err := reg.Describe(id); err == nil {
		return c.Key
	}
	return strconv.FormatUint(id, 10)
}

func runContractsResolve(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	target, err := reg.ContractChain(args[0])
	if err != nil {
		return err
	}
	if contractsChain != "" {
		chain, err := reg.LookupChain(contractsChain)
		if err != nil {
			return err
		}
		target = chain.ID
	}
	if target == 0 {
		return contractChainRequired(reg, args[0])
	}

	desc, err := reg.ResolveContract(args[0], target)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if formatter.Format() == output.FormatJSON {
		return output.WriteJSON(w, struct {
			Name    string `json:"name"`
			ChainID uint64 `json:"chain_id"`
			Address string `json:"address"`
		}{desc.Name, desc.ChainID, desc.Address.Hex()})
	}
	out(w, "%s on %s: %s\n", desc.Name, describeChainID(reg, desc.ChainID), desc.Address.Hex())
	return nil
}
