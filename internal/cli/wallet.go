package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/IMALI-DEFI/Imali-sub000/internal/config"
	"github.com/IMALI-DEFI/Imali-sub000/internal/output"
	"github.com/IMALI-DEFI/Imali-sub000/internal/provider/local"
	"github.com/IMALI-DEFI/Imali-sub000/internal/securemem"
	"github.com/IMALI-DEFI/Imali-sub000/internal/session"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	// initWords is the number of words for mnemonic generation.
	initWords int
	// initImport asks for an existing mnemonic instead of generating one.
	initImport bool
	// statusBalance reads the native balance of the connected account.
	statusBalance bool
)

// walletCmd is the parent command for wallet operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Connect to and manage the wallet session",
	Long:  `Connect to a wallet, inspect the session and move it between networks.`,
}

// walletInitCmd creates the local development keystore.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local development wallet",
	Long: `Create the encrypted keystore used by the local wallet source.

A new BIP39 mnemonic is generated and displayed once unless --import is
given, in which case you are asked for an existing one. Accounts are derived
on m/44'/60'/0'/0.`,
	Example: `  imali wallet init
  imali wallet init --words 24
  imali wallet init --import`,
	RunE: runWalletInit,
}

// walletConnectCmd connects to the wallet.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to the wallet",
	Long: `Detect a wallet and ask it for account access. The wallet may show a
prompt; a refusal is reported as USER_REJECTED.`,
	Example: `  imali wallet connect
  imali wallet connect --wallet-source local --yes`,
	RunE: runWalletConnect,
}

// walletStatusCmd shows the session.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the wallet session",
	Long: `Restore a previously authorized session without prompting and show the
connected account and network.`,
	Example: `  imali wallet status
  imali wallet status --balance -o json`,
	RunE: runWalletStatus,
}

// walletSwitchCmd moves the wallet to another network.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletSwitchCmd = &cobra.Command{
	Use:   "switch <chain>",
	Short: "Switch the wallet to another network",
	Long: `Ask the wallet to make a network active. Networks the wallet does not
know are added from the chain registry first.

The chain may be a decimal id, a 0x-prefixed hex id or a registry key.`,
	Example: `  imali wallet switch polygon
  imali wallet switch 8453`,
	Args: cobra.ExactArgs(1),
	RunE: runWalletSwitch,
}

// walletWatchCmd prints session changes as they happen.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print wallet session changes until interrupted",
	Long: `Connect to the wallet and print every account, network and connection
change it reports. Stop with Ctrl-C.`,
	Example: `  imali wallet watch -o json`,
	RunE: runWalletWatch,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletInitCmd)
	walletCmd.AddCommand(walletConnectCmd)
	walletCmd.AddCommand(walletStatusCmd)
	walletCmd.AddCommand(walletSwitchCmd)
	walletCmd.AddCommand(walletWatchCmd)

	walletInitCmd.Flags().IntVar(&initWords, "words", 12, "mnemonic length: 12 or 24")
	walletInitCmd.Flags().BoolVar(&initImport, "import", false, "import an existing mnemonic")
	walletStatusCmd.Flags().BoolVar(&statusBalance, "balance", false, "read the account's native balance")

	walletCmd.GroupID = "wallet"
	appendSubcommandList(walletCmd)
}

// sessionView is the printable form of a session snapshot.
type sessionView struct {
	Phase     string `json:"phase"`
	Account   string `json:"account,omitempty"`
	ChainID   uint64 `json:"chain_id,omitempty"`
	ChainName string `json:"chain_name,omitempty"`
	Source    string `json:"source,omitempty"`
	Balance   string `json:"balance,omitempty"`
	Error     string `json:"error,omitempty"`
}

func viewOf(cc *CommandContext, s session.Snapshot) sessionView {
	v := sessionView{
		Phase:   s.Phase.String(),
		ChainID: s.ChainID,
		Source:  s.Source,
		Error:   s.ErrorCode(),
	}
	if s.Account != nil {
		v.Account = s.Account.Hex()
	}
	if s.ChainID != 0 {
		if chain, err := cc.Registry.Describe(s.ChainID); err == nil {
			v.ChainName = chain.Name
		}
	}
	return v
}

func displaySession(w io.Writer, v sessionView) error {
	return formatter.Render(w, v, func(w io.Writer) error {
		displaySessionText(w, v)
		return nil
	})
}

func displaySessionText(w io.Writer, v sessionView) {
	out(w, "Phase:   %s\n", v.Phase)
	if v.Account != "" {
		out(w, "Account: %s\n", v.Account)
	}
	if v.ChainID != 0 {
		name := v.ChainName
		if name == "" {
			name = "unregistered network"
		}
		out(w, "Network: %s (%d)\n", name, v.ChainID)
	}
	if v.Source != "" {
		out(w, "Wallet:  %s\n", v.Source)
	}
	if v.Balance != "" {
		out(w, "Balance: %s\n", v.Balance)
	}
}

// withCommandContext builds a CommandContext for one command run.
func withCommandContext(fn func(cc *CommandContext) error) error {
	cc, err := NewCommandContext(cfg, logger, formatter)
	if err != nil {
		return err
	}
	defer cc.Close()
	return fn(cc)
}

// ensureSession restores an authorized session silently, then falls back
// to an interactive connect.
func ensureSession(ctx context.Context, cc *CommandContext) (session.Snapshot, error) {
	if cc.Session.Restore(ctx) {
		return cc.Session.Snapshot(), nil
	}
	done := cc.Activity.start("Waiting for wallet approval")
	defer done()
	return cc.Session.Connect(ctx)
}

func runWalletInit(cmd *cobra.Command, _ []string) error {
	keystorePath := config.ExpandPath(cfg.Wallet.Local.Keystore)
	if local.KeystoreExists(keystorePath) {
		return imalierr.WithSuggestion(
			imalierr.WithDetails(imalierr.ErrKeystoreExists, map[string]string{"path": keystorePath}),
			"remove the file or point wallet.local.keystore elsewhere",
		)
	}
	if initWords != 12 && initWords != 24 {
		return imalierr.WithDetails(imalierr.ErrInvalidInput, map[string]string{"words": fmt.Sprint(initWords), "valid": "12 or 24"})
	}

	var mnemonic string
	if initImport {
		m, err := promptMnemonicFn()
		if err != nil {
			return err
		}
		mnemonic = m
	}

	password, err := promptNewPasswordFn()
	if err != nil {
		return err
	}
	defer securemem.Zero(password)

	if err := os.MkdirAll(filepath.Dir(keystorePath), 0o700); err != nil {
		return fmt.Errorf("creating keystore directory: %w", err)
	}

	if initImport {
		err = local.ImportKeystore(keystorePath, string(password), mnemonic)
	} else {
		mnemonic, err = local.CreateKeystore(keystorePath, string(password), initWords)
	}
	if err != nil {
		return err
	}

	ks, err := local.OpenKeystore(keystorePath, string(password), cfg.Wallet.Local.MemoryLock)
	if err != nil {
		return err
	}
	defer ks.Close()

	accounts := make([]common.Address, 0, cfg.Wallet.Local.Accounts)
	for i := range cfg.Wallet.Local.Accounts {
		addr, err := ks.Address(uint32(i)) //nolint:gosec // G115: bounded by config validation
		if err != nil {
			return err
		}
		accounts = append(accounts, addr)
	}

	w := cmd.OutOrStdout()
	if formatter.Format() == output.FormatJSON {
		return output.WriteJSON(w, struct {
			Keystore string           `json:"keystore"`
			Accounts []common.Address `json:"accounts"`
		}{keystorePath, accounts})
	}

	if !initImport {
		displayMnemonic(w, mnemonic)
	}
	outln(w, "Accounts:")
	for i, a := range accounts {
		out(w, "  %d  %s\n", i, a.Hex())
	}
	outln(w)
	out(w, "Keystore written to %s\n", keystorePath)
	return nil
}

func displayMnemonic(w io.Writer, mnemonic string) {
	outln(w)
	outln(w, "═══════════════════════════════════════════════════════════════")
	outln(w, "                    RECOVERY PHRASE")
	outln(w, "═══════════════════════════════════════════════════════════════")
	outln(w)
	outln(w, "Write down these words in order and store them securely.")
	outln(w, "This is the ONLY way to recover the local wallet.")
	outln(w)

	for i, word := range strings.Fields(mnemonic) {
		out(w, "%2d. %s\n", i+1, word)
	}

	outln(w)
	outln(w, "═══════════════════════════════════════════════════════════════")
	outln(w)
}

func runWalletConnect(cmd *cobra.Command, _ []string) error {
	return withCommandContext(func(cc *CommandContext) error {
		ctx, cancel := commandContext(cmd, cfg.ApprovalTimeout()+cfg.RPCTimeout())
		defer cancel()

		done := cc.Activity.start("Waiting for wallet approval")
		snap, err := cc.Session.Connect(ctx)
		done()
		if err != nil {
			return err
		}
		return displaySession(cmd.OutOrStdout(), viewOf(cc, snap))
	})
}

func runWalletStatus(cmd *cobra.Command, _ []string) error {
	return withCommandContext(func(cc *CommandContext) error {
		ctx, cancel := commandContext(cmd, cfg.RPCTimeout())
		defer cancel()

		cc.Session.Restore(ctx)
		snap := cc.Session.Snapshot()
		v := viewOf(cc, snap)

		if statusBalance && snap.Connected() {
			v.Balance = readBalance(ctx, cc, snap)
		}
		return displaySession(cmd.OutOrStdout(), v)
	})
}

// readBalance returns the formatted native balance, or "unavailable".
func readBalance(ctx context.Context, cc *CommandContext, snap session.Snapshot) string {
	chain, err := cc.Registry.Describe(snap.ChainID)
	if err != nil {
		return "unavailable"
	}
	client, err := cc.Dial(ctx, chain)
	if err != nil {
		cc.Logger.Error("balance: dialing %s: %v", chain, err)
		return "unavailable"
	}
	defer client.Close()

	wei, err := client.BalanceAt(ctx, *snap.Account, nil)
	if err != nil {
		cc.Logger.Error("balance: reading %s on %s: %v", snap.Account.Hex(), chain, err)
		return "unavailable"
	}
	return chain.FormatNative(wei)
}

func runWalletSwitch(cmd *cobra.Command, args []string) error {
	return withCommandContext(func(cc *CommandContext) error {
		target, err := cc.Registry.LookupChain(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd, 2*cfg.ApprovalTimeout()+cfg.RPCTimeout())
		defer cancel()

		snap, err := ensureSession(ctx, cc)
		if err != nil {
			return err
		}

		done := cc.Activity.start("Waiting for the wallet to switch to " + target.Name)
		err = cc.Switcher.EnsureChain(ctx, snap.Provider, target)
		done()
		if err != nil {
			return err
		}

		snap, err = cc.Session.SyncChain(ctx)
		if err != nil {
			return err
		}
		return displaySession(cmd.OutOrStdout(), viewOf(cc, snap))
	})
}

func runWalletWatch(cmd *cobra.Command, _ []string) error {
	return withCommandContext(func(cc *CommandContext) error {
		base := cmd.Context()
		if base == nil {
			base = context.Background()
		}
		ctx, stop := signal.NotifyContext(base, os.Interrupt, syscall.SIGTERM)
		defer stop()

		connectCtx, cancel := context.WithTimeout(ctx, cfg.ApprovalTimeout()+cfg.RPCTimeout())
		snap, err := ensureSession(connectCtx, cc)
		cancel()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		changes := make(chan session.Change, 16)
		unsubscribe := cc.Session.OnChange(func(c session.Change) {
			select {
			case changes <- c:
			default:
				cc.Logger.Error("watch: dropping %s change, printer is behind", c.Kind)
			}
		})
		defer unsubscribe()

		if err := displayChange(w, cc, session.Change{Kind: session.ChangeConnected, Current: snap}); err != nil {
			return err
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case c := <-changes:
				if err := displayChange(w, cc, c); err != nil {
					return err
				}
				if c.Kind == session.ChangeDisconnected {
					return nil
				}
			}
		}
	})
}

func displayChange(w io.Writer, cc *CommandContext, c session.Change) error {
	v := viewOf(cc, c.Current)
	if formatter.Format() == output.FormatJSON {
		return output.WriteJSON(w, struct {
			Change string `json:"change"`
			sessionView
		}{c.Kind.String(), v})
	}

	switch c.Kind {
	case session.ChangeAccount:
		out(w, "account changed: %s\n", v.Account)
	case session.ChangeChain:
		out(w, "network changed: %s (%d)\n", v.ChainName, v.ChainID)
	case session.ChangeConnected:
		out(w, "connected: %s on %s (%d)\n", v.Account, v.ChainName, v.ChainID)
	case session.ChangeDisconnected:
		outln(w, "disconnected")
	case session.ChangeError:
		out(w, "error: %s\n", v.Error)
	case session.ChangeConnecting:
		outln(w, "connecting")
	}
	return nil
}
