package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/IMALI-DEFI/Imali-sub000/internal/chainrpc"
	"github.com/IMALI-DEFI/Imali-sub000/internal/config"
	"github.com/IMALI-DEFI/Imali-sub000/internal/contracts"
	"github.com/IMALI-DEFI/Imali-sub000/internal/fileutil"
	"github.com/IMALI-DEFI/Imali-sub000/internal/netswitch"
	"github.com/IMALI-DEFI/Imali-sub000/internal/output"
	"github.com/IMALI-DEFI/Imali-sub000/internal/provider"
	"github.com/IMALI-DEFI/Imali-sub000/internal/provider/local"
	"github.com/IMALI-DEFI/Imali-sub000/internal/provider/remote"
	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
	"github.com/IMALI-DEFI/Imali-sub000/internal/securemem"
	"github.com/IMALI-DEFI/Imali-sub000/internal/session"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// pairingFile stores the remote bridge pairing id under the home directory.
const pairingFile = "remote-pairing"

// CommandContext holds dependencies for CLI commands.
type CommandContext struct {
	Config    *config.Config
	Logger    *config.Logger
	Formatter *output.Formatter
	Registry  *registry.Registry
	Switcher  *netswitch.Switcher
	Session   *session.Manager
	Cache     *contracts.Cache
	Activity  *activity

	dialer *chainrpc.Dialer
}

// NewCommandContext wires the registry, the wallet session and the contract
// cache from the configuration. Nothing touches the wallet until a command
// connects or restores the session.
func NewCommandContext(cfg *config.Config, logger *config.Logger, formatter *output.Formatter) (*CommandContext, error) {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	cc := &CommandContext{
		Config:    cfg,
		Logger:    logger,
		Formatter: formatter,
		Registry:  reg,
		Switcher:  netswitch.New(logger),
		Activity:  newActivity(os.Stderr, formatter.Format() == output.FormatText),
		dialer:    newDialer(cfg, logger),
	}

	sources, err := cc.sources()
	if err != nil {
		return nil, err
	}

	cc.Session = session.NewManager(func(ctx context.Context) (*provider.Adapter, error) {
		return provider.Connect(ctx, logger, sources...)
	}, logger)

	cc.Cache = contracts.New(reg, cc.Session,
		contracts.WithSwitcher(cc.Switcher),
		contracts.WithLogger(logger),
		contracts.WithDial(contracts.DialWith(cc.dialer)),
	)
	return cc, nil
}

// Close releases the cache and the wallet session.
func (c *CommandContext) Close() {
	c.Cache.Close()
	c.Session.Close()
}

// Home returns the expanded home directory.
func (c *CommandContext) Home() string {
	return config.ExpandPath(c.Config.Home)
}

// Dial opens a read backend for chain.
func (c *CommandContext) Dial(ctx context.Context, chain registry.ChainDescriptor) (*chainrpc.Client, error) {
	return c.dialer.Dial(ctx, chain)
}

// loadRegistry returns the configured chain registry with RPC overrides
// applied.
func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	var (
		reg *registry.Registry
		err error
	)
	if cfg.Registry.File != "" {
		reg, err = registry.LoadFile(config.ExpandPath(cfg.Registry.File))
	} else {
		reg, err = registry.Default()
	}
	if err != nil {
		return nil, err
	}
	return reg.WithRPCOverrides(cfg.RPC.Overrides), nil
}

func newDialer(cfg *config.Config, logger *config.Logger) *chainrpc.Dialer {
	opts := []chainrpc.Option{chainrpc.WithLogger(logger)}
	if cfg.RPC.RateLimit > 0 {
		opts = append(opts, chainrpc.WithRateLimiter(chainrpc.NewRateLimiter(cfg.RPC.RateLimit, cfg.RPC.Burst)))
	}
	if t := cfg.RPCTimeout(); t > 0 {
		opts = append(opts, chainrpc.WithTimeout(t))
	}
	return chainrpc.NewDialer(opts...)
}

// sources builds the wallet detection order from the configuration.
func (c *CommandContext) sources() ([]provider.Source, error) {
	out := make([]provider.Source, 0, len(c.Config.Wallet.Sources))
	for _, name := range c.Config.Wallet.Sources {
		switch name {
		case config.SourceLocal:
			out = append(out, c.localSource())
		case config.SourceRemote:
			src, err := c.remoteSource()
			if err != nil {
				return nil, err
			}
			out = append(out, src)
		default:
			return nil, imalierr.WithDetails(imalierr.ErrInvalidInput, map[string]string{"source": name})
		}
	}
	return out, nil
}

func (c *CommandContext) localSource() provider.Source {
	lc := c.Config.Wallet.Local

	builtins := map[uint64]string{}
	for _, id := range []uint64{1, lc.DefaultChain} {
		if chain, err := c.Registry.Describe(id); err == nil {
			builtins[id] = chain.Name
		}
	}

	var approver local.Approver = terminalApprover{activity: c.Activity}
	if assumeYes {
		approver = local.AutoApprove
	}

	return local.Source(local.SourceConfig{
		Keystore:   config.ExpandPath(lc.Keystore),
		Store:      config.ExpandPath(lc.Store),
		MemoryLock: lc.MemoryLock,
		Passphrase: c.passphrase,
		Options: local.Options{
			Origin:          c.Config.Wallet.Origin,
			Accounts:        lc.Accounts,
			DefaultChain:    lc.DefaultChain,
			BuiltinChains:   builtins,
			Approver:        approver,
			ApprovalTimeout: c.Config.ApprovalTimeout(),
			Logger:          c.Logger,
		},
	})
}

// passphrase reads the keystore passphrase from the environment or the
// terminal.
func (c *CommandContext) passphrase() (string, error) {
	if p := os.Getenv(config.EnvPassphrase); p != "" {
		return p, nil
	}
	resume := c.Activity.pause()
	defer resume()

	b, err := promptPasswordFn("Keystore passphrase: ")
	if err != nil {
		return "", err
	}
	defer securemem.Zero(b)
	return string(b), nil
}

func (c *CommandContext) remoteSource() (provider.Source, error) {
	url := c.Config.Wallet.Remote.URL
	if url == "" {
		return remote.Source(""), nil
	}
	id, err := pairingID(c.Home())
	if err != nil {
		return provider.Source{}, err
	}
	return remote.Source(url, remote.WithLogger(c.Logger), remote.WithPairingID(id)), nil
}

// pairingID returns the persisted bridge pairing id, creating one on first
// use so the bridge recognises this installation across runs.
func pairingID(home string) (string, error) {
	path := filepath.Join(home, pairingFile)

	// #nosec G304 -- path is derived from the configured home directory
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(home, 0o700); err != nil {
		return "", err
	}
	if err := fileutil.WriteAtomic(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}

// terminalApprover asks the user on the terminal before the local wallet
// acts.
type terminalApprover struct {
	activity *activity
}

func (a terminalApprover) Approve(ctx context.Context, p local.Prompt) (bool, error) {
	resume := a.activity.pause()
	defer resume()
	return promptApproveFn(ctx, p.Summary())
}

// commandContext bounds a command's wallet and RPC work by d. Commands
// invoked outside Execute have no context of their own.
func commandContext(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx := cmd.Context(); ctx != nil {
		return context.WithTimeout(ctx, d)
	}
	return context.WithTimeout(context.Background(), d)
}
