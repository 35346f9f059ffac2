// Package local implements a development wallet that keeps its seed in an
// age-encrypted keystore and answers EIP-1193 requests in process.
// Requests that a browser wallet would show as a popup go through an
// Approver; authorizations, added chains and the active chain persist in a
// sqlite store.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/IMALI-DEFI/Imali-sub000/internal/provider"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// Defaults applied by New.
const (
	DefaultOrigin       = "imali-cli"
	DefaultChain        = 1
	DefaultAccountCount = 1
)

var (
	errClosed            = errors.New("local wallet closed")
	errAlreadySubscribed = errors.New("local wallet events already subscribed")
	errMissingParams     = errors.New("missing request params")
)

// Compile-time interface check
var _ provider.Provider = (*Wallet)(nil)

// Options configures a Wallet.
type Options struct {
	// Origin is the requester the wallet grants access to.
	Origin string
	// Accounts is how many accounts are derived from the seed.
	Accounts int
	// DefaultChain is active when the store has no recorded chain.
	DefaultChain uint64
	// BuiltinChains are known without wallet_addEthereumChain, by id and
	// display name.
	BuiltinChains map[uint64]string
	// Approver decides prompts. Nil rejects everything.
	Approver Approver
	// ApprovalTimeout bounds each prompt; zero waits for the request
	// context only.
	ApprovalTimeout time.Duration
	Logger          provider.LogWriter
}

func (o Options) withDefaults() Options {
	if o.Origin == "" {
		o.Origin = DefaultOrigin
	}
	if o.Accounts < 1 {
		o.Accounts = DefaultAccountCount
	}
	if o.DefaultChain == 0 {
		o.DefaultChain = DefaultChain
	}
	if o.BuiltinChains == nil {
		o.BuiltinChains = map[uint64]string{1: "Ethereum Mainnet"}
	}
	if o.Approver == nil {
		o.Approver = ApproverFunc(func(context.Context, Prompt) (bool, error) { return false, nil })
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	return o
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Wallet is an in-process EIP-1193 wallet.
//
// State changes and the notifications they produce are serialized by
// emitMu, so listeners observe events in the order the changes happened.
// Handlers run without mu held and may call Close, but must not issue
// requests that change wallet state.
type Wallet struct {
	store    *Store
	approver Approver
	origin   string
	timeout  time.Duration
	logger   provider.LogWriter

	emitMu sync.Mutex

	mu           sync.Mutex
	ks           *Keystore
	accounts     []common.Address
	selected     int
	active       uint64
	known        map[uint64]string
	authorized   bool
	locked       bool
	closed       bool
	handler      provider.NotificationHandler
	subscription uint64
}

// New creates a wallet over an open keystore and store. The wallet owns
// both and releases them in Close.
func New(ctx context.Context, ks *Keystore, store *Store, opts Options) (*Wallet, error) {
	o := opts.withDefaults()

	accounts := make([]common.Address, o.Accounts)
	for i := range accounts {
		addr, err := ks.Address(uint32(i)) //nolint:gosec // bounded by configuration
		if err != nil {
			return nil, err
		}
		accounts[i] = addr
	}

	known := make(map[uint64]string, len(o.BuiltinChains)+1)
	for id, name := range o.BuiltinChains {
		known[id] = name
	}
	added, err := store.AddedChains(ctx)
	if err != nil {
		return nil, err
	}
	for id, p := range added {
		known[id] = p.ChainName
	}
	if _, ok := known[o.DefaultChain]; !ok {
		known[o.DefaultChain] = ""
	}

	active, err := store.ActiveChain(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := known[active]; !ok {
		active = o.DefaultChain
	}

	w := &Wallet{
		store:    store,
		approver: o.Approver,
		origin:   o.Origin,
		timeout:  o.ApprovalTimeout,
		logger:   o.Logger,
		ks:       ks,
		accounts: accounts,
		active:   active,
		known:    known,
	}

	auth, err := store.Authorization(ctx, o.Origin)
	if err != nil {
		return nil, err
	}
	if auth != nil {
		w.authorized = true
		for i, addr := range accounts {
			if addr == auth.Account {
				w.selected = i
			}
		}
	}

	o.Logger.Debug("local: opened wallet with %d accounts on chain %d (authorized=%t)", len(accounts), active, w.authorized)
	return w, nil
}

// SourceConfig describes how a detection source opens the local wallet.
type SourceConfig struct {
	Keystore   string
	Store      string
	MemoryLock bool
	// Passphrase is asked only once the keystore is known to exist.
	Passphrase func() (string, error)
	Options    Options
}

// Source returns a detection source for the local wallet. A missing
// keystore means the wallet is not present.
func Source(cfg SourceConfig) provider.Source {
	return provider.Source{
		Name: "local",
		Open: func(ctx context.Context) (provider.Provider, error) {
			if cfg.Keystore == "" || !KeystoreExists(cfg.Keystore) {
				return nil, provider.ErrNotPresent
			}
			if cfg.Passphrase == nil {
				return nil, imalierr.WithDetails(imalierr.ErrInvalidInput, map[string]string{"field": "passphrase"})
			}

			passphrase, err := cfg.Passphrase()
			if err != nil {
				return nil, err
			}
			ks, err := OpenKeystore(cfg.Keystore, passphrase, cfg.MemoryLock)
			if err != nil {
				return nil, err
			}
			store, err := OpenStore(ctx, cfg.Store)
			if err != nil {
				ks.Close()
				return nil, err
			}
			w, err := New(ctx, ks, store, cfg.Options)
			if err != nil {
				ks.Close()
				_ = store.Close()
				return nil, err
			}
			return w, nil
		},
	}
}

// Request answers one EIP-1193 request.
func (w *Wallet) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return nil, provider.NewRequestError(provider.CodeDisconnected, "wallet closed")
	}

	switch method {
	case provider.MethodAccounts:
		return json.Marshal(w.exposed())
	case provider.MethodRequestAccounts:
		return w.requestAccounts(ctx)
	case provider.MethodChainID:
		w.mu.Lock()
		active := w.active
		w.mu.Unlock()
		return json.Marshal(hexutil.EncodeUint64(active))
	case provider.MethodSwitchChain:
		return w.switchChain(ctx, params)
	case provider.MethodAddChain:
		return w.addChain(ctx, params)
	case provider.MethodSignTransaction:
		return w.signTransaction(ctx, params)
	case provider.MethodRevokePermissions:
		return w.revoke(ctx)
	default:
		return nil, provider.NewRequestError(provider.CodeUnsupportedMethod, "method %s is not supported", method)
	}
}

// exposed returns the accounts visible to the origin.
func (w *Wallet) exposed() []common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.authorized || w.locked {
		return []common.Address{}
	}
	return []common.Address{w.accounts[w.selected]}
}

func (w *Wallet) requestAccounts(ctx context.Context) (json.RawMessage, error) {
	w.mu.Lock()
	locked, authorized, account := w.locked, w.authorized, w.accounts[w.selected]
	w.mu.Unlock()

	if locked {
		return nil, provider.NewRequestError(provider.CodeUnauthorized, "wallet is locked")
	}
	if !authorized {
		if err := w.approve(ctx, Prompt{Kind: PromptConnect, Origin: w.origin, Account: account}); err != nil {
			return nil, err
		}
		err := w.commit(func() error {
			return w.store.Authorize(ctx, w.origin, account)
		}, func() (provider.Event, any) {
			w.authorized = true
			return "", nil
		})
		if err != nil {
			return nil, internalError(err)
		}
		w.logger.Debug("local: authorized %s", w.origin)
	}
	return json.Marshal(w.exposed())
}

func (w *Wallet) switchChain(ctx context.Context, params []any) (json.RawMessage, error) {
	var p provider.SwitchChainParams
	if err := decodeParam(params, &p); err != nil {
		return nil, provider.NewRequestError(provider.CodeInvalidParams, "invalid switch params: %v", err)
	}
	id, err := hexutil.DecodeUint64(p.ChainID)
	if err != nil || id == 0 {
		return nil, provider.NewRequestError(provider.CodeInvalidParams, "invalid chainId %q", p.ChainID)
	}

	w.mu.Lock()
	name, known := w.known[id]
	active := w.active
	w.mu.Unlock()

	if !known {
		return nil, provider.NewRequestError(provider.CodeUnrecognizedChain,
			"Unrecognized chain ID %s. Try adding the chain using wallet_addEthereumChain first.", p.ChainID)
	}
	if id == active {
		return json.RawMessage(`null`), nil
	}

	if err := w.approve(ctx, Prompt{Kind: PromptSwitchChain, Origin: w.origin, ChainID: id, ChainName: name}); err != nil {
		return nil, err
	}
	if err := w.activate(ctx, id); err != nil {
		return nil, internalError(err)
	}
	return json.RawMessage(`null`), nil
}

func (w *Wallet) addChain(ctx context.Context, params []any) (json.RawMessage, error) {
	var p provider.AddChainParams
	if err := decodeParam(params, &p); err != nil {
		return nil, provider.NewRequestError(provider.CodeInvalidParams, "invalid add chain params: %v", err)
	}
	id, err := hexutil.DecodeUint64(p.ChainID)
	if err != nil || id == 0 {
		return nil, provider.NewRequestError(provider.CodeInvalidParams, "invalid chainId %q", p.ChainID)
	}
	if p.ChainName == "" {
		return nil, provider.NewRequestError(provider.CodeInvalidParams, "chainName is required")
	}
	if len(p.RPCURLs) == 0 {
		return nil, provider.NewRequestError(provider.CodeInvalidParams, "rpcUrls is required")
	}

	w.mu.Lock()
	_, known := w.known[id]
	w.mu.Unlock()

	if !known {
		if err := w.approve(ctx, Prompt{Kind: PromptAddChain, Origin: w.origin, ChainID: id, ChainName: p.ChainName}); err != nil {
			return nil, err
		}
		err := w.commit(func() error {
			return w.store.AddChain(ctx, id, p)
		}, func() (provider.Event, any) {
			w.known[id] = p.ChainName
			return "", nil
		})
		if err != nil {
			return nil, internalError(err)
		}
		w.logger.Debug("local: added chain %d (%s)", id, p.ChainName)
	}

	w.mu.Lock()
	active := w.active
	w.mu.Unlock()
	if active == id {
		return json.RawMessage(`null`), nil
	}

	// Adding a chain offers to switch to it. Declining the switch does not
	// undo the add.
	if err := w.approve(ctx, Prompt{Kind: PromptSwitchChain, Origin: w.origin, ChainID: id, ChainName: p.ChainName}); err != nil {
		w.logger.Debug("local: switch to added chain %d declined: %v", id, err)
		return json.RawMessage(`null`), nil
	}
	if err := w.activate(ctx, id); err != nil {
		return nil, internalError(err)
	}
	return json.RawMessage(`null`), nil
}

func (w *Wallet) signTransaction(ctx context.Context, params []any) (json.RawMessage, error) {
	var args provider.TransactionArgs
	if err := decodeParam(params, &args); err != nil {
		return nil, provider.NewRequestError(provider.CodeInvalidParams, "invalid transaction: %v", err)
	}

	w.mu.Lock()
	authorized, locked := w.authorized, w.locked
	active, index := w.active, w.selected
	account := w.accounts[index]
	name := w.known[active]
	w.mu.Unlock()

	if !authorized || locked {
		return nil, provider.NewRequestError(provider.CodeUnauthorized, "origin is not authorized")
	}
	if args.From != account {
		return nil, provider.NewRequestError(provider.CodeUnauthorized, "account %s is not the selected account", args.From.Hex())
	}
	chainID := new(big.Int).SetUint64(active)
	if args.ChainID != nil && args.ChainID.ToInt().Cmp(chainID) != 0 {
		return nil, provider.NewRequestError(provider.CodeInvalidParams,
			"chainId %s does not match the active chain %d", args.ChainID.ToInt(), active)
	}

	tx := args.ToTransaction()
	if err := w.approve(ctx, Prompt{
		Kind:      PromptSignTransaction,
		Origin:    w.origin,
		Account:   account,
		ChainID:   active,
		ChainName: name,
		Tx:        tx,
	}); err != nil {
		return nil, err
	}

	w.mu.Lock()
	moved := w.active != active || w.selected != index || w.locked
	ks := w.ks
	w.mu.Unlock()
	if moved {
		return nil, provider.NewRequestError(provider.CodeInternal, "wallet state changed while awaiting approval")
	}

	key, err := ks.PrivateKey(uint32(index)) //nolint:gosec // index is bounded by the account list
	if err != nil {
		return nil, internalError(err)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, internalError(err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, internalError(err)
	}

	w.logger.Debug("local: signed transaction %s on chain %d", signed.Hash().Hex(), active)
	return json.Marshal(hexutil.Encode(raw))
}

func (w *Wallet) revoke(ctx context.Context) (json.RawMessage, error) {
	err := w.commit(func() error {
		return w.store.Revoke(ctx, w.origin)
	}, func() (provider.Event, any) {
		was := w.authorized && !w.locked
		w.authorized = false
		if was {
			return provider.EventAccountsChanged, []common.Address{}
		}
		return "", nil
	})
	if err != nil {
		return nil, internalError(err)
	}
	return json.RawMessage(`null`), nil
}

// approve asks the approver and maps a refusal to a user rejection.
func (w *Wallet) approve(ctx context.Context, p Prompt) error {
	actx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	ok, err := w.approver.Approve(actx, p)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return provider.NewRequestError(provider.CodeUserRejected, "%s request timed out awaiting approval", p.Kind)
		}
		return provider.NewRequestError(provider.CodeInternal, "approval failed: %v", err)
	}
	if !ok {
		return provider.NewRequestError(provider.CodeUserRejected, "User rejected the request.")
	}
	return nil
}

// activate persists and applies a new active chain.
func (w *Wallet) activate(ctx context.Context, id uint64) error {
	err := w.commit(func() error {
		return w.store.SetActiveChain(ctx, id)
	}, func() (provider.Event, any) {
		if w.active == id {
			return "", nil
		}
		w.active = id
		return provider.EventChainChanged, hexutil.EncodeUint64(id)
	})
	if err == nil {
		w.logger.Debug("local: active chain is now %d", id)
	}
	return err
}

// commit runs persist, then mutate under mu, then delivers the event
// mutate returns, all under emitMu. An empty event means nothing changed
// that listeners can see.
func (w *Wallet) commit(persist func() error, mutate func() (provider.Event, any)) error {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	if persist != nil {
		if err := persist(); err != nil {
			return err
		}
	}

	w.mu.Lock()
	event, payload := mutate()
	h := w.handler
	w.mu.Unlock()

	if event == "" || h == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("local: encoding %s payload: %v", event, err)
		return nil
	}
	h(string(event), raw)
	return nil
}

// SelectAccount exposes account index to the origin instead of the
// current one.
func (w *Wallet) SelectAccount(ctx context.Context, index int) error {
	w.mu.Lock()
	n := len(w.accounts)
	w.mu.Unlock()
	if index < 0 || index >= n {
		return imalierr.WithDetails(imalierr.ErrInvalidInput, map[string]string{
			"account": strconv.Itoa(index),
			"max":     strconv.Itoa(n - 1),
		})
	}

	return w.commit(func() error {
		w.mu.Lock()
		authorized, account := w.authorized, w.accounts[index]
		w.mu.Unlock()
		if !authorized {
			return nil
		}
		return w.store.Authorize(ctx, w.origin, account)
	}, func() (provider.Event, any) {
		if w.selected == index {
			return "", nil
		}
		w.selected = index
		if !w.authorized || w.locked {
			return "", nil
		}
		return provider.EventAccountsChanged, []common.Address{w.accounts[index]}
	})
}

// SetActiveChain switches the wallet's network from the wallet side,
// without a prompt. The chain must be known to the wallet.
func (w *Wallet) SetActiveChain(ctx context.Context, id uint64) error {
	w.mu.Lock()
	_, known := w.known[id]
	w.mu.Unlock()
	if !known {
		return imalierr.WithDetails(imalierr.ErrChainNotFound, map[string]string{"chain": strconv.FormatUint(id, 10)})
	}
	return w.activate(ctx, id)
}

// Lock destroys the seed and hides the accounts until Unlock.
func (w *Wallet) Lock() {
	_ = w.commit(nil, func() (provider.Event, any) {
		if w.locked {
			return "", nil
		}
		w.locked = true
		w.ks.Close()
		if !w.authorized {
			return "", nil
		}
		return provider.EventAccountsChanged, []common.Address{}
	})
}

// Unlock reopens the keystore with passphrase.
func (w *Wallet) Unlock(passphrase string) error {
	w.mu.Lock()
	path, lock := w.ks.path, w.ks.lock
	w.mu.Unlock()

	ks, err := OpenKeystore(path, passphrase, lock)
	if err != nil {
		return err
	}

	return w.commit(nil, func() (provider.Event, any) {
		if !w.locked || w.closed {
			ks.Close()
			return "", nil
		}
		w.ks = ks
		w.locked = false
		if !w.authorized {
			return "", nil
		}
		return provider.EventAccountsChanged, []common.Address{w.accounts[w.selected]}
	})
}

// Accounts returns every derived account, authorized or not.
func (w *Wallet) Accounts() []common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]common.Address(nil), w.accounts...)
}

// ActiveChain returns the wallet's active chain.
func (w *Wallet) ActiveChain() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// KnownChain reports whether the wallet can switch to id without adding
// it first.
func (w *Wallet) KnownChain(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.known[id]
	return ok
}

// Subscribe installs the notification handler. Only one may be active.
func (w *Wallet) Subscribe(handler provider.NotificationHandler) (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, errClosed
	}
	if w.handler != nil {
		return nil, errAlreadySubscribed
	}

	w.subscription++
	id := w.subscription
	w.handler = handler
	return sync.OnceFunc(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.subscription == id {
			w.handler = nil
		}
	}), nil
}

// Close releases the keystore and the store. It is safe to call from a
// notification handler.
func (w *Wallet) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.handler = nil
	ks := w.ks
	w.mu.Unlock()

	ks.Close()
	if err := w.store.Close(); err != nil {
		return fmt.Errorf("closing wallet store: %w", err)
	}
	return nil
}

func decodeParam(params []any, out any) error {
	if len(params) == 0 {
		return errMissingParams
	}
	raw, err := json.Marshal(params[0])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func internalError(err error) error {
	e := provider.NewRequestError(provider.CodeInternal, "%v", err)
	e.Data = map[string]any{"cause": err.Error()}
	return e
}
