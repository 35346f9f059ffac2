package provider

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/IMALI-DEFI/Imali-sub000/internal/metrics"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// Notification is a decoded provider event.
type Notification struct {
	Event    Event
	Accounts []common.Address // set for EventAccountsChanged
	ChainID  uint64           // set for EventChainChanged
}

// Listener receives decoded notifications. Listeners are compared by
// identity to prevent double registration, so implementations must be
// comparable (pointer types are).
type Listener interface {
	Notify(n Notification)
}

type registration struct {
	listener Listener
	unsub    func()
}

// Adapter wraps a raw Provider with typed requests, normalized errors and
// de-duplicated event subscriptions. It is safe for concurrent use.
type Adapter struct {
	name    string
	p       Provider
	logger  LogWriter
	metrics *metrics.Metrics

	mu        sync.Mutex
	listeners map[Event][]*registration
	cancelRaw func()
	closed    bool
}

// NewAdapter wraps p. name identifies the source the provider came from.
func NewAdapter(name string, p Provider, logger LogWriter) *Adapter {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Adapter{
		name:      name,
		p:         p,
		logger:    logger,
		metrics:   metrics.Global,
		listeners: make(map[Event][]*registration),
	}
}

// Name returns the wallet source name.
func (a *Adapter) Name() string {
	return a.name
}

// Accounts returns the authorized accounts without prompting.
func (a *Adapter) Accounts(ctx context.Context) ([]common.Address, error) {
	raw, err := a.request(ctx, MethodAccounts)
	if err != nil {
		return nil, err
	}
	accounts, err := decodeAccounts(raw)
	if err != nil {
		return nil, a.malformed(MethodAccounts, err)
	}
	return accounts, nil
}

// RequestAccounts prompts the wallet's connection UI. An empty answer is
// treated as a rejection.
func (a *Adapter) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	raw, err := a.request(ctx, MethodRequestAccounts)
	if err != nil {
		return nil, err
	}
	accounts, err := decodeAccounts(raw)
	if err != nil {
		return nil, a.malformed(MethodRequestAccounts, err)
	}
	if len(accounts) == 0 {
		return nil, imalierr.WithDetails(imalierr.ErrUserRejected,
			map[string]string{"method": MethodRequestAccounts, "reason": "no accounts authorized"})
	}
	return accounts, nil
}

// ChainID returns the wallet's active chain without prompting.
func (a *Adapter) ChainID(ctx context.Context) (uint64, error) {
	raw, err := a.request(ctx, MethodChainID)
	if err != nil {
		return 0, err
	}
	id, err := decodeChainID(raw)
	if err != nil {
		return 0, a.malformed(MethodChainID, err)
	}
	return id, nil
}

// SwitchChain asks the wallet to make chainID active. It returns
// ErrChainNotAdded when the wallet does not know the chain.
func (a *Adapter) SwitchChain(ctx context.Context, chainID uint64) error {
	params := SwitchChainParams{ChainID: "0x" + strconv.FormatUint(chainID, 16)}
	_, err := a.request(ctx, MethodSwitchChain, params)
	return err
}

// AddChain asks the wallet to register (and switch to) a chain.
func (a *Adapter) AddChain(ctx context.Context, params AddChainParams) error {
	_, err := a.request(ctx, MethodAddChain, params)
	return err
}

// SignTransaction asks the wallet to sign tx for from on chainID.
func (a *Adapter) SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	raw, err := a.request(ctx, MethodSignTransaction, ArgsFromTransaction(from, tx, chainID))
	if err != nil {
		return nil, err
	}
	signed, err := decodeSignedTransaction(raw)
	if err != nil {
		return nil, a.malformed(MethodSignTransaction, err)
	}
	return signed, nil
}

// Subscribe registers l for event and returns its unsubscribe function.
// Registering the same listener twice for an event returns the original
// unsubscribe function without adding a second registration. The returned
// function is safe to call more than once.
func (a *Adapter) Subscribe(event Event, l Listener) (func(), error) {
	if event != EventAccountsChanged && event != EventChainChanged {
		return nil, imalierr.WithDetails(imalierr.ErrInvalidInput, map[string]string{"event": string(event)})
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, imalierr.WithDetails(imalierr.ErrProviderRequestFailed, map[string]string{"reason": "provider closed"})
	}

	for _, r := range a.listeners[event] {
		if r.listener == l {
			return r.unsub, nil
		}
	}

	if a.cancelRaw == nil {
		cancel, err := a.p.Subscribe(a.dispatch)
		if err != nil {
			return nil, imalierr.WithDetails(imalierr.WithCause(imalierr.ErrProviderRequestFailed, err),
				map[string]string{"source": a.name, "reason": "subscribe"})
		}
		a.cancelRaw = cancel
	}

	reg := &registration{listener: l}
	reg.unsub = sync.OnceFunc(func() { a.remove(event, reg) })
	a.listeners[event] = append(a.listeners[event], reg)

	return reg.unsub, nil
}

// ListenerCount returns the number of registrations for event.
func (a *Adapter) ListenerCount(event Event) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners[event])
}

// Close drops every subscription and closes the provider.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel := a.cancelRaw
	a.cancelRaw = nil
	a.listeners = make(map[Event][]*registration)
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return a.p.Close()
}

func (a *Adapter) remove(event Event, reg *registration) {
	a.mu.Lock()
	regs := a.listeners[event]
	for i, r := range regs {
		if r == reg {
			a.listeners[event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}

	var cancel func()
	if a.totalListeners() == 0 && a.cancelRaw != nil {
		cancel = a.cancelRaw
		a.cancelRaw = nil
	}
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (a *Adapter) totalListeners() int {
	n := 0
	for _, regs := range a.listeners {
		n += len(regs)
	}
	return n
}

// dispatch decodes a raw notification and fans it out. Listeners run
// outside the adapter lock, in registration order.
func (a *Adapter) dispatch(event string, payload json.RawMessage) {
	n := Notification{Event: Event(event)}

	switch n.Event {
	case EventAccountsChanged:
		accounts, err := decodeAccounts(payload)
		if err != nil {
			a.logger.Error("provider %s: dropping %s: %v", a.name, event, err)
			return
		}
		n.Accounts = accounts
	case EventChainChanged:
		id, err := decodeChainID(payload)
		if err != nil {
			a.logger.Error("provider %s: dropping %s: %v", a.name, event, err)
			return
		}
		n.ChainID = id
	default:
		a.logger.Debug("provider %s: ignoring event %s", a.name, event)
		return
	}

	a.mu.Lock()
	regs := make([]*registration, len(a.listeners[n.Event]))
	copy(regs, a.listeners[n.Event])
	a.mu.Unlock()

	for _, r := range regs {
		r.listener.Notify(n)
	}
}

func (a *Adapter) request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := a.p.Request(ctx, method, params...)
	if err != nil {
		err = a.normalize(method, err)
	}
	a.metrics.RecordProviderRequest(time.Since(start), err, errors.Is(err, imalierr.ErrUserRejected))

	if err != nil {
		a.logger.Debug("provider %s: %s failed: %v", a.name, method, err)
		return nil, err
	}
	a.logger.Debug("provider %s: %s ok (%s)", a.name, method, time.Since(start).Round(time.Millisecond))
	return raw, nil
}

// normalize maps provider errors onto the error taxonomy.
func (a *Adapter) normalize(method string, err error) error {
	details := map[string]string{"method": method, "source": a.name}

	code, ok := errorCode(err)
	if ok {
		details["code"] = strconv.Itoa(code)
	}

	switch {
	case ok && code == CodeUserRejected:
		return imalierr.WithDetails(imalierr.WithCause(imalierr.ErrUserRejected, err), details)
	case ok && method == MethodSwitchChain && chainNotAdded(code, err):
		return imalierr.WithDetails(imalierr.WithCause(ErrChainNotAdded, err), details)
	default:
		return imalierr.WithDetails(imalierr.WithCause(imalierr.ErrProviderRequestFailed, err), details)
	}
}

func (a *Adapter) malformed(method string, err error) error {
	return imalierr.WithDetails(imalierr.WithCause(imalierr.ErrProviderRequestFailed, err),
		map[string]string{"method": method, "source": a.name, "reason": "malformed result"})
}

func errorCode(err error) (int, bool) {
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		return coded.ErrorCode(), true
	}
	return 0, false
}

// chainNotAdded recognizes the unknown-chain signal. Some mobile wallets
// report it as an internal error with the real code nested in
// data.originalError.code.
func chainNotAdded(code int, err error) bool {
	if code == CodeUnrecognizedChain {
		return true
	}
	if code != CodeInternal {
		return false
	}

	var withData interface{ ErrorData() any }
	if !errors.As(err, &withData) || withData.ErrorData() == nil {
		return false
	}

	b, mErr := json.Marshal(withData.ErrorData())
	if mErr != nil {
		return false
	}
	var nested struct {
		OriginalError struct {
			Code int `json:"code"`
		} `json:"originalError"`
	}
	if json.Unmarshal(b, &nested) != nil {
		return false
	}
	return nested.OriginalError.Code == CodeUnrecognizedChain
}
