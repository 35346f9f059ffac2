package session

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/IMALI-DEFI/Imali-sub000/internal/metrics"
	"github.com/IMALI-DEFI/Imali-sub000/internal/provider"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// Manager is the wallet session state machine. Every connect, restore and
// disconnect increments a generation counter; asynchronous results and
// provider events captured under an older generation are discarded.
//
// Lock order: the manager never holds its lock while calling the provider,
// observers, or unsubscribe functions.
type Manager struct {
	connect Connector
	logger  LogWriter
	metrics *metrics.Metrics

	mu         sync.Mutex
	phase      Phase
	account    common.Address
	chainID    uint64
	lastErr    error
	adapter    *provider.Adapter
	unsubs     []func()
	generation uint64
	observers  []*observerEntry
	closed     bool
}

type observerEntry struct {
	fn Observer
}

// NewManager creates a disconnected session that obtains providers from
// connect.
func NewManager(connect Connector, logger LogWriter) *Manager {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Manager{
		connect: connect,
		logger:  logger,
		metrics: metrics.Global,
	}
}

// OnChange registers an observer and returns its unsubscribe function.
func (m *Manager) OnChange(fn Observer) func() {
	entry := &observerEntry{fn: fn}

	m.mu.Lock()
	m.observers = append(m.observers, entry)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, e := range m.observers {
				if e == entry {
					m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Connect detects a wallet, prompts for account access and reads the active
// chain. It is valid only from the disconnected and error phases. Failures
// move the session to the error phase and are returned unchanged in kind.
// If the session is disconnected or reconnected while Connect is in flight,
// the result is discarded and ErrSuperseded is returned.
func (m *Manager) Connect(ctx context.Context) (Snapshot, error) {
	gen, err := m.begin(PhaseDisconnected, PhaseError)
	if err != nil {
		return m.Snapshot(), err
	}

	adapter, err := m.connect(ctx)
	if err != nil {
		return m.fail(gen, nil, err)
	}

	accounts, err := adapter.RequestAccounts(ctx)
	if err != nil {
		return m.fail(gen, adapter, err)
	}

	chainID, err := adapter.ChainID(ctx)
	if err != nil {
		return m.fail(gen, adapter, err)
	}

	snap, err := m.establish(gen, adapter, accounts[0], chainID, func(cause error) (Snapshot, error) {
		return m.fail(gen, adapter, cause)
	})
	if err != nil {
		return snap, err
	}
	m.metrics.RecordConnect(nil)
	return snap, nil
}

// Restore reconnects to a wallet that already authorized this application,
// without prompting. It reports whether the session is now connected.
// Every failure is treated as "not previously connected" and leaves the
// session disconnected.
func (m *Manager) Restore(ctx context.Context) bool {
	gen, err := m.begin(PhaseDisconnected)
	if err != nil {
		return false
	}

	restored := m.restore(ctx, gen)
	m.metrics.RecordRestore(restored)
	return restored
}

func (m *Manager) restore(ctx context.Context, gen uint64) bool {
	adapter, err := m.connect(ctx)
	if err != nil {
		m.logger.Debug("session: restore: no wallet: %v", err)
		m.settleDisconnected(gen, nil)
		return false
	}

	accounts, err := adapter.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		m.logger.Debug("session: restore: no prior authorization (err=%v)", err)
		m.settleDisconnected(gen, adapter)
		return false
	}

	chainID, err := adapter.ChainID(ctx)
	if err != nil {
		m.logger.Debug("session: restore: chain probe failed: %v", err)
		m.settleDisconnected(gen, adapter)
		return false
	}

	_, err = m.establish(gen, adapter, accounts[0], chainID, func(cause error) (Snapshot, error) {
		m.logger.Debug("session: restore: subscribe failed: %v", cause)
		m.settleDisconnected(gen, adapter)
		return m.Snapshot(), cause
	})
	return err == nil
}

// Disconnect drops the connection. It is valid from every phase and only
// local: the wallet is not asked to revoke anything.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	if m.phase == PhaseDisconnected && m.adapter == nil {
		m.mu.Unlock()
		return
	}
	prev := m.snapshotLocked()
	release := m.clearLocked(PhaseDisconnected, nil)
	change := Change{Kind: ChangeDisconnected, Previous: prev, Current: m.snapshotLocked()}
	observers := m.observersLocked()
	m.mu.Unlock()

	m.logger.Debug("session: disconnected")
	m.metrics.RecordDisconnect()
	release()
	notify(observers, change)
}

// SyncChain reads the wallet's active chain and applies it as if the wallet
// had reported a chain change. Callers use it after a switch request, since
// the wallet's notification may not have arrived yet.
func (m *Manager) SyncChain(ctx context.Context) (Snapshot, error) {
	snap := m.Snapshot()
	if !snap.Connected() {
		return snap, imalierr.ErrNotConnected
	}

	chainID, err := snap.Provider.ChainID(ctx)
	if err != nil {
		return m.Snapshot(), err
	}

	m.apply(snap.Generation, provider.Notification{Event: provider.EventChainChanged, ChainID: chainID})
	return m.Snapshot(), nil
}

// Close disconnects and drops every observer. The manager can not be
// connected again afterwards.
func (m *Manager) Close() {
	m.Disconnect()

	m.mu.Lock()
	m.closed = true
	m.observers = nil
	m.mu.Unlock()
}

// begin moves an idle session to the connecting phase and returns the new
// generation.
func (m *Manager) begin(from ...Phase) (uint64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, imalierr.WithDetails(imalierr.ErrInvalidTransition, map[string]string{"phase": "closed"})
	}

	allowed := false
	for _, p := range from {
		if m.phase == p {
			allowed = true
			break
		}
	}
	if !allowed {
		phase := m.phase
		m.mu.Unlock()
		return 0, imalierr.WithDetails(imalierr.ErrInvalidTransition, map[string]string{"phase": phase.String()})
	}

	m.generation++
	gen := m.generation
	prev := m.snapshotLocked()
	m.phase = PhaseConnecting
	m.lastErr = nil
	change := Change{Kind: ChangeConnecting, Previous: prev, Current: m.snapshotLocked()}
	observers := m.observersLocked()
	m.mu.Unlock()

	notify(observers, change)
	return gen, nil
}

// establish subscribes to the provider and, if gen is still current, makes
// the session connected. A subscription failure is handed to onFail, which
// owns the adapter from then on.
func (m *Manager) establish(gen uint64, adapter *provider.Adapter, account common.Address, chainID uint64, onFail func(error) (Snapshot, error)) (Snapshot, error) {
	sink := &listener{m: m, gen: gen}

	unsubAccounts, err := adapter.Subscribe(provider.EventAccountsChanged, sink)
	if err != nil {
		return onFail(err)
	}
	unsubChain, err := adapter.Subscribe(provider.EventChainChanged, sink)
	if err != nil {
		unsubAccounts()
		return onFail(err)
	}

	m.mu.Lock()
	if m.generation != gen {
		snap := m.snapshotLocked()
		m.mu.Unlock()

		unsubAccounts()
		unsubChain()
		m.discard(adapter)
		return snap, imalierr.ErrSuperseded
	}

	prev := m.snapshotLocked()
	m.phase = PhaseConnected
	m.account = account
	m.chainID = chainID
	m.lastErr = nil
	m.adapter = adapter
	m.unsubs = []func(){unsubAccounts, unsubChain}
	snap := m.snapshotLocked()
	change := Change{Kind: ChangeConnected, Previous: prev, Current: snap}
	observers := m.observersLocked()
	m.mu.Unlock()

	m.logger.Debug("session: connected %s on chain %d via %s", account.Hex(), chainID, adapter.Name())
	notify(observers, change)
	return snap, nil
}

// fail records a connect failure if gen is still current.
func (m *Manager) fail(gen uint64, adapter *provider.Adapter, cause error) (Snapshot, error) {
	err := classify(cause)

	m.mu.Lock()
	if m.generation != gen {
		snap := m.snapshotLocked()
		m.mu.Unlock()

		m.discard(adapter)
		return snap, imalierr.WithCause(imalierr.ErrSuperseded, err)
	}

	prev := m.snapshotLocked()
	release := m.clearLocked(PhaseError, err)
	snap := m.snapshotLocked()
	change := Change{Kind: ChangeError, Previous: prev, Current: snap}
	observers := m.observersLocked()
	m.mu.Unlock()

	if adapter != nil {
		closeAdapter(m.logger, adapter)
	}
	release()
	m.logger.Error("session: connect failed: %v", err)
	m.metrics.RecordConnect(err)
	notify(observers, change)
	return snap, err
}

// settleDisconnected ends a passive restore attempt without recording an
// error.
func (m *Manager) settleDisconnected(gen uint64, adapter *provider.Adapter) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		m.discard(adapter)
		return
	}

	prev := m.snapshotLocked()
	release := m.clearLocked(PhaseDisconnected, nil)
	change := Change{Kind: ChangeDisconnected, Previous: prev, Current: m.snapshotLocked()}
	observers := m.observersLocked()
	m.mu.Unlock()

	if adapter != nil {
		closeAdapter(m.logger, adapter)
	}
	release()
	notify(observers, change)
}

// apply applies one provider event captured under gen.
func (m *Manager) apply(gen uint64, n provider.Notification) {
	m.mu.Lock()
	if gen != m.generation || m.phase != PhaseConnected {
		m.mu.Unlock()
		m.logger.Debug("session: ignoring stale %s event", n.Event)
		m.metrics.RecordStaleResult()
		return
	}

	prev := m.snapshotLocked()
	var (
		kind    ChangeKind
		release = func() {}
	)

	switch n.Event {
	case provider.EventAccountsChanged:
		if len(n.Accounts) == 0 {
			m.generation++
			release = m.clearLocked(PhaseDisconnected, nil)
			kind = ChangeDisconnected
			m.metrics.RecordDisconnect()
			break
		}
		if n.Accounts[0] == m.account {
			m.mu.Unlock()
			return
		}
		m.account = n.Accounts[0]
		kind = ChangeAccount
		m.metrics.RecordAccountChange()

	case provider.EventChainChanged:
		if n.ChainID == 0 || n.ChainID == m.chainID {
			m.mu.Unlock()
			return
		}
		m.chainID = n.ChainID
		kind = ChangeChain
		m.metrics.RecordChainChange()

	default:
		m.mu.Unlock()
		return
	}

	change := Change{Kind: kind, Previous: prev, Current: m.snapshotLocked()}
	observers := m.observersLocked()
	m.mu.Unlock()

	m.logger.Debug("session: %s change applied", kind)
	release()
	notify(observers, change)
}

// clearLocked resets the session to phase and returns a function that
// releases the previous provider. It must be called outside the lock.
func (m *Manager) clearLocked(phase Phase, err error) func() {
	adapter := m.adapter
	unsubs := m.unsubs

	m.phase = phase
	m.account = common.Address{}
	m.chainID = 0
	m.lastErr = err
	m.adapter = nil
	m.unsubs = nil

	return func() {
		for _, u := range unsubs {
			u()
		}
		if adapter != nil {
			closeAdapter(m.logger, adapter)
		}
	}
}

func (m *Manager) discard(adapter *provider.Adapter) {
	m.logger.Debug("session: discarding superseded result")
	m.metrics.RecordStaleResult()
	if adapter != nil {
		closeAdapter(m.logger, adapter)
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:      m.phase,
		ChainID:    m.chainID,
		LastError:  m.lastErr,
		Generation: m.generation,
		Provider:   m.adapter,
	}
	if m.phase == PhaseConnected {
		account := m.account
		s.Account = &account
	}
	if m.adapter != nil {
		s.Source = m.adapter.Name()
	}
	return s
}

func (m *Manager) observersLocked() []Observer {
	out := make([]Observer, len(m.observers))
	for i, e := range m.observers {
		out[i] = e.fn
	}
	return out
}

func notify(observers []Observer, c Change) {
	for _, fn := range observers {
		fn(c)
	}
}

func closeAdapter(logger LogWriter, adapter *provider.Adapter) {
	if err := adapter.Close(); err != nil {
		logger.Error("session: closing provider %s: %v", adapter.Name(), err)
	}
}

// classify keeps typed errors and files everything else under
// ErrProviderRequestFailed.
func classify(err error) error {
	var ie *imalierr.ImaliError
	if errors.As(err, &ie) {
		return err
	}
	return imalierr.WithCause(imalierr.ErrProviderRequestFailed, err)
}

// listener routes provider events for one generation into the manager.
type listener struct {
	m   *Manager
	gen uint64
}

func (l *listener) Notify(n provider.Notification) {
	l.m.apply(l.gen, n)
}
