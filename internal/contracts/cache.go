// Package contracts resolves registry contracts into handles bound to the
// connected wallet account. Handles are cached per (name, chain) and the
// cache is cleared whenever the session's account or chain changes.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/IMALI-DEFI/Imali-sub000/internal/chainrpc"
	"github.com/IMALI-DEFI/Imali-sub000/internal/metrics"
	"github.com/IMALI-DEFI/Imali-sub000/internal/netswitch"
	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
	"github.com/IMALI-DEFI/Imali-sub000/internal/session"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// maxAttempts bounds how often Get restarts after the session moved while
// a resolution was in flight.
const maxAttempts = 3

// errRaced marks a resolution computed against a session that has since
// changed.
var errRaced = errors.New("session changed during resolution")

// Session is the part of the session manager the cache depends on.
type Session interface {
	Snapshot() session.Snapshot
	SyncChain(ctx context.Context) (session.Snapshot, error)
	OnChange(fn session.Observer) func()
}

// Switcher moves the wallet to a target chain.
type Switcher interface {
	EnsureChain(ctx context.Context, w netswitch.Wallet, target registry.ChainDescriptor) error
}

// DialFunc opens a read backend for chain.
type DialFunc func(ctx context.Context, chain registry.ChainDescriptor) (chainrpc.Backend, error)

// Compile-time interface checks
var (
	_ Session  = (*session.Manager)(nil)
	_ Switcher = (*netswitch.Switcher)(nil)
)

// LogWriter is the logging surface used by this package.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// DialWith adapts a chainrpc.Dialer to a DialFunc.
func DialWith(d *chainrpc.Dialer) DialFunc {
	return func(ctx context.Context, chain registry.ChainDescriptor) (chainrpc.Backend, error) {
		c, err := d.Dial(ctx, chain)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithDial sets how read backends are opened.
func WithDial(dial DialFunc) Option {
	return func(c *Cache) { c.dial = dial }
}

// WithSwitcher sets the network switcher. Share one switcher across every
// component that may prompt the wallet so switches stay serialized.
func WithSwitcher(s Switcher) Option {
	return func(c *Cache) { c.switcher = s }
}

// WithLogger sets the logger.
func WithLogger(logger LogWriter) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type key struct {
	name    string
	chainID uint64
}

// Cache resolves and memoizes contract handles for the current session.
//
// Lock order: the cache never holds its lock while calling the session,
// the switcher or a backend.
type Cache struct {
	reg      *registry.Registry
	sess     Session
	switcher Switcher
	dial     DialFunc
	logger   LogWriter
	metrics  *metrics.Metrics

	flights singleflight.Group
	dials   singleflight.Group

	mu       sync.Mutex
	entries  map[key]*Handle
	epoch    uint64
	backends map[uint64]chainrpc.Backend
	closed   bool

	unsubscribe func()
}

// New creates a cache over reg and sess. The cache subscribes to session
// changes until Close.
func New(reg *registry.Registry, sess Session, opts ...Option) *Cache {
	c := &Cache{
		reg:      reg,
		sess:     sess,
		logger:   nopLogger{},
		metrics:  metrics.Global,
		entries:  make(map[key]*Handle),
		backends: make(map[uint64]chainrpc.Backend),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.switcher == nil {
		c.switcher = netswitch.New(c.logger)
	}
	if c.dial == nil {
		c.dial = DialWith(chainrpc.NewDialer(chainrpc.WithLogger(c.logger)))
	}

	c.unsubscribe = sess.OnChange(c.onSessionChange)
	return c
}

// Get returns a handle for the named contract bound to the connected
// account. If the contract is pinned to a chain other than the session's,
// the wallet is asked to switch first. Errors are not retried; a
// resolution that raced a session change is restarted a bounded number of
// times before failing with ErrSessionChanged.
func (c *Cache) Get(ctx context.Context, name string) (*Handle, error) {
	for range maxAttempts {
		h, err := c.get(ctx, name)
		if !errors.Is(err, errRaced) {
			return h, err
		}
		c.logger.Debug("contracts: %s resolution raced a session change, retrying", name)
	}
	return nil, imalierr.WithDetails(imalierr.ErrSessionChanged, map[string]string{"contract": name})
}

func (c *Cache) get(ctx context.Context, name string) (*Handle, error) {
	snap := c.sess.Snapshot()
	if !snap.Connected() {
		return nil, imalierr.WithDetails(imalierr.ErrNotConnected, map[string]string{"contract": name})
	}

	target, err := c.reg.ContractChain(name)
	if err != nil {
		return nil, err
	}
	if target == 0 {
		target = snap.ChainID
	}

	if target != snap.ChainID {
		snap, err = c.switchTo(ctx, name, snap, target)
		if err != nil {
			return nil, err
		}
	}

	desc, err := c.reg.ResolveContract(name, target)
	if err != nil {
		return nil, err
	}
	chain, err := c.reg.Describe(target)
	if err != nil {
		return nil, imalierr.WithCause(imalierr.ErrUnsupportedChainForContract, err)
	}

	k := key{name: desc.Name, chainID: target}
	account := *snap.Account

	c.mu.Lock()
	if h, ok := c.entries[k]; ok && h.account == account {
		c.mu.Unlock()
		c.metrics.RecordCacheHit()
		c.logger.Debug("contracts: hit %s on %d", k.name, k.chainID)
		return h, nil
	}
	epoch := c.epoch
	c.mu.Unlock()
	c.metrics.RecordCacheMiss()

	// The resolution is shared by every caller joining it, so it must not
	// inherit the first caller's cancellation. Each caller stops waiting
	// on its own context instead; the dial timeout bounds the shared work.
	shared := context.WithoutCancel(ctx)
	flight := c.flights.DoChan(flightKey(k, account, snap.Generation), func() (any, error) {
		return c.resolve(shared, k, desc, chain, snap, epoch)
	})

	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		c.logger.Debug("contracts: joined in-flight resolution of %s on %d", k.name, k.chainID)
	}

	if !c.sess.Snapshot().SameIdentity(snap) {
		return nil, errRaced
	}
	return res.Val.(*Handle), nil
}

// switchTo asks the wallet to move to target and returns the refreshed
// session snapshot.
func (c *Cache) switchTo(ctx context.Context, name string, snap session.Snapshot, target uint64) (session.Snapshot, error) {
	chain, err := c.reg.Describe(target)
	if err != nil {
		return snap, imalierr.WithCause(imalierr.ErrUnsupportedChainForContract, err)
	}

	c.logger.Debug("contracts: %s requires %s, session is on %d", name, chain, snap.ChainID)
	if err := c.switcher.EnsureChain(ctx, snap.Provider, chain); err != nil {
		return snap, err
	}

	next, err := c.sess.SyncChain(ctx)
	if err != nil {
		if errors.Is(err, imalierr.ErrNotConnected) {
			return next, imalierr.WithDetails(err, map[string]string{"contract": name})
		}
		return next, imalierr.WithDetails(imalierr.WithCause(imalierr.ErrNetworkSwitchFailed, err),
			map[string]string{"chain": strconv.FormatUint(target, 10), "step": "confirm"})
	}
	if next.Generation != snap.Generation {
		return next, errRaced
	}
	if next.ChainID != target {
		return next, imalierr.WithDetails(imalierr.ErrNetworkSwitchFailed, map[string]string{
			"chain":  strconv.FormatUint(target, 10),
			"active": strconv.FormatUint(next.ChainID, 10),
			"step":   "confirm",
		})
	}
	return next, nil
}

// resolve binds a new handle and stores it if nothing invalidated the
// cache in the meantime.
func (c *Cache) resolve(ctx context.Context, k key, desc registry.ContractDescriptor, chain registry.ChainDescriptor, snap session.Snapshot, epoch uint64) (*Handle, error) {
	backend, err := c.backend(ctx, chain)
	if err != nil {
		return nil, err
	}

	h := newHandle(desc, *snap.Account, backend, snap.Provider)

	if !c.sess.Snapshot().SameIdentity(snap) {
		c.metrics.RecordStaleResult()
		return nil, errRaced
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.closed {
		c.metrics.RecordStaleResult()
		return nil, errRaced
	}
	c.entries[k] = h
	c.logger.Debug("contracts: bound %s on %d to %s", k.name, k.chainID, h.account.Hex())
	return h, nil
}

// backend returns the shared read backend for chain, dialing it once. ctx
// must not carry a single caller's cancellation, since concurrent
// resolutions on the same chain share the dial.
func (c *Cache) backend(ctx context.Context, chain registry.ChainDescriptor) (chainrpc.Backend, error) {
	c.mu.Lock()
	b, ok := c.backends[chain.ID]
	c.mu.Unlock()
	if ok {
		return b, nil
	}

	v, err, _ := c.dials.Do(strconv.FormatUint(chain.ID, 10), func() (any, error) {
		c.mu.Lock()
		if b, ok := c.backends[chain.ID]; ok {
			c.mu.Unlock()
			return b, nil
		}
		c.mu.Unlock()

		b, err := c.dial(ctx, chain)
		if err != nil {
			c.logger.Error("contracts: dialing %s: %v", chain, err)
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			b.Close()
			return nil, imalierr.WithDetails(imalierr.ErrInvalidTransition, map[string]string{"phase": "closed"})
		}
		c.backends[chain.ID] = b
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(chainrpc.Backend), nil
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every cached handle. Resolutions in flight when Clear runs
// are not stored.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[key]*Handle)
	c.epoch++
	c.mu.Unlock()

	c.metrics.RecordCacheEviction()
	if n > 0 {
		c.logger.Debug("contracts: evicted %d handles", n)
	}
}

// Close clears the cache, stops following the session and closes every
// read backend.
func (c *Cache) Close() {
	c.unsubscribe()

	c.mu.Lock()
	c.closed = true
	c.entries = make(map[key]*Handle)
	c.epoch++
	backends := c.backends
	c.backends = make(map[uint64]chainrpc.Backend)
	c.mu.Unlock()

	for _, b := range backends {
		b.Close()
	}
}

func (c *Cache) onSessionChange(ch session.Change) {
	if ch.Kind == session.ChangeConnecting {
		return
	}
	c.Clear()
}

func flightKey(k key, account common.Address, generation uint64) string {
	return fmt.Sprintf("%s@%d/%s/%d", k.name, k.chainID, account.Hex(), generation)
}
