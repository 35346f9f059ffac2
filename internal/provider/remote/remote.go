// Package remote implements a wallet provider reached over JSON-RPC, for
// wallets paired through a bridge (websocket, IPC or in-process). Requests
// are plain calls; provider events arrive on a single "events"
// subscription in the wallet namespace so their order is preserved.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/IMALI-DEFI/Imali-sub000/internal/provider"
)

// Subscription namespace and topic served by wallet bridges.
const (
	Namespace   = "wallet"
	EventsTopic = "events"
)

// PairingHeader carries the pairing id on transports with headers.
const PairingHeader = "X-Imali-Pairing"

// Default request rate towards the bridge.
const (
	DefaultRate  = 10
	DefaultBurst = 20
)

var (
	// ErrNotificationsUnsupported is returned by Subscribe when the
	// transport can not push events (plain HTTP).
	ErrNotificationsUnsupported = errors.New("remote wallet transport does not support notifications")

	errAlreadySubscribed = errors.New("remote wallet events already subscribed")
	errClosed            = errors.New("remote wallet closed")
)

// Event is one provider notification on the events subscription.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Compile-time interface check
var _ provider.Provider = (*Provider)(nil)

type options struct {
	pairing string
	limiter *rate.Limiter
	logger  provider.LogWriter
}

// Option configures a remote provider.
type Option func(*options)

// WithPairingID sets the pairing id presented to the bridge. A random id
// is generated otherwise.
func WithPairingID(id string) Option {
	return func(o *options) { o.pairing = id }
}

// WithRateLimit bounds the request rate towards the bridge.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(o *options) { o.limiter = rate.NewLimiter(r, burst) }
}

// WithLogger sets the logger.
func WithLogger(logger provider.LogWriter) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		pairing: uuid.NewString(),
		limiter: rate.NewLimiter(DefaultRate, DefaultBurst),
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Provider is a wallet reached through an rpc.Client.
type Provider struct {
	client  *rpc.Client
	pairing string
	limiter *rate.Limiter
	logger  provider.LogWriter

	mu     sync.Mutex
	cancel func()
	closed bool
}

// Dial connects to a wallet bridge at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Provider, error) {
	o := buildOptions(opts)
	c, err := rpc.DialOptions(ctx, url, rpc.WithHeader(PairingHeader, o.pairing))
	if err != nil {
		return nil, fmt.Errorf("dialing wallet bridge: %w", err)
	}
	o.logger.Debug("remote: connected to %s (pairing %s)", url, o.pairing)
	return newProvider(c, o), nil
}

// New wraps an existing client.
func New(c *rpc.Client, opts ...Option) *Provider {
	return newProvider(c, buildOptions(opts))
}

func newProvider(c *rpc.Client, o options) *Provider {
	return &Provider{
		client:  c,
		pairing: o.pairing,
		limiter: o.limiter,
		logger:  o.logger,
	}
}

// Source returns a detection source for the bridge at url. An empty url
// means no bridge is configured.
func Source(url string, opts ...Option) provider.Source {
	return provider.Source{
		Name: "remote",
		Open: func(ctx context.Context) (provider.Provider, error) {
			if url == "" {
				return nil, provider.ErrNotPresent
			}
			return Dial(ctx, url, opts...)
		},
	}
}

// PairingID returns the pairing id presented to the bridge.
func (p *Provider) PairingID() string {
	return p.pairing
}

// Request sends one wallet RPC call.
func (p *Provider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := p.client.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

// Subscribe opens the events subscription and delivers each event to
// handler from a single goroutine. Only one subscription may be active.
// The returned cancel function does not wait for an in-progress handler.
func (p *Provider) Subscribe(handler provider.NotificationHandler) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errClosed
	}
	if p.cancel != nil {
		return nil, errAlreadySubscribed
	}

	events := make(chan Event, 16)
	sub, err := p.client.Subscribe(context.Background(), Namespace, events, EventsTopic)
	if err != nil {
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return nil, ErrNotificationsUnsupported
		}
		return nil, fmt.Errorf("subscribing to wallet events: %w", err)
	}

	stop := make(chan struct{})
	go p.deliver(sub, events, stop, handler)

	cancel := sync.OnceFunc(func() {
		close(stop)
		sub.Unsubscribe()

		p.mu.Lock()
		p.cancel = nil
		p.mu.Unlock()
	})
	p.cancel = cancel
	return cancel, nil
}

func (p *Provider) deliver(sub *rpc.ClientSubscription, events <-chan Event, stop <-chan struct{}, handler provider.NotificationHandler) {
	for {
		select {
		case <-stop:
			return
		case err := <-sub.Err():
			if err != nil {
				p.logger.Error("remote: event subscription ended: %v", err)
			}
			return
		case ev := <-events:
			select {
			case <-stop:
				return
			default:
			}
			handler(ev.Name, ev.Data)
		}
	}
}

// Close cancels the event subscription and closes the connection. It is
// safe to call from inside an event handler.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.client.Close()
	return nil
}
