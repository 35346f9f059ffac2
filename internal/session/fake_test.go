package session_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/IMALI-DEFI/Imali-sub000/internal/provider"
	"github.com/IMALI-DEFI/Imali-sub000/internal/session"
)

// fakeWallet is a provider.Provider with scripted accounts and chain.
type fakeWallet struct {
	mu         sync.Mutex
	accounts   []string
	authorized bool
	chainID    string
	reqErr     error
	chainErr   error
	subErr     error
	gate       chan struct{}
	handler    provider.NotificationHandler
	subs       int
	cancels    int
	closed     int
	requests   []string
}

var _ provider.Provider = (*fakeWallet)(nil)

func newFakeWallet(chainID string, accounts ...string) *fakeWallet {
	return &fakeWallet{accounts: accounts, chainID: chainID, authorized: true}
}

func (w *fakeWallet) Request(ctx context.Context, method string, _ ...any) (json.RawMessage, error) {
	w.mu.Lock()
	w.requests = append(w.requests, method)
	gate := w.gate
	w.mu.Unlock()

	if method == provider.MethodRequestAccounts && gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch method {
	case provider.MethodRequestAccounts:
		if w.reqErr != nil {
			return nil, w.reqErr
		}
		w.authorized = true
		return json.Marshal(w.accounts)
	case provider.MethodAccounts:
		if !w.authorized {
			return json.RawMessage(`[]`), nil
		}
		return json.Marshal(w.accounts)
	case provider.MethodChainID:
		if w.chainErr != nil {
			return nil, w.chainErr
		}
		return json.Marshal(w.chainID)
	default:
		return nil, provider.NewRequestError(provider.CodeUnsupportedMethod, "unsupported %s", method)
	}
}

func (w *fakeWallet) Subscribe(handler provider.NotificationHandler) (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subErr != nil {
		return nil, w.subErr
	}
	w.subs++
	w.handler = handler
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.cancels++
		w.handler = nil
	}, nil
}

func (w *fakeWallet) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

func (w *fakeWallet) emit(event string, payload any) {
	raw, _ := json.Marshal(payload)
	w.mu.Lock()
	h := w.handler
	w.mu.Unlock()
	if h != nil {
		h(event, raw)
	}
}

func (w *fakeWallet) stats() (subs, cancels, closed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.subs, w.cancels, w.closed
}

func (w *fakeWallet) sentRequests() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.requests...)
}

// connectorFor returns a connector that always yields a fresh adapter over w.
func connectorFor(w *fakeWallet) session.Connector {
	return func(context.Context) (*provider.Adapter, error) {
		return provider.NewAdapter("fake", w, nil), nil
	}
}

func noWallet() session.Connector {
	return func(ctx context.Context) (*provider.Adapter, error) {
		return provider.Connect(ctx, nil)
	}
}

// changeLog records observer notifications.
type changeLog struct {
	mu      sync.Mutex
	changes []session.Change
}

func (c *changeLog) observe(ch session.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *changeLog) kinds() []session.ChangeKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.ChangeKind, 0, len(c.changes))
	for _, ch := range c.changes {
		out = append(out, ch.Kind)
	}
	return out
}
