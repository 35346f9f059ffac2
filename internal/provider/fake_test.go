package provider_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/IMALI-DEFI/Imali-sub000/internal/provider"
)

// scriptedProvider answers requests from a per-method script and records
// every request it receives.
type scriptedProvider struct {
	mu        sync.Mutex
	results   map[string]json.RawMessage
	errs      map[string]error
	calls     []call
	handler   provider.NotificationHandler
	subCount  int
	cancelled int
	closed    bool
	subErr    error
}

type call struct {
	Method string
	Params []any
}

var _ provider.Provider = (*scriptedProvider)(nil)

func newScripted() *scriptedProvider {
	return &scriptedProvider{
		results: make(map[string]json.RawMessage),
		errs:    make(map[string]error),
	}
}

func (s *scriptedProvider) respond(method, raw string) *scriptedProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[method] = json.RawMessage(raw)
	delete(s.errs, method)
	return s
}

func (s *scriptedProvider) fail(method string, err error) *scriptedProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[method] = err
	return s
}

func (s *scriptedProvider) Request(_ context.Context, method string, params ...any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{Method: method, Params: params})
	if err := s.errs[method]; err != nil {
		return nil, err
	}
	if raw, ok := s.results[method]; ok {
		return raw, nil
	}
	return json.RawMessage("null"), nil
}

func (s *scriptedProvider) Subscribe(handler provider.NotificationHandler) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subErr != nil {
		return nil, s.subErr
	}
	s.subCount++
	s.handler = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cancelled++
		s.handler = nil
	}, nil
}

func (s *scriptedProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// emit delivers a raw notification the way a provider's dispatcher would.
func (s *scriptedProvider) emit(event, payload string) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(event, json.RawMessage(payload))
	}
}

func (s *scriptedProvider) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Method)
	}
	return out
}

func (s *scriptedProvider) lastParams() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1].Params
}

type recorder struct {
	mu   sync.Mutex
	seen []provider.Notification
}

func (r *recorder) Notify(n provider.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
}

func (r *recorder) all() []provider.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]provider.Notification(nil), r.seen...)
}
