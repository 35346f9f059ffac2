// Package netswitch negotiates the wallet's active chain: switch to the
// target, and register it first when the wallet does not know it.
package netswitch

import (
	"context"
	"errors"
	"strconv"

	"golang.org/x/sync/semaphore"

	"github.com/IMALI-DEFI/Imali-sub000/internal/metrics"
	"github.com/IMALI-DEFI/Imali-sub000/internal/provider"
	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// Wallet is the part of the provider adapter the switch protocol needs.
type Wallet interface {
	ChainID(ctx context.Context) (uint64, error)
	SwitchChain(ctx context.Context, chainID uint64) error
	AddChain(ctx context.Context, params provider.AddChainParams) error
}

var _ Wallet = (*provider.Adapter)(nil)

// LogWriter is the logging surface used by this package.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Switcher runs EnsureChain negotiations one at a time. A caller that
// arrives while another negotiation is in flight waits for it and then
// probes the chain again, so a request for the chain the first caller just
// switched to completes without a prompt.
type Switcher struct {
	sem     *semaphore.Weighted
	logger  LogWriter
	metrics *metrics.Metrics
}

// New creates a Switcher.
func New(logger LogWriter) *Switcher {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Switcher{
		sem:     semaphore.NewWeighted(1),
		logger:  logger,
		metrics: metrics.Global,
	}
}

// EnsureChain makes target the wallet's active chain. It is a no-op when
// the wallet is already on target. When the wallet reports the chain as
// unknown, exactly one add-chain request is issued and nothing is retried.
// Every other failure, user rejection included, is returned as
// ErrNetworkSwitchFailed wrapping the cause.
func (s *Switcher) EnsureChain(ctx context.Context, w Wallet, target registry.ChainDescriptor) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return s.failed(target, err, "waiting for pending switch")
	}
	defer s.sem.Release(1)

	current, err := w.ChainID(ctx)
	if err != nil {
		return s.failed(target, err, "probe")
	}
	if current == target.ID {
		s.metrics.RecordSwitchNoop()
		s.logger.Debug("netswitch: already on %s", target)
		return nil
	}

	s.logger.Debug("netswitch: switching %d -> %s", current, target)
	s.metrics.RecordSwitchPrompt()
	err = w.SwitchChain(ctx, target.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, provider.ErrChainNotAdded) {
		return s.failed(target, err, "switch")
	}

	s.logger.Debug("netswitch: %s unknown to wallet, adding", target)
	s.metrics.RecordAddChainPrompt()
	if err := w.AddChain(ctx, provider.AddChainParamsFor(target)); err != nil {
		return s.failed(target, err, "add")
	}
	return nil
}

func (s *Switcher) failed(target registry.ChainDescriptor, cause error, step string) error {
	s.metrics.RecordSwitchFailure()
	s.logger.Error("netswitch: %s to %s failed: %v", step, target, cause)
	return imalierr.WithDetails(imalierr.WithCause(imalierr.ErrNetworkSwitchFailed, cause), map[string]string{
		"chain": strconv.FormatUint(target.ID, 10),
		"step":  step,
	})
}
