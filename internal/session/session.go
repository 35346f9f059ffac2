// Package session owns the wallet connection state: the connected account,
// the active chain, the connection phase and the last error. It reconciles
// application-initiated connects with wallet-initiated account and chain
// changes.
package session

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/IMALI-DEFI/Imali-sub000/internal/provider"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// Phase is the connection phase of a session.
type Phase int

// Session phases.
const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseError
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	Phase      Phase             `json:"phase"`
	Account    *common.Address   `json:"account"`
	ChainID    uint64            `json:"chain_id,omitempty"`
	Source     string            `json:"source,omitempty"`
	LastError  error             `json:"-"`
	Generation uint64            `json:"generation"`
	Provider   *provider.Adapter `json:"-"`
}

// Connected reports whether the snapshot is in the connected phase.
func (s Snapshot) Connected() bool {
	return s.Phase == PhaseConnected
}

// SameIdentity reports whether s and o describe the same connection: same
// generation, account and chain.
func (s Snapshot) SameIdentity(o Snapshot) bool {
	if s.Generation != o.Generation || s.Phase != o.Phase || s.ChainID != o.ChainID {
		return false
	}
	if s.Account == nil || o.Account == nil {
		return s.Account == o.Account
	}
	return *s.Account == *o.Account
}

// ErrorCode returns the error code of LastError, or "".
func (s Snapshot) ErrorCode() string {
	if s.LastError == nil {
		return ""
	}
	return imalierr.Code(s.LastError)
}

// ChangeKind classifies a session change.
type ChangeKind int

// Session change kinds.
const (
	ChangeConnecting ChangeKind = iota
	ChangeConnected
	ChangeAccount
	ChangeChain
	ChangeDisconnected
	ChangeError
)

// String returns the change name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeConnecting:
		return "connecting"
	case ChangeConnected:
		return "connected"
	case ChangeAccount:
		return "account"
	case ChangeChain:
		return "chain"
	case ChangeDisconnected:
		return "disconnected"
	case ChangeError:
		return "error"
	default:
		return "unknown"
	}
}

// Change describes one applied session transition.
type Change struct {
	Kind     ChangeKind
	Previous Snapshot
	Current  Snapshot
}

// Observer is notified after every applied transition, in order. Observers
// run outside the session lock and may call back into the manager.
type Observer func(Change)

// Connector detects and opens a wallet provider.
type Connector func(ctx context.Context) (*provider.Adapter, error)

// LogWriter is the logging surface used by this package.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
