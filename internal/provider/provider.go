// Package provider adapts wallet providers to a uniform request and
// notification surface. A Provider speaks the EIP-1193 request/event
// protocol; the Adapter normalizes results, error codes and event payloads
// so the session layer never sees provider-specific shapes.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// Wallet RPC methods.
const (
	MethodRequestAccounts   = "eth_requestAccounts"
	MethodAccounts          = "eth_accounts"
	MethodChainID           = "eth_chainId"
	MethodSwitchChain       = "wallet_switchEthereumChain"
	MethodAddChain          = "wallet_addEthereumChain"
	MethodSignTransaction   = "eth_signTransaction"
	MethodRevokePermissions = "wallet_revokePermissions"
)

// Event is a provider notification name.
type Event string

// Provider events.
const (
	EventAccountsChanged Event = "accountsChanged"
	EventChainChanged    Event = "chainChanged"
)

// Provider error codes (EIP-1193, EIP-3085, EIP-3326 and JSON-RPC).
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeUnrecognizedChain = 4902
	CodeInvalidParams     = -32602
	CodeInternal          = -32603
)

// ErrChainNotAdded is returned by Adapter.SwitchChain when the wallet does
// not know the target chain. It is an expected branch of the switch
// negotiation, not a fault.
var ErrChainNotAdded = &imalierr.ImaliError{
	Code:     "CHAIN_NOT_ADDED",
	Message:  "chain has not been added to the wallet",
	ExitCode: imalierr.ExitGeneral,
}

// NotificationHandler receives raw provider notifications in delivery order.
type NotificationHandler func(event string, payload json.RawMessage)

// Provider is a raw wallet provider.
type Provider interface {
	// Request sends one wallet RPC request. Errors carrying a provider code
	// should implement ErrorCode() int.
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// Subscribe installs handler for all provider notifications and returns
	// a function that removes it. Handlers must be invoked sequentially.
	Subscribe(handler NotificationHandler) (cancel func(), err error)

	// Close releases the provider's resources.
	Close() error
}

// LogWriter is the logging surface used by this package.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// RequestError is a coded provider error. Providers implemented in this
// module return it; it also satisfies go-ethereum's rpc.Error and
// rpc.DataError so it survives a JSON-RPC round trip.
type RequestError struct {
	Code    int
	Message string
	Data    any
}

// NewRequestError creates a RequestError.
func NewRequestError(code int, format string, args ...any) *RequestError {
	return &RequestError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *RequestError) Error() string {
	return e.Message
}

// ErrorCode returns the provider error code.
func (e *RequestError) ErrorCode() int {
	return e.Code
}

// ErrorData returns the optional error payload.
func (e *RequestError) ErrorData() any {
	return e.Data
}
