// Package errors provides structured error handling for Imali.
// It defines the error kinds surfaced by the wallet session and contract
// resolution core, exit codes, and helpers for adding context, details,
// and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes returned by the CLI.
const (
	ExitSuccess     = 0 // Successful execution
	ExitGeneral     = 1 // General/unknown error
	ExitInput       = 2 // Invalid input
	ExitRejected    = 3 // User rejected a wallet prompt
	ExitNotFound    = 4 // Resource not found
	ExitUnavailable = 5 // Wallet or network unavailable
)

// Error kind codes. Callers switch on these (or on the sentinels below)
// instead of parsing messages.
const (
	CodeGeneral                     = "GENERAL_ERROR"
	CodeNoWalletDetected            = "NO_WALLET_DETECTED"
	CodeUserRejected                = "USER_REJECTED"
	CodeNetworkSwitchFailed         = "NETWORK_SWITCH_FAILED"
	CodeUnsupportedChainForContract = "UNSUPPORTED_CHAIN_FOR_CONTRACT"
	CodeNotConnected                = "NOT_CONNECTED"
	CodeProviderRequestFailed       = "PROVIDER_REQUEST_FAILED"
)

// ImaliError is the structured error type for Imali.
type ImaliError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *ImaliError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ImaliError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ImaliError.
func (e *ImaliError) Is(target error) bool {
	var t *ImaliError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Wallet session and contract resolution kinds.
var (
	ErrNoWalletDetected = &ImaliError{
		Code:     CodeNoWalletDetected,
		Message:  "no wallet detected",
		ExitCode: ExitUnavailable,
	}

	ErrUserRejected = &ImaliError{
		Code:     CodeUserRejected,
		Message:  "request rejected by user",
		ExitCode: ExitRejected,
	}

	ErrNetworkSwitchFailed = &ImaliError{
		Code:     CodeNetworkSwitchFailed,
		Message:  "wallet did not switch network",
		ExitCode: ExitGeneral,
	}

	ErrUnsupportedChainForContract = &ImaliError{
		Code:     CodeUnsupportedChainForContract,
		Message:  "contract is not deployed on chain",
		ExitCode: ExitNotFound,
	}

	ErrNotConnected = &ImaliError{
		Code:     CodeNotConnected,
		Message:  "wallet not connected",
		ExitCode: ExitUnavailable,
	}

	ErrProviderRequestFailed = &ImaliError{
		Code:     CodeProviderRequestFailed,
		Message:  "wallet provider request failed",
		ExitCode: ExitGeneral,
	}
)

// Session lifecycle kinds.
var (
	ErrInvalidTransition = &ImaliError{
		Code:     "INVALID_TRANSITION",
		Message:  "operation not valid in current session phase",
		ExitCode: ExitGeneral,
	}

	ErrSuperseded = &ImaliError{
		Code:     "SUPERSEDED",
		Message:  "operation superseded by a later connect or disconnect",
		ExitCode: ExitGeneral,
	}

	ErrSessionChanged = &ImaliError{
		Code:     "SESSION_CHANGED",
		Message:  "wallet account or chain changed during resolution",
		ExitCode: ExitGeneral,
	}
)

// Ambient kinds.
var (
	ErrGeneral = &ImaliError{
		Code:     CodeGeneral,
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &ImaliError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	ErrNotFound = &ImaliError{
		Code:     "NOT_FOUND",
		Message:  "resource not found",
		ExitCode: ExitNotFound,
	}

	ErrChainNotFound = &ImaliError{
		Code:     "CHAIN_NOT_FOUND",
		Message:  "chain not found in registry",
		ExitCode: ExitNotFound,
	}

	ErrContractNotFound = &ImaliError{
		Code:     "CONTRACT_NOT_FOUND",
		Message:  "contract not found in registry",
		ExitCode: ExitNotFound,
	}

	ErrRegistryInvalid = &ImaliError{
		Code:     "REGISTRY_INVALID",
		Message:  "chain registry is invalid",
		ExitCode: ExitInput,
	}

	ErrNetworkError = &ImaliError{
		Code:     "NETWORK_ERROR",
		Message:  "network communication failed",
		ExitCode: ExitGeneral,
	}

	ErrConfigNotFound = &ImaliError{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &ImaliError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}
)

// Local wallet keystore kinds.
var (
	ErrKeystoreNotFound = &ImaliError{
		Code:     "KEYSTORE_NOT_FOUND",
		Message:  "wallet keystore not found",
		ExitCode: ExitNotFound,
	}

	ErrKeystoreExists = &ImaliError{
		Code:     "KEYSTORE_EXISTS",
		Message:  "wallet keystore already exists",
		ExitCode: ExitInput,
	}

	ErrInvalidMnemonic = &ImaliError{
		Code:     "INVALID_MNEMONIC",
		Message:  "invalid mnemonic phrase",
		ExitCode: ExitInput,
	}

	ErrDecryptionFailed = &ImaliError{
		Code:     "DECRYPTION_FAILED",
		Message:  "decryption failed - wrong passphrase or corrupted file",
		ExitCode: ExitRejected,
	}
)

// New creates a new ImaliError with the given code and message.
func New(code, message string) *ImaliError {
	return &ImaliError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// WithCause returns a copy of kind whose Cause is err, so the result
// matches both kind and err under errors.Is.
func WithCause(kind *ImaliError, err error) error {
	if kind == nil {
		return err
	}
	return &ImaliError{
		Code:       kind.Code,
		Message:    kind.Message,
		Details:    kind.Details,
		Suggestion: kind.Suggestion,
		Cause:      err,
		ExitCode:   kind.ExitCode,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var ie *ImaliError
	if errors.As(err, &ie) {
		return &ImaliError{
			Code:       ie.Code,
			Message:    fmt.Sprintf("%s: %s", msg, ie.Message),
			Details:    ie.Details,
			Suggestion: ie.Suggestion,
			Cause:      ie.Cause,
			ExitCode:   ie.ExitCode,
		}
	}

	return &ImaliError{
		Code:     CodeGeneral,
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithDetails adds details to an error. Existing details are kept unless
// overwritten by a key in details.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var ie *ImaliError
	if errors.As(err, &ie) {
		merged := make(map[string]string, len(ie.Details)+len(details))
		for k, v := range ie.Details {
			merged[k] = v
		}
		for k, v := range details {
			merged[k] = v
		}
		return &ImaliError{
			Code:       ie.Code,
			Message:    ie.Message,
			Details:    merged,
			Suggestion: ie.Suggestion,
			Cause:      ie.Cause,
			ExitCode:   ie.ExitCode,
		}
	}

	return &ImaliError{
		Code:     CodeGeneral,
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var ie *ImaliError
	if errors.As(err, &ie) {
		return &ImaliError{
			Code:       ie.Code,
			Message:    ie.Message,
			Details:    ie.Details,
			Suggestion: suggestion,
			Cause:      ie.Cause,
			ExitCode:   ie.ExitCode,
		}
	}

	return &ImaliError{
		Code:       CodeGeneral,
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var ie *ImaliError
	if errors.As(err, &ie) {
		return ie.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var ie *ImaliError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return CodeGeneral
}

// Details returns the details attached to the outermost ImaliError in err.
func Details(err error) map[string]string {
	var ie *ImaliError
	if errors.As(err, &ie) {
		return ie.Details
	}
	return nil
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
