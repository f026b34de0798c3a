// Package errors provides standardized error codes for the gateway.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (pairing, session, credstore, adapter, server)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by API clients for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that API clients can rely on for error handling.
const (
	// Pairing domain - session creation and registry lookups
	CodePairingInvalidRequest = "pairing.invalid_request" // Malformed creation request
	CodePairingSessionLimit   = "pairing.session_limit"   // Concurrent-session ceiling reached
	CodePairingNotFound       = "pairing.not_found"       // No session for the given pairing code
	CodePairingCodeExhausted  = "pairing.code_exhausted"  // Could not allocate a fresh pairing code

	// Session domain - lifecycle supervisor outcomes
	CodeSessionAuthExpired    = "session.auth_expired"    // No successful auth within the challenge window
	CodeSessionLoggedOut      = "session.logged_out"      // Explicit logout from the messaging network
	CodeSessionTransientClose = "session.transient_close" // Recoverable close; reconnect in progress or exhausted
	CodeSessionRetriesSpent   = "session.retries_spent"   // Reconnect attempts exhausted

	// Credential store domain - durable identity persistence
	CodeCredStoreOpenFailed = "credstore.open_failed" // Store could not be opened
	CodeCredStoreIOFailed   = "credstore.io_failed"   // Load/save/delete failed

	// Adapter domain - connection to the messaging network
	CodeAdapterOpenFailed = "adapter.open_failed" // Adapter construction/dial failed
	CodeAdapterSendFailed = "adapter.send_failed" // Outbound message send failed

	// Server domain - HTTP API errors
	CodeServerInvalidBody = "server.invalid_body" // Malformed or invalid request body
	CodeServerMethod      = "server.method"       // Method not allowed on this route

	// Session ID export domain
	CodeExportNotConnected = "export.not_connected" // Session has no exportable credentials yet
	CodeExportBadToken     = "export.bad_token"     // Session ID token failed to decode

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "pairing.not_found")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// NotFound creates a "pairing.not_found" error.
func NotFound(code string) *CodedError {
	return New(CodePairingNotFound, fmt.Sprintf("no session for pairing code %s", code))
}

// SessionLimit creates a "pairing.session_limit" error.
func SessionLimit(max int) *CodedError {
	return New(CodePairingSessionLimit, fmt.Sprintf("session limit of %d reached", max))
}

// InvalidRequest creates a "pairing.invalid_request" error.
func InvalidRequest(reason string) *CodedError {
	return New(CodePairingInvalidRequest, reason)
}

// CredStoreFailed creates a "credstore.io_failed" error.
func CredStoreFailed(operation string, cause error) *CodedError {
	return Wrap(CodeCredStoreIOFailed, fmt.Sprintf("credential store %s failed", operation), cause)
}

// AdapterOpenFailed creates an "adapter.open_failed" error.
func AdapterOpenFailed(cause error) *CodedError {
	return Wrap(CodeAdapterOpenFailed, "could not open connection to messaging network", cause)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
