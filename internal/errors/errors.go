// Package errors provides standardized error codes for the lumen host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (app, session, channel, bootstrap, launch)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by display runtimes and embedding
// tools for programmatic error handling. Human-readable messages are provided
// alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that callers can rely on for error handling.
const (
	// App domain - application registry errors
	CodeAppUnknown = "app.unknown" // Connection or lookup references an unregistered name

	// Session domain - proxy lifecycle errors
	CodeSessionInvalidState       = "session.invalid_state"        // Lifecycle contract violated by caller
	CodeSessionAlreadyConnected   = "session.already_connected"    // Proxy was already delivered to a connected list
	CodeSessionDanglingInstanceID = "session.dangling_instance_id" // Incoming id matches no pending proxy
	CodeSessionNotConnected       = "session.not_connected"        // Operation requires a live channel

	// Channel domain - transport errors
	CodeChannelClosed     = "channel.closed"      // Send attempted on a closed channel
	CodeChannelSendFailed = "channel.send_failed" // Write to the underlying transport failed

	// Bootstrap domain - listener errors
	CodeBootstrapNoAvailablePort = "bootstrap.no_available_port" // All candidate ports are taken
	CodeBootstrapBindFailed      = "bootstrap.bind_failed"       // Explicit port could not be bound

	// Launch domain - external runtime process errors
	CodeLaunchUnknownRuntime = "launch.unknown_runtime" // Runtime kind is not recognized
	CodeLaunchSpawnFailed    = "launch.spawn_failed"    // Failed to start the runtime process

	// Server domain - websocket edge errors
	CodeServerUpgradeFailed = "server.upgrade_failed" // WebSocket upgrade failed

	// Auth domain - connection token errors
	CodeAuthInvalidToken = "auth.invalid_token" // Connection token missing or wrong

	// Storage domain - session-event log errors
	CodeStorageOpenFailed = "storage.open_failed" // Database open failed
	CodeStorageSaveFailed = "storage.save_failed" // Failed to save an event

	// General domain - catch-all errors
	CodeUnknown = "error.unknown" // Unknown error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "app.unknown")
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

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
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

// UnknownApplication creates an "app.unknown" error.
// Connections referencing unregistered names must be rejected,
// never silently defaulted.
func UnknownApplication(name string) *CodedError {
	return New(CodeAppUnknown, fmt.Sprintf("application %q is not registered", name))
}

// DanglingInstanceID creates a "session.dangling_instance_id" error.
// This signals a stale, duplicate or racing connection attempt: the
// correlation context is lost, so the remote side must not simply retry.
func DanglingInstanceID(name, id string) *CodedError {
	msg := fmt.Sprintf("no pending instance of %q with id %s", name, id)
	return New(CodeSessionDanglingInstanceID, msg)
}

// InvalidState creates a "session.invalid_state" error.
func InvalidState(message string) *CodedError {
	return New(CodeSessionInvalidState, message)
}

// AlreadyConnected creates a "session.already_connected" error.
func AlreadyConnected(id string) *CodedError {
	msg := fmt.Sprintf("proxy %s is or was already connected", id)
	return New(CodeSessionAlreadyConnected, msg)
}

// ChannelClosed creates a "channel.closed" error.
// There is no auto-reconnect; the caller decides what to do.
func ChannelClosed(id string) *CodedError {
	return New(CodeChannelClosed, fmt.Sprintf("proxy %s channel is closed", id))
}

// NotConnected creates a "session.not_connected" error.
func NotConnected(id string) *CodedError {
	return New(CodeSessionNotConnected, fmt.Sprintf("proxy %s has no connection yet", id))
}

// NoAvailablePort creates a "bootstrap.no_available_port" error.
// This is fatal: the process cannot serve.
func NoAvailablePort(tried int) *CodedError {
	msg := fmt.Sprintf("could not bind any of %d candidate ports", tried)
	return New(CodeBootstrapNoAvailablePort, msg)
}

// UnknownRuntime creates a "launch.unknown_runtime" error.
func UnknownRuntime(kind string) *CodedError {
	return New(CodeLaunchUnknownRuntime, fmt.Sprintf("unknown runtime kind %q", kind))
}

// SpawnFailed creates a "launch.spawn_failed" error.
func SpawnFailed(kind string, cause error) *CodedError {
	return Wrap(CodeLaunchSpawnFailed, fmt.Sprintf("failed to launch %s runtime", kind), cause)
}

// InvalidToken creates an "auth.invalid_token" error.
func InvalidToken() *CodedError {
	return New(CodeAuthInvalidToken, "invalid or missing connection token")
}
