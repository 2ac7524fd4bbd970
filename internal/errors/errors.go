package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Application exit codes define the standard exit statuses for the worker.
// These codes are used to signal the outcome of the run to the supervisor.
const (
	ExitSuccess       = 0   // Indicates successful execution.
	ExitErrorGeneric  = 1   // Indicates a generic error.
	ExitErrorConfig   = 4   // Indicates a configuration or setup error.
	ExitErrorPeer     = 5   // Indicates a peer transport or spawn failure.
	ExitErrorProtocol = 6   // Indicates a detected protocol desynchronisation.
	ExitErrorCanceled = 130 // Indicates the run was canceled (e.g., SIGINT).
)

// ConfigError represents a configuration or setup error, such as invalid
// flags, malformed reference files or a filter outside the spectral grid.
// Retrying cannot fix it, so the worker exits.
type ConfigError struct {
	// Message explains the specific configuration error.
	Message string
}

// Error returns the error message for a ConfigError.
func (e ConfigError) Error() string { return e.Message }

// NewConfigError creates a new ConfigError with a formatted message.
//
// Parameters:
//   - format: A format string (see fmt.Sprintf).
//   - a: Arguments to be formatted into the string.
//
// Returns:
//   - error: A new ConfigError instance containing the formatted message.
func NewConfigError(format string, a ...any) error {
	return ConfigError{Message: fmt.Sprintf(format, a...)}
}

// ValidationError represents an input validation failure. It identifies which
// option failed validation and provides a human-readable explanation.
type ValidationError struct {
	// Field is the name of the option that failed validation.
	Field string
	// Message explains the validation failure.
	Message string
}

// Error returns a formatted message describing the validation failure.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for %q: %s", e.Field, e.Message)
}

// PeerError reports a failed collective call or process spawn. Peers are
// blocked waiting on the local worker, so it cannot be retried locally.
type PeerError struct {
	// Op names the collective operation that failed (e.g. "scatter").
	Op string
	// Cause is the underlying transport error.
	Cause error
}

// Error returns a formatted message describing the peer failure.
func (e PeerError) Error() string {
	return fmt.Sprintf("peer %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying transport error.
func (e PeerError) Unwrap() error { return e.Cause }

// ProtocolError reports a frame that does not match the collective call the
// local side issued. Both sides have diverged and the run cannot continue.
type ProtocolError struct {
	// Op is the operation the local side expected to complete.
	Op string
	// Want describes the expected frame.
	Want string
	// Got describes the frame actually received.
	Got string
}

// Error returns a formatted message describing the desynchronisation.
func (e ProtocolError) Error() string {
	return fmt.Sprintf("protocol desync during %s: want %s, got %s", e.Op, e.Want, e.Got)
}

// WrapError wraps an error with additional context using fmt.Errorf and %w.
// This allows the wrapped error to be unwrapped with errors.Unwrap() and
// checked with errors.Is() and errors.As().
//
// Parameters:
//   - err: The error to wrap.
//   - format: A format string for the context message.
//   - args: Arguments for the format string.
//
// Returns:
//   - error: The wrapped error, or nil if err is nil.
func WrapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsContextError checks if the error is a context cancellation or deadline exceeded error.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ExitCode maps an error returned by a run to the process exit status.
// Context errors win over the transport error they usually surface as.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if IsContextError(err) {
		return ExitErrorCanceled
	}
	var (
		configErr     ConfigError
		validationErr ValidationError
		protocolErr   ProtocolError
		peerErr       PeerError
	)
	switch {
	case errors.As(err, &configErr), errors.As(err, &validationErr):
		return ExitErrorConfig
	case errors.As(err, &protocolErr):
		return ExitErrorProtocol
	case errors.As(err, &peerErr):
		return ExitErrorPeer
	}
	return ExitErrorGeneric
}
