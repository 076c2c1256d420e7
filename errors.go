package triage

import (
	"errors"
	"fmt"
)

// Sentinel errors for triage. Use errors.Is to check.
var (
	ErrIdentity           = errors.New("session identity could not be resolved")
	ErrUnknownTool        = errors.New("unknown tool")
	ErrNotFound           = errors.New("record not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrValidation         = errors.New("validation failed")
	ErrServiceUnavailable = errors.New("reasoning engine unavailable")
	ErrMaxCorrections     = errors.New("correction budget exhausted")
	ErrShutdown           = errors.New("dispatcher is shutting down")
)

// FormatError reports a malformed tool argument. It is the one handler-level
// error the Controller treats as recoverable: the Controller re-invokes the
// handler once with the argument normalized per the canonical-id rule.
// Field names the offending argument; Value is its raw supplied value.
type FormatError struct {
	Field  string
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed tool argument %s=%q: %s", e.Field, e.Value, e.Reason)
}

// SchemaError reports a structurally invalid candidate response. The
// Controller converts it into a CorrectionRequest for the engine.
// It wraps ErrValidation for errors.Is.
type SchemaError struct {
	Reason string
	Hint   string
}

func (e *SchemaError) Error() string {
	return "invalid candidate response: " + e.Reason
}

func (e *SchemaError) Unwrap() error { return ErrValidation }

// SystemError represents an internal failure (store corruption, panic, etc.).
// The engine and the caller never see the underlying message or stack.
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string {
	return "internal system error during tool execution"
}

func (e *SystemError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err is one the Controller may resolve inside
// its bounded correction loop: a FormatError or a SchemaError. Everything
// else is terminal for the turn.
func IsRecoverable(err error) bool {
	var fe *FormatError
	var se *SchemaError
	return errors.As(err, &fe) || errors.As(err, &se)
}

// isDomainError reports whether err is an expected lookup or authorization
// outcome rather than an internal fault.
func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied)
}

// IsSystemError returns true if err is or wraps a SystemError.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

// panicError wraps a recovered panic value for SystemError; used by the
// Dispatcher and the WithRecovery middleware.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
