package utils

import (
	"errors"
	"fmt"
)

// Failure classes raised inside the crash handler. They are logged and
// swallowed, never propagated past the guard.
var (
	// ErrPersistenceUnavailable signals that the crash history store could not be read or written.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrProviderUnavailable signals that the patch state provider could not answer.
	ErrProviderUnavailable = errors.New("patch state provider unavailable")
	// ErrMitigationFailed signals that a rollback/disable/kill action failed.
	ErrMitigationFailed = errors.New("mitigation failed")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Msg  string
	Err  error
	Kind error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the failure class the error was tagged with.
func (e *AppError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// Classify wraps err with one of the failure classes so callers can test it with errors.Is.
func Classify(class error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Msg: class.Error(), Err: err, Kind: class}
}

// PanicError converts a recovered panic value into an error.
func PanicError(op string, recovered any) error {
	if err, ok := recovered.(error); ok {
		return NewAppError(op, "panic", err)
	}
	return NewAppError(op, "panic", fmt.Errorf("%v", recovered))
}
