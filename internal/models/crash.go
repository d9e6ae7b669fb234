package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IllegalAccessTypeName is the simple type name of class resolution access failures.
const IllegalAccessTypeName = "IllegalAccessError"

// CrashEvent is the transient input to the guard: one per uncaught failure, never persisted.
type CrashEvent struct {
	ID         string
	Thread     string
	Exception  Exception
	OccurredAt time.Time
	// Value is the original panic value when the event came from recover; terminal handlers re-raise it.
	Value any
}

// Exception describes the failure independent of the runtime that raised it.
type Exception struct {
	Type    string
	Message string
	Frames  []string
	Cause   *Exception
}

// SimpleType returns the type name without any package or namespace qualifier.
func (e Exception) SimpleType() string {
	name := strings.TrimPrefix(e.Type, "*")
	if idx := strings.LastIndexAny(name, "./$"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// IsIllegalAccess reports whether the exception is an illegal-access style error.
func (e Exception) IsIllegalAccess() bool {
	return e.SimpleType() == IllegalAccessTypeName
}

// Chain returns the exception followed by its causes, outermost first.
func (e Exception) Chain() []Exception {
	chain := []Exception{e}
	for cause := e.Cause; cause != nil && len(chain) < maxCauseDepth; cause = cause.Cause {
		chain = append(chain, *cause)
	}
	return chain
}

const maxCauseDepth = 16

func (e Exception) String() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

// IllegalAccessError is raised by code that resolved a class or member it may not access.
// Hosts embedding the guard in-process panic with it so the precise strategy can recognise it.
type IllegalAccessError struct {
	Msg string
}

func (e *IllegalAccessError) Error() string { return e.Msg }

// TypeName reports the exception type used for attribution.
func (e *IllegalAccessError) TypeName() string { return IllegalAccessTypeName }

// typeNamer lets error types choose the name they are attributed under.
type typeNamer interface {
	TypeName() string
}

// NewCrashEvent builds an event from a recovered panic value and the stack captured at recovery.
func NewCrashEvent(thread string, value any, stack []byte) CrashEvent {
	ex := ExceptionFromValue(value)
	ex.Frames = ParseGoStack(stack)
	return CrashEvent{
		ID:         uuid.NewString(),
		Thread:     thread,
		Exception:  ex,
		OccurredAt: time.Now().UTC(),
		Value:      value,
	}
}

// ExceptionFromValue describes a panic value; errors contribute their wrap chain as causes.
func ExceptionFromValue(value any) Exception {
	switch v := value.(type) {
	case nil:
		return Exception{Type: "nil"}
	case error:
		return exceptionFromError(v, 0)
	case string:
		return Exception{Type: "string", Message: v}
	default:
		return Exception{Type: fmt.Sprintf("%T", v), Message: fmt.Sprint(v)}
	}
}

func exceptionFromError(err error, depth int) Exception {
	ex := Exception{Type: fmt.Sprintf("%T", err), Message: err.Error()}
	if named, ok := err.(typeNamer); ok {
		ex.Type = named.TypeName()
	}
	if depth >= maxCauseDepth {
		return ex
	}
	if next := errors.Unwrap(err); next != nil {
		cause := exceptionFromError(next, depth+1)
		ex.Cause = &cause
	}
	return ex
}

// ParseGoStack extracts the function lines of a runtime/debug.Stack dump.
func ParseGoStack(stack []byte) []string {
	if len(stack) == 0 {
		return nil
	}
	lines := strings.Split(string(stack), "\n")
	frames := make([]string, 0, len(lines)/2)
	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "goroutine ") {
			continue
		}
		frames = append(frames, strings.TrimSpace(line))
	}
	return frames
}
