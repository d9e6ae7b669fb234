package guard

import (
	"context"
	"errors"

	"github.com/miradorstack/crashguard/internal/models"
)

// Handler receives crash events. Handlers are linked explicitly: each stage is
// given the next one at construction instead of reading a process-wide hook.
type Handler interface {
	HandleCrash(ctx context.Context, event models.CrashEvent)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event models.CrashEvent)

// HandleCrash implements Handler.
func (f HandlerFunc) HandleCrash(ctx context.Context, event models.CrashEvent) {
	f(ctx, event)
}

// Chain invokes handlers in order. Nil entries are skipped.
func Chain(handlers ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context, event models.CrashEvent) {
		for _, h := range handlers {
			if h != nil {
				h.HandleCrash(ctx, event)
			}
		}
	})
}

// Discard ends a chain without side effects.
var Discard Handler = HandlerFunc(func(context.Context, models.CrashEvent) {})

// Terminate ends a chain the way an unhandled panic would: by re-raising the original value.
var Terminate Handler = HandlerFunc(func(_ context.Context, event models.CrashEvent) {
	if event.Value != nil {
		panic(event.Value)
	}
	panic(errors.New(event.Exception.String()))
})
