package guard

import (
	"context"
	"runtime/debug"

	"github.com/miradorstack/crashguard/internal/models"
)

// Recover turns a panic on the current goroutine into a crash event for h.
// It must be deferred directly: defer guard.Recover(ctx, h, "worker").
// With a nil handler the panic is re-raised unchanged.
func Recover(ctx context.Context, h Handler, thread string) {
	r := recover()
	if r == nil {
		return
	}
	if h == nil {
		panic(r)
	}
	h.HandleCrash(ctx, models.NewCrashEvent(thread, r, debug.Stack()))
}

// Go runs fn on a new goroutine whose panics are routed to h.
func Go(ctx context.Context, h Handler, thread string, fn func(ctx context.Context)) {
	go func() {
		defer Recover(ctx, h, thread)
		fn(ctx)
	}()
}
