// Package mitigation holds the side effects the crash guard requests. The guard
// decides; implementations of Actions perform.
package mitigation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Actions are the side effects available to the guard. Implementations must
// return quickly; they run on a crashing goroutine.
type Actions interface {
	RollbackActivePatch(ctx context.Context) error
	DisablePatching(ctx context.Context) error
	KillOtherProcesses(ctx context.Context)
	NotifyUser(ctx context.Context, message string)
}

// PatchController is the part of the patch loader that can revert and disable patches.
type PatchController interface {
	RollbackActivePatch(ctx context.Context) error
	DisablePatching(ctx context.Context) error
}

// Funcs adapts individual functions to Actions. Nil functions are no-ops.
type Funcs struct {
	Rollback func(ctx context.Context) error
	Disable  func(ctx context.Context) error
	Kill     func(ctx context.Context)
	Notify   func(ctx context.Context, message string)
}

// RollbackActivePatch implements Actions.
func (f Funcs) RollbackActivePatch(ctx context.Context) error {
	if f.Rollback == nil {
		return nil
	}
	return f.Rollback(ctx)
}

// DisablePatching implements Actions.
func (f Funcs) DisablePatching(ctx context.Context) error {
	if f.Disable == nil {
		return nil
	}
	return f.Disable(ctx)
}

// KillOtherProcesses implements Actions.
func (f Funcs) KillOtherProcesses(ctx context.Context) {
	if f.Kill != nil {
		f.Kill(ctx)
	}
}

// NotifyUser implements Actions.
func (f Funcs) NotifyUser(ctx context.Context, message string) {
	if f.Notify != nil {
		f.Notify(ctx, message)
	}
}

// ForController builds Actions that revert and disable through controller,
// kill peers with kill and warn users with notify.
func ForController(controller PatchController, kill func(ctx context.Context), notify func(ctx context.Context, message string)) Funcs {
	f := Funcs{Kill: kill, Notify: notify}
	if controller != nil {
		f.Rollback = controller.RollbackActivePatch
		f.Disable = controller.DisablePatching
	}
	return f
}

// LogNotifier warns through the logger and, when w is non-nil, prints the message for the user.
func LogNotifier(logger *slog.Logger, w io.Writer) func(ctx context.Context, message string) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, message string) {
		logger.WarnContext(ctx, "user notification", slog.String("message", message))
		if w != nil {
			_, _ = fmt.Fprintln(w, "crashguard: "+message)
		}
	}
}
