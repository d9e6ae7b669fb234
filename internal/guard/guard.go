// Package guard keeps a hot-patched application out of crash loops.
//
// A Guard is one stage of an explicit crash handler chain. For every crash it
// snapshots the patch loader state, charges fast crashes to the active patch
// version, checks whether a hooking framework is the real culprit, requests the
// matching mitigations and finally forwards the untouched event to the next
// handler. Nothing that goes wrong inside the guard escapes it.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/crashguard/internal/detector"
	"github.com/miradorstack/crashguard/internal/metrics"
	"github.com/miradorstack/crashguard/internal/mitigation"
	"github.com/miradorstack/crashguard/internal/models"
	"github.com/miradorstack/crashguard/internal/patchstate"
	"github.com/miradorstack/crashguard/internal/utils"
)

// DefaultWarningMessage is shown to the user when a hooking framework is blamed.
const DefaultWarningMessage = "A runtime hooking framework is modifying this app illegally; please uninstall it."

// Attributor decides whether a crash belongs to a hooking framework.
type Attributor interface {
	Attribute(ex models.Exception, state models.PatchRuntimeState, strategy models.Strategy) models.Decision
}

// Options wires the guard's collaborators.
type Options struct {
	Logger           *slog.Logger
	Provider         patchstate.Provider
	Store            Counter
	Attributor       Attributor
	Actions          mitigation.Actions
	Strategy         models.Strategy
	QuickCrashWindow time.Duration
	MaxCrashCount    int
	WarningMessage   string
}

// Outcome reports what the guard decided for one crash.
type Outcome struct {
	State         models.PatchRuntimeState
	FastCrash     models.Decision
	HookFramework models.Decision
	Failures      []error
}

// Mitigated reports whether any mitigation was requested.
func (o Outcome) Mitigated() bool {
	return !o.FastCrash.IsNone() || !o.HookFramework.IsNone()
}

// Guard is the crash loop guard stage.
type Guard struct {
	logger     *slog.Logger
	provider   patchstate.Provider
	fastCrash  *FastCrashDetector
	attributor Attributor
	actions    mitigation.Actions
	strategy   models.Strategy
	warning    string
	next       Handler
}

// New constructs a Guard forwarding to next. A nil next makes forwarding a no-op.
func New(opts Options, next Handler) *Guard {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attributor := opts.Attributor
	if attributor == nil {
		attributor = detector.New(logger, nil)
	}
	actions := opts.Actions
	if actions == nil {
		actions = mitigation.Funcs{}
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = models.StrategyPrecise
	}
	warning := opts.WarningMessage
	if warning == "" {
		warning = DefaultWarningMessage
	}
	return &Guard{
		logger:     logger,
		provider:   opts.Provider,
		fastCrash:  NewFastCrashDetector(logger, opts.Store, opts.QuickCrashWindow, opts.MaxCrashCount),
		attributor: attributor,
		actions:    actions,
		strategy:   strategy,
		warning:    warning,
		next:       next,
	}
}

// HandleCrash implements Handler. The next handler is always invoked last, outside
// the guard's own recovery, so a terminating handler behaves as if the guard were absent.
func (g *Guard) HandleCrash(ctx context.Context, event models.CrashEvent) {
	g.Evaluate(ctx, event)
	if g.next != nil {
		g.next.HandleCrash(ctx, event)
	}
}

// Evaluate runs the checks and mitigations for event without forwarding it. It never panics.
func (g *Guard) Evaluate(ctx context.Context, event models.CrashEvent) Outcome {
	start := time.Now()
	out := Outcome{FastCrash: models.NoAction, HookFramework: models.NoAction}

	g.safely("log", &out, func() error {
		g.logger.Error("uncaught crash",
			slog.String("event_id", event.ID),
			slog.String("thread", event.Thread),
			slog.String("type", event.Exception.Type),
			slog.String("message", event.Exception.Message))
		return nil
	})

	g.safely("patch_state", &out, func() error {
		state, err := patchstate.Snapshot(g.provider)
		out.State = state
		return err
	})

	g.safely("fast_crash", &out, func() error {
		decision, err := g.fastCrash.Check(ctx, out.State)
		out.FastCrash = decision
		return err
	})

	rolledBack := false
	if out.FastCrash.Action == models.ActionRollbackPatch {
		metrics.ObserveFastCrashRollback()
		rolledBack = g.rollback(ctx, &out)
	}

	g.safely("hook_framework", &out, func() error {
		out.HookFramework = g.attributor.Attribute(event.Exception, out.State, g.strategy)
		return nil
	})

	if out.HookFramework.Action == models.ActionDisableAndNotify {
		metrics.ObserveHookFramework(out.HookFramework.Reason)
		g.disableAndNotify(ctx, &out, rolledBack)
	}

	outcome := metrics.OutcomeNoAction
	if out.Mitigated() {
		outcome = metrics.OutcomeMitigated
	}
	metrics.ObserveCrash(time.Since(start), outcome)
	return out
}

// disableAndNotify makes every process run the same unpatched code and keeps it that way.
func (g *Guard) disableAndNotify(ctx context.Context, out *Outcome, rolledBack bool) {
	g.safely("kill_other_processes", out, func() error {
		g.actions.KillOtherProcesses(ctx)
		return nil
	})
	if !rolledBack {
		g.rollback(ctx, out)
	}
	g.safely("disable_patching", out, func() error {
		return utils.Classify(utils.ErrMitigationFailed, "disable_patching", g.actions.DisablePatching(ctx))
	})
	g.safely("notify_user", out, func() error {
		g.actions.NotifyUser(ctx, g.warning)
		return nil
	})
}

func (g *Guard) rollback(ctx context.Context, out *Outcome) bool {
	ok := false
	g.safely("rollback", out, func() error {
		if err := g.actions.RollbackActivePatch(ctx); err != nil {
			return utils.Classify(utils.ErrMitigationFailed, "rollback", err)
		}
		ok = true
		return nil
	})
	return ok
}

// safely runs fn, converting errors and panics into recorded failures.
func (g *Guard) safely(stage string, out *Outcome, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			g.fail(stage, out, utils.PanicError("guard."+stage, r))
		}
	}()
	if err := fn(); err != nil {
		g.fail(stage, out, err)
	}
}

func (g *Guard) fail(stage string, out *Outcome, err error) {
	out.Failures = append(out.Failures, fmt.Errorf("%s: %w", stage, err))
	metrics.ObserveInternalFailure(stage)
	func() {
		defer func() { _ = recover() }()
		g.logger.Warn("crash guard stage failed", slog.String("stage", stage), slog.Any("error", err))
	}()
}
