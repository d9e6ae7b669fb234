package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/crashguard/internal/models"
	"github.com/miradorstack/crashguard/internal/utils"
)

const (
	// DefaultQuickCrashWindow is how soon after start a crash counts as a load-time crash.
	DefaultQuickCrashWindow = 10 * time.Second
	// DefaultMaxCrashCount is how many fast crashes a patch version may cause before rollback.
	DefaultMaxCrashCount = 3
)

// Counter is the slice of the crash history store the detector needs.
type Counter interface {
	Get(ctx context.Context, version string) (int, error)
	Put(ctx context.Context, version string, count int) error
}

// FastCrashDetector notices a patch that keeps crashing the process right after start.
type FastCrashDetector struct {
	store  Counter
	window time.Duration
	limit  int
	logger *slog.Logger
}

// NewFastCrashDetector constructs a detector; non-positive window or limit select the defaults.
func NewFastCrashDetector(logger *slog.Logger, store Counter, window time.Duration, limit int) *FastCrashDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = DefaultQuickCrashWindow
	}
	if limit <= 0 {
		limit = DefaultMaxCrashCount
	}
	return &FastCrashDetector{store: store, window: window, limit: limit, logger: logger}
}

// Window returns the quick crash window.
func (d *FastCrashDetector) Window() time.Duration { return d.window }

// Limit returns the crash budget per patch version.
func (d *FastCrashDetector) Limit() int { return d.limit }

// Check counts a crash against the active patch version.
//
// The crash that would use up the budget asks for a rollback and is not recorded,
// so the stored count never exceeds limit-1 through this path and repeated calls at
// the cap keep answering RollbackPatch. A returned error is informational: the
// decision is already the safe one.
func (d *FastCrashDetector) Check(ctx context.Context, state models.PatchRuntimeState) (models.Decision, error) {
	if !state.Attributable() {
		return models.NoAction, nil
	}
	if state.SinceStart >= d.window {
		return models.NoAction, nil
	}
	if d.store == nil {
		return models.NoAction, utils.NewAppError("fast_crash.get", "store not configured", utils.ErrPersistenceUnavailable)
	}

	prior, err := d.store.Get(ctx, state.Version)
	if err != nil {
		// Without the prior count a write could lower a value another process stored.
		return models.NoAction, utils.Classify(utils.ErrPersistenceUnavailable, "fast_crash.get", err)
	}

	if prior+1 >= d.limit {
		d.logger.Error("patch crashed too often right after start, rolling back",
			slog.String("version", state.Version),
			slog.Int("fast_crashes", prior+1),
			slog.Int("limit", d.limit))
		return models.RollbackPatch(models.ReasonFastCrashLimit), nil
	}

	next := prior + 1
	if err := d.store.Put(ctx, state.Version, next); err != nil {
		return models.NoAction, utils.Classify(utils.ErrPersistenceUnavailable, "fast_crash.put", err)
	}
	d.logger.Warn("fast crash recorded",
		slog.String("version", state.Version),
		slog.Int("fast_crashes", next),
		slog.Duration("since_start", state.SinceStart))
	return models.NoAction, nil
}
