package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/crashguard/internal/history"
	"github.com/miradorstack/crashguard/internal/models"
	"github.com/miradorstack/crashguard/internal/utils"
)

type counterStub struct {
	counts map[string]int
	gets   int
	puts   int
	getErr error
	putErr error
}

func newCounterStub() *counterStub {
	return &counterStub{counts: make(map[string]int)}
}

func (c *counterStub) Get(_ context.Context, version string) (int, error) {
	c.gets++
	if c.getErr != nil {
		return 0, c.getErr
	}
	return c.counts[version], nil
}

func (c *counterStub) Put(_ context.Context, version string, count int) error {
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	c.counts[version] = count
	return nil
}

func fastState(version string, since time.Duration) models.PatchRuntimeState {
	return models.PatchRuntimeState{Loaded: true, Version: version, SinceStart: since}
}

func TestFastCrashScenarioThreeCrashes(t *testing.T) {
	store := newCounterStub()
	d := NewFastCrashDetector(nil, store, 10*time.Second, 3)
	state := fastState("2.3", 2*time.Second)

	want := []models.Decision{models.NoAction, models.NoAction, models.RollbackPatch(models.ReasonFastCrashLimit)}
	wantCounts := []int{1, 2, 2}
	for i := range want {
		got, err := d.Check(context.Background(), state)
		if err != nil {
			t.Fatalf("crash %d: unexpected error %v", i+1, err)
		}
		if got != want[i] {
			t.Fatalf("crash %d: expected %v, got %v", i+1, want[i], got)
		}
		if store.counts["2.3"] != wantCounts[i] {
			t.Fatalf("crash %d: expected stored count %d, got %d", i+1, wantCounts[i], store.counts["2.3"])
		}
	}
}

func TestFastCrashRollbackOnLimitForAnyVersion(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 5} {
		for _, version := range []string{"1", "2.3", "patch-2024-10-01", "ünïcode"} {
			store := newCounterStub()
			d := NewFastCrashDetector(nil, store, 10*time.Second, limit)
			state := fastState(version, time.Second)
			for i := 1; i <= limit; i++ {
				got, err := d.Check(context.Background(), state)
				if err != nil {
					t.Fatalf("limit %d version %q crash %d: %v", limit, version, i, err)
				}
				if i < limit {
					if !got.IsNone() {
						t.Fatalf("limit %d version %q crash %d: expected no action, got %v", limit, version, i, got)
					}
					if store.counts[version] != i {
						t.Fatalf("limit %d version %q crash %d: expected count %d, got %d", limit, version, i, i, store.counts[version])
					}
					continue
				}
				if got.Action != models.ActionRollbackPatch {
					t.Fatalf("limit %d version %q: expected rollback on crash %d, got %v", limit, version, i, got)
				}
			}
		}
	}
}

func TestFastCrashIdempotentAtCap(t *testing.T) {
	store := newCounterStub()
	store.counts["2.3"] = 3
	d := NewFastCrashDetector(nil, store, 10*time.Second, 3)

	for i := 0; i < 5; i++ {
		got, err := d.Check(context.Background(), fastState("2.3", time.Second))
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if got.Action != models.ActionRollbackPatch {
			t.Fatalf("call %d: expected rollback at cap, got %v", i, got)
		}
	}
	if store.counts["2.3"] != 3 || store.puts != 0 {
		t.Fatalf("counter must not move at the cap: count=%d puts=%d", store.counts["2.3"], store.puts)
	}
}

func TestFastCrashOutsideWindowNeverTouchesStore(t *testing.T) {
	for _, since := range []time.Duration{10 * time.Second, 15 * time.Second, time.Hour} {
		store := newCounterStub()
		store.counts["2.3"] = 99
		d := NewFastCrashDetector(nil, store, 10*time.Second, 3)
		got, err := d.Check(context.Background(), fastState("2.3", since))
		if err != nil {
			t.Fatalf("since %v: unexpected error %v", since, err)
		}
		if !got.IsNone() {
			t.Fatalf("since %v: expected no action, got %v", since, got)
		}
		if store.gets != 0 || store.puts != 0 {
			t.Fatalf("since %v: store must be untouched (gets=%d puts=%d)", since, store.gets, store.puts)
		}
	}
}

func TestFastCrashNotAttributable(t *testing.T) {
	store := newCounterStub()
	d := NewFastCrashDetector(nil, store, 0, 0)
	states := []models.PatchRuntimeState{
		{},
		{Loaded: true, SinceStart: time.Second},
		{Loaded: false, Version: "2.3", SinceStart: time.Second},
	}
	for _, st := range states {
		got, err := d.Check(context.Background(), st)
		if err != nil || !got.IsNone() {
			t.Fatalf("state %+v: expected no action, got %v (%v)", st, got, err)
		}
	}
	if store.gets != 0 {
		t.Fatalf("store must not be consulted without an attributable patch")
	}
}

func TestFastCrashReadFailureSkipsWrite(t *testing.T) {
	store := newCounterStub()
	store.getErr = errors.New("database is locked")
	d := NewFastCrashDetector(nil, store, 10*time.Second, 3)

	got, err := d.Check(context.Background(), fastState("2.3", time.Second))
	if !got.IsNone() {
		t.Fatalf("expected no action, got %v", got)
	}
	if !errors.Is(err, utils.ErrPersistenceUnavailable) {
		t.Fatalf("expected persistence unavailable, got %v", err)
	}
	if store.puts != 0 {
		t.Fatalf("write must be skipped after a failed read")
	}
}

func TestFastCrashWriteFailure(t *testing.T) {
	store := newCounterStub()
	store.putErr = errors.New("read-only")
	d := NewFastCrashDetector(nil, store, 10*time.Second, 3)

	got, err := d.Check(context.Background(), fastState("2.3", time.Second))
	if !got.IsNone() {
		t.Fatalf("expected no action, got %v", got)
	}
	if !errors.Is(err, utils.ErrPersistenceUnavailable) {
		t.Fatalf("expected persistence unavailable, got %v", err)
	}
}

func TestFastCrashNilStore(t *testing.T) {
	d := NewFastCrashDetector(nil, nil, 0, 0)
	got, err := d.Check(context.Background(), fastState("2.3", time.Second))
	if !got.IsNone() || !errors.Is(err, utils.ErrPersistenceUnavailable) {
		t.Fatalf("expected no action with persistence error, got %v (%v)", got, err)
	}
}

func TestFastCrashVersionsHaveSeparateBudgets(t *testing.T) {
	store := history.NewMemoryStore()
	d := NewFastCrashDetector(nil, store, 10*time.Second, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := d.Check(ctx, fastState("1.0", time.Second)); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	got, err := d.Check(ctx, fastState("1.1", time.Second))
	if err != nil || !got.IsNone() {
		t.Fatalf("new version must start with a fresh budget, got %v (%v)", got, err)
	}
	for v, want := range map[string]int{"1.0": 2, "1.1": 1} {
		if count, _ := store.Get(ctx, v); count != want {
			t.Fatalf("version %s: expected %d, got %d", v, want, count)
		}
	}
}
