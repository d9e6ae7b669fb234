package patchstate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/miradorstack/crashguard/internal/models"
	"github.com/miradorstack/crashguard/internal/utils"
)

type failingProvider struct{}

func (failingProvider) Loaded() (bool, error)              { return true, nil }
func (failingProvider) Version() (string, error)           { return "", errors.New("loader gone") }
func (failingProvider) SinceStart() (time.Duration, error) { return 0, nil }

func TestSnapshotNotLoadedSkipsOtherQuestions(t *testing.T) {
	asked := false
	p := Funcs{
		LoadedFunc:  func() bool { return false },
		VersionFunc: func() string { asked = true; return "2.3" },
	}
	state, err := Snapshot(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Loaded || asked {
		t.Fatalf("expected empty snapshot without asking for the version, got %+v", state)
	}
}

func TestSnapshotLoaded(t *testing.T) {
	p := Funcs{
		LoadedFunc:     func() bool { return true },
		VersionFunc:    func() string { return "2.3" },
		SinceStartFunc: func() time.Duration { return 2 * time.Second },
	}
	state, err := Snapshot(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := models.PatchRuntimeState{Loaded: true, Version: "2.3", SinceStart: 2 * time.Second}
	if diff := cmp.Diff(want, state); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotProviderFailure(t *testing.T) {
	state, err := Snapshot(failingProvider{})
	if !errors.Is(err, utils.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	if state.Loaded {
		t.Fatalf("failed snapshot must read as not loaded")
	}
	if _, err := Snapshot(nil); !errors.Is(err, utils.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable for nil provider, got %v", err)
	}
}

func TestStaticProvider(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Static{PatchVersion: "9", Started: start, Now: func() time.Time { return start.Add(3 * time.Second) }}
	state, err := Snapshot(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.SinceStart != 3*time.Second || state.Version != "9" {
		t.Fatalf("unexpected state %+v", state)
	}
	if _, err := (Static{PatchVersion: "9"}).SinceStart(); err == nil {
		t.Fatalf("expected error without start time")
	}
}

func TestFileStateLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patch.yaml")
	if err := os.WriteFile(path, []byte("active: \"2.3\"\nloaded: true\n"), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}

	fs := NewFileState(path)
	start := time.Now()
	fs.now = func() time.Time { return start.Add(2 * time.Second) }
	fs.MarkStarted(start)

	state, err := Snapshot(fs)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := models.PatchRuntimeState{Loaded: true, Version: "2.3", SinceStart: 2 * time.Second}
	if diff := cmp.Diff(want, state); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	ctx := context.Background()
	if err := fs.RollbackActivePatch(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := fs.RollbackActivePatch(ctx); err != nil {
		t.Fatalf("second rollback: %v", err)
	}
	doc, err := fs.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if doc.Active != "" || doc.Loaded {
		t.Fatalf("expected patch to be rolled back, got %+v", doc)
	}
	if diff := cmp.Diff([]string{"2.3"}, doc.RolledBack); diff != "" {
		t.Fatalf("rolled back list mismatch (-want +got):\n%s", diff)
	}

	if err := fs.DisablePatching(ctx); err != nil {
		t.Fatalf("disable: %v", err)
	}
	disabled, err := fs.Disabled(ctx)
	if err != nil || !disabled {
		t.Fatalf("expected disabled, got %v (%v)", disabled, err)
	}
}

func TestFileStateMissingFileReadsEmpty(t *testing.T) {
	fs := NewFileState(filepath.Join(t.TempDir(), "absent.yaml"))
	loaded, err := fs.Loaded()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded {
		t.Fatalf("missing state file must read as not loaded")
	}
	if _, err := fs.SinceStart(); err == nil {
		t.Fatalf("expected error before MarkStarted")
	}
}

func TestFileStateDisabledIsNotLoaded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patch.yaml")
	if err := os.WriteFile(path, []byte("active: \"5\"\nloaded: true\ndisabled: true\n"), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
	loaded, err := NewFileState(path).Loaded()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded {
		t.Fatalf("disabled patching must read as not loaded")
	}
}

func TestFileStateCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patch.yaml")
	if err := os.WriteFile(path, []byte("active: [unterminated"), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
	if _, err := Snapshot(NewFileState(path)); !errors.Is(err, utils.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}
