package patchstate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk patch state shared between the patch loader, the
// application processes and the supervisor.
type Document struct {
	// Active is the version the loader applies on next start; empty means base code.
	Active string `yaml:"active"`
	// Loaded is written by the loader once the active patch has been applied successfully.
	Loaded bool `yaml:"loaded"`
	// Disabled stops the loader from applying any patch on this installation.
	Disabled   bool      `yaml:"disabled"`
	RolledBack []string  `yaml:"rolledBack,omitempty"`
	UpdatedAt  time.Time `yaml:"updatedAt,omitempty"`
}

// FileState is a Provider backed by a YAML state file guarded by an advisory lock.
// It also implements rollback and disable by rewriting that file.
type FileState struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	started time.Time
}

const defaultLockTimeout = 250 * time.Millisecond

// NewFileState constructs a FileState for path; the lock lives next to it.
func NewFileState(path string) *FileState {
	return &FileState{
		path:        filepath.Clean(path),
		lock:        flock.New(filepath.Clean(path) + ".lock"),
		lockTimeout: defaultLockTimeout,
		now:         time.Now,
	}
}

// Path returns the state file location.
func (f *FileState) Path() string { return f.path }

// MarkStarted records when the current application process started.
func (f *FileState) MarkStarted(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = t
}

// Read loads the document under a shared lock. A missing file reads as an empty document.
func (f *FileState) Read(ctx context.Context) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, f.lockTimeout)
	defer cancel()
	locked, err := f.lock.TryRLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return Document{}, fmt.Errorf("lock state file: %w", err)
	}
	if !locked {
		return Document{}, errors.New("lock state file: not acquired")
	}
	defer func() { _ = f.lock.Unlock() }()
	return f.readUnlocked()
}

// Update applies fn to the document under an exclusive lock and writes it back atomically.
func (f *FileState) Update(ctx context.Context, fn func(*Document) error) error {
	ctx, cancel := context.WithTimeout(ctx, f.lockTimeout)
	defer cancel()
	locked, err := f.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	if !locked {
		return errors.New("lock state file: not acquired")
	}
	defer func() { _ = f.lock.Unlock() }()

	doc, err := f.readUnlocked()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	doc.UpdatedAt = f.now().UTC()
	return f.writeUnlocked(doc)
}

func (f *FileState) readUnlocked() (Document, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("read state file: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse state file: %w", err)
	}
	return doc, nil
}

func (f *FileState) writeUnlocked(doc Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Loaded implements Provider.
func (f *FileState) Loaded() (bool, error) {
	doc, err := f.Read(context.Background())
	if err != nil {
		return false, err
	}
	return doc.Loaded && !doc.Disabled && doc.Active != "", nil
}

// Version implements Provider.
func (f *FileState) Version() (string, error) {
	doc, err := f.Read(context.Background())
	if err != nil {
		return "", err
	}
	return doc.Active, nil
}

// SinceStart implements Provider.
func (f *FileState) SinceStart() (time.Duration, error) {
	f.mu.RLock()
	started := f.started
	f.mu.RUnlock()
	if started.IsZero() {
		return 0, errors.New("process start time unknown")
	}
	return f.now().Sub(started), nil
}

// Disabled reports whether patching has been disabled for this installation.
func (f *FileState) Disabled(ctx context.Context) (bool, error) {
	doc, err := f.Read(ctx)
	if err != nil {
		return false, err
	}
	return doc.Disabled, nil
}

// RollbackActivePatch reverts to base code on the next start and remembers the bad version.
func (f *FileState) RollbackActivePatch(ctx context.Context) error {
	return f.Update(ctx, func(doc *Document) error {
		if doc.Active == "" {
			return nil
		}
		doc.RolledBack = appendUnique(doc.RolledBack, doc.Active)
		doc.Active = ""
		doc.Loaded = false
		return nil
	})
}

// DisablePatching durably turns patching off for this installation.
func (f *FileState) DisablePatching(ctx context.Context) error {
	return f.Update(ctx, func(doc *Document) error {
		doc.Disabled = true
		return nil
	})
}

func appendUnique(existing []string, item string) []string {
	for _, v := range existing {
		if v == item {
			return existing
		}
	}
	return append(existing, item)
}

var _ Provider = (*FileState)(nil)
