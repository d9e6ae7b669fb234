// Package history persists the per-patch-version fast crash counters.
//
// Counters survive process restarts and are shared by every process of the
// application, so backends must be safe for concurrent use across processes.
// Keys are scoped by a namespace (one per application configuration).
package history

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Store persists fast crash counts keyed by patch version.
type Store interface {
	// Get returns the stored count for version, or zero when none is stored.
	Get(ctx context.Context, version string) (int, error)
	// Put stores count for version. Backends never lower an existing count.
	Put(ctx context.Context, version string, count int) error
	// List returns every counter in the namespace.
	List(ctx context.Context) (map[string]int, error)
	// Reset removes the counter for version.
	Reset(ctx context.Context, version string) error
	Close() error
}

// DefaultNamespace scopes counters when no namespace is configured.
const DefaultNamespace = "crashguard"

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 500 * time.Millisecond

// ErrEmptyVersion is returned for blank version keys.
var ErrEmptyVersion = errors.New("patch version is required")

func normaliseNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

func normaliseVersion(version string) (string, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return "", ErrEmptyVersion
	}
	return version, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// NoopStore never remembers anything; every version reads as zero.
type NoopStore struct{}

// Get always returns zero.
func (NoopStore) Get(context.Context, string) (int, error) { return 0, nil }

// Put discards the value.
func (NoopStore) Put(context.Context, string, int) error { return nil }

// List returns an empty set.
func (NoopStore) List(context.Context) (map[string]int, error) { return map[string]int{}, nil }

// Reset is a no-op.
func (NoopStore) Reset(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopStore) Close() error { return nil }
