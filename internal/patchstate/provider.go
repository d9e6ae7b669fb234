// Package patchstate exposes the patch loader's state to the crash guard.
package patchstate

import (
	"errors"
	"time"

	"github.com/miradorstack/crashguard/internal/models"
	"github.com/miradorstack/crashguard/internal/utils"
)

// Provider answers the three questions the guard asks the patch loader.
type Provider interface {
	// Loaded reports whether a patch is applied and its load succeeded.
	Loaded() (bool, error)
	// Version identifies the active patch; empty means unknown.
	Version() (string, error)
	// SinceStart is the time elapsed since the current process started.
	SinceStart() (time.Duration, error)
}

// Snapshot reads a consistent-enough view of p for one crash.
// Any provider failure is reported as ErrProviderUnavailable; callers treat that as "no patch loaded".
func Snapshot(p Provider) (models.PatchRuntimeState, error) {
	if p == nil {
		return models.PatchRuntimeState{}, utils.Classify(utils.ErrProviderUnavailable, "patchstate.snapshot", errors.New("provider not configured"))
	}
	loaded, err := p.Loaded()
	if err != nil {
		return models.PatchRuntimeState{}, utils.Classify(utils.ErrProviderUnavailable, "patchstate.loaded", err)
	}
	if !loaded {
		return models.PatchRuntimeState{}, nil
	}
	version, err := p.Version()
	if err != nil {
		return models.PatchRuntimeState{}, utils.Classify(utils.ErrProviderUnavailable, "patchstate.version", err)
	}
	elapsed, err := p.SinceStart()
	if err != nil {
		return models.PatchRuntimeState{}, utils.Classify(utils.ErrProviderUnavailable, "patchstate.since_start", err)
	}
	return models.PatchRuntimeState{Loaded: true, Version: version, SinceStart: elapsed}, nil
}

// Funcs adapts plain functions to Provider. Nil functions answer "no patch".
type Funcs struct {
	LoadedFunc     func() bool
	VersionFunc    func() string
	SinceStartFunc func() time.Duration
}

// Loaded implements Provider.
func (f Funcs) Loaded() (bool, error) {
	if f.LoadedFunc == nil {
		return false, nil
	}
	return f.LoadedFunc(), nil
}

// Version implements Provider.
func (f Funcs) Version() (string, error) {
	if f.VersionFunc == nil {
		return "", nil
	}
	return f.VersionFunc(), nil
}

// SinceStart implements Provider.
func (f Funcs) SinceStart() (time.Duration, error) {
	if f.SinceStartFunc == nil {
		return 0, nil
	}
	return f.SinceStartFunc(), nil
}

// Static reports a fixed patch version and measures elapsed time from Started.
type Static struct {
	PatchVersion string
	Started      time.Time
	Now          func() time.Time
}

// Loaded implements Provider.
func (s Static) Loaded() (bool, error) { return s.PatchVersion != "", nil }

// Version implements Provider.
func (s Static) Version() (string, error) { return s.PatchVersion, nil }

// SinceStart implements Provider.
func (s Static) SinceStart() (time.Duration, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if s.Started.IsZero() {
		return 0, errors.New("process start time unknown")
	}
	return now().Sub(s.Started), nil
}
