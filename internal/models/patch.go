package models

import (
	"fmt"
	"strings"
	"time"
)

// PatchRuntimeState is a read-only snapshot of the patch loader, taken once per crash.
type PatchRuntimeState struct {
	Loaded     bool
	Version    string
	SinceStart time.Duration
}

// Attributable reports whether a crash can be charged to an identifiable patch.
func (s PatchRuntimeState) Attributable() bool {
	return s.Loaded && strings.TrimSpace(s.Version) != ""
}

// Strategy identifies how the host runtime executes code, which decides how much
// a crash can tell us about its cause.
type Strategy string

const (
	// StrategyPrecise (strategy A) reports the exact error type and message of class resolution failures.
	StrategyPrecise Strategy = "precise"
	// StrategyOpaque (strategy B) cannot tell class resolution failures apart from other errors.
	StrategyOpaque Strategy = "opaque"
)

// ParseStrategy accepts the config spellings of a Strategy.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "precise", "a":
		return StrategyPrecise, nil
	case "opaque", "b":
		return StrategyOpaque, nil
	default:
		return "", fmt.Errorf("unknown runtime strategy %q", value)
	}
}
