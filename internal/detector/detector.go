// Package detector decides whether a crash was caused by a runtime hooking
// framework rather than by the active patch.
package detector

import (
	"log/slog"
	"strings"

	"github.com/miradorstack/crashguard/internal/models"
)

// PreVerifiedMismatch is the message a precise runtime attaches when a class that was
// verified against the base code resolves to a different implementation at run time.
const PreVerifiedMismatch = "Class ref in pre-verified class resolved to unexpected implementation"

// Detector classifies exceptions against hook framework signatures.
type Detector struct {
	signatures []Signature
	logger     *slog.Logger
}

// New constructs a Detector. A nil signature list selects DefaultSignatures.
func New(logger *slog.Logger, signatures []Signature) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if signatures == nil {
		signatures = DefaultSignatures()
	}
	return &Detector{signatures: signatures, logger: logger}
}

// Match returns the first signature found on ex.
func (d *Detector) Match(ex models.Exception) (Signature, bool) {
	if d == nil {
		return Signature{}, false
	}
	for _, sig := range d.signatures {
		if sig.Matches(ex) {
			return sig, true
		}
	}
	return Signature{}, false
}

// LooksLikeHookFramework reports whether ex carries any known hook framework signature.
func (d *Detector) LooksLikeHookFramework(ex models.Exception) bool {
	_, ok := d.Match(ex)
	return ok
}

// Attribute decides whether the crash should disable patching instead of blaming the patch.
//
// Under the opaque strategy a signature match alone is enough because the runtime cannot
// report the precise failure. Under the precise strategy the exception itself must be an
// illegal-access error carrying the pre-verified class mismatch message.
func (d *Detector) Attribute(ex models.Exception, state models.PatchRuntimeState, strategy models.Strategy) models.Decision {
	sig, ok := d.Match(ex)
	if !ok {
		return models.NoAction
	}
	if !state.Loaded {
		d.logger.Debug("hook framework signature without loaded patch", slog.String("signature", sig.ID))
		return models.NoAction
	}

	switch strategy {
	case models.StrategyOpaque:
		d.logger.Warn("hook framework suspected",
			slog.String("signature", sig.ID),
			slog.String("framework", sig.Framework),
			slog.String("strategy", string(strategy)))
		return models.DisableAndNotify(models.ReasonHookFrameworkSuspect)
	default:
		if ex.IsIllegalAccess() && strings.Contains(ex.Message, PreVerifiedMismatch) {
			d.logger.Warn("hook framework confirmed",
				slog.String("signature", sig.ID),
				slog.String("framework", sig.Framework),
				slog.String("strategy", string(strategy)))
			return models.DisableAndNotify(models.ReasonHookFrameworkConfirmed)
		}
		return models.NoAction
	}
}
