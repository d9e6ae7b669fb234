package models

// Action enumerates what the guard asks the mitigation layer to do.
type Action string

const (
	ActionNone             Action = "none"
	ActionRollbackPatch    Action = "rollback_patch"
	ActionDisableAndNotify Action = "disable_and_notify"
)

// Decision reasons.
const (
	ReasonFastCrashLimit         = "fast-crash-limit-exceeded"
	ReasonHookFrameworkSuspect   = "hook-framework-suspected"
	ReasonHookFrameworkConfirmed = "hook-framework-confirmed"
)

// Decision is produced fresh for every crash and consumed immediately.
type Decision struct {
	Action Action
	Reason string
}

// NoAction is the zero-effect decision.
var NoAction = Decision{Action: ActionNone}

// RollbackPatch asks for the active patch to be reverted.
func RollbackPatch(reason string) Decision {
	return Decision{Action: ActionRollbackPatch, Reason: reason}
}

// DisableAndNotify asks for patching to be disabled and the user warned.
func DisableAndNotify(reason string) Decision {
	return Decision{Action: ActionDisableAndNotify, Reason: reason}
}

// IsNone reports whether the decision requests nothing.
func (d Decision) IsNone() bool {
	return d.Action == "" || d.Action == ActionNone
}

func (d Decision) String() string {
	if d.IsNone() {
		return string(ActionNone)
	}
	return string(d.Action) + "(" + d.Reason + ")"
}
