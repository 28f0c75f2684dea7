package smf

import (
	"github.com/noesis-ai/noesis/internal/model"
)

// validateSafeguards runs §4.H.1's validation rule set against a
// to-be-created proposal. The safeguard set itself is immutable and never
// configurable (invariant 4) — DefaultSafeguards is the only legal value,
// asserted here rather than threaded through as a parameter.
func validateSafeguards(action model.ProposedAction, approvalLevel model.ApprovalLevel, anyAffectedConstitutive bool) *model.CoreError {
	if model.SafeguardActionNames[action.Action] {
		return model.NewError(model.ErrSafeguardViolation, "proposed action %q targets a safeguard and is never permitted", action.Action)
	}
	if anyAffectedConstitutive && approvalLevel != model.ApprovalBilateral {
		return model.NewError(model.ErrSafeguardViolation, "a constitutive edge requires approval_level=BILATERAL")
	}
	return nil
}
