package model

import (
	"time"

	"github.com/google/uuid"
)

// Actor identifies which of the two closed principals took an action.
// Per spec.md §9's open question, "I/O" and "ethr" are treated as opaque
// identifiers with no semantic asymmetry beyond the bilateral rule; "system"
// is additionally valid for reject.
type Actor string

const (
	ActorIO     Actor = "I/O"
	ActorEthr   Actor = "ethr"
	ActorSystem Actor = "system"
)

// TriggerType records what caused a proposal to be created.
type TriggerType string

const (
	TriggerDissonance TriggerType = "DISSONANCE"
	TriggerManual     TriggerType = "MANUAL"
	TriggerProactive  TriggerType = "PROACTIVE"
)

// ApprovalLevel determines how many approvals execution requires.
type ApprovalLevel string

const (
	ApprovalIO        ApprovalLevel = "IO"
	ApprovalBilateral ApprovalLevel = "BILATERAL"
)

// ProposalStatus is the proposal lifecycle state.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "PENDING"
	ProposalApproved ProposalStatus = "APPROVED"
	ProposalRejected ProposalStatus = "REJECTED"
	ProposalUndone   ProposalStatus = "UNDONE"
)

// ProposedAction is the structured body of what a proposal will do once
// approved. Action names the operation; the remaining fields are
// interpreted according to Action. Kept as a narrow typed struct (per
// spec.md §9's "dynamic property bags" note) rather than an open map, since
// every field here is validated.
type ProposedAction struct {
	Action         string       `json:"action"`
	ResolutionType string       `json:"resolution_type,omitempty"`
	EdgeAID        *uuid.UUID   `json:"edge_a_id,omitempty"`
	EdgeBID        *uuid.UUID   `json:"edge_b_id,omitempty"`
	NewSector      MemorySector `json:"new_sector,omitempty"`
	Context        string       `json:"context,omitempty"`
	// NuanceReviewID links a resolve_dissonance action back to the
	// NuanceReview the Dissonance Engine created on detection, so the
	// Resolution Emitter knows which review to confirm or reclassify
	// (§4.I step 4). Nil for EVOLUTION/CONTRADICTION actions.
	NuanceReviewID *uuid.UUID `json:"nuance_review_id,omitempty"`
}

// Safeguard action names that create_proposal must reject outright: the
// safeguard set is immutable in the data path (invariant 4).
const (
	ActionModifySafeguards = "modify_safeguards"
	ActionDisableAudit     = "disable_audit"
)

// SafeguardActionNames is the closed set of proposed_action.action values
// that target the safeguards themselves.
var SafeguardActionNames = map[string]bool{
	ActionModifySafeguards: true,
	ActionDisableAudit:     true,
}

// Reclassify action names Reclassification's consent check matches against.
const (
	ActionReclassify       = "reclassify"
	ActionReclassifySector = "reclassify_sector"
)

// ActionResolveDissonance is the proposed_action.action value the Dissonance
// Engine's proposals carry; ResolutionType on the same action distinguishes
// EVOLUTION/CONTRADICTION/NUANCE handling (§4.I).
const ActionResolveDissonance = "resolve_dissonance"

// Safeguards is the small, closed set of immutable booleans SMF enforces.
// Never configurable — constructed once with every field true.
type Safeguards struct {
	ConstitutiveEdgesRequireBilateralConsent bool
	SMFCannotModifySafeguards                bool
	AuditLogAlwaysOn                         bool
	NeutralProposalFraming                   bool
}

// DefaultSafeguards returns the one legal Safeguards value: every rule on.
func DefaultSafeguards() Safeguards {
	return Safeguards{
		ConstitutiveEdgesRequireBilateralConsent: true,
		SMFCannotModifySafeguards:                true,
		AuditLogAlwaysOn:                         true,
		NeutralProposalFraming:                   true,
	}
}

// SMFProposal is the gatekeeping artifact for any structural mutation.
type SMFProposal struct {
	ID              uuid.UUID      `json:"id"`
	ProjectID       uuid.UUID      `json:"project_id"`
	TriggerType     TriggerType    `json:"trigger_type"`
	ProposedAction  ProposedAction `json:"proposed_action"`
	AffectedEdges   []uuid.UUID    `json:"affected_edges"`
	Reasoning       string         `json:"reasoning"`
	ApprovalLevel   ApprovalLevel  `json:"approval_level"`
	Status          ProposalStatus `json:"status"`
	ApprovedByIO    bool           `json:"approved_by_io"`
	ApprovedByEthr  bool           `json:"approved_by_ethr"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy      *Actor         `json:"resolved_by,omitempty"`
	UndoDeadline    *time.Time     `json:"undo_deadline,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// RequiredApprovalsComplete reports whether execution's approval
// requirement is satisfied for the proposal's approval level.
func (p *SMFProposal) RequiredApprovalsComplete() bool {
	if p.ApprovalLevel == ApprovalBilateral {
		return p.ApprovedByIO && p.ApprovedByEthr
	}
	return p.ApprovedByIO
}

// UndoDeadlineFor computes the 30-day undo window from a resolution time
// (invariant 7).
func UndoDeadlineFor(resolvedAt time.Time) time.Time {
	return resolvedAt.AddDate(0, 0, 30)
}
