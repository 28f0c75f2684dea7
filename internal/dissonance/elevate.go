package dissonance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/noesis-ai/noesis/internal/model"
	"github.com/noesis-ai/noesis/internal/smf"
)

// ProposalCreator is the subset of *smf.SMF the Engine needs to elevate a
// dissonance into a proposal. A narrow interface rather than the concrete
// type so tests can stub it without standing up a real SMF core.
type ProposalCreator interface {
	CreateProposal(ctx context.Context, projectID uuid.UUID, trigger model.TriggerType, action model.ProposedAction, affectedEdges []uuid.UUID, reasoning string, approvalLevel *model.ApprovalLevel, anyAffectedConstitutive, reasoningFromTemplate bool) (*model.SMFProposal, *model.CoreError)
}

var _ ProposalCreator = (*smf.SMF)(nil)

// Elevate bridges a detected dissonance into an SMF proposal (§4.G's closing
// paragraph): it renders a neutrally-framed reasoning string via
// smf.NeutralityTemplate and invokes create_proposal with ResolveDissonance
// as the action, letting SMF's own safeguard/approval-level rules decide
// whether a constitutive edge forces BILATERAL.
func Elevate(ctx context.Context, creator ProposalCreator, projectID uuid.UUID, trigger model.TriggerType, dr model.DissonanceResult, reviewID *uuid.UUID, anyAffectedConstitutive bool) (*model.SMFProposal, *model.CoreError) {
	reasoning := smf.NeutralityTemplate{
		Detected:      fmt.Sprintf("%s between edges %s and %s at %s", dr.Type, dr.EdgeAID, dr.EdgeBID, dr.Context),
		Affected:      fmt.Sprintf("edges %s, %s", dr.EdgeAID, dr.EdgeBID),
		IfApproved:    resolutionIfApproved(dr.Type),
		IfRejected:    "the edges remain as recorded, unresolved",
		FullReasoning: dr.Description,
	}.Render()

	action := model.ProposedAction{
		Action:         model.ActionResolveDissonance,
		ResolutionType: string(dr.Type),
		EdgeAID:        &dr.EdgeAID,
		EdgeBID:        &dr.EdgeBID,
		Context:        dr.Context,
		NuanceReviewID: reviewID,
	}

	return creator.CreateProposal(ctx, projectID, trigger, action, []uuid.UUID{dr.EdgeAID, dr.EdgeBID}, reasoning, nil, anyAffectedConstitutive, true)
}

func resolutionIfApproved(t model.DissonanceType) string {
	switch t {
	case model.DissonanceEvolution:
		return "the earlier edge is marked superseded and a resolution edge links the two"
	case model.DissonanceContradiction:
		return "a resolution edge records the contradiction without superseding either side"
	case model.DissonanceNuance:
		return "the nuance review is confirmed and a resolution edge records the distinction"
	default:
		return "a resolution edge is created recording the outcome"
	}
}
