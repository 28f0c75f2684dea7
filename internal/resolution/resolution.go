// Package resolution implements the Resolution Emitter (§4.I): invoked by
// SMF once a resolve_dissonance proposal is approved, it materializes a
// Resolution Node plus the type-specific resolution edges, supersedes the
// earlier edge on EVOLUTION, and confirms or reclassifies the originating
// NuanceReview. Grounded on storage/conflicts.go's ResolveConflictWithDecision
// (one transactional write that both records a resolution and mutates the
// conflict it resolves) and its mark_superseded idiom embedded in
// InsertScoredConflict's upsert semantics — generalized from a flat conflict
// row to the graph's node+edge shape.
package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noesis-ai/noesis/internal/model"
)

// Store is the subset of internal/storage.DB the emitter needs, all run
// within the transaction SMF's Approve/Undo already opened.
type Store interface {
	GetEdgeTx(ctx context.Context, tx pgx.Tx, projectID, edgeID uuid.UUID) (*model.Edge, error)
	AddNodeTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, name, label string, properties map[string]any) (*model.Node, error)
	AddEdgeTx(ctx context.Context, tx pgx.Tx, projectID, sourceID, targetID uuid.UUID, relation string, weight float64, properties map[string]any, sector model.MemorySector) (*model.Edge, error)
	MarkSupersededTx(ctx context.Context, tx pgx.Tx, projectID, edgeID uuid.UUID, by string, at time.Time) (bool, error)
	ClearSupersededTx(ctx context.Context, tx pgx.Tx, projectID, edgeID uuid.UUID) error
	SetEdgePropertiesTx(ctx context.Context, tx pgx.Tx, projectID, edgeID uuid.UUID, mergeProperties map[string]any) (*model.Edge, error)
	ResolveNuanceReview(ctx context.Context, tx pgx.Tx, id uuid.UUID, status model.NuanceStatus, reclassifiedTo *model.DissonanceType) error
}

const resolutionRelation = "resolves"

// Emitter implements smf.Executor for the resolve_dissonance action.
type Emitter struct {
	db Store
}

// New constructs an Emitter.
func New(db Store) *Emitter {
	return &Emitter{db: db}
}

// resolutionOutcome is the public shape §4.I step 5 returns, stashed into
// the proposal's metadata as undo data too (it carries every id Undo needs).
type resolutionOutcome struct {
	ResolutionID   uuid.UUID            `json:"resolution_id"`
	ResolutionType string               `json:"resolution_type"`
	EdgeAID        uuid.UUID            `json:"edge_a_id"`
	EdgeBID        uuid.UUID            `json:"edge_b_id"`
	ResEdgeAID     uuid.UUID            `json:"res_edge_a_id"`
	ResEdgeBID     uuid.UUID            `json:"res_edge_b_id"`
	ResolvedBy     model.Actor          `json:"resolved_by"`
	ResolvedAt     time.Time            `json:"resolved_at"`
	NuanceReviewID *uuid.UUID           `json:"nuance_review_id,omitempty"`
	OriginalStatus model.DissonanceType `json:"original_status,omitempty"`
}

// Execute runs §4.I steps 1-5.
func (e *Emitter) Execute(ctx context.Context, tx pgx.Tx, p model.SMFProposal) (map[string]any, error) {
	action := p.ProposedAction
	if action.EdgeAID == nil || action.EdgeBID == nil {
		return nil, fmt.Errorf("resolution: proposed action is missing edge_a_id/edge_b_id")
	}
	resolutionType := model.NormalizeDissonanceType(action.ResolutionType)
	resolvedBy := model.ActorSystem
	if p.ResolvedBy != nil {
		resolvedBy = *p.ResolvedBy
	}
	resolvedAt := time.Now().UTC()

	edgeA, err := e.db.GetEdgeTx(ctx, tx, p.ProjectID, *action.EdgeAID)
	if err != nil {
		return nil, fmt.Errorf("resolution: fetch edge_a: %w", err)
	}
	edgeB, err := e.db.GetEdgeTx(ctx, tx, p.ProjectID, *action.EdgeBID)
	if err != nil {
		return nil, fmt.Errorf("resolution: fetch edge_b: %w", err)
	}

	resNode, err := e.db.AddNodeTx(ctx, tx, p.ProjectID, resolutionNodeName(p.ID), "Resolution", map[string]any{
		"resolution_type": resolutionType,
		"context":         action.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("resolution: create resolution node: %w", err)
	}

	baseProps := map[string]any{
		"edge_type":       model.EdgeResolution,
		"resolution_type": resolutionType,
		"context":         action.Context,
		"resolved_by":     resolvedBy,
		"resolved_at":     resolvedAt,
	}
	propsA := cloneMap(baseProps)
	propsB := cloneMap(baseProps)

	switch resolutionType {
	case model.DissonanceEvolution:
		propsA["supersedes"] = []uuid.UUID{edgeA.ID}
		propsA["superseded_by"] = []uuid.UUID{edgeB.ID}
		propsB["supersedes"] = []uuid.UUID{edgeA.ID}
		propsB["superseded_by"] = []uuid.UUID{edgeB.ID}
	default: // CONTRADICTION, NUANCE
		propsA["affected_edges"] = []uuid.UUID{edgeA.ID, edgeB.ID}
		propsB["affected_edges"] = []uuid.UUID{edgeA.ID, edgeB.ID}
	}

	resEdgeA, err := e.db.AddEdgeTx(ctx, tx, p.ProjectID, resNode.ID, edgeA.TargetID, resolutionRelation, 1.0, propsA, model.MemorySemantic)
	if err != nil {
		return nil, fmt.Errorf("resolution: create resolution edge for edge_a: %w", err)
	}
	resEdgeB, err := e.db.AddEdgeTx(ctx, tx, p.ProjectID, resNode.ID, edgeB.TargetID, resolutionRelation, 1.0, propsB, model.MemorySemantic)
	if err != nil {
		return nil, fmt.Errorf("resolution: create resolution edge for edge_b: %w", err)
	}

	if resolutionType == model.DissonanceEvolution {
		if _, err := e.db.MarkSupersededTx(ctx, tx, p.ProjectID, edgeA.ID, string(resolvedBy), resolvedAt); err != nil {
			return nil, fmt.Errorf("resolution: mark edge_a superseded: %w", err)
		}
	}

	var originalStatus model.DissonanceType
	if action.NuanceReviewID != nil {
		status := model.NuanceConfirmed
		var reclassifiedTo *model.DissonanceType
		originalStatus = model.DissonanceNuance
		if resolutionType != model.DissonanceNuance {
			status = model.NuanceReclassified
			rt := resolutionType
			reclassifiedTo = &rt
		}
		if err := e.db.ResolveNuanceReview(ctx, tx, *action.NuanceReviewID, status, reclassifiedTo); err != nil {
			return nil, fmt.Errorf("resolution: resolve nuance review: %w", err)
		}
	}

	outcome := resolutionOutcome{
		ResolutionID:   resNode.ID,
		ResolutionType: string(resolutionType),
		EdgeAID:        edgeA.ID,
		EdgeBID:        edgeB.ID,
		ResEdgeAID:     resEdgeA.ID,
		ResEdgeBID:     resEdgeB.ID,
		ResolvedBy:     resolvedBy,
		ResolvedAt:     resolvedAt,
		NuanceReviewID: action.NuanceReviewID,
		OriginalStatus: originalStatus,
	}
	return map[string]any{
		"resolution_id":    outcome.ResolutionID,
		"resolution_type":  outcome.ResolutionType,
		"edge_a_id":        outcome.EdgeAID,
		"edge_b_id":        outcome.EdgeBID,
		"res_edge_a_id":    outcome.ResEdgeAID,
		"res_edge_b_id":    outcome.ResEdgeBID,
		"resolved_by":      outcome.ResolvedBy,
		"resolved_at":      outcome.ResolvedAt,
		"nuance_review_id": outcome.NuanceReviewID,
	}, nil
}

// Undo reverses Execute: the resolution edges are stamped orphaned=true and
// any supersede flag on edge_a is cleared (§4.I's undo paragraph). The
// resolution node and its edges are never deleted — consistent with the
// graph's never-hard-delete rule.
func (e *Emitter) Undo(ctx context.Context, tx pgx.Tx, p model.SMFProposal, undoData map[string]any) error {
	resEdgeAID, ok := undoDataUUID(undoData, "res_edge_a_id")
	if !ok {
		return fmt.Errorf("resolution: undo data is missing res_edge_a_id")
	}
	resEdgeBID, ok := undoDataUUID(undoData, "res_edge_b_id")
	if !ok {
		return fmt.Errorf("resolution: undo data is missing res_edge_b_id")
	}
	edgeAID, ok := undoDataUUID(undoData, "edge_a_id")
	if !ok {
		return fmt.Errorf("resolution: undo data is missing edge_a_id")
	}

	orphan := map[string]any{"orphaned": true}
	if _, err := e.db.SetEdgePropertiesTx(ctx, tx, p.ProjectID, resEdgeAID, orphan); err != nil {
		return fmt.Errorf("resolution: orphan resolution edge a: %w", err)
	}
	if _, err := e.db.SetEdgePropertiesTx(ctx, tx, p.ProjectID, resEdgeBID, orphan); err != nil {
		return fmt.Errorf("resolution: orphan resolution edge b: %w", err)
	}

	resolutionType := model.NormalizeDissonanceType(p.ProposedAction.ResolutionType)
	if resolutionType == model.DissonanceEvolution {
		if err := e.db.ClearSupersededTx(ctx, tx, p.ProjectID, edgeAID); err != nil {
			return fmt.Errorf("resolution: clear superseded on edge_a: %w", err)
		}
	}
	return nil
}

func resolutionNodeName(proposalID uuid.UUID) string {
	return fmt.Sprintf("resolution-%s", proposalID)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func undoDataUUID(undoData map[string]any, key string) (uuid.UUID, bool) {
	raw, ok := undoData[key]
	if !ok {
		return uuid.Nil, false
	}
	switch v := raw.(type) {
	case uuid.UUID:
		return v, true
	case string:
		id, err := uuid.Parse(v)
		return id, err == nil
	default:
		return uuid.Nil, false
	}
}
