// Package reclassify implements Reclassification (§4.J): retargeting an
// edge's memory_sector, either directly for non-constitutive edges or
// gated behind an already-APPROVED bilateral SMF proposal for constitutive
// ones. Grounded on internal/authz/authz.go's consent/grant-checking idiom
// (CanAccessAgent, LoadGrantedSet) generalized from "can this caller read"
// to "is there an approved bilateral proposal naming this edge", and on
// model.Decision's enrichment-stamp pattern for the properties.last_reclassification
// audit trail this package leaves behind.
package reclassify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noesis-ai/noesis/internal/audit"
	"github.com/noesis-ai/noesis/internal/model"
)

// Store is the subset of internal/storage.DB reclassify needs.
type Store interface {
	ResolveNodeID(ctx context.Context, projectID uuid.UUID, nodeIDOrName string) (uuid.UUID, error)
	FindEdges(ctx context.Context, projectID, sourceID, targetID uuid.UUID, relation string) ([]model.Edge, error)
	GetEdge(ctx context.Context, projectID, edgeID uuid.UUID) (*model.Edge, error)
	SetEdgeSector(ctx context.Context, projectID, edgeID uuid.UUID, newSector model.MemorySector, stamp model.Reclassification) (*model.Edge, error)
	SetEdgeSectorTx(ctx context.Context, tx pgx.Tx, projectID, edgeID uuid.UUID, newSector model.MemorySector, stamp model.Reclassification) (*model.Edge, error)
	ListApprovedProposalsForEdge(ctx context.Context, projectID, edgeID uuid.UUID) ([]model.SMFProposal, error)
	InsertAudit(ctx context.Context, e model.AuditEntry) error
}

// Result is §4.J step 5's return shape.
type Result struct {
	Status    string             `json:"status"`
	EdgeID    uuid.UUID          `json:"edge_id"`
	OldSector model.MemorySector `json:"old_sector"`
	NewSector model.MemorySector `json:"new_sector"`
}

// Engine runs reclassification requests.
type Engine struct {
	db Store
}

// New constructs an Engine.
func New(db Store) *Engine {
	return &Engine{db: db}
}

// Reclassify runs §4.J's algorithm for the direct I/O-owned path: it
// resolves the edge, checks consent for constitutive edges, and applies the
// sector change outside of any SMF transaction. Constitutive edges without
// a matching approved proposal come back CONSENT_REQUIRED rather than being
// applied — the caller is expected to route those through SMF's
// create_proposal/approve flow instead (after which SMF invokes Execute,
// below, for the already-gated path).
func (e *Engine) Reclassify(ctx context.Context, projectID uuid.UUID, sourceName, targetName, relation string, newSector model.MemorySector, edgeID *uuid.UUID, actor string) (*Result, *model.CoreError) {
	if !model.ValidSector(newSector) {
		return nil, model.NewFieldError(model.ErrValidation, "new_sector", "new_sector %q is not a recognized sector", newSector)
	}

	edge, cerr := e.resolveEdge(ctx, projectID, sourceName, targetName, relation, edgeID)
	if cerr != nil {
		return nil, cerr
	}

	if edge.IsConstitutive() {
		if cerr := e.checkConsent(ctx, projectID, edge.ID, newSector); cerr != nil {
			return nil, cerr
		}
	}

	return e.apply(ctx, projectID, edge, newSector, actor)
}

// Execute implements smf.Executor for the reclassify/reclassify_sector
// actions: SMF calls this only after BILATERAL approval is complete, so no
// further consent check runs here.
func (e *Engine) Execute(ctx context.Context, tx pgx.Tx, p model.SMFProposal) (map[string]any, error) {
	action := p.ProposedAction
	if action.EdgeAID == nil {
		return nil, fmt.Errorf("reclassify: proposed action is missing edge_a_id")
	}
	edge, err := e.db.GetEdge(ctx, p.ProjectID, *action.EdgeAID)
	if err != nil {
		return nil, fmt.Errorf("reclassify: fetch edge: %w", err)
	}
	oldSector := edge.MemorySector
	actor := string(model.ActorSystem)
	if p.ResolvedBy != nil {
		actor = string(*p.ResolvedBy)
	}

	stamp := model.Reclassification{From: oldSector, To: action.NewSector, At: time.Now().UTC(), Actor: actor}
	if _, err := e.db.SetEdgeSectorTx(ctx, tx, p.ProjectID, edge.ID, action.NewSector, stamp); err != nil {
		return nil, fmt.Errorf("reclassify: set edge sector: %w", err)
	}

	return map[string]any{
		"edge_id":    edge.ID,
		"old_sector": oldSector,
		"new_sector": action.NewSector,
	}, nil
}

// Undo reverses Execute by restoring old_sector from the stashed undo data.
func (e *Engine) Undo(ctx context.Context, tx pgx.Tx, p model.SMFProposal, undoData map[string]any) error {
	edgeIDRaw, ok := undoData["edge_id"]
	if !ok {
		return fmt.Errorf("reclassify: undo data is missing edge_id")
	}
	edgeID, err := toUUID(edgeIDRaw)
	if err != nil {
		return fmt.Errorf("reclassify: undo data edge_id is invalid: %w", err)
	}
	oldSectorRaw, ok := undoData["old_sector"]
	if !ok {
		return fmt.Errorf("reclassify: undo data is missing old_sector")
	}
	oldSector := model.MemorySector(fmt.Sprint(oldSectorRaw))

	actor := string(model.ActorSystem)
	if p.ResolvedBy != nil {
		actor = string(*p.ResolvedBy)
	}
	stamp := model.Reclassification{From: model.MemorySector(fmt.Sprint(undoData["new_sector"])), To: oldSector, At: time.Now().UTC(), Actor: actor}
	if _, err := e.db.SetEdgeSectorTx(ctx, tx, p.ProjectID, edgeID, oldSector, stamp); err != nil {
		return fmt.Errorf("reclassify: restore old sector: %w", err)
	}
	return nil
}

func (e *Engine) resolveEdge(ctx context.Context, projectID uuid.UUID, sourceName, targetName, relation string, edgeID *uuid.UUID) (*model.Edge, *model.CoreError) {
	sourceID, err := e.db.ResolveNodeID(ctx, projectID, sourceName)
	if err != nil {
		return nil, model.NewFieldError(model.ErrNotFound, "source_name", "source node %q not found", sourceName)
	}
	targetID, err := e.db.ResolveNodeID(ctx, projectID, targetName)
	if err != nil {
		return nil, model.NewFieldError(model.ErrNotFound, "target_name", "target node %q not found", targetName)
	}

	edges, err := e.db.FindEdges(ctx, projectID, sourceID, targetID, relation)
	if err != nil {
		return nil, model.NewError(model.ErrStoreError, "%v", err)
	}
	if edgeID != nil {
		filtered := edges[:0]
		for _, e := range edges {
			if e.ID == *edgeID {
				filtered = append(filtered, e)
			}
		}
		edges = filtered
	}

	switch len(edges) {
	case 0:
		return nil, model.NewError(model.ErrNotFound, "no edge matches (%s, %s, %s)", sourceName, targetName, relation)
	case 1:
		return &edges[0], nil
	default:
		ids := make([]uuid.UUID, len(edges))
		for i, e := range edges {
			ids[i] = e.ID
		}
		return nil, &model.CoreError{Code: model.ErrConflict, Message: fmt.Sprintf("ambiguous: %d edges match (%s, %s, %s)", len(edges), sourceName, targetName, relation), Details: ids}
	}
}

// checkConsent runs §4.J step 3 for a constitutive edge.
func (e *Engine) checkConsent(ctx context.Context, projectID, edgeID uuid.UUID, newSector model.MemorySector) *model.CoreError {
	proposals, err := e.db.ListApprovedProposalsForEdge(ctx, projectID, edgeID)
	if err != nil {
		return model.NewError(model.ErrStoreError, "%v", err)
	}
	for _, p := range proposals {
		if p.ProposedAction.Action != model.ActionReclassify && p.ProposedAction.Action != model.ActionReclassifySector {
			continue
		}
		if p.ApprovalLevel != model.ApprovalBilateral || !p.RequiredApprovalsComplete() {
			continue
		}
		if p.ProposedAction.NewSector != "" && p.ProposedAction.NewSector != newSector {
			continue
		}
		return nil
	}
	return model.NewError(model.ErrConsentRequired, "constitutive edge %s requires an APPROVED bilateral SMF proposal before reclassification; use the SMF approval tool", edgeID)
}

func (e *Engine) apply(ctx context.Context, projectID uuid.UUID, edge *model.Edge, newSector model.MemorySector, actor string) (*Result, *model.CoreError) {
	oldSector := edge.MemorySector
	stamp := model.Reclassification{From: oldSector, To: newSector, At: time.Now().UTC(), Actor: actor}

	updated, err := e.db.SetEdgeSector(ctx, projectID, edge.ID, newSector, stamp)
	if err != nil {
		return nil, model.NewError(model.ErrStoreError, "%v", err)
	}

	if auditErr := e.db.InsertAudit(ctx, model.AuditEntry{
		Actor:     actor,
		Action:    string(audit.ActionEdgeReclassify),
		TargetID:  &edge.ID,
		ProjectID: projectID,
		Payload:   map[string]any{"old_sector": oldSector, "new_sector": newSector},
	}); auditErr != nil {
		return nil, model.NewError(model.ErrStoreError, "%v", auditErr)
	}

	return &Result{Status: "success", EdgeID: updated.ID, OldSector: oldSector, NewSector: newSector}, nil
}

func toUUID(v any) (uuid.UUID, error) {
	switch t := v.(type) {
	case uuid.UUID:
		return t, nil
	case string:
		return uuid.Parse(t)
	default:
		return uuid.Nil, fmt.Errorf("unexpected type %T", v)
	}
}
