// Package smf implements the Self-Modification Framework core (§4.H): the
// gatekeeper and state machine every structural mutation to the graph must
// pass through, except I/O-owned direct writes. Grounded on
// internal/conflicts/validator.go's gate-then-act shape (validate, then
// either reject structurally or proceed) generalized from a single
// LLM-confirmation gate into the two-stage safeguard/neutrality gate plus a
// four-state (PENDING/APPROVED/REJECTED/UNDONE) proposal lifecycle, and on
// internal/storage's row-locking idiom (`SELECT ... FOR UPDATE`) for
// serializing concurrent approve/reject/undo calls against one proposal.
package smf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noesis-ai/noesis/internal/audit"
	"github.com/noesis-ai/noesis/internal/model"
	"github.com/noesis-ai/noesis/internal/storage"
)

// Store is the subset of internal/storage.DB the SMF core needs.
type Store interface {
	CreateProposal(ctx context.Context, p model.SMFProposal) (*model.SMFProposal, error)
	GetProposal(ctx context.Context, projectID, id uuid.UUID) (*model.SMFProposal, error)
	GetProposalForUpdate(ctx context.Context, tx pgx.Tx, projectID, id uuid.UUID) (*model.SMFProposal, error)
	ListPendingProposals(ctx context.Context, projectID uuid.UUID) ([]model.SMFProposal, error)
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	UpdateProposalApproval(ctx context.Context, tx pgx.Tx, id uuid.UUID, actor model.Actor) error
	ResolveProposal(ctx context.Context, tx pgx.Tx, id uuid.UUID, status model.ProposalStatus, resolvedBy model.Actor, undoDeadline *time.Time) error
	UpdateProposalMetadata(ctx context.Context, tx pgx.Tx, id uuid.UUID, metadata map[string]any) error
	InsertAudit(ctx context.Context, e model.AuditEntry) error
}

// AuditWriter persists one audit entry within tx. Bound to
// storage.InsertAuditTx at construction — a function value rather than an
// interface method since InsertAuditTx is itself a package-level helper, not
// a *storage.DB method.
type AuditWriter func(ctx context.Context, tx pgx.Tx, e model.AuditEntry) error

// Executor performs a proposed action's side effect once the required
// approvals are in, and reverses it on undo. Concrete implementations
// (internal/resolution, internal/reclassify) register themselves by action
// name — SMF never imports them directly, avoiding a dependency cycle.
type Executor interface {
	// Execute runs the side effect inside tx and returns opaque undo data
	// that SMF persists into the proposal's metadata for a later Undo call.
	Execute(ctx context.Context, tx pgx.Tx, p model.SMFProposal) (undoData map[string]any, err error)
	// Undo reverses Execute's side effect inside tx, using the undoData
	// Execute previously returned.
	Undo(ctx context.Context, tx pgx.Tx, p model.SMFProposal, undoData map[string]any) error
}

// SMF is the proposal gatekeeper and state machine.
type SMF struct {
	db         Store
	writeAudit AuditWriter
	logger     *slog.Logger
	executors  map[string]Executor
}

// New constructs an SMF core bound to db and the audit writer (pass
// storage.InsertAuditTx).
func New(db Store, writeAudit AuditWriter, logger *slog.Logger) *SMF {
	return &SMF{db: db, writeAudit: writeAudit, logger: logger, executors: map[string]Executor{}}
}

// RegisterExecutor associates action (a proposed_action.action value) with
// the Executor responsible for running and undoing it.
func (s *SMF) RegisterExecutor(action string, ex Executor) {
	s.executors[action] = ex
}

// CreateProposal runs §4.H's create_proposal algorithm.
func (s *SMF) CreateProposal(ctx context.Context, projectID uuid.UUID, trigger model.TriggerType, action model.ProposedAction, affectedEdges []uuid.UUID, reasoning string, approvalLevel *model.ApprovalLevel, anyAffectedConstitutive, reasoningFromTemplate bool) (*model.SMFProposal, *model.CoreError) {
	level := model.ApprovalIO
	switch {
	case approvalLevel != nil:
		// Caller named a level explicitly: honor it and let
		// validateSafeguards reject IO against a constitutive edge rather
		// than silently promoting it away.
		level = *approvalLevel
	case anyAffectedConstitutive:
		level = model.ApprovalBilateral
	}

	if cerr := validateSafeguards(action, level, anyAffectedConstitutive); cerr != nil {
		return nil, cerr
	}
	if cerr := validateNeutrality(reasoning, reasoningFromTemplate); cerr != nil {
		return nil, cerr
	}

	p, err := s.db.CreateProposal(ctx, model.SMFProposal{
		ProjectID:      projectID,
		TriggerType:    trigger,
		ProposedAction: action,
		AffectedEdges:  affectedEdges,
		Reasoning:      reasoning,
		ApprovalLevel:  level,
		Status:         model.ProposalPending,
	})
	if err != nil {
		return nil, model.NewError(model.ErrStoreError, "create proposal: %v", err)
	}

	s.audit(ctx, audit.ActionSMFPropose, projectID, &p.ID, map[string]any{
		"trigger_type":   trigger,
		"approval_level": level,
		"action":         action.Action,
	})
	return p, nil
}

// Approve runs §4.H's approve algorithm: set the actor's flag, and if the
// required approvals are now complete, execute the action and transition to
// APPROVED — all within one transaction.
func (s *SMF) Approve(ctx context.Context, projectID, proposalID uuid.UUID, actor model.Actor) (*model.SMFProposal, *model.CoreError) {
	var result *model.SMFProposal
	txErr := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		p, err := s.db.GetProposalForUpdate(ctx, tx, projectID, proposalID)
		if err != nil {
			return err
		}
		if p.Status != model.ProposalPending {
			return model.NewError(model.ErrConflict, "proposal %s is not pending (status=%s)", proposalID, p.Status)
		}
		if alreadyApproved(p, actor) {
			return model.NewError(model.ErrConflict, "actor %s has already approved proposal %s", actor, proposalID)
		}

		if err := s.db.UpdateProposalApproval(ctx, tx, proposalID, actor); err != nil {
			return err
		}
		applyApproval(p, actor)
		s.auditTx(ctx, tx, audit.ActionSMFApprove, projectID, &proposalID, map[string]any{"actor": actor})

		if !p.RequiredApprovalsComplete() {
			result = p
			return nil
		}

		undoData, err := s.execute(ctx, tx, *p)
		if err != nil {
			return fmt.Errorf("smf: execute proposed action: %w", err)
		}

		now := time.Now().UTC()
		deadline := model.UndoDeadlineFor(now)
		if err := s.db.ResolveProposal(ctx, tx, proposalID, model.ProposalApproved, actor, &deadline); err != nil {
			return err
		}
		p.Metadata = mergeUndoData(p.Metadata, undoData)
		if err := s.db.UpdateProposalMetadata(ctx, tx, proposalID, p.Metadata); err != nil {
			return err
		}
		p.Status = model.ProposalApproved
		p.ResolvedAt = &now
		p.ResolvedBy = &actor
		p.UndoDeadline = &deadline
		result = p
		return nil
	})
	if txErr != nil {
		return nil, coreErrorOf(txErr)
	}
	return result, nil
}

// Reject runs §4.H's reject algorithm.
func (s *SMF) Reject(ctx context.Context, projectID, proposalID uuid.UUID, reason string, actor model.Actor) (*model.SMFProposal, *model.CoreError) {
	var result *model.SMFProposal
	txErr := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		p, err := s.db.GetProposalForUpdate(ctx, tx, projectID, proposalID)
		if err != nil {
			return err
		}
		if p.Status != model.ProposalPending {
			return model.NewError(model.ErrConflict, "proposal %s is not pending (status=%s)", proposalID, p.Status)
		}
		if err := s.db.ResolveProposal(ctx, tx, proposalID, model.ProposalRejected, actor, nil); err != nil {
			return err
		}
		now := time.Now().UTC()
		p.Status = model.ProposalRejected
		p.ResolvedAt = &now
		p.ResolvedBy = &actor
		s.auditTx(ctx, tx, audit.ActionSMFReject, projectID, &proposalID, map[string]any{"actor": actor, "reason": reason})
		result = p
		return nil
	})
	if txErr != nil {
		return nil, coreErrorOf(txErr)
	}
	return result, nil
}

// Undo runs §4.H's undo algorithm.
func (s *SMF) Undo(ctx context.Context, projectID, proposalID uuid.UUID, actor model.Actor) (*model.SMFProposal, *model.CoreError) {
	var result *model.SMFProposal
	txErr := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		p, err := s.db.GetProposalForUpdate(ctx, tx, projectID, proposalID)
		if err != nil {
			return err
		}
		if p.Status != model.ProposalApproved {
			return model.NewError(model.ErrConflict, "proposal %s is not approved (status=%s)", proposalID, p.Status)
		}
		if p.UndoDeadline == nil || time.Now().UTC().After(*p.UndoDeadline) {
			return model.NewError(model.ErrConflict, "retention expired for proposal %s", proposalID)
		}

		ex, ok := s.executors[p.ProposedAction.Action]
		if ok {
			undoData, _ := extractUndoData(p.Metadata)
			if err := ex.Undo(ctx, tx, *p, undoData); err != nil {
				return fmt.Errorf("smf: undo proposed action: %w", err)
			}
		}

		if err := s.db.ResolveProposal(ctx, tx, proposalID, model.ProposalUndone, actor, p.UndoDeadline); err != nil {
			return err
		}
		p.Status = model.ProposalUndone
		s.auditTx(ctx, tx, audit.ActionSMFUndo, projectID, &proposalID, map[string]any{"actor": actor})
		result = p
		return nil
	})
	if txErr != nil {
		return nil, coreErrorOf(txErr)
	}
	return result, nil
}

// GetPending returns every PENDING proposal in a project.
func (s *SMF) GetPending(ctx context.Context, projectID uuid.UUID) ([]model.SMFProposal, error) {
	return s.db.ListPendingProposals(ctx, projectID)
}

// Get fetches one proposal by id.
func (s *SMF) Get(ctx context.Context, projectID, proposalID uuid.UUID) (*model.SMFProposal, error) {
	p, err := s.db.GetProposal(ctx, projectID, proposalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, model.NewError(model.ErrNotFound, "proposal %s not found", proposalID)
		}
		return nil, err
	}
	return p, nil
}

// BulkOutcome is one proposal's result from BulkApprove.
type BulkOutcome struct {
	ProposalID uuid.UUID `json:"proposal_id"`
	Outcome    string    `json:"outcome"`
}

const (
	bulkSucceeded         = "succeeded"
	bulkAwaitingBilateral = "awaiting_bilateral"
	bulkFailed            = "failed"
)

// BulkApprove enumerates pending proposals matching filter and calls Approve
// on each, unless dryRun is set (§4.H's bulk_approve).
func (s *SMF) BulkApprove(ctx context.Context, projectID uuid.UUID, resolutionType string, approvalLevel *model.ApprovalLevel, actor model.Actor, dryRun bool) ([]BulkOutcome, error) {
	pending, err := s.db.ListPendingProposals(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var outcomes []BulkOutcome
	for _, p := range pending {
		if resolutionType != "" && p.ProposedAction.ResolutionType != resolutionType {
			continue
		}
		if approvalLevel != nil && p.ApprovalLevel != *approvalLevel {
			continue
		}
		if alreadyApproved(&p, actor) {
			continue
		}

		if dryRun {
			outcome := bulkSucceeded
			if p.ApprovalLevel == model.ApprovalBilateral {
				outcome = bulkAwaitingBilateral
			}
			outcomes = append(outcomes, BulkOutcome{ProposalID: p.ID, Outcome: outcome})
			continue
		}

		approved, cerr := s.Approve(ctx, projectID, p.ID, actor)
		switch {
		case cerr != nil:
			outcomes = append(outcomes, BulkOutcome{ProposalID: p.ID, Outcome: bulkFailed})
		case approved.Status == model.ProposalApproved:
			outcomes = append(outcomes, BulkOutcome{ProposalID: p.ID, Outcome: bulkSucceeded})
		default:
			outcomes = append(outcomes, BulkOutcome{ProposalID: p.ID, Outcome: bulkAwaitingBilateral})
		}
	}
	return outcomes, nil
}

func (s *SMF) execute(ctx context.Context, tx pgx.Tx, p model.SMFProposal) (map[string]any, error) {
	ex, ok := s.executors[p.ProposedAction.Action]
	if !ok {
		s.logger.Warn("smf: no executor registered for action, treating as no-op", "action", p.ProposedAction.Action)
		return nil, nil
	}
	return ex.Execute(ctx, tx, p)
}

func (s *SMF) audit(ctx context.Context, action audit.Action, projectID uuid.UUID, targetID *uuid.UUID, payload map[string]any) {
	err := s.db.InsertAudit(ctx, model.AuditEntry{Actor: string(model.ActorSystem), Action: string(action), TargetID: targetID, ProjectID: projectID, Payload: payload})
	if err != nil {
		s.logger.Warn("smf: audit write failed", "action", action, "error", err)
	}
}

func (s *SMF) auditTx(ctx context.Context, tx pgx.Tx, action audit.Action, projectID uuid.UUID, targetID *uuid.UUID, payload map[string]any) {
	err := s.writeAudit(ctx, tx, model.AuditEntry{Actor: "system", Action: string(action), TargetID: targetID, ProjectID: projectID, Payload: payload})
	if err != nil {
		s.logger.Warn("smf: audit write failed", "action", action, "error", err)
	}
}

func alreadyApproved(p *model.SMFProposal, actor model.Actor) bool {
	switch actor {
	case model.ActorIO:
		return p.ApprovedByIO
	case model.ActorEthr:
		return p.ApprovedByEthr
	default:
		return false
	}
}

func applyApproval(p *model.SMFProposal, actor model.Actor) {
	switch actor {
	case model.ActorIO:
		p.ApprovedByIO = true
	case model.ActorEthr:
		p.ApprovedByEthr = true
	}
}

func mergeUndoData(metadata map[string]any, undoData map[string]any) map[string]any {
	if undoData == nil {
		return metadata
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["execution"] = undoData
	return metadata
}

func extractUndoData(metadata map[string]any) (map[string]any, bool) {
	if metadata == nil {
		return nil, false
	}
	v, ok := metadata["execution"].(map[string]any)
	return v, ok
}

// coreErrorOf unwraps a *model.CoreError from a transaction error, or wraps
// anything else as a STORE_ERROR — SMF never lets raw store errors escape
// the tool boundary (§7 propagation policy).
func coreErrorOf(err error) *model.CoreError {
	var ce *model.CoreError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, storage.ErrNotFound) {
		return model.NewError(model.ErrNotFound, "proposal not found")
	}
	return model.NewError(model.ErrStoreError, "%v", err)
}
