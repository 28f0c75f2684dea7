package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noesis-ai/noesis/internal/model"
)

const proposalColumns = `id, project_id, trigger_type, proposed_action, affected_edges, reasoning,
	approval_level, status, approved_by_io, approved_by_ethr, created_at, resolved_at, resolved_by,
	undo_deadline, metadata`

func scanProposal(row pgx.Row) (*model.SMFProposal, error) {
	var p model.SMFProposal
	var actionRaw, metaRaw []byte
	var resolvedBy *string
	err := row.Scan(&p.ID, &p.ProjectID, &p.TriggerType, &actionRaw, &p.AffectedEdges, &p.Reasoning,
		&p.ApprovalLevel, &p.Status, &p.ApprovedByIO, &p.ApprovedByEthr, &p.CreatedAt, &p.ResolvedAt,
		&resolvedBy, &p.UndoDeadline, &metaRaw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(actionRaw, &p.ProposedAction); err != nil {
		return nil, fmt.Errorf("storage: unmarshal proposed_action: %w", err)
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &p.Metadata); err != nil {
			return nil, fmt.Errorf("storage: unmarshal proposal metadata: %w", err)
		}
	}
	if resolvedBy != nil {
		a := model.Actor(*resolvedBy)
		p.ResolvedBy = &a
	}
	return &p, nil
}

// CreateProposal persists a new SMF proposal with status PENDING.
func (db *DB) CreateProposal(ctx context.Context, p model.SMFProposal) (*model.SMFProposal, error) {
	actionJSON, err := json.Marshal(p.ProposedAction)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal proposed_action: %w", err)
	}
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal proposal metadata: %w", err)
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO smf_proposals (project_id, trigger_type, proposed_action, affected_edges, reasoning, approval_level, status, metadata)
		 VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8::jsonb)
		 RETURNING `+proposalColumns,
		p.ProjectID, p.TriggerType, actionJSON, p.AffectedEdges, p.Reasoning, p.ApprovalLevel, model.ProposalPending, metaJSON,
	)
	out, err := scanProposal(row)
	if err != nil {
		return nil, fmt.Errorf("storage: create proposal: %w", err)
	}
	return out, nil
}

// GetProposal fetches a proposal by id, scoped to the caller's project.
func (db *DB) GetProposal(ctx context.Context, projectID, id uuid.UUID) (*model.SMFProposal, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM smf_proposals WHERE id = $1 AND project_id = $2`, id, projectID)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get proposal: %w", err)
	}
	return p, nil
}

// GetProposalForUpdate loads a proposal with a row-level lock held for the
// remainder of tx, serializing concurrent approve/reject/undo calls against
// the same proposal (§5 ordering guarantees).
func (db *DB) GetProposalForUpdate(ctx context.Context, tx pgx.Tx, projectID, id uuid.UUID) (*model.SMFProposal, error) {
	row := tx.QueryRow(ctx, `SELECT `+proposalColumns+` FROM smf_proposals WHERE id = $1 AND project_id = $2 FOR UPDATE`, id, projectID)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get proposal for update: %w", err)
	}
	return p, nil
}

// ListPendingProposals returns every PENDING proposal in a project.
func (db *DB) ListPendingProposals(ctx context.Context, projectID uuid.UUID) ([]model.SMFProposal, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM smf_proposals WHERE project_id = $1 AND status = $2 ORDER BY created_at ASC`,
		projectID, model.ProposalPending)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending proposals: %w", err)
	}
	defer rows.Close()

	var out []model.SMFProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan proposal: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListApprovedProposalsForEdge returns every APPROVED proposal that lists
// edgeID in its affected_edges array, for Reclassification's consent check
// (§4.J step 3).
func (db *DB) ListApprovedProposalsForEdge(ctx context.Context, projectID, edgeID uuid.UUID) ([]model.SMFProposal, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM smf_proposals
		 WHERE project_id = $1 AND status = $2 AND $3 = ANY(affected_edges)
		 ORDER BY resolved_at DESC`,
		projectID, model.ProposalApproved, edgeID)
	if err != nil {
		return nil, fmt.Errorf("storage: list approved proposals for edge: %w", err)
	}
	defer rows.Close()

	var out []model.SMFProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan proposal: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// WithTx exposes the transaction helper to callers (internal/smf) that must
// execute a side effect and a status transition atomically.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.withTx(ctx, fn)
}

// UpdateProposalApproval sets one actor's approval flag within tx (must be
// called with the row already locked via GetProposalForUpdate).
func (db *DB) UpdateProposalApproval(ctx context.Context, tx pgx.Tx, id uuid.UUID, actor model.Actor) error {
	var err error
	switch actor {
	case model.ActorIO:
		_, err = tx.Exec(ctx, `UPDATE smf_proposals SET approved_by_io = true WHERE id = $1`, id)
	case model.ActorEthr:
		_, err = tx.Exec(ctx, `UPDATE smf_proposals SET approved_by_ethr = true WHERE id = $1`, id)
	default:
		return fmt.Errorf("storage: unknown approving actor %q", actor)
	}
	if err != nil {
		return fmt.Errorf("storage: update proposal approval: %w", err)
	}
	return nil
}

// UpdateProposalMetadata overwrites a proposal's metadata column within tx,
// used to persist an Executor's undo data alongside its APPROVED transition
// so a later Undo call can read it back.
func (db *DB) UpdateProposalMetadata(ctx context.Context, tx pgx.Tx, id uuid.UUID, metadata map[string]any) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal proposal metadata: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE smf_proposals SET metadata = $1::jsonb WHERE id = $2`, metaJSON, id)
	if err != nil {
		return fmt.Errorf("storage: update proposal metadata: %w", err)
	}
	return nil
}

// ResolveProposal transitions a proposal to status with resolution
// bookkeeping, within tx.
func (db *DB) ResolveProposal(ctx context.Context, tx pgx.Tx, id uuid.UUID, status model.ProposalStatus, resolvedBy model.Actor, undoDeadline *time.Time) error {
	var deadline any
	if undoDeadline != nil {
		deadline = *undoDeadline
	}
	_, err := tx.Exec(ctx,
		`UPDATE smf_proposals SET status = $1, resolved_at = now(), resolved_by = $2, undo_deadline = $3 WHERE id = $4`,
		status, string(resolvedBy), deadline, id)
	if err != nil {
		return fmt.Errorf("storage: resolve proposal: %w", err)
	}
	return nil
}
