package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noesis-ai/noesis/internal/model"
)

// pgxExecer is the subset of pgx.Tx / pgxpool.Pool used for INSERT execution.
// Both *pgxpool.Pool and pgx.Tx satisfy this interface.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// insertAudit is the shared implementation for InsertAudit and
// InsertAuditTx: it marshals the payload and executes the INSERT against
// whichever executor (pool or transaction) the caller supplies.
func insertAudit(ctx context.Context, exec pgxExecer, e model.AuditEntry) error {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("storage: marshal audit payload: %w", err)
	}

	_, err = exec.Exec(ctx,
		`INSERT INTO audit_log (actor, action, target_id, project_id, payload)
		 VALUES ($1, $2, $3, $4, $5::jsonb)`,
		e.Actor, e.Action, e.TargetID, e.ProjectID, payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit entry: %w", err)
	}
	return nil
}

// InsertAudit appends an audit entry using the connection pool. Every SMF
// transition, resolution, supersede, and reclassification writes exactly
// one entry (invariant 10).
func (db *DB) InsertAudit(ctx context.Context, e model.AuditEntry) error {
	return insertAudit(ctx, db.pool, e)
}

// InsertAuditTx appends an audit entry within an existing transaction, so a
// rolled-back business mutation never leaves behind an orphaned audit row
// (§4.L's "same transaction where possible" guidance).
func InsertAuditTx(ctx context.Context, tx pgx.Tx, e model.AuditEntry) error {
	return insertAudit(ctx, tx, e)
}

// ListProjectIDs returns every distinct project_id with at least one node,
// used by the periodic integrity checkpoint builder to iterate projects
// without a separate projects table.
func (db *DB) ListProjectIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx, `SELECT DISTINCT project_id FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("storage: list project ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan project id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListAuditEntries returns audit entries for a project, most recent first —
// used by operational tooling, not by the core itself.
func (db *DB) ListAuditEntries(ctx context.Context, projectID uuid.UUID, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, timestamp, actor, action, target_id, project_id, payload
		 FROM audit_log WHERE project_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var payloadRaw []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.TargetID, &e.ProjectID, &payloadRaw); err != nil {
			return nil, fmt.Errorf("storage: scan audit entry: %w", err)
		}
		if err := json.Unmarshal(payloadRaw, &e.Payload); err != nil {
			return nil, fmt.Errorf("storage: unmarshal audit payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
