package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// WithProjectContext acquires a dedicated connection, establishes the RLS
// session context for projectID via set_project_context, and runs fn against
// that connection inside a transaction. The connection is RESET before it's
// returned to the pool so no request's project context leaks into the next
// one that acquires the same underlying connection (§5 shared-resource
// policy).
func (db *DB) WithProjectContext(ctx context.Context, projectID string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("storage: acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT set_project_context($1)`, projectID); err != nil {
		return fmt.Errorf("storage: set project context: %w", err)
	}
	defer func() {
		// RESET so the connection returns to the pool clean regardless of
		// whether fn succeeded.
		_, _ = conn.Exec(context.Background(), `RESET ALL`)
	}()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit transaction: %w", err)
	}
	return nil
}
