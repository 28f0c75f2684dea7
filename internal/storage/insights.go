package storage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MemoryStrengthLookup is an optional secondary path for
// GetMemoryStrengthForEdge: when neither endpoint node carries a direct
// vector_id link, a nearest-insight search (internal/search) can still turn
// up a plausible strength. Best-effort by construction — any error here is
// swallowed by the caller, never propagated.
type MemoryStrengthLookup interface {
	NearestInsightStrength(ctx context.Context, projectID uuid.UUID, nodeID uuid.UUID) (float64, bool)
}

// GetMemoryStrengthForEdge looks up memory strength via the source or
// target node's linked insight vector (§4.D). Best-effort: any failure or
// absence returns (0, false), never an error, per spec.md §9's explicit
// "never throws, never used for correctness-critical decisions" guidance.
func (db *DB) GetMemoryStrengthForEdge(ctx context.Context, logger *slog.Logger, lookup MemoryStrengthLookup, projectID, edgeID uuid.UUID) (float64, bool) {
	edge, err := db.GetEdge(ctx, projectID, edgeID)
	if err != nil {
		logger.Debug("storage: memory strength lookup: edge not found", "edge_id", edgeID, "error", err)
		return 0, false
	}

	for _, nodeID := range []uuid.UUID{edge.SourceID, edge.TargetID} {
		if strength, ok := db.strengthViaLinkedVector(ctx, projectID, nodeID); ok {
			return strength, true
		}
	}

	if lookup == nil {
		return 0, false
	}
	for _, nodeID := range []uuid.UUID{edge.SourceID, edge.TargetID} {
		if strength, ok := lookup.NearestInsightStrength(ctx, projectID, nodeID); ok {
			return strength, true
		}
	}
	return 0, false
}

func (db *DB) strengthViaLinkedVector(ctx context.Context, projectID, nodeID uuid.UUID) (float64, bool) {
	var strength float64
	err := db.pool.QueryRow(ctx,
		`SELECT i.memory_strength FROM nodes n
		 JOIN l2_insights i ON i.id = n.vector_id
		 WHERE n.id = $1 AND n.project_id = $2 AND i.project_id = $2 AND i.is_deleted = false`,
		nodeID, projectID,
	).Scan(&strength)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, false
		}
		return 0, false
	}
	return strength, true
}
