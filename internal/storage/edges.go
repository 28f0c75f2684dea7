package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noesis-ai/noesis/internal/decay"
	"github.com/noesis-ai/noesis/internal/model"
)

// ErrProjectViolation mirrors model.ErrProjectViolation at the storage
// boundary; callers translate it into model.NewError(model.ErrProjectViolation, ...).
var ErrProjectViolation = errors.New("storage: project violation")

// ErrUniqueViolation signals a (project, source, target, relation) or
// (project, name) collision the caller should translate into a CONFLICT.
var ErrUniqueViolation = errors.New("storage: unique violation")

const edgeColumns = `id, project_id, source_id, target_id, relation, weight, properties,
	memory_sector, created_at, modified_at, last_accessed, last_engaged, access_count`

func scanEdge(row pgx.Row) (*model.Edge, error) {
	var e model.Edge
	var propsRaw []byte
	err := row.Scan(&e.ID, &e.ProjectID, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight, &propsRaw,
		&e.MemorySector, &e.CreatedAt, &e.ModifiedAt, &e.LastAccessed, &e.LastEngaged, &e.AccessCount)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(propsRaw, &e.Properties); err != nil {
		return nil, fmt.Errorf("storage: unmarshal edge properties: %w", err)
	}
	return &e, nil
}

// AddEdge inserts an edge, unique per (project, source, target, relation).
func (db *DB) AddEdge(ctx context.Context, projectID, sourceID, targetID uuid.UUID, relation string, weight float64, properties map[string]any, sector model.MemorySector) (*model.Edge, error) {
	if properties == nil {
		properties = map[string]any{}
	}
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal edge properties: %w", err)
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO edges (project_id, source_id, target_id, relation, weight, properties, memory_sector)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		 RETURNING `+edgeColumns,
		projectID, sourceID, targetID, relation, weight, propsJSON, string(sector),
	)
	e, err := scanEdge(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUniqueViolation
		}
		if isProjectViolation(err) {
			return nil, ErrProjectViolation
		}
		return nil, fmt.Errorf("storage: add edge: %w", err)
	}
	return e, nil
}

// GetEdge fetches a single edge by id, scoped to the caller's project.
func (db *DB) GetEdge(ctx context.Context, projectID, edgeID uuid.UUID) (*model.Edge, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = $1 AND project_id = $2`, edgeID, projectID)
	e, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get edge: %w", err)
	}
	return e, nil
}

// GetEdgeTx is GetEdge run against an existing transaction.
func (db *DB) GetEdgeTx(ctx context.Context, tx pgx.Tx, projectID, edgeID uuid.UUID) (*model.Edge, error) {
	row := tx.QueryRow(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = $1 AND project_id = $2`, edgeID, projectID)
	e, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get edge: %w", err)
	}
	return e, nil
}

// FindEdges looks up all edges matching (source, target, relation) within a
// project — the lookup Reclassification uses before the 0/1/ambiguous count
// check (§4.J step 2).
func (db *DB) FindEdges(ctx context.Context, projectID, sourceID, targetID uuid.UUID, relation string) ([]model.Edge, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE project_id = $1 AND source_id = $2 AND target_id = $3 AND relation = $4`,
		projectID, sourceID, targetID, relation)
	if err != nil {
		return nil, fmt.Errorf("storage: find edges: %w", err)
	}
	defer rows.Close()

	var edges []model.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan edge: %w", err)
		}
		edges = append(edges, *e)
	}
	return edges, rows.Err()
}

// SetEdgeProperties merges mergeProperties into the edge's existing
// properties and bumps modified_at, transactionally.
func (db *DB) SetEdgeProperties(ctx context.Context, projectID, edgeID uuid.UUID, mergeProperties map[string]any) (*model.Edge, error) {
	mergeJSON, err := json.Marshal(mergeProperties)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal merge properties: %w", err)
	}

	var e *model.Edge
	err = db.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE edges SET properties = properties || $1::jsonb, modified_at = now()
			 WHERE id = $2 AND project_id = $3
			 RETURNING `+edgeColumns,
			mergeJSON, edgeID, projectID)
		var scanErr error
		e, scanErr = scanEdge(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: set edge properties: %w", err)
	}
	return e, nil
}

// MarkSuperseded merges {superseded: true, superseded_at, superseded_by}
// into an edge's properties. Returns false if no row matched (§4.D).
func (db *DB) MarkSuperseded(ctx context.Context, projectID, edgeID uuid.UUID, by string, at time.Time) (bool, error) {
	merge := map[string]any{
		"superseded":    true,
		"superseded_at": at,
		"superseded_by": by,
	}
	mergeJSON, _ := json.Marshal(merge)

	tag, err := db.pool.Exec(ctx,
		`UPDATE edges SET properties = properties || $1::jsonb, modified_at = now()
		 WHERE id = $2 AND project_id = $3`,
		mergeJSON, edgeID, projectID)
	if err != nil {
		return false, fmt.Errorf("storage: mark superseded: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClearSuperseded reverses MarkSuperseded on undo (§4.H undo step 2): removes
// the superseded/superseded_at/superseded_by keys from properties.
func (db *DB) ClearSuperseded(ctx context.Context, projectID, edgeID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE edges SET properties = properties - 'superseded' - 'superseded_at' - 'superseded_by', modified_at = now()
		 WHERE id = $1 AND project_id = $2`,
		edgeID, projectID)
	if err != nil {
		return fmt.Errorf("storage: clear superseded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEdgeSector atomically sets memory_sector and stamps
// properties.last_reclassification, for §4.J step 4.
func (db *DB) SetEdgeSector(ctx context.Context, projectID, edgeID uuid.UUID, newSector model.MemorySector, stamp model.Reclassification) (*model.Edge, error) {
	merge := map[string]any{"last_reclassification": stamp}
	mergeJSON, _ := json.Marshal(merge)

	row := db.pool.QueryRow(ctx,
		`UPDATE edges SET memory_sector = $1, properties = properties || $2::jsonb, modified_at = now()
		 WHERE id = $3 AND project_id = $4
		 RETURNING `+edgeColumns,
		string(newSector), mergeJSON, edgeID, projectID)
	e, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: set edge sector: %w", err)
	}
	return e, nil
}

// AddEdgeTx is AddEdge run against an existing transaction, for callers
// (the Resolution Emitter) that must create the resolution edges and stamp
// the originals atomically.
func (db *DB) AddEdgeTx(ctx context.Context, tx pgx.Tx, projectID, sourceID, targetID uuid.UUID, relation string, weight float64, properties map[string]any, sector model.MemorySector) (*model.Edge, error) {
	if properties == nil {
		properties = map[string]any{}
	}
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal edge properties: %w", err)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO edges (project_id, source_id, target_id, relation, weight, properties, memory_sector)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		 RETURNING `+edgeColumns,
		projectID, sourceID, targetID, relation, weight, propsJSON, string(sector),
	)
	e, err := scanEdge(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUniqueViolation
		}
		if isProjectViolation(err) {
			return nil, ErrProjectViolation
		}
		return nil, fmt.Errorf("storage: add edge: %w", err)
	}
	return e, nil
}

// MarkSupersededTx is MarkSuperseded run against an existing transaction.
func (db *DB) MarkSupersededTx(ctx context.Context, tx pgx.Tx, projectID, edgeID uuid.UUID, by string, at time.Time) (bool, error) {
	merge := map[string]any{
		"superseded":    true,
		"superseded_at": at,
		"superseded_by": by,
	}
	mergeJSON, _ := json.Marshal(merge)

	tag, err := tx.Exec(ctx,
		`UPDATE edges SET properties = properties || $1::jsonb, modified_at = now()
		 WHERE id = $2 AND project_id = $3`,
		mergeJSON, edgeID, projectID)
	if err != nil {
		return false, fmt.Errorf("storage: mark superseded: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClearSupersededTx is ClearSuperseded run against an existing transaction,
// used by the Resolution Emitter's undo path.
func (db *DB) ClearSupersededTx(ctx context.Context, tx pgx.Tx, projectID, edgeID uuid.UUID) error {
	tag, err := tx.Exec(ctx,
		`UPDATE edges SET properties = properties - 'superseded' - 'superseded_at' - 'superseded_by', modified_at = now()
		 WHERE id = $1 AND project_id = $2`,
		edgeID, projectID)
	if err != nil {
		return fmt.Errorf("storage: clear superseded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEdgePropertiesTx is SetEdgeProperties run against an existing
// transaction.
func (db *DB) SetEdgePropertiesTx(ctx context.Context, tx pgx.Tx, projectID, edgeID uuid.UUID, mergeProperties map[string]any) (*model.Edge, error) {
	mergeJSON, err := json.Marshal(mergeProperties)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal merge properties: %w", err)
	}
	row := tx.QueryRow(ctx,
		`UPDATE edges SET properties = properties || $1::jsonb, modified_at = now()
		 WHERE id = $2 AND project_id = $3
		 RETURNING `+edgeColumns,
		mergeJSON, edgeID, projectID)
	e, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: set edge properties: %w", err)
	}
	return e, nil
}

// SetEdgeSectorTx is SetEdgeSector run against an existing transaction, for
// Reclassification's SMF-gated execution path.
func (db *DB) SetEdgeSectorTx(ctx context.Context, tx pgx.Tx, projectID, edgeID uuid.UUID, newSector model.MemorySector, stamp model.Reclassification) (*model.Edge, error) {
	merge := map[string]any{"last_reclassification": stamp}
	mergeJSON, _ := json.Marshal(merge)

	row := tx.QueryRow(ctx,
		`UPDATE edges SET memory_sector = $1, properties = properties || $2::jsonb, modified_at = now()
		 WHERE id = $3 AND project_id = $4
		 RETURNING `+edgeColumns,
		string(newSector), mergeJSON, edgeID, projectID)
	e, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: set edge sector: %w", err)
	}
	return e, nil
}

// FetchEdgesForNode returns edges touching node as source or target (§4.D).
// ScopeRecent limits to edges touched within the last 30 days.
func (db *DB) FetchEdgesForNode(ctx context.Context, projectID, nodeID uuid.UUID, scope model.FetchScope) ([]model.Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges
		WHERE project_id = $1 AND (source_id = $2 OR target_id = $2)`
	args := []any{projectID, nodeID}
	if scope == model.ScopeRecent {
		query += ` AND (modified_at > now() - interval '30 days'
			OR last_accessed > now() - interval '30 days'
			OR created_at > now() - interval '30 days')`
	}
	query += ` ORDER BY modified_at DESC`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch edges for node: %w", err)
	}
	defer rows.Close()

	var edges []model.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan edge: %w", err)
		}
		edges = append(edges, *e)
	}
	return edges, rows.Err()
}

// QueryNeighbors returns q.NodeID's neighbors annotated with inbound edge
// data and a decay-adjusted relevance score (§4.D, §4.C).
func (db *DB) QueryNeighbors(ctx context.Context, logger *slog.Logger, decayCfg *decay.Config, projectID uuid.UUID, q model.NeighborQuery) ([]model.Neighbor, error) {
	q.Normalize()

	query := `SELECT ` + edgeColumns + ` FROM edges WHERE project_id = $1`
	args := []any{projectID}
	argN := 2

	switch q.Direction {
	case model.DirectionOutgoing:
		query += fmt.Sprintf(" AND source_id = $%d", argN)
		args = append(args, q.NodeID)
		argN++
	case model.DirectionIncoming:
		query += fmt.Sprintf(" AND target_id = $%d", argN)
		args = append(args, q.NodeID)
		argN++
	default:
		query += fmt.Sprintf(" AND (source_id = $%d OR target_id = $%d)", argN, argN)
		args = append(args, q.NodeID)
		argN++
	}

	if q.Relation != nil {
		query += fmt.Sprintf(" AND relation = $%d", argN)
		args = append(args, *q.Relation)
		argN++
	}
	if !q.IncludeSuperseded {
		query += ` AND COALESCE((properties->>'superseded')::boolean, false) = false`
	}

	query += fmt.Sprintf(" ORDER BY modified_at DESC LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query neighbors: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var neighbors []model.Neighbor
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan edge: %w", err)
		}
		neighborID := e.TargetID
		if e.TargetID == q.NodeID {
			neighborID = e.SourceID
		}
		neighbors = append(neighbors, model.Neighbor{
			NodeID:         neighborID,
			Edge:           *e,
			RelevanceScore: decayCfg.Score(logger, e, now),
		})
	}
	return neighbors, rows.Err()
}

// TouchEdge bumps access_count and last_engaged, used wherever an edge
// participates in an operation that counts as engagement (e.g. surfacing in
// a neighborhood query result the caller acts on).
func (db *DB) TouchEdge(ctx context.Context, projectID, edgeID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE edges SET access_count = access_count + 1, last_engaged = now(), last_accessed = now()
		 WHERE id = $1 AND project_id = $2`,
		edgeID, projectID)
	if err != nil {
		return fmt.Errorf("storage: touch edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic recovered by pgx.BeginFunc's caller).
func (db *DB) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db.pool, fn)
}
