package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noesis-ai/noesis/internal/model"
)

// AddNode inserts a node, idempotent on (project, name) per §4.D: a second
// call with the same project/name returns the existing row unchanged.
func (db *DB) AddNode(ctx context.Context, projectID uuid.UUID, name, label string, properties map[string]any) (*model.Node, error) {
	if properties == nil {
		properties = map[string]any{}
	}
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal node properties: %w", err)
	}

	var n model.Node
	var propsRaw []byte
	err = db.pool.QueryRow(ctx,
		`INSERT INTO nodes (project_id, name, label, properties)
		 VALUES ($1, $2, $3, $4::jsonb)
		 ON CONFLICT (project_id, name) DO UPDATE SET label = nodes.label
		 RETURNING id, project_id, name, label, properties, vector_id, created_at, updated_at`,
		projectID, name, label, propsJSON,
	).Scan(&n.ID, &n.ProjectID, &n.Name, &n.Label, &propsRaw, &n.VectorID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("storage: add node: %w", err)
	}
	if err := json.Unmarshal(propsRaw, &n.Properties); err != nil {
		return nil, fmt.Errorf("storage: unmarshal node properties: %w", err)
	}
	return &n, nil
}

// AddNodeTx is AddNode run against an existing transaction, used by the
// Resolution Emitter to create its Resolution Node atomically alongside the
// resolution edges.
func (db *DB) AddNodeTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, name, label string, properties map[string]any) (*model.Node, error) {
	if properties == nil {
		properties = map[string]any{}
	}
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal node properties: %w", err)
	}

	var n model.Node
	var propsRaw []byte
	err = tx.QueryRow(ctx,
		`INSERT INTO nodes (project_id, name, label, properties)
		 VALUES ($1, $2, $3, $4::jsonb)
		 ON CONFLICT (project_id, name) DO UPDATE SET label = nodes.label
		 RETURNING id, project_id, name, label, properties, vector_id, created_at, updated_at`,
		projectID, name, label, propsJSON,
	).Scan(&n.ID, &n.ProjectID, &n.Name, &n.Label, &propsRaw, &n.VectorID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("storage: add node: %w", err)
	}
	if err := json.Unmarshal(propsRaw, &n.Properties); err != nil {
		return nil, fmt.Errorf("storage: unmarshal node properties: %w", err)
	}
	return &n, nil
}

// GetNode fetches a node by id, scoped to the caller's project.
func (db *DB) GetNode(ctx context.Context, projectID, id uuid.UUID) (*model.Node, error) {
	return db.scanOneNode(ctx,
		`SELECT id, project_id, name, label, properties, vector_id, created_at, updated_at
		 FROM nodes WHERE id = $1 AND project_id = $2`, id, projectID)
}

// GetNodeByName resolves a node by its (project, name) key, used by callers
// that accept a node name rather than a UUID (e.g. the Dissonance Engine's
// context_node resolution).
func (db *DB) GetNodeByName(ctx context.Context, projectID uuid.UUID, name string) (*model.Node, error) {
	return db.scanOneNode(ctx,
		`SELECT id, project_id, name, label, properties, vector_id, created_at, updated_at
		 FROM nodes WHERE name = $1 AND project_id = $2`, name, projectID)
}

// NodeSearchText implements internal/search.NodeTextSource: it returns the
// text a node's name/label should be embedded as when no direct
// vector_id link is available for get_memory_strength_for_edge (§4.D).
func (db *DB) NodeSearchText(ctx context.Context, projectID, nodeID uuid.UUID) (string, error) {
	n, err := db.GetNode(ctx, projectID, nodeID)
	if err != nil {
		return "", err
	}
	if n.Label != "" {
		return n.Name + " " + n.Label, nil
	}
	return n.Name, nil
}

func (db *DB) scanOneNode(ctx context.Context, query string, args ...any) (*model.Node, error) {
	var n model.Node
	var propsRaw []byte
	err := db.pool.QueryRow(ctx, query, args...).
		Scan(&n.ID, &n.ProjectID, &n.Name, &n.Label, &propsRaw, &n.VectorID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get node: %w", err)
	}
	if err := json.Unmarshal(propsRaw, &n.Properties); err != nil {
		return nil, fmt.Errorf("storage: unmarshal node properties: %w", err)
	}
	return &n, nil
}

// resolveNodeID resolves a caller-supplied node identifier that may be
// either a UUID string or a node name, per §4.G step 1's "resolve by name if
// not a UUID" rule.
func (db *DB) ResolveNodeID(ctx context.Context, projectID uuid.UUID, nodeIDOrName string) (uuid.UUID, error) {
	if id, err := uuid.Parse(nodeIDOrName); err == nil {
		if _, err := db.GetNode(ctx, projectID, id); err != nil {
			return uuid.Nil, err
		}
		return id, nil
	}
	n, err := db.GetNodeByName(ctx, projectID, nodeIDOrName)
	if err != nil {
		return uuid.Nil, err
	}
	return n.ID, nil
}

// projectViolation reports whether a Postgres error is the row-level-security
// policy rejecting a write whose project_id doesn't match the session
// context (invariant 8).
func isProjectViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 42501 insufficient_privilege is what RLS WITH CHECK violations surface as.
	return pgErr.Code == "42501"
}
