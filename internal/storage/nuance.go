package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noesis-ai/noesis/internal/model"
)

const nuanceColumns = `id, project_id, dissonance, status, reclassified_to, reason, created_at, reviewed_at`

func scanNuanceReview(row pgx.Row) (*model.NuanceReview, error) {
	var r model.NuanceReview
	var dissonanceRaw []byte
	var reclassifiedTo *string
	err := row.Scan(&r.ID, &r.ProjectID, &dissonanceRaw, &r.Status, &reclassifiedTo, &r.Reason, &r.CreatedAt, &r.ReviewedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dissonanceRaw, &r.Dissonance); err != nil {
		return nil, fmt.Errorf("storage: unmarshal nuance dissonance: %w", err)
	}
	if reclassifiedTo != nil {
		t := model.DissonanceType(*reclassifiedTo)
		r.ReclassifiedTo = &t
	}
	return &r, nil
}

// CreateNuanceReview persists a PENDING NuanceReview, created on every NUANCE
// dissonance detection (§4.G step 4).
func (db *DB) CreateNuanceReview(ctx context.Context, projectID uuid.UUID, dissonance model.DissonanceResult) (*model.NuanceReview, error) {
	dissonanceJSON, err := json.Marshal(dissonance)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal nuance dissonance: %w", err)
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO nuance_reviews (project_id, dissonance, status)
		 VALUES ($1, $2::jsonb, $3)
		 RETURNING `+nuanceColumns,
		projectID, dissonanceJSON, model.NuancePending,
	)
	r, err := scanNuanceReview(row)
	if err != nil {
		return nil, fmt.Errorf("storage: create nuance review: %w", err)
	}
	return r, nil
}

// GetNuanceReview fetches a review by id, scoped to the caller's project.
func (db *DB) GetNuanceReview(ctx context.Context, projectID, id uuid.UUID) (*model.NuanceReview, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+nuanceColumns+` FROM nuance_reviews WHERE id = $1 AND project_id = $2`, id, projectID)
	r, err := scanNuanceReview(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get nuance review: %w", err)
	}
	return r, nil
}

// ResolveNuanceReview transitions a review to CONFIRMED or RECLASSIFIED
// (§4.I step 4), run inside the same transaction as the resolution edges it
// accompanies.
func (db *DB) ResolveNuanceReview(ctx context.Context, tx pgx.Tx, id uuid.UUID, status model.NuanceStatus, reclassifiedTo *model.DissonanceType) error {
	var rc *string
	if reclassifiedTo != nil {
		s := string(*reclassifiedTo)
		rc = &s
	}
	tag, err := tx.Exec(ctx,
		`UPDATE nuance_reviews SET status = $1, reclassified_to = $2, reviewed_at = now() WHERE id = $3`,
		status, rc, id)
	if err != nil {
		return fmt.Errorf("storage: resolve nuance review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
