package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DissonanceType is the four-value classification a pair of edges can
// receive from the LLM Client.
type DissonanceType string

const (
	DissonanceEvolution    DissonanceType = "EVOLUTION"
	DissonanceContradiction DissonanceType = "CONTRADICTION"
	DissonanceNuance       DissonanceType = "NUANCE"
	DissonanceNone         DissonanceType = "NONE"
)

// NormalizeDissonanceType case-normalizes a raw classifier string into the
// closed set, defaulting to NONE for anything unrecognized so a drifting
// model response never crashes the pairing loop.
func NormalizeDissonanceType(raw string) DissonanceType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(DissonanceEvolution):
		return DissonanceEvolution
	case string(DissonanceContradiction):
		return DissonanceContradiction
	case string(DissonanceNuance):
		return DissonanceNuance
	default:
		return DissonanceNone
	}
}

// DissonanceResult is the transient outcome of classifying one edge pair.
type DissonanceResult struct {
	EdgeAID             uuid.UUID      `json:"edge_a_id"`
	EdgeBID             uuid.UUID      `json:"edge_b_id"`
	Type                DissonanceType `json:"type"`
	Confidence          float64        `json:"confidence"`
	Description         string         `json:"description"`
	Context             string         `json:"context,omitempty"`
	EdgeAStrength       *float64       `json:"edge_a_strength,omitempty"`
	EdgeBStrength       *float64       `json:"edge_b_strength,omitempty"`
	AuthoritativeSource *uuid.UUID     `json:"authoritative_source,omitempty"`
}

// NuanceStatus tracks whether a Nuance Review has been resolved yet.
type NuanceStatus string

const (
	NuancePending      NuanceStatus = "PENDING"
	NuanceConfirmed    NuanceStatus = "CONFIRMED"
	NuanceReclassified NuanceStatus = "RECLASSIFIED"
)

// NuanceReview is the durable intent to confirm or reclassify a NUANCE
// outcome. Created on every NUANCE detection, reviewed exactly once.
type NuanceReview struct {
	ID              uuid.UUID        `json:"id"`
	ProjectID       uuid.UUID        `json:"project_id"`
	Dissonance      DissonanceResult `json:"dissonance"`
	Status          NuanceStatus     `json:"status"`
	ReclassifiedTo  *DissonanceType  `json:"reclassified_to,omitempty"`
	Reason          *string          `json:"reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ReviewedAt      *time.Time       `json:"reviewed_at,omitempty"`
}

// DissonanceCheckStatus is the terminal state of a §4.G check call.
type DissonanceCheckStatus string

const (
	CheckSuccess          DissonanceCheckStatus = "success"
	CheckSkipped          DissonanceCheckStatus = "skipped"
	CheckInsufficientData DissonanceCheckStatus = "insufficient_data"
)

// DissonanceCheckResult is the public return shape of the Dissonance
// Engine's check operation.
type DissonanceCheckResult struct {
	ContextNode     uuid.UUID             `json:"context_node"`
	Scope           string                `json:"scope"`
	EdgesAnalyzed   int                   `json:"edges_analyzed"`
	ConflictsFound  int                   `json:"conflicts_found"`
	Dissonances     []DissonanceResult    `json:"dissonances"`
	PendingReviews  []NuanceReview        `json:"pending_reviews"`
	Fallback        bool                  `json:"fallback"`
	Status          DissonanceCheckStatus `json:"status"`
	APICalls        int                   `json:"api_calls"`
	TotalTokens     int                   `json:"total_tokens"`
	EstimatedCost   float64               `json:"estimated_cost"`
}
