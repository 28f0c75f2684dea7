package model

import (
	"time"

	"github.com/google/uuid"
)

// Field length limits mirrored from the caller-facing tool surface: they
// bound what ends up in jsonb columns and embedding inputs.
const (
	MaxNodeNameLen    = 512
	MaxNodeLabelLen   = 128
	MaxRelationLen    = 128
	MaxReasoningBytes = 64 * 1024
)

// Node is an addressable vertex in the knowledge graph, unique per
// (project, name).
type Node struct {
	ID         uuid.UUID      `json:"id"`
	ProjectID  uuid.UUID      `json:"project_id"`
	Name       string         `json:"name"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
	VectorID   *uuid.UUID     `json:"vector_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ValidateNodeName checks a node name against the length limit enforced
// before it reaches Postgres or an embedding call.
func ValidateNodeName(name string) error {
	if name == "" {
		return NewFieldError(ErrValidation, "name", "name is required")
	}
	if len(name) > MaxNodeNameLen {
		return NewFieldError(ErrValidation, "name", "name exceeds maximum length of %d characters", MaxNodeNameLen)
	}
	return nil
}

// ValidateNodeLabel checks a node label against its length limit.
func ValidateNodeLabel(label string) error {
	if len(label) > MaxNodeLabelLen {
		return NewFieldError(ErrValidation, "label", "label exceeds maximum length of %d characters", MaxNodeLabelLen)
	}
	return nil
}
