package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one append-only record of a mutating action. Invariant 10:
// every mutating operation emits exactly one of these.
type AuditEntry struct {
	ID        uuid.UUID      `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	TargetID  *uuid.UUID     `json:"target_id,omitempty"`
	ProjectID uuid.UUID      `json:"project_id"`
	Payload   map[string]any `json:"payload"`
}
