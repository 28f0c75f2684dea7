package model

import (
	"time"

	"github.com/google/uuid"
)

// MemorySector is the closed set of decay regimes an edge can belong to.
// Invariant 1: every edge has exactly one, defaulting to MemorySemantic.
type MemorySector string

const (
	MemoryEmotional  MemorySector = "emotional"
	MemoryEpisodic   MemorySector = "episodic"
	MemorySemantic   MemorySector = "semantic"
	MemoryProcedural MemorySector = "procedural"
	MemoryReflective MemorySector = "reflective"
)

// Sectors lists the closed set in a stable order, used for config
// validation and reclassify's INVALID_SECTOR check.
var Sectors = []MemorySector{MemoryEmotional, MemoryEpisodic, MemorySemantic, MemoryProcedural, MemoryReflective}

// ValidSector reports whether s is one of the closed set of sectors.
func ValidSector(s MemorySector) bool {
	for _, v := range Sectors {
		if v == s {
			return true
		}
	}
	return false
}

// EdgeType distinguishes ordinary edges from identity-defining ones and from
// resolution hyperedges emitted by the Resolution Emitter.
type EdgeType string

const (
	EdgeDescriptive EdgeType = "descriptive"
	EdgeConstitutive EdgeType = "constitutive"
	EdgeResolution   EdgeType = "resolution"
)

// Reclassification is the audit stamp left in an edge's properties whenever
// its memory_sector changes, whether via the classifier at insert time or a
// manual reclassify call.
type Reclassification struct {
	From  MemorySector `json:"from"`
	To    MemorySector `json:"to"`
	At    time.Time    `json:"at"`
	Actor string       `json:"actor"`
}

// Edge is a directed relationship from Source to Target, unique per
// (project, source, target, relation).
type Edge struct {
	ID           uuid.UUID      `json:"id"`
	ProjectID    uuid.UUID      `json:"project_id"`
	SourceID     uuid.UUID      `json:"source_id"`
	TargetID     uuid.UUID      `json:"target_id"`
	Relation     string         `json:"relation"`
	Weight       float64        `json:"weight"`
	Properties   map[string]any `json:"properties"`
	MemorySector MemorySector   `json:"memory_sector"`
	CreatedAt    time.Time      `json:"created_at"`
	ModifiedAt   time.Time      `json:"modified_at"`
	LastAccessed *time.Time     `json:"last_accessed,omitempty"`
	LastEngaged  *time.Time     `json:"last_engaged,omitempty"`
	AccessCount  int            `json:"access_count"`
}

// EdgeType reads the typed edge_type property, defaulting to descriptive
// when absent or unrecognized — validators run on this narrow typed view,
// never on the open remainder of Properties.
func (e *Edge) EdgeType() EdgeType {
	if e.Properties == nil {
		return EdgeDescriptive
	}
	if v, ok := e.Properties["edge_type"].(string); ok {
		switch EdgeType(v) {
		case EdgeConstitutive:
			return EdgeConstitutive
		case EdgeResolution:
			return EdgeResolution
		}
	}
	return EdgeDescriptive
}

// IsConstitutive reports whether e is identity-defining. Either marker makes
// an edge constitutive: edge_type="constitutive" or is_constitutive=true.
func (e *Edge) IsConstitutive() bool {
	if e.Properties == nil {
		return false
	}
	if e.EdgeType() == EdgeConstitutive {
		return true
	}
	if v, ok := e.Properties["is_constitutive"].(bool); ok && v {
		return true
	}
	return false
}

// IsSuperseded reports whether properties.superseded is set.
func (e *Edge) IsSuperseded() bool {
	if e.Properties == nil {
		return false
	}
	v, _ := e.Properties["superseded"].(bool)
	return v
}

// EmotionalValence returns the raw emotional_valence property and whether it
// was present at all (the classifier treats any non-null value as a match,
// not just specific strings).
func (e *Edge) EmotionalValence() (any, bool) {
	if e.Properties == nil {
		return nil, false
	}
	v, ok := e.Properties["emotional_valence"]
	return v, ok && v != nil
}

// ContextType returns the context_type property, or "" if absent.
func (e *Edge) ContextType() string {
	if e.Properties == nil {
		return ""
	}
	v, _ := e.Properties["context_type"].(string)
	return v
}

// ValidateRelation checks a relation label against its length limit.
func ValidateRelation(relation string) error {
	if relation == "" {
		return NewFieldError(ErrValidation, "relation", "relation is required")
	}
	if len(relation) > MaxRelationLen {
		return NewFieldError(ErrValidation, "relation", "relation exceeds maximum length of %d characters", MaxRelationLen)
	}
	return nil
}
