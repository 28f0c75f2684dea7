// Package sector implements the pure, deterministic rule that assigns a
// memory_sector to an edge from its relation and properties.
package sector

import (
	"log/slog"

	"github.com/noesis-ai/noesis/internal/model"
)

// procedural and reflective relations are matched case-sensitively, as the
// graph store never lowercases relation labels.
var (
	proceduralRelations = map[string]bool{"LEARNED": true, "CAN_DO": true}
	reflectiveRelations = map[string]bool{"REFLECTS": true, "REFLECTS_ON": true, "REALIZED": true}
)

// Classify assigns a memory_sector to an edge given its relation and
// properties, applying the priority rules in order. It never errors and
// never blocks: this is a pure function over its inputs.
func Classify(logger *slog.Logger, relation string, properties map[string]any) model.MemorySector {
	sector, rule := classify(relation, properties)
	if logger != nil {
		logger.Debug("sector: classified", "sector", sector, "rule_matched", rule)
	}
	return sector
}

func classify(relation string, properties map[string]any) (model.MemorySector, string) {
	if properties != nil {
		if v, ok := properties["emotional_valence"]; ok && v != nil {
			return model.MemoryEmotional, "emotional_valence_present"
		}
		if v, _ := properties["context_type"].(string); v == "shared_experience" {
			return model.MemoryEpisodic, "context_type_shared_experience"
		}
	}
	if proceduralRelations[relation] {
		return model.MemoryProcedural, "relation_procedural"
	}
	if reflectiveRelations[relation] {
		return model.MemoryReflective, "relation_reflective"
	}
	return model.MemorySemantic, "default"
}
