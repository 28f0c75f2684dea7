package decay_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noesis-ai/noesis/internal/decay"
	"github.com/noesis-ai/noesis/internal/model"
)

func defaultConfig() *decay.Config {
	return decay.NewForTest(map[model.MemorySector]decay.Params{
		model.MemoryEmotional:  {SBase: 200, SFloor: 150, HasFloor: true},
		model.MemoryEpisodic:   {SBase: 150, SFloor: 100, HasFloor: true},
		model.MemorySemantic:   {SBase: 100},
		model.MemoryProcedural: {SBase: 120},
		model.MemoryReflective: {SBase: 180, SFloor: 120, HasFloor: true},
	})
}

func edgeWithAge(sector model.MemorySector, daysAgo int, accessCount int) *model.Edge {
	engaged := time.Now().UTC().AddDate(0, 0, -daysAgo)
	return &model.Edge{
		ID:           uuid.New(),
		MemorySector: sector,
		LastEngaged:  &engaged,
		AccessCount:  accessCount,
		Properties:   map[string]any{},
	}
}

func TestScore_DecayAnchors(t *testing.T) {
	cfg := defaultConfig()
	now := time.Now().UTC()

	semantic := edgeWithAge(model.MemorySemantic, 100, 0)
	emotional := edgeWithAge(model.MemoryEmotional, 100, 0)

	semanticScore := cfg.Score(nil, semantic, now)
	emotionalScore := cfg.Score(nil, emotional, now)

	assert.InDelta(t, 0.3679, semanticScore, 0.01)
	assert.InDelta(t, 0.6065, emotionalScore, 0.01)
	assert.Greater(t, emotionalScore, semanticScore)
}

func TestScore_ConstitutiveInvariance(t *testing.T) {
	cfg := defaultConfig()
	edge := edgeWithAge(model.MemorySemantic, 10000, 0)
	edge.Properties["edge_type"] = "constitutive"

	assert.Equal(t, 1.0, cfg.Score(nil, edge, time.Now()))

	edge2 := edgeWithAge(model.MemoryEmotional, 1, 999)
	edge2.Properties["edge_type"] = "constitutive"
	assert.Equal(t, 1.0, cfg.Score(nil, edge2, time.Now()))
}

func TestScore_MonotonicInTime(t *testing.T) {
	cfg := defaultConfig()
	now := time.Now().UTC()

	e1 := edgeWithAge(model.MemoryProcedural, 10, 3)
	e2 := edgeWithAge(model.MemoryProcedural, 50, 3)

	s1 := cfg.Score(nil, e1, now)
	s2 := cfg.Score(nil, e2, now)
	assert.GreaterOrEqual(t, s1, s2)
}

func TestScore_NonDecreasingInAccessCount(t *testing.T) {
	cfg := defaultConfig()
	now := time.Now().UTC()

	low := edgeWithAge(model.MemoryReflective, 30, 0)
	high := edgeWithAge(model.MemoryReflective, 30, 20)

	assert.LessOrEqual(t, cfg.Score(nil, low, now), cfg.Score(nil, high, now))
}

func TestScore_MissingLastEngaged(t *testing.T) {
	cfg := defaultConfig()
	edge := &model.Edge{MemorySector: model.MemorySemantic, Properties: map[string]any{}}
	assert.Equal(t, 1.0, cfg.Score(nil, edge, time.Now()))
}

func TestLoad_FallsBackOnMissingFile(t *testing.T) {
	cfg := decay.NewForTest(map[model.MemorySector]decay.Params{
		model.MemorySemantic: {SBase: 100},
	})
	require.NotNil(t, cfg)

	p := cfg.For(model.MemoryEmotional) // missing sector falls back to semantic
	assert.Equal(t, 100.0, p.SBase)
}
