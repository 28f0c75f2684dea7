package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noesis-ai/noesis/internal/model"
)

func TestValidScope(t *testing.T) {
	assert.True(t, model.ValidScope(model.ScopeRecent))
	assert.True(t, model.ValidScope(model.ScopeFull))
	assert.False(t, model.ValidScope(model.FetchScope("bogus")))
	assert.False(t, model.ValidScope(model.FetchScope("")))
}

func TestNeighborQuery_Normalize(t *testing.T) {
	tests := []struct {
		name       string
		in         model.NeighborQuery
		wantLimit  int
		wantOffset int
		wantDepth  int
	}{
		{"zero values get defaults", model.NeighborQuery{}, model.DefaultNeighborLimit, 0, 1},
		{"limit within range is kept", model.NeighborQuery{Limit: 10, Depth: 2}, 10, 0, 2},
		{"limit over cap is clamped", model.NeighborQuery{Limit: model.MaxNeighborLimit + 1}, model.MaxNeighborLimit, 0, 1},
		{"negative offset is clamped to zero", model.NeighborQuery{Offset: -5}, model.DefaultNeighborLimit, 0, 1},
		{"depth over 3 is clamped", model.NeighborQuery{Depth: 10}, model.DefaultNeighborLimit, 0, 3},
		{"negative depth is clamped to 1", model.NeighborQuery{Depth: -1}, model.DefaultNeighborLimit, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.in
			q.Normalize()
			assert.Equal(t, tt.wantLimit, q.Limit)
			assert.Equal(t, tt.wantOffset, q.Offset)
			assert.Equal(t, tt.wantDepth, q.Depth)
		})
	}
}
