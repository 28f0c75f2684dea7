package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noesis-ai/noesis/internal/decay"
	"github.com/noesis-ai/noesis/internal/model"
	"github.com/noesis-ai/noesis/internal/storage"
	"github.com/noesis-ai/noesis/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartTimescaleDB()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestAddNode_IdempotentOnProjectName(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	a, err := testDB.AddNode(ctx, projectID, "io", "Agent", map[string]any{"kind": "self"})
	require.NoError(t, err)

	b, err := testDB.AddNode(ctx, projectID, "io", "Agent", map[string]any{"kind": "ignored"})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
}

func TestAddEdge_UniqueViolation(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	source, err := testDB.AddNode(ctx, projectID, "io", "Agent", nil)
	require.NoError(t, err)
	target, err := testDB.AddNode(ctx, projectID, "coffee", "Preference", nil)
	require.NoError(t, err)

	_, err = testDB.AddEdge(ctx, projectID, source.ID, target.ID, "LIKES", 1.0, nil, model.MemorySemantic)
	require.NoError(t, err)

	_, err = testDB.AddEdge(ctx, projectID, source.ID, target.ID, "LIKES", 1.0, nil, model.MemorySemantic)
	assert.ErrorIs(t, err, storage.ErrUniqueViolation)
}

func TestMarkSuperseded_FiltersFromNeighborQuery(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	logger := testutil.TestLogger()
	decayCfg := decay.NewForTest(map[model.MemorySector]decay.Params{
		model.MemorySemantic: {SBase: 100},
	})

	source, err := testDB.AddNode(ctx, projectID, "io", "Agent", nil)
	require.NoError(t, err)
	target, err := testDB.AddNode(ctx, projectID, "tea", "Preference", nil)
	require.NoError(t, err)

	edge, err := testDB.AddEdge(ctx, projectID, source.ID, target.ID, "LIKES", 1.0, nil, model.MemorySemantic)
	require.NoError(t, err)

	ok, err := testDB.MarkSuperseded(ctx, projectID, edge.ID, "ethr", edge.CreatedAt)
	require.NoError(t, err)
	assert.True(t, ok)

	defaultResults, err := testDB.QueryNeighbors(ctx, logger, decayCfg, projectID, model.NeighborQuery{NodeID: source.ID})
	require.NoError(t, err)
	assert.Empty(t, defaultResults)

	withSuperseded, err := testDB.QueryNeighbors(ctx, logger, decayCfg, projectID, model.NeighborQuery{NodeID: source.ID, IncludeSuperseded: true})
	require.NoError(t, err)
	require.Len(t, withSuperseded, 1)
	assert.True(t, withSuperseded[0].Edge.IsSuperseded())
}

func TestSetEdgeSector_StampsReclassification(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	source, err := testDB.AddNode(ctx, projectID, "io", "Agent", nil)
	require.NoError(t, err)
	target, err := testDB.AddNode(ctx, projectID, "piano", "Skill", nil)
	require.NoError(t, err)

	edge, err := testDB.AddEdge(ctx, projectID, source.ID, target.ID, "CAN_DO", 1.0, nil, model.MemoryProcedural)
	require.NoError(t, err)

	stamp := model.Reclassification{From: model.MemoryProcedural, To: model.MemoryReflective, At: edge.CreatedAt, Actor: "ethr"}
	updated, err := testDB.SetEdgeSector(ctx, projectID, edge.ID, model.MemoryReflective, stamp)
	require.NoError(t, err)

	assert.Equal(t, model.MemoryReflective, updated.MemorySector)
	reclass, ok := updated.Properties["last_reclassification"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ethr", reclass["actor"])
}

func TestProjectIsolation_CrossProjectReadReturnsNothing(t *testing.T) {
	ctx := context.Background()
	projectA := uuid.New()
	projectB := uuid.New()

	node, err := testDB.AddNode(ctx, projectA, "io", "Agent", nil)
	require.NoError(t, err)

	_, err = testDB.GetNode(ctx, projectB, node.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetMemoryStrengthForEdge_BestEffortNilOnMiss(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	logger := testutil.TestLogger()

	source, err := testDB.AddNode(ctx, projectID, "io", "Agent", nil)
	require.NoError(t, err)
	target, err := testDB.AddNode(ctx, projectID, "running", "Preference", nil)
	require.NoError(t, err)
	edge, err := testDB.AddEdge(ctx, projectID, source.ID, target.ID, "LIKES", 1.0, nil, model.MemorySemantic)
	require.NoError(t, err)

	_, ok := testDB.GetMemoryStrengthForEdge(ctx, logger, nil, projectID, edge.ID)
	assert.False(t, ok)
}

func TestAuditLog_RoundTrips(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	targetID := uuid.New()

	err := testDB.InsertAudit(ctx, model.AuditEntry{
		Actor:     "ethr",
		Action:    "EDGE_RECLASSIFY",
		TargetID:  &targetID,
		ProjectID: projectID,
		Payload:   map[string]any{"from": "semantic", "to": "reflective"},
	})
	require.NoError(t, err)

	entries, err := testDB.ListAuditEntries(ctx, projectID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "EDGE_RECLASSIFY", entries[0].Action)
}
