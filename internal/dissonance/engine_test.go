package dissonance

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noesis-ai/noesis/internal/llm"
	"github.com/noesis-ai/noesis/internal/model"
)

type fakeStore struct {
	nodesByID   map[uuid.UUID]*model.Node
	nodesByName map[string]*model.Node
	edges       []model.Edge
	strengths   map[uuid.UUID]float64
	reviews     []model.DissonanceResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nodesByID:   map[uuid.UUID]*model.Node{},
		nodesByName: map[string]*model.Node{},
		strengths:   map[uuid.UUID]float64{},
	}
}

func (f *fakeStore) addNode(name string) *model.Node {
	n := &model.Node{ID: uuid.New(), Name: name}
	f.nodesByID[n.ID] = n
	f.nodesByName[name] = n
	return n
}

func (f *fakeStore) ResolveNodeID(ctx context.Context, projectID uuid.UUID, nodeIDOrName string) (uuid.UUID, error) {
	n, ok := f.nodesByName[nodeIDOrName]
	if !ok {
		return uuid.Nil, assert.AnError
	}
	return n.ID, nil
}

func (f *fakeStore) FetchEdgesForNode(ctx context.Context, projectID, nodeID uuid.UUID, scope model.FetchScope) ([]model.Edge, error) {
	return f.edges, nil
}

func (f *fakeStore) GetNode(ctx context.Context, projectID, id uuid.UUID) (*model.Node, error) {
	n, ok := f.nodesByID[id]
	if !ok {
		return nil, assert.AnError
	}
	return n, nil
}

func (f *fakeStore) GetMemoryStrengthForEdge(ctx context.Context, logger *slog.Logger, lookup MemoryStrengthLookup, projectID, edgeID uuid.UUID) (float64, bool) {
	s, ok := f.strengths[edgeID]
	return s, ok
}

func (f *fakeStore) CreateNuanceReview(ctx context.Context, projectID uuid.UUID, dr model.DissonanceResult) (*model.NuanceReview, error) {
	f.reviews = append(f.reviews, dr)
	return &model.NuanceReview{ID: uuid.New(), ProjectID: projectID, Dissonance: dr, Status: model.NuanceStatus("pending")}, nil
}

type fakeClient struct {
	results []llm.ClassifyResult
	errs    []error
	calls   int
}

func (f *fakeClient) Classify(ctx context.Context, input llm.ClassifyInput) (llm.ClassifyResult, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return llm.ClassifyResult{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return llm.ClassifyResult{DissonanceType: model.DissonanceNone}, nil
}

func (f *fakeClient) Evaluate(ctx context.Context, input llm.EvaluateInput) (llm.EvaluateResult, error) {
	return llm.EvaluateResult{}, nil
}

type fakeFallback struct {
	activated []string
}

func (f *fakeFallback) Activate(service string) {
	f.activated = append(f.activated, service)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func twoEdges(store *fakeStore) (model.Edge, model.Edge) {
	a1, a2 := store.addNode("alice"), store.addNode("bob")
	b1, b2 := store.addNode("carol"), store.addNode("dave")
	edgeA := model.Edge{ID: uuid.New(), SourceID: a1.ID, TargetID: a2.ID, Relation: "trusts", MemorySector: model.MemorySemantic}
	edgeB := model.Edge{ID: uuid.New(), SourceID: b1.ID, TargetID: b2.ID, Relation: "trusts", MemorySector: model.MemorySemantic}
	return edgeA, edgeB
}

func TestCheck_RejectsInvalidScope(t *testing.T) {
	e := New(newFakeStore(), &fakeClient{}, nil, nil, testLogger())
	_, err := e.Check(context.Background(), uuid.New(), "x", model.FetchScope("bogus"))
	require.Error(t, err)
}

func TestCheck_InsufficientDataWhenContextNodeUnresolved(t *testing.T) {
	e := New(newFakeStore(), &fakeClient{}, nil, nil, testLogger())
	result, err := e.Check(context.Background(), uuid.New(), "missing", model.ScopeRecent)
	require.NoError(t, err)
	assert.Equal(t, model.CheckInsufficientData, result.Status)
}

func TestCheck_InsufficientDataWhenFewerThanTwoEdges(t *testing.T) {
	store := newFakeStore()
	store.addNode("alice")
	store.edges = []model.Edge{{ID: uuid.New()}}
	e := New(store, &fakeClient{}, nil, nil, testLogger())
	result, err := e.Check(context.Background(), uuid.New(), "alice", model.ScopeRecent)
	require.NoError(t, err)
	assert.Equal(t, model.CheckInsufficientData, result.Status)
}

func TestCheck_NoneIsSkippedNotReported(t *testing.T) {
	store := newFakeStore()
	edgeA, edgeB := twoEdges(store)
	store.edges = []model.Edge{edgeA, edgeB}
	client := &fakeClient{results: []llm.ClassifyResult{{DissonanceType: model.DissonanceNone}}}

	e := New(store, client, nil, nil, testLogger())
	result, err := e.Check(context.Background(), uuid.New(), "alice", model.ScopeRecent)
	require.NoError(t, err)
	assert.Equal(t, model.CheckSuccess, result.Status)
	assert.Equal(t, 0, result.ConflictsFound)
}

func TestCheck_ContradictionIsReportedWithStrengths(t *testing.T) {
	store := newFakeStore()
	edgeA, edgeB := twoEdges(store)
	store.edges = []model.Edge{edgeA, edgeB}
	store.strengths[edgeA.ID] = 0.9
	store.strengths[edgeB.ID] = 0.4
	client := &fakeClient{results: []llm.ClassifyResult{{DissonanceType: model.DissonanceContradiction, Confidence: 0.8}}}

	e := New(store, client, nil, nil, testLogger())
	result, err := e.Check(context.Background(), uuid.New(), "alice", model.ScopeRecent)
	require.NoError(t, err)
	require.Len(t, result.Dissonances, 1)
	dr := result.Dissonances[0]
	require.NotNil(t, dr.EdgeAStrength)
	require.NotNil(t, dr.EdgeBStrength)
	assert.Equal(t, edgeA.ID, *dr.AuthoritativeSource)
}

func TestCheck_NuanceCreatesReview(t *testing.T) {
	store := newFakeStore()
	edgeA, edgeB := twoEdges(store)
	store.edges = []model.Edge{edgeA, edgeB}
	client := &fakeClient{results: []llm.ClassifyResult{{DissonanceType: model.DissonanceNuance}}}

	e := New(store, client, nil, nil, testLogger())
	result, err := e.Check(context.Background(), uuid.New(), "alice", model.ScopeRecent)
	require.NoError(t, err)
	require.Len(t, result.PendingReviews, 1)
	assert.Len(t, store.reviews, 1)
}

func TestCheck_UpstreamExhaustionActivatesFallbackAndSkips(t *testing.T) {
	store := newFakeStore()
	edgeA, edgeB := twoEdges(store)
	store.edges = []model.Edge{edgeA, edgeB}
	client := &fakeClient{errs: []error{llm.ErrUpstreamExhausted}}
	fb := &fakeFallback{}

	e := New(store, client, fb, nil, testLogger())
	result, err := e.Check(context.Background(), uuid.New(), "alice", model.ScopeRecent)
	require.NoError(t, err)
	assert.Equal(t, model.CheckSkipped, result.Status)
	assert.True(t, result.Fallback)
	assert.Equal(t, []string{classificationService}, fb.activated)
}

func TestCheck_OrdinaryClassifyFailureSkipsPairNotWholeCheck(t *testing.T) {
	store := newFakeStore()
	edgeA, edgeB := twoEdges(store)
	store.edges = []model.Edge{edgeA, edgeB}
	client := &fakeClient{errs: []error{assert.AnError}}

	e := New(store, client, nil, nil, testLogger())
	result, err := e.Check(context.Background(), uuid.New(), "alice", model.ScopeRecent)
	require.NoError(t, err)
	assert.Equal(t, model.CheckSuccess, result.Status)
	assert.Equal(t, 0, result.ConflictsFound)
}

func TestCheck_AggregatesAPICallsTokensAndCost(t *testing.T) {
	store := newFakeStore()
	edgeA, edgeB := twoEdges(store)
	store.edges = []model.Edge{edgeA, edgeB}
	client := &fakeClient{results: []llm.ClassifyResult{
		{
			DissonanceType: model.DissonanceContradiction,
			Confidence:     0.8,
			Usage:          llm.Usage{InputTokens: 120, OutputTokens: 40},
			EstimatedCost:  0.002,
		},
	}}

	e := New(store, client, nil, nil, testLogger())
	result, err := e.Check(context.Background(), uuid.New(), "alice", model.ScopeRecent)
	require.NoError(t, err)
	assert.Equal(t, 1, result.APICalls)
	assert.Equal(t, 160, result.TotalTokens)
	assert.InDelta(t, 0.002, result.EstimatedCost, 1e-9)
}

func TestCheck_CountsAPICallEvenWhenClassifyErrors(t *testing.T) {
	store := newFakeStore()
	edgeA, edgeB := twoEdges(store)
	store.edges = []model.Edge{edgeA, edgeB}
	client := &fakeClient{errs: []error{assert.AnError}}

	e := New(store, client, nil, nil, testLogger())
	result, err := e.Check(context.Background(), uuid.New(), "alice", model.ScopeRecent)
	require.NoError(t, err)
	assert.Equal(t, 1, result.APICalls)
	assert.Equal(t, 0, result.TotalTokens)
}
