package search

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestQdrantIndex creates a QdrantIndex connected to a local address.
// The connection may succeed (gRPC lazy connects) even if no server is
// running, but actual RPCs will fail. This is sufficient for testing
// early-return paths, error handling, and caching logic.
func newTestQdrantIndex(t *testing.T, embedder NodeEmbedder, nodes NodeTextSource) *QdrantIndex {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(nil, nil))
	idx, err := NewQdrantIndex(QdrantConfig{
		URL:        "http://localhost:16334", // Non-standard port, no server running.
		Collection: "test_insights",
		Dims:       1024,
	}, embedder, nodes, logger)
	require.NoError(t, err, "NewQdrantIndex should succeed (gRPC is lazy-connect)")
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestNewQdrantIndex_Valid(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(nil, nil))

	idx, err := NewQdrantIndex(QdrantConfig{
		URL:        "http://localhost:6333",
		Collection: "l2_insights",
		Dims:       1024,
	}, nil, nil, logger)

	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, "l2_insights", idx.collection)
	assert.Equal(t, uint64(1024), idx.dims)
	assert.NotNil(t, idx.client)

	_ = idx.Close()
}

func TestNewQdrantIndex_InvalidURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(nil, nil))

	_, err := NewQdrantIndex(QdrantConfig{
		URL:        "",
		Collection: "l2_insights",
		Dims:       1024,
	}, nil, nil, logger)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid qdrant URL")
}

func TestNewQdrantIndex_HTTPSConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(nil, nil))

	idx, err := NewQdrantIndex(QdrantConfig{
		URL:        "https://qdrant.example.com:6333",
		APIKey:     "test-api-key",
		Collection: "l2_insights",
		Dims:       1536,
	}, nil, nil, logger)

	require.NoError(t, err)
	require.NotNil(t, idx)

	_ = idx.Close()
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

type fakeNodeText struct {
	text string
	err  error
}

func (f fakeNodeText) NodeSearchText(ctx context.Context, projectID, nodeID uuid.UUID) (string, error) {
	return f.text, f.err
}

func TestNearestInsightStrength_NilCollaboratorsReturnFalse(t *testing.T) {
	idx := newTestQdrantIndex(t, nil, nil)

	_, ok := idx.NearestInsightStrength(context.Background(), uuid.New(), uuid.New())
	assert.False(t, ok, "missing embedder/nodes should short-circuit to false, never panic or call the network")
}

func TestNearestInsightStrength_NodeTextLookupFails(t *testing.T) {
	idx := newTestQdrantIndex(t, fakeEmbedder{}, fakeNodeText{err: assert.AnError})

	_, ok := idx.NearestInsightStrength(context.Background(), uuid.New(), uuid.New())
	assert.False(t, ok, "a node text lookup failure must be swallowed, not propagated")
}

func TestNearestInsightStrength_EmptyNodeTextReturnsFalse(t *testing.T) {
	idx := newTestQdrantIndex(t, fakeEmbedder{}, fakeNodeText{text: ""})

	_, ok := idx.NearestInsightStrength(context.Background(), uuid.New(), uuid.New())
	assert.False(t, ok)
}

func TestNearestInsightStrength_EmbedderFailureReturnsFalse(t *testing.T) {
	idx := newTestQdrantIndex(t, fakeEmbedder{err: assert.AnError}, fakeNodeText{text: "alice"})

	_, ok := idx.NearestInsightStrength(context.Background(), uuid.New(), uuid.New())
	assert.False(t, ok, "an embedding failure must be swallowed per the best-effort contract")
}

func TestNearestInsightStrength_NoServerReturnsFalseNotError(t *testing.T) {
	idx := newTestQdrantIndex(t, fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}, fakeNodeText{text: "alice likes coffee"})

	// No Qdrant server is actually listening, so the Query RPC fails — this
	// must still come back as (0, false), never an error, per §9's
	// "best-effort lookups swallow errors and return null" guidance.
	_, ok := idx.NearestInsightStrength(context.Background(), uuid.New(), uuid.New())
	assert.False(t, ok)
}
