// Package search provides the best-effort nearest-insight lookup backing
// get_memory_strength_for_edge (§4.D) when neither edge endpoint carries a
// direct vector_id link. It embeds the node's own name/label text, runs an
// ANN search against the l2_insights Qdrant mirror, and returns the
// memory_strength of whichever insight comes back closest — never an
// error, per spec.md §9's "best-effort lookups swallow errors and return
// null" guidance.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// Point is the data needed to upsert a single insight into Qdrant.
type Point struct {
	ID             uuid.UUID
	ProjectID      uuid.UUID
	MemoryStrength float64
	Embedding      []float32
}

// NodeEmbedder produces an embedding vector for a node's name/label text,
// so NearestInsightStrength has something to search with — nodes
// themselves carry no embedding, only linked insights do.
type NodeEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NodeTextSource resolves the name/label text NodeEmbedder embeds.
type NodeTextSource interface {
	NodeSearchText(ctx context.Context, projectID, nodeID uuid.UUID) (string, error)
}

// QdrantIndex mirrors l2_insights into Qdrant for ANN search, backed by
// Qdrant Cloud or a self-hosted instance.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger
	embedder   NodeEmbedder
	nodes      NodeTextSource

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantIndex creates a new QdrantIndex and connects to the Qdrant server via gRPC.
func NewQdrantIndex(cfg QdrantConfig, embedder NodeEmbedder, nodes NodeTextSource, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
		embedder:   embedder,
		nodes:      nodes,
	}, nil
}

// EnsureCollection creates the collection if it doesn't already exist, with
// HNSW parameters tuned for cosine similarity over insight embeddings.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("search: check collection exists: %w", err)
	}
	if exists {
		q.logger.Info("qdrant: collection already exists", "collection", q.collection)
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dims,
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("search: create collection %q: %w", q.collection, err)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "project_id",
		FieldType:      &keywordType,
	}); err != nil {
		return fmt.Errorf("search: create index on project_id: %w", err)
	}

	q.logger.Info("qdrant: created collection with payload index", "collection", q.collection, "dims", q.dims)
	return nil
}

// NearestInsightStrength implements storage.MemoryStrengthLookup: it
// embeds nodeID's name/label text, searches for the nearest insight point
// scoped to projectID, and returns that insight's memory_strength. Any
// failure along the way — missing node text, embedder error, empty result
// set, malformed payload — returns (0, false) rather than an error.
func (q *QdrantIndex) NearestInsightStrength(ctx context.Context, projectID, nodeID uuid.UUID) (float64, bool) {
	if q.embedder == nil || q.nodes == nil {
		return 0, false
	}
	text, err := q.nodes.NodeSearchText(ctx, projectID, nodeID)
	if err != nil || text == "" {
		return 0, false
	}
	vec, err := q.embedder.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		return 0, false
	}

	limit := uint64(1)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("project_id", projectID.String())}},
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil || len(scored) == 0 {
		return 0, false
	}

	fields := scored[0].GetPayload()
	strengthVal, ok := fields["memory_strength"]
	if !ok {
		return 0, false
	}
	return strengthVal.GetDoubleValue(), true
}

// Upsert inserts or updates insight points in Qdrant.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]any{
			"project_id":      p.ProjectID.String(),
			"memory_strength": p.MemoryStrength,
		}
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID.String()),
			Vectors: qdrant.NewVectorsDense(p.Embedding),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("search: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteByIDs removes specific insight points from Qdrant.
func (q *QdrantIndex) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id.String())
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: pointIDs,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("search: qdrant delete %d points: %w", len(ids), err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds to avoid hammering the health endpoint on every lookup.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	q.healthMu.Lock()
	defer q.healthMu.Unlock()

	if time.Since(q.lastCheck) < 5*time.Second {
		return q.lastErr
	}

	_, err := q.client.HealthCheck(ctx)
	q.lastCheck = time.Now()
	if err != nil {
		q.lastErr = fmt.Errorf("search: qdrant unhealthy: %w", err)
	} else {
		q.lastErr = nil
	}
	return q.lastErr
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
