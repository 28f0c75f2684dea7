package model

import "github.com/google/uuid"

// Direction constrains which side of an edge query_neighbors traverses.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionBoth     Direction = "both"
)

// FetchScope selects how far back fetch_edges_for_node looks.
type FetchScope string

const (
	ScopeRecent FetchScope = "recent"
	ScopeFull   FetchScope = "full"
)

// ValidScope reports whether s is a recognized fetch scope.
func ValidScope(s FetchScope) bool {
	return s == ScopeRecent || s == ScopeFull
}

// NeighborQuery carries query_neighbors' parameters, including the
// pagination the spec's distillation omitted (default 50, cap 1000,
// mirroring the teacher's list-endpoint convention).
type NeighborQuery struct {
	NodeID            uuid.UUID
	Relation          *string
	Depth             int
	Direction         Direction
	IncludeSuperseded bool
	Limit             int
	Offset            int
}

const (
	DefaultNeighborLimit = 50
	MaxNeighborLimit     = 1000
)

// Normalize applies the default/cap pagination rule and the 1..3 depth
// clamp in place.
func (q *NeighborQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = DefaultNeighborLimit
	}
	if q.Limit > MaxNeighborLimit {
		q.Limit = MaxNeighborLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Depth < 1 {
		q.Depth = 1
	}
	if q.Depth > 3 {
		q.Depth = 3
	}
}

// Neighbor is one result row of query_neighbors: the neighboring node's id
// annotated with the inbound edge data and its decay-adjusted relevance.
type Neighbor struct {
	NodeID         uuid.UUID `json:"node_id"`
	Edge           Edge      `json:"edge"`
	RelevanceScore float64   `json:"relevance_score"`
}
