// Package dissonance implements the Dissonance Engine (§4.G): it fetches a
// context node's edges, enumerates unordered pairs, classifies each pair via
// the LLM Client, and aggregates the result. Grounded on
// internal/conflicts/scorer.go's ScoreForDecision shape — fetch candidates,
// loop pairs, classify, attach strength, emit — generalized from Qdrant
// candidate search + embedding cosine similarity to a direct edge-pair
// enumeration over one node's neighborhood, since the graph has no
// candidate-retrieval step: the context node already names its edge set.
package dissonance

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/noesis-ai/noesis/internal/llm"
	"github.com/noesis-ai/noesis/internal/model"
)

// maxPairs caps the per-call O(n^2) pair enumeration (§4.G step 3).
const maxPairs = 100

// Store is the subset of internal/storage.DB the engine needs.
type Store interface {
	ResolveNodeID(ctx context.Context, projectID uuid.UUID, nodeIDOrName string) (uuid.UUID, error)
	FetchEdgesForNode(ctx context.Context, projectID, nodeID uuid.UUID, scope model.FetchScope) ([]model.Edge, error)
	GetNode(ctx context.Context, projectID, id uuid.UUID) (*model.Node, error)
	GetMemoryStrengthForEdge(ctx context.Context, logger *slog.Logger, lookup MemoryStrengthLookup, projectID, edgeID uuid.UUID) (float64, bool)
	CreateNuanceReview(ctx context.Context, projectID uuid.UUID, dissonance model.DissonanceResult) (*model.NuanceReview, error)
}

// MemoryStrengthLookup is passed through verbatim to Store.GetMemoryStrengthForEdge.
type MemoryStrengthLookup interface {
	NearestInsightStrength(ctx context.Context, projectID, nodeID uuid.UUID) (float64, bool)
}

// FallbackActivator is the subset of internal/fallback.State the engine uses
// to record upstream exhaustion (§4.G step 5 -> §4.K transition).
type FallbackActivator interface {
	Activate(service string)
}

// classificationService names the fallback-tracked service the engine's LLM
// calls count against.
const classificationService = "llm_classify"

// Engine runs dissonance checks over a project's graph.
type Engine struct {
	db       Store
	client   llm.Client
	fallback FallbackActivator
	lookup   MemoryStrengthLookup
	logger   *slog.Logger
}

// New constructs an Engine. lookup may be nil (best-effort strength lookup
// degrades to the direct linked-vector path only).
func New(db Store, client llm.Client, fallback FallbackActivator, lookup MemoryStrengthLookup, logger *slog.Logger) *Engine {
	return &Engine{db: db, client: client, fallback: fallback, lookup: lookup, logger: logger}
}

// Check runs the full §4.G algorithm for one context node.
func (e *Engine) Check(ctx context.Context, projectID uuid.UUID, contextNode string, scope model.FetchScope) (*model.DissonanceCheckResult, error) {
	if !model.ValidScope(scope) {
		return nil, model.NewFieldError(model.ErrValidation, "scope", "scope must be one of %q or %q", model.ScopeRecent, model.ScopeFull)
	}

	result := &model.DissonanceCheckResult{
		Scope:  string(scope),
		Status: model.CheckSuccess,
	}

	nodeID, err := e.db.ResolveNodeID(ctx, projectID, contextNode)
	if err != nil {
		result.Status = model.CheckInsufficientData
		return result, nil
	}
	result.ContextNode = nodeID

	edges, err := e.db.FetchEdgesForNode(ctx, projectID, nodeID, scope)
	if err != nil {
		return nil, err
	}
	result.EdgesAnalyzed = len(edges)
	if len(edges) < 2 {
		result.Status = model.CheckInsufficientData
		return result, nil
	}

	contextNodeLabel := e.describeNode(ctx, projectID, nodeID)

	pairsAnalyzed := 0
pairLoop:
	for i := 0; i < len(edges); i++ {
		for j := i + 1; j < len(edges); j++ {
			if pairsAnalyzed >= maxPairs {
				e.logger.Warn("dissonance: clipped pair enumeration", "context_node", nodeID, "max_pairs", maxPairs)
				break pairLoop
			}
			pairsAnalyzed++

			dr, review, skip, usage, cost, callMade, err := e.classifyPair(ctx, projectID, contextNodeLabel, edges[i], edges[j])
			if callMade {
				result.APICalls++
				result.TotalTokens += usage.InputTokens + usage.OutputTokens
				result.EstimatedCost += cost
			}
			if err != nil {
				if llm.IsUpstreamExhausted(err) {
					if e.fallback != nil {
						e.fallback.Activate(classificationService)
					}
					result.Status = model.CheckSkipped
					result.Fallback = true
					return result, nil
				}
				e.logger.Warn("dissonance: pair classification failed, skipping pair", "edge_a", edges[i].ID, "edge_b", edges[j].ID, "error", err)
				continue
			}
			if skip {
				continue
			}

			result.ConflictsFound++
			result.Dissonances = append(result.Dissonances, *dr)
			if review != nil {
				result.PendingReviews = append(result.PendingReviews, *review)
			}
		}
	}

	return result, nil
}

// classifyPair runs one pair through §4.F classify, attaching strength and
// creating a NuanceReview when applicable. skip is true when the
// classification came back NONE. callMade reports whether e.client.Classify
// was actually invoked (as opposed to, say, a validation failure before the
// call), so Check can roll usage/cost into DissonanceCheckResult (§4.G)
// regardless of how the pair's classification ultimately resolved.
func (e *Engine) classifyPair(ctx context.Context, projectID uuid.UUID, contextNodeLabel string, a, b model.Edge) (dr *model.DissonanceResult, review *model.NuanceReview, skip bool, usage llm.Usage, cost float64, callMade bool, err error) {
	input := llm.ClassifyInput{
		EdgeADescription: e.describeEdge(ctx, projectID, a),
		EdgeBDescription: e.describeEdge(ctx, projectID, b),
		RelationA:        a.Relation,
		RelationB:        b.Relation,
		SectorA:          a.MemorySector,
		SectorB:          b.MemorySector,
		ContextNode:      contextNodeLabel,
	}

	out, err := e.client.Classify(ctx, input)
	callMade = true
	if err != nil {
		return nil, nil, false, llm.Usage{}, 0, callMade, err
	}
	usage = out.Usage
	cost = out.EstimatedCost
	if out.DissonanceType == model.DissonanceNone {
		return nil, nil, true, usage, cost, callMade, nil
	}

	result := model.DissonanceResult{
		EdgeAID:     a.ID,
		EdgeBID:     b.ID,
		Type:        out.DissonanceType,
		Confidence:  out.Confidence,
		Description: out.Description,
		Context:     contextNodeLabel,
	}
	e.attachStrength(ctx, projectID, &result)

	if out.DissonanceType == model.DissonanceNuance {
		r, err := e.db.CreateNuanceReview(ctx, projectID, result)
		if err != nil {
			e.logger.Warn("dissonance: create nuance review failed", "edge_a", a.ID, "edge_b", b.ID, "error", err)
		} else {
			review = r
		}
	}

	return &result, review, false, usage, cost, callMade, nil
}

// attachStrength sets edge_a_strength/edge_b_strength and, when both are
// present, authoritative_source (§4.G step 4). Best-effort: a miss on
// either side leaves the corresponding field nil.
func (e *Engine) attachStrength(ctx context.Context, projectID uuid.UUID, dr *model.DissonanceResult) {
	strengthA, okA := e.db.GetMemoryStrengthForEdge(ctx, e.logger, e.lookup, projectID, dr.EdgeAID)
	if okA {
		dr.EdgeAStrength = &strengthA
	}
	strengthB, okB := e.db.GetMemoryStrengthForEdge(ctx, e.logger, e.lookup, projectID, dr.EdgeBID)
	if okB {
		dr.EdgeBStrength = &strengthB
	}
	if okA && okB {
		if strengthA >= strengthB {
			dr.AuthoritativeSource = &dr.EdgeAID
		} else {
			dr.AuthoritativeSource = &dr.EdgeBID
		}
	}
}

func (e *Engine) describeNode(ctx context.Context, projectID, nodeID uuid.UUID) string {
	n, err := e.db.GetNode(ctx, projectID, nodeID)
	if err != nil {
		return nodeID.String()
	}
	return n.Name
}

func (e *Engine) describeEdge(ctx context.Context, projectID uuid.UUID, edge model.Edge) string {
	source := e.describeNode(ctx, projectID, edge.SourceID)
	target := e.describeNode(ctx, projectID, edge.TargetID)
	return source + " " + edge.Relation + " " + target
}
