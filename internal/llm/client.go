// Package llm implements the thin contract for the two model operations the
// core needs (§4.F): classifying a dissonance pair and the evaluate/reflect
// contract used by external collaborators. Modeled directly on the
// teacher's internal/conflicts Validator/OllamaValidator/OpenAIValidator
// triad — prompt construction, a robust response parser, and one HTTP
// implementation per provider.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/noesis-ai/noesis/internal/model"
)

// ClassifyInput holds the pair-of-edges context the classification prompt
// is built from.
type ClassifyInput struct {
	EdgeADescription string
	EdgeBDescription string
	RelationA        string
	RelationB        string
	SectorA          model.MemorySector
	SectorB          model.MemorySector
	ContextNode      string
}

// ClassifyResult is the parsed, normalized classifier output.
type ClassifyResult struct {
	DissonanceType model.DissonanceType
	Confidence     float64
	Description    string
	Reasoning      string
	// Usage and EstimatedCost reflect the call that produced this result,
	// so callers (the Dissonance Engine) can roll them into
	// DissonanceCheckResult's APICalls/TotalTokens/EstimatedCost (§4.G).
	Usage         Usage
	EstimatedCost float64
}

// EvaluateInput and EvaluateResult carry the evaluate/reflect contract used
// by external collaborators; the core only needs calls to route through the
// retry wrapper and cost logging, never interprets the content itself.
type EvaluateInput struct {
	Prompt string
}

type EvaluateResult struct {
	Raw           string
	Usage         Usage
	EstimatedCost float64
}

// Usage carries a completion call's token counts, read off the provider's
// response (§4.M: "append one row with ... token_count").
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CostRecorder is the subset of internal/budget.Meter a client needs to log
// every external call's cost. Declared locally, the same narrow-interface
// shape internal/dissonance uses for internal/fallback.State, so
// internal/llm never imports internal/budget directly. Satisfied by
// *budget.Meter.
type CostRecorder interface {
	RecordChatCall(ctx context.Context, apiName string, inputTokens, outputTokens int) float64
	RecordEmbeddingCall(ctx context.Context, apiName string, tokens int) float64
}

// Client is the contract both classify and evaluate operations share.
// Implementations must enforce temperature=0 for Classify (determinism per
// §4.F) and must fail fast at construction on a missing or placeholder API
// key rather than on first call.
type Client interface {
	Classify(ctx context.Context, input ClassifyInput) (ClassifyResult, error)
	Evaluate(ctx context.Context, input EvaluateInput) (EvaluateResult, error)
}

// classifyResponseSchema is the JSON shape the prompt asks the model to
// return. Field names are contractual — they come directly from §4.F.
type classifyResponseSchema struct {
	DissonanceType  string  `json:"dissonance_type"`
	ConfidenceScore float64 `json:"confidence_score"`
	Description     string  `json:"description"`
	Reasoning       string  `json:"reasoning"`
}

// formatClassifyPrompt builds the pair-of-edges classification prompt,
// asking for JSON output matching classifyResponseSchema.
func formatClassifyPrompt(input ClassifyInput) string {
	var b strings.Builder
	b.WriteString("You are a dissonance classifier for a cognitive knowledge graph.\n\n")
	fmt.Fprintf(&b, "Context node: %s\n\n", input.ContextNode)
	fmt.Fprintf(&b, "Edge A (relation %q, sector %s):\n%s\n\n", input.RelationA, input.SectorA, input.EdgeADescription)
	fmt.Fprintf(&b, "Edge B (relation %q, sector %s):\n%s\n\n", input.RelationB, input.SectorB, input.EdgeBDescription)
	b.WriteString(`Classify the relationship between Edge A and Edge B:

- EVOLUTION: Edge B is a later, updated version of the same belief as Edge A (the belief changed over time without conflict).
- CONTRADICTION: Edge A and Edge B make incompatible claims that cannot both be true at once.
- NUANCE: Edge A and Edge B are both plausibly true but sit in tension and warrant human confirmation.
- NONE: no meaningful relationship between the two edges.

Respond with a single JSON object, no surrounding prose or markdown fences:
{"dissonance_type": "EVOLUTION|CONTRADICTION|NUANCE|NONE", "confidence_score": <0..1>, "description": "<one sentence>", "reasoning": "<one sentence>"}`)
	return b.String()
}

// ParseClassifyResponse extracts a ClassifyResult from a raw model
// response, tolerating markdown code fences some providers wrap JSON in.
// A response whose JSON fails to parse is itself a pair-level error, not a
// crash: callers skip the pair and continue (§4.G step 6).
func ParseClassifyResponse(raw string) (ClassifyResult, error) {
	cleaned := stripCodeFence(raw)

	var schema classifyResponseSchema
	if err := json.Unmarshal([]byte(cleaned), &schema); err != nil {
		return ClassifyResult{}, fmt.Errorf("llm: parse classify response: %w", err)
	}

	return ClassifyResult{
		DissonanceType: model.NormalizeDissonanceType(schema.DissonanceType),
		Confidence:     clampUnit(schema.ConfidenceScore),
		Description:    strings.TrimSpace(schema.Description),
		Reasoning:      strings.TrimSpace(schema.Reasoning),
	}, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// stripCodeFence removes a leading/trailing ```json ... ``` or ``` ... ```
// fence some chat models wrap structured output in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// perCallTimeout bounds a single classification call to an external API.
const perCallTimeout = 15 * time.Second

// ollamaPerCallTimeout is higher to account for local model cold start.
const ollamaPerCallTimeout = 90 * time.Second
