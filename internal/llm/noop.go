package llm

import (
	"context"

	"github.com/noesis-ai/noesis/internal/model"
)

// NoopClient is the classifier used when no LLM provider is configured.
// Unlike the teacher's NoopValidator (which always reports a conflict to
// preserve a fail-safe default for decision conflicts), a dissonance
// classifier has no equivalent safe-to-assume default: reporting NONE is
// the only answer that doesn't fabricate a belief-revision signal out of
// an absent model.
type NoopClient struct{}

func (NoopClient) Classify(context.Context, ClassifyInput) (ClassifyResult, error) {
	return ClassifyResult{
		DissonanceType: model.DissonanceNone,
		Confidence:     0,
		Description:    "no LLM client configured",
		Reasoning:      "noop client always reports NONE",
	}, nil
}

func (NoopClient) Evaluate(context.Context, EvaluateInput) (EvaluateResult, error) {
	return EvaluateResult{Raw: ""}, nil
}
