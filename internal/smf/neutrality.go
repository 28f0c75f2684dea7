package smf

import (
	"strings"

	"github.com/noesis-ai/noesis/internal/model"
)

// stopWords is the case-insensitive framing stop-list (§4.H.2), listed in
// German/English pairs per the spec's bilingual requirement.
var stopWords = []string{
	"recommend", "empfehle",
	"urgent", "dringend",
	"important", "wichtig",
	"necessary", "notwendig",
	"must", "muss",
}

// NeutralityTemplate renders reasoning text from structured inputs
// (§4.H.2's template generator). Text produced by this function is accepted
// unconditionally by validateNeutrality, regardless of any stop-word it
// happens to contain — the structured fields are already neutral framing by
// construction.
type NeutralityTemplate struct {
	Detected      string
	Affected      string
	IfApproved    string
	IfRejected    string
	FullReasoning string
}

// Render produces the template's reasoning string and marks it as
// template-generated for the caller to pass through as reasoning alongside
// fromTemplate=true.
func (t NeutralityTemplate) Render() string {
	var b strings.Builder
	b.WriteString("Detected: ")
	b.WriteString(t.Detected)
	b.WriteString("\nAffected: ")
	b.WriteString(t.Affected)
	b.WriteString("\nIf approved: ")
	b.WriteString(t.IfApproved)
	b.WriteString("\nIf rejected: ")
	b.WriteString(t.IfRejected)
	if t.FullReasoning != "" {
		b.WriteString("\n\n")
		b.WriteString(t.FullReasoning)
	}
	return b.String()
}

// validateNeutrality scans reasoning for stop-list violations unless
// fromTemplate is set, in which case the text is accepted unconditionally
// (§4.H.2).
func validateNeutrality(reasoning string, fromTemplate bool) *model.CoreError {
	if fromTemplate {
		return nil
	}
	lower := strings.ToLower(reasoning)
	for _, w := range stopWords {
		if strings.Contains(lower, w) {
			return model.NewFieldError(model.ErrFramingViolation, "reasoning", "reasoning contains non-neutral language (%q)", w)
		}
	}
	return nil
}
