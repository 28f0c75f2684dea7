package llm

import (
	"errors"
	"strings"
)

// ErrUpstreamExhausted is the named error the Dissonance Engine watches for:
// on a match, the entire check aborts with status=skipped, fallback=true
// rather than propagating the error.
var ErrUpstreamExhausted = errors.New("llm: upstream exhausted")

// exhaustionHints are substrings that identify an underlying error as
// upstream exhaustion rather than an ordinary pair-level failure. Matched
// case-insensitively against the wrapped error's message, per §4.G's "hints
// at API exhaustion (rate limit / service unavailable / the LLM client
// name)" rule.
var exhaustionHints = []string{
	"rate limit",
	"rate-limit",
	"too many requests",
	"service unavailable",
	"ollama",
	"openai",
}

// Any occurrence of the LLM client's own name in a failure message is
// treated as an exhaustion hint too (not just rate-limit wording) — this is
// deliberately generous: a provider-branded error after retries almost
// always means the upstream itself is down, not a one-off pair failure.

// IsUpstreamExhausted reports whether err (directly or by message content)
// indicates the classification upstream is exhausted.
func IsUpstreamExhausted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUpstreamExhausted) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range exhaustionHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
