package decay

import (
	"log/slog"
	"math"
	"time"

	"github.com/noesis-ai/noesis/internal/model"
)

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Score computes the decay-adjusted relevance of an edge at time now
// (passed in rather than read from the clock, so callers and tests control
// it explicitly). Constitutive edges always score 1.0 (invariant 2).
func (c *Config) Score(logger *slog.Logger, edge *model.Edge, now time.Time) float64 {
	start := time.Now()

	if edge.IsConstitutive() {
		return 1.0
	}

	p := c.For(edge.MemorySector)
	s := p.SBase * (1 + math.Log(1+float64(edge.AccessCount)))
	if p.HasFloor {
		s = math.Max(s, p.SFloor)
	}

	lastEngaged := edge.LastEngaged
	if lastEngaged == nil {
		lastEngaged = edge.LastAccessed
	}
	if lastEngaged == nil {
		return 1.0
	}

	days := now.UTC().Sub(lastEngaged.UTC()).Hours() / 24
	score := clamp(math.Exp(-days/s), 0.0, 1.0)

	if logger != nil {
		logger.Debug("decay: scored edge",
			"sector", edge.MemorySector,
			"s", s,
			"s_base", p.SBase,
			"s_floor", p.SFloor,
			"access_count", edge.AccessCount,
			"days", days,
			"score", score,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}

	return score
}
