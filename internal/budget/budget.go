// Package budget implements the Budget/Cost Meter (§4.M): per-call cost
// accounting, monthly aggregation, and threshold alerting. Grounded on
// internal/billing/metering.go's usage-aggregation/quota-check shape
// (CurrentPeriod, a threshold comparison against a limit), repurposed from
// Stripe subscription quotas counted in decisions-per-org to dollar costs
// accumulated from per-model call rates.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noesis-ai/noesis/internal/model"
)

// Rates gives the per-model cost-per-token (or per-call, for embeddings)
// figures the meter multiplies usage by. Loaded from the YAML config file
// (§9 "Configuration"), not hardcoded.
type Rates struct {
	// InputPerToken and OutputPerToken price chat-style completions.
	InputPerToken  float64
	OutputPerToken float64
	// EmbeddingPerToken prices embedding calls, which have no separate
	// output leg.
	EmbeddingPerToken float64
}

// rateFileSchema is the on-disk YAML shape: a flat api_name -> rates map,
// the same "flat map keyed by the thing it parameterizes" shape as
// internal/decay's table.
type rateFileSchema map[string]Rates

// LoadRates reads the per-API cost-rate table from path. Unlike
// internal/decay.Load, there is no sensible built-in default for dollar
// costs, so a missing or malformed file is a startup error rather than a
// silent fallback.
func LoadRates(path string) (map[string]Rates, error) {
	if path == "" {
		return map[string]Rates{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("budget: read %s: %w", path, err)
	}
	var schema rateFileSchema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("budget: parse %s: %w", path, err)
	}
	return map[string]Rates(schema), nil
}

// Store is the subset of internal/storage.DB the meter needs.
type Store interface {
	InsertCostLog(ctx context.Context, e model.CostLogEntry) error
	MonthlyCostTotal(ctx context.Context, at time.Time) (float64, error)
	CostByAPI(ctx context.Context, at time.Time) (map[string]float64, error)
	DailyCostSeries(ctx context.Context, at time.Time) (map[string]float64, error)
	InsertBudgetAlert(ctx context.Context, a model.BudgetAlert) error
}

// Meter observes every external call and exposes monthly cost aggregation
// and threshold-based alerting.
type Meter struct {
	db       Store
	logger   *slog.Logger
	rates    map[string]Rates
	limit    float64
	alertPct float64
}

// NewMeter constructs a Meter. rates maps api_name to its cost rates; limit
// is the monthly budget ceiling; alertPct is the utilization fraction (e.g.
// 0.8) past which a projected overage raises a budget_alerts row.
func NewMeter(db Store, logger *slog.Logger, rates map[string]Rates, limit, alertPct float64) *Meter {
	return &Meter{db: db, logger: logger, rates: rates, limit: limit, alertPct: alertPct}
}

// RecordChatCall logs one chat-style completion call's cost and returns the
// cost it computed, so the caller can attach it to its own result (e.g.
// DissonanceCheckResult.EstimatedCost). Cost writes never fail callers
// (§4.M): a storage error is logged and swallowed, and the returned cost is
// still the value that would have been written.
func (m *Meter) RecordChatCall(ctx context.Context, apiName string, inputTokens, outputTokens int) float64 {
	rate := m.rates[apiName]
	cost := float64(inputTokens)*rate.InputPerToken + float64(outputTokens)*rate.OutputPerToken
	m.record(ctx, apiName, inputTokens+outputTokens, cost)
	return cost
}

// RecordEmbeddingCall logs one embedding call's cost and returns it.
func (m *Meter) RecordEmbeddingCall(ctx context.Context, apiName string, tokens int) float64 {
	rate := m.rates[apiName]
	cost := float64(tokens) * rate.EmbeddingPerToken
	m.record(ctx, apiName, tokens, cost)
	return cost
}

func (m *Meter) record(ctx context.Context, apiName string, tokens int, cost float64) {
	err := m.db.InsertCostLog(ctx, model.CostLogEntry{
		Date:          time.Now(),
		APIName:       apiName,
		NumCalls:      1,
		TokenCount:    tokens,
		EstimatedCost: cost,
	})
	if err != nil {
		m.logger.Warn("budget: cost log write failed", "api", apiName, "error", err)
		return
	}
	m.checkThreshold(ctx)
}

// MonthlyTotal returns the current calendar month's cost so far.
func (m *Meter) MonthlyTotal(ctx context.Context) (float64, error) {
	total, err := m.db.MonthlyCostTotal(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("budget: monthly total: %w", err)
	}
	return total, nil
}

// ByAPI returns the current month's per-API cost breakdown.
func (m *Meter) ByAPI(ctx context.Context) (map[string]float64, error) {
	out, err := m.db.CostByAPI(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("budget: cost by api: %w", err)
	}
	return out, nil
}

// DailySeries returns the current month's day-by-day cost series.
func (m *Meter) DailySeries(ctx context.Context) (map[string]float64, error) {
	out, err := m.db.DailyCostSeries(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("budget: daily series: %w", err)
	}
	return out, nil
}

// Projected extrapolates the current month's spend to a full-month total:
// (cost_so_far / days_elapsed) * days_in_month.
func (m *Meter) Projected(ctx context.Context) (float64, error) {
	costSoFar, err := m.MonthlyTotal(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	daysElapsed := now.Day()
	if daysElapsed == 0 {
		daysElapsed = 1
	}
	daysInMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day()
	return (costSoFar / float64(daysElapsed)) * float64(daysInMonth), nil
}

// checkThreshold raises a budget_alerts row when the projected month-end
// cost exceeds limit * alertPct (§4.M). Alert failures are logged only.
func (m *Meter) checkThreshold(ctx context.Context) {
	if m.limit <= 0 {
		return
	}
	projected, err := m.Projected(ctx)
	if err != nil {
		m.logger.Warn("budget: projection failed", "error", err)
		return
	}
	if projected <= m.limit*m.alertPct {
		return
	}

	utilization := projected / m.limit
	err = m.db.InsertBudgetAlert(ctx, model.BudgetAlert{
		AlertDate:      time.Now(),
		AlertType:      "PROJECTED_OVERAGE",
		ProjectedCost:  projected,
		BudgetLimit:    m.limit,
		UtilizationPct: utilization,
		AlertSent:      false,
	})
	if err != nil {
		m.logger.Warn("budget: alert write failed", "error", err)
	}
}
