package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/noesis-ai/noesis/internal/model"
)

// RetryLogger adapts DB to internal/retry's Logger interface: retry outcomes
// are persisted to api_retry_log, and a write failure here is logged, never
// surfaced — the retry wrapper never fails the caller because of its own
// logging errors (§4.E).
type RetryLogger struct {
	DB     *DB
	Logger *slog.Logger
}

func (l RetryLogger) LogRetryOutcome(ctx context.Context, apiName, lastErrorType string, retryCount int, success bool) {
	err := l.DB.InsertRetryLog(ctx, model.RetryLogEntry{
		APIName:    apiName,
		ErrorType:  lastErrorType,
		RetryCount: retryCount,
		Success:    success,
	})
	if err != nil {
		l.Logger.Warn("storage: retry log write failed", "api", apiName, "error", err)
	}
}

// InsertCostLog appends one api_cost_log row (§4.M). Cost writes never fail
// callers: errors are returned for the caller to log, never to abort the
// triggering external call.
func (db *DB) InsertCostLog(ctx context.Context, e model.CostLogEntry) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_cost_log (date, api_name, num_calls, token_count, estimated_cost)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.Date, e.APIName, e.NumCalls, e.TokenCount, e.EstimatedCost)
	if err != nil {
		return fmt.Errorf("storage: insert cost log: %w", err)
	}
	return nil
}

// MonthlyCostTotal sums estimated_cost for the calendar month containing at.
func (db *DB) MonthlyCostTotal(ctx context.Context, at time.Time) (float64, error) {
	var total float64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(estimated_cost), 0) FROM api_cost_log
		 WHERE date_trunc('month', date) = date_trunc('month', $1::timestamptz)`,
		at).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("storage: monthly cost total: %w", err)
	}
	return total, nil
}

// CostByAPI returns the per-API cost breakdown for the calendar month
// containing at.
func (db *DB) CostByAPI(ctx context.Context, at time.Time) (map[string]float64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT api_name, SUM(estimated_cost) FROM api_cost_log
		 WHERE date_trunc('month', date) = date_trunc('month', $1::timestamptz)
		 GROUP BY api_name`,
		at)
	if err != nil {
		return nil, fmt.Errorf("storage: cost by api: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var api string
		var cost float64
		if err := rows.Scan(&api, &cost); err != nil {
			return nil, fmt.Errorf("storage: scan cost by api: %w", err)
		}
		out[api] = cost
	}
	return out, rows.Err()
}

// DailyCostSeries returns one total per day for the calendar month
// containing at, ordered by date ascending.
func (db *DB) DailyCostSeries(ctx context.Context, at time.Time) (map[string]float64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT to_char(date, 'YYYY-MM-DD'), SUM(estimated_cost) FROM api_cost_log
		 WHERE date_trunc('month', date) = date_trunc('month', $1::timestamptz)
		 GROUP BY 1 ORDER BY 1`,
		at)
	if err != nil {
		return nil, fmt.Errorf("storage: daily cost series: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var day string
		var cost float64
		if err := rows.Scan(&day, &cost); err != nil {
			return nil, fmt.Errorf("storage: scan daily cost: %w", err)
		}
		out[day] = cost
	}
	return out, rows.Err()
}

// InsertRetryLog appends one api_retry_log row (§4.E's success/failure
// logging contract).
func (db *DB) InsertRetryLog(ctx context.Context, e model.RetryLogEntry) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_retry_log (api_name, error_type, retry_count, success)
		 VALUES ($1, $2, $3, $4)`,
		e.APIName, e.ErrorType, e.RetryCount, e.Success)
	if err != nil {
		return fmt.Errorf("storage: insert retry log: %w", err)
	}
	return nil
}

// InsertBudgetAlert appends one budget_alerts row.
func (db *DB) InsertBudgetAlert(ctx context.Context, a model.BudgetAlert) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO budget_alerts (alert_date, alert_type, projected_cost, budget_limit, utilization_pct, alert_sent, notification_methods)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.AlertDate, a.AlertType, a.ProjectedCost, a.BudgetLimit, a.UtilizationPct, a.AlertSent, a.NotificationMethods)
	if err != nil {
		return fmt.Errorf("storage: insert budget alert: %w", err)
	}
	return nil
}
