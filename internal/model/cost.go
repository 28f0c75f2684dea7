package model

import "time"

// CostLogEntry is one row of per-call monetary cost accounting.
type CostLogEntry struct {
	ID            int64     `json:"id"`
	Date          time.Time `json:"date"`
	APIName       string    `json:"api_name"`
	NumCalls      int       `json:"num_calls"`
	TokenCount    int       `json:"token_count"`
	EstimatedCost float64   `json:"estimated_cost"`
	CreatedAt     time.Time `json:"created_at"`
}

// RetryLogEntry records one retry-wrapper outcome for §4.E's success/failure
// logging contract.
type RetryLogEntry struct {
	ID         int64     `json:"id"`
	APIName    string    `json:"api_name"`
	ErrorType  string    `json:"error_type,omitempty"`
	RetryCount int       `json:"retry_count"`
	Success    bool      `json:"success"`
	CreatedAt  time.Time `json:"created_at"`
}

// BudgetAlert records a threshold breach raised by the Budget/Cost Meter.
type BudgetAlert struct {
	ID                  int64     `json:"id"`
	AlertDate           time.Time `json:"alert_date"`
	AlertType           string    `json:"alert_type"`
	ProjectedCost       float64   `json:"projected_cost"`
	BudgetLimit         float64   `json:"budget_limit"`
	UtilizationPct      float64   `json:"utilization_pct"`
	AlertSent           bool      `json:"alert_sent"`
	NotificationMethods []string  `json:"notification_methods,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}
