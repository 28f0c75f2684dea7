package budget

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noesis-ai/noesis/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	costLogs     []model.CostLogEntry
	monthlyTotal float64
	alerts       []model.BudgetAlert
}

func (f *fakeStore) InsertCostLog(ctx context.Context, e model.CostLogEntry) error {
	f.costLogs = append(f.costLogs, e)
	f.monthlyTotal += e.EstimatedCost
	return nil
}

func (f *fakeStore) MonthlyCostTotal(ctx context.Context, at time.Time) (float64, error) {
	return f.monthlyTotal, nil
}

func (f *fakeStore) CostByAPI(ctx context.Context, at time.Time) (map[string]float64, error) {
	out := map[string]float64{}
	for _, e := range f.costLogs {
		out[e.APIName] += e.EstimatedCost
	}
	return out, nil
}

func (f *fakeStore) DailyCostSeries(ctx context.Context, at time.Time) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (f *fakeStore) InsertBudgetAlert(ctx context.Context, a model.BudgetAlert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

func TestRecordChatCall_ComputesCostFromRates(t *testing.T) {
	store := &fakeStore{}
	m := NewMeter(store, discardLogger(), map[string]Rates{
		"openai": {InputPerToken: 0.001, OutputPerToken: 0.002},
	}, 0, 0)

	m.RecordChatCall(context.Background(), "openai", 100, 50)

	require.Len(t, store.costLogs, 1)
	assert.InDelta(t, 0.1+0.1, store.costLogs[0].EstimatedCost, 0.001)
}

func TestRecordEmbeddingCall_ComputesCostFromRates(t *testing.T) {
	store := &fakeStore{}
	m := NewMeter(store, discardLogger(), map[string]Rates{
		"openai-embed": {EmbeddingPerToken: 0.0001},
	}, 0, 0)

	m.RecordEmbeddingCall(context.Background(), "openai-embed", 1000)

	require.Len(t, store.costLogs, 1)
	assert.InDelta(t, 0.1, store.costLogs[0].EstimatedCost, 0.001)
}

func TestCheckThreshold_AlertsWhenProjectionExceedsLimit(t *testing.T) {
	store := &fakeStore{monthlyTotal: 1000}
	m := NewMeter(store, discardLogger(), nil, 100, 0.8)

	m.checkThreshold(context.Background())

	require.Len(t, store.alerts, 1)
	assert.Equal(t, "PROJECTED_OVERAGE", store.alerts[0].AlertType)
}

func TestCheckThreshold_NoAlertBelowThreshold(t *testing.T) {
	store := &fakeStore{monthlyTotal: 1}
	m := NewMeter(store, discardLogger(), nil, 10_000, 0.8)

	m.checkThreshold(context.Background())

	assert.Empty(t, store.alerts)
}

func TestCheckThreshold_DisabledWhenLimitZero(t *testing.T) {
	store := &fakeStore{monthlyTotal: 1_000_000}
	m := NewMeter(store, discardLogger(), nil, 0, 0.8)

	m.checkThreshold(context.Background())

	assert.Empty(t, store.alerts)
}
