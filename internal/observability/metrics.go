package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters and histograms the thread runner and
// executor emit, registered once at process startup.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolExecution("web_search", "success", elapsed.Seconds())
type Metrics struct {
	// ToolExecutionCounter counts tool dispatches by item id and outcome.
	// Labels: item_id, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool dispatch latency in seconds.
	// Labels: item_id
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolRetryCounter counts retry attempts the executor issued.
	// Labels: item_id
	ToolRetryCounter *prometheus.CounterVec

	// BudgetReservationCounter counts budget ledger reservation outcomes.
	// Labels: status (reserved|insufficient|overspend)
	BudgetReservationCounter *prometheus.CounterVec
}

// NewMetrics creates and registers the runtime's Prometheus metrics. Call
// once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rye_tool_executions_total",
				Help: "Total number of tool executions by item id and status",
			},
			[]string{"item_id", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rye_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"item_id"},
		),
		ToolRetryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rye_tool_retries_total",
				Help: "Total number of tool execution retry attempts by item id",
			},
			[]string{"item_id"},
		),
		BudgetReservationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rye_budget_reservations_total",
				Help: "Total number of budget ledger reservation attempts by outcome",
			},
			[]string{"status"},
		),
	}
}

// RecordToolExecution records the outcome and latency of a tool dispatch.
func (m *Metrics) RecordToolExecution(itemID, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(itemID, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(itemID).Observe(durationSeconds)
}

// RecordToolRetry records a retry attempt for a tool dispatch.
func (m *Metrics) RecordToolRetry(itemID string) {
	m.ToolRetryCounter.WithLabelValues(itemID).Inc()
}

// RecordBudgetReservation records a budget ledger reservation outcome.
func (m *Metrics) RecordBudgetReservation(status string) {
	m.BudgetReservationCounter.WithLabelValues(status).Inc()
}
