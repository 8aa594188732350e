package observability

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestRecordToolExecutionIncrementsCounterAndHistogram(t *testing.T) {
	m := NewMetrics()
	m.RecordToolExecution("web_search", "success", 1.5)

	var metric dto.Metric
	if err := m.ToolExecutionCounter.WithLabelValues("web_search", "success").Write(&metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Fatalf("expected counter 1, got %v", metric.Counter.GetValue())
	}

	var hist dto.Metric
	if err := m.ToolExecutionDuration.WithLabelValues("web_search").Write(&hist); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if hist.Histogram.GetSampleCount() != 1 {
		t.Fatalf("expected 1 histogram sample, got %v", hist.Histogram.GetSampleCount())
	}
}

func TestRecordToolRetryIncrementsCounter(t *testing.T) {
	m := NewMetrics()
	m.RecordToolRetry("flaky_tool")
	m.RecordToolRetry("flaky_tool")

	var metric dto.Metric
	if err := m.ToolRetryCounter.WithLabelValues("flaky_tool").Write(&metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Fatalf("expected counter 2, got %v", metric.Counter.GetValue())
	}
}

func TestRecordBudgetReservationIncrementsCounter(t *testing.T) {
	m := NewMetrics()
	m.RecordBudgetReservation("insufficient")

	var metric dto.Metric
	if err := m.BudgetReservationCounter.WithLabelValues("insufficient").Write(&metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Fatalf("expected counter 1, got %v", metric.Counter.GetValue())
	}
}
