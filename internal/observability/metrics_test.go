package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsIsIsolated(t *testing.T) {
	// A second construction must not panic on duplicate registration.
	first := NewMetrics()
	second := NewMetrics()
	if first.Registry() == second.Registry() {
		t.Error("expected separate registries per Metrics instance")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := NewMetrics()
	m.RecordHTTPRequest("GET", "/api/projects", "200", 0.01)
	m.RecordHTTPRequest("GET", "/api/projects", "200", 0.02)
	m.RecordHTTPRequest("POST", "/api/sessions", "500", 0.3)

	if count := testutil.CollectAndCount(m.HTTPRequestCounter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
	got := testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("GET", "/api/projects", "200"))
	if got != 2 {
		t.Errorf("expected 2 GET requests recorded, got %v", got)
	}
}

func TestRecordBatch(t *testing.T) {
	m := NewMetrics()
	m.RecordBatch(3)
	m.RecordBatch(2)

	if got := testutil.ToFloat64(m.TailBatches); got != 2 {
		t.Errorf("expected 2 batches, got %v", got)
	}
	if got := testutil.ToFloat64(m.TailLines); got != 5 {
		t.Errorf("expected 5 lines, got %v", got)
	}
}

func TestWSConnectionGauge(t *testing.T) {
	m := NewMetrics()
	m.WSConnections.Inc()
	m.WSConnections.Inc()
	m.WSConnections.Dec()

	if got := testutil.ToFloat64(m.WSConnections); got != 1 {
		t.Errorf("expected gauge 1, got %v", got)
	}
}
