package observability

import (
	"testing"
	"time"

	"github.com/danmuck/lifegrid/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("coord-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordExchange(0, 3*time.Millisecond)
	RecordHaloBytes(0, "sent", 64)
	RecordExchangeFailure(0, "timeout")
	RecordGeneration(7, 42, time.Millisecond)
	RecordGeneration(7, 40, time.Millisecond)

	if got := testutil.ToFloat64(generations.WithLabelValues("7")); got != 2 {
		t.Fatalf("generations for rank 7 = %v", got)
	}
	if got := testutil.ToFloat64(aliveCells.WithLabelValues("7")); got != 40 {
		t.Fatalf("alive gauge for rank 7 = %v", got)
	}
	if _, err := prometheus.DefaultGatherer.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
