package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestFeatureRecorder(t *testing.T) {
	m := New()
	logs := m.Feature("logs")
	logs.Written(10)
	logs.Written(5)
	logs.Dropped(ReasonCapacity)
	logs.Uploaded(OutcomeDelivered)
	logs.Purged(3)

	require.Equal(t, 2.0, testutil.ToFloat64(m.EventsWritten.WithLabelValues("logs")))
	require.Equal(t, 15.0, testutil.ToFloat64(m.BytesWritten.WithLabelValues("logs")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues("logs", ReasonCapacity)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.BatchesUploaded.WithLabelValues("logs", OutcomeDelivered)))
	require.Equal(t, 3.0, testutil.ToFloat64(m.FilesPurged.WithLabelValues("logs")))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Feature("rum").Written(1)
	require.Equal(t, 0.0, testutil.ToFloat64(b.EventsWritten.WithLabelValues("rum")))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var m *Metrics
	r := m.Feature("x")
	r.Written(1)
	r.Dropped(ReasonStorage)
	r.FileCreated()
	r.Truncated()
}

func TestHandlerServesText(t *testing.T) {
	m := New()
	m.Feature("tracing").FileCreated()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `telemetry_files_created_total{feature="tracing"} 1`))
}
