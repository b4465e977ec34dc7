package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Submitted()
	m.Submitted()
	m.Allocated("diagnostic")
	m.AllocatorFallback("diagnostic")
	m.Started()
	m.Finished("COMPLETED", 2.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocations.WithLabelValues("diagnostic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocatorFallbacks.WithLabelValues("diagnostic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("COMPLETED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Submitted()
		m.Allocated("patient")
		m.AllocatorFallback("patient")
		m.Started()
		m.Finished("FAILED", 1)
		m.PagesRendered(3)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Submitted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bloodwork_submissions_total 1")
}
