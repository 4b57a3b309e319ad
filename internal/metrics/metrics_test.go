package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.RequestSubmitted("eth_sendTransaction")
	m.RequestSubmitted("eth_sendTransaction")
	m.RequestResolved("Rejected")
	m.SweepUpdated("Success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsSubmitted.WithLabelValues("eth_sendTransaction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsResolved.WithLabelValues("Rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepUpdates.WithLabelValues("Success")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RequestSubmitted("x")
		m.DispatchError("x")
		m.RefreshRun("manual")
		m.ConnectionTransition("Failed")
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RefreshRun("flag")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `sheetwallet_refresh_runs_total{trigger="flag"} 1`)
}
