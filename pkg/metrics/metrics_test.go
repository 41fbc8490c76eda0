package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveProvisioning(time.Second, nil)
		m.ObserveRelease(errors.New("boom"))
		m.ObserveStep("GOTO", time.Second, nil)
		m.ObserveDecision(time.Second, nil)
		m.RunStarted()
		m.RunFinished("completed")
		m.SetWaiting(true)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionMetrics(t *testing.T) {
	m := New()

	m.ObserveProvisioning(2*time.Second, nil)
	m.ObserveProvisioning(time.Second, nil)
	m.ObserveProvisioning(time.Second, errors.New("quota"))
	m.ObserveRelease(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsProvisioned.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsProvisioned.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsReleased.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
}

func TestRunMetrics(t *testing.T) {
	m := New()

	m.RunStarted()
	m.RunStarted()
	m.SetWaiting(true)
	m.SetWaiting(false)
	m.RunFinished("completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsWaiting))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFinished.WithLabelValues("completed")))
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveStep("ACT", time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.StepsTotal.WithLabelValues("ACT", OutcomeSuccess)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StepsTotal.WithLabelValues("ACT", OutcomeSuccess)))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveDecision(time.Second, nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `operator_decisions_total{outcome="success"} 1`)
}
