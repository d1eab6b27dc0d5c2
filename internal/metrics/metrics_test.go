package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveInstall("mistral", false)
	m.ObserveInstall("mistral", true)
	m.ObserveLoopAttempt("mistral")
	m.ObserveLoopAttempt("mistral")
	m.ObserveReadiness(false)
	m.ObserveDowngrade()
	m.ObserveAgentCreate(true)
	m.ObserveAgentCreate(false)
	m.ObserveSwarm("succeeded")
	m.ObserveTask("Scout", "ok", 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.installAttempts.WithLabelValues("mistral", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.installAttempts.WithLabelValues("mistral", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.loopAttempts.WithLabelValues("mistral")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readiness.WithLabelValues("not_loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downgrades))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.agentsCreated.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.swarmRuns.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("Scout", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.taskDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveInstall("x", true)
		m.ObserveLoopAttempt("x")
		m.ObserveReadiness(true)
		m.ObserveDowngrade()
		m.ObserveAgentCreate(true)
		m.ObserveSwarm("failed")
		m.ObserveTask("x", "error", time.Second)
	})

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveDowngrade()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "hyperloop_model_downgrades_total 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rr.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/runs/{id}", "GET", "418")))

	expected := `
# HELP hyperloop_http_requests_total Total number of status server requests
# TYPE hyperloop_http_requests_total counter
hyperloop_http_requests_total{method="GET",path="/runs/{id}",status="418"} 2
`
	assert.NoError(t, testutil.CollectAndCompare(m.httpRequests, strings.NewReader(expected)))
}
