// Package metrics defines the Prometheus collectors for the bootstrap loop.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hyperloop"

// Metrics holds every collector, registered in its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	installAttempts *prometheus.CounterVec
	loopAttempts    *prometheus.CounterVec
	readiness       *prometheus.CounterVec
	downgrades      prometheus.Counter
	agentsCreated   *prometheus.CounterVec
	swarmRuns       *prometheus.CounterVec
	tasks           *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		installAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "install_attempts_total",
			Help:      "Dependency install attempts by package and result",
		}, []string{"package", "result"}),
		loopAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "attempts_total",
			Help:      "Bootstrap loop attempts by model",
		}, []string{"model"}),
		readiness: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "readiness_checks_total",
			Help:      "Model readiness checks by result",
		}, []string{"result"}),
		downgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_downgrades_total",
			Help:      "Switches from the primary to the quantized model",
		}),
		agentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "agents_created_total",
			Help:      "Agent constructions by result",
		}, []string{"result"}),
		swarmRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "runs_total",
			Help:      "Swarm runs by outcome",
		}, []string{"outcome"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "tasks_total",
			Help:      "Agent tasks by agent and status",
		}, []string{"agent", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "task_duration_seconds",
			Help:      "Duration of agent tasks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"agent"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of status server requests",
		}, []string{"path", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of status server requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.installAttempts, m.loopAttempts, m.readiness, m.downgrades,
		m.agentsCreated, m.swarmRuns, m.tasks, m.taskDuration,
		m.httpRequests, m.httpDuration,
	)
	return m
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveInstall counts one install attempt for pkg.
func (m *Metrics) ObserveInstall(pkg string, ok bool) {
	if m == nil {
		return
	}
	m.installAttempts.WithLabelValues(pkg, result(ok)).Inc()
}

// ObserveLoopAttempt counts one bootstrap attempt using model.
func (m *Metrics) ObserveLoopAttempt(model string) {
	if m == nil {
		return
	}
	m.loopAttempts.WithLabelValues(model).Inc()
}

// ObserveReadiness counts one readiness check.
func (m *Metrics) ObserveReadiness(loaded bool) {
	if m == nil {
		return
	}
	label := "not_loaded"
	if loaded {
		label = "loaded"
	}
	m.readiness.WithLabelValues(label).Inc()
}

// ObserveDowngrade counts the switch to the quantized model.
func (m *Metrics) ObserveDowngrade() {
	if m == nil {
		return
	}
	m.downgrades.Inc()
}

// ObserveAgentCreate counts one agent construction.
func (m *Metrics) ObserveAgentCreate(ok bool) {
	if m == nil {
		return
	}
	m.agentsCreated.WithLabelValues(result(ok)).Inc()
}

// ObserveSwarm counts one swarm run with the given outcome.
func (m *Metrics) ObserveSwarm(outcome string) {
	if m == nil {
		return
	}
	m.swarmRuns.WithLabelValues(outcome).Inc()
}

// ObserveTask counts one agent task and records its duration.
func (m *Metrics) ObserveTask(agent, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(agent, status).Inc()
	m.taskDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the instrumentation.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T cannot hijack", sr.ResponseWriter)
	}
	sr.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware instruments status server requests.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		path := routePatternOrPath(r)
		m.httpRequests.WithLabelValues(path, r.Method, strconv.Itoa(sr.status)).Inc()
		m.httpDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
