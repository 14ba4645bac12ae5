// Package metrics wraps Prometheus collectors for the execution core:
// execution counts/latency by mode and terminal status, sandbox
// lifecycle events, and session queue depth. Adapted 1:1 from the
// teacher's internal/metrics/prometheus.go shape (global registry,
// package-level Record*/Set* helpers, nil-safe before Init), scoped to
// Cortex's own concerns instead of function-invocation metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus collectors registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	executionsTotal    *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	policyRejections   prometheus.Counter
	sandboxesCreated   prometheus.Counter
	sandboxesStopped   prometheus.Counter
	sandboxFaults      prometheus.Counter
	sessionTimeouts    prometheus.Counter
	sessionBusyTotal   prometheus.Counter
	activeSessions     prometheus.Gauge
	sessionQueueDepth  *prometheus.GaugeVec
}

var defaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var global *Metrics

// Init builds the process-wide Metrics instance and stores it for
// Global() to return. Safe to call once at daemon startup; Global()
// returns a nil-safe no-op instance if Init was never called (e.g. in
// unit tests that construct components directly).
func Init(namespace string, buckets []float64) *Metrics {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	if namespace == "" {
		namespace = "cortex"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "executions_total",
			Help: "Total number of executions by mode and terminal status.",
		}, []string{"mode", "status"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "execution_duration_ms",
			Help: "Execution latency in milliseconds by mode.", Buckets: buckets,
		}, []string{"mode"}),
		policyRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "policy_rejections_total",
			Help: "Total number of executions rejected by the Policy Validator.",
		}),
		sandboxesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sandboxes_created_total",
			Help: "Total number of sandboxes provisioned.",
		}),
		sandboxesStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sandboxes_stopped_total",
			Help: "Total number of sandboxes torn down.",
		}),
		sandboxFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sandbox_faults_total",
			Help: "Total number of sandbox faults (transport error or crash).",
		}),
		sessionTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_timeouts_total",
			Help: "Total number of session executions that hit the deadline and forced a sandbox restart.",
		}),
		sessionBusyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_busy_total",
			Help: "Total number of submissions rejected because a session's queue depth was exceeded.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Number of sessions with a live sandbox.",
		}),
		sessionQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "session_queue_depth",
			Help: "Current queue depth for a session's serialized execution.",
		}, []string{"session_id"}),
	}

	reg.MustRegister(
		m.executionsTotal, m.executionDuration, m.policyRejections,
		m.sandboxesCreated, m.sandboxesStopped, m.sandboxFaults,
		m.sessionTimeouts, m.sessionBusyTotal, m.activeSessions, m.sessionQueueDepth,
	)

	global = m
	return m
}

// Global returns the process-wide Metrics instance, or a nil-safe
// no-op instance if Init was never called.
func Global() *Metrics {
	if global == nil {
		return &Metrics{}
	}
	return global
}

func (m *Metrics) RecordExecution(mode, status string, d time.Duration) {
	if m == nil || m.executionsTotal == nil {
		return
	}
	m.executionsTotal.WithLabelValues(mode, status).Inc()
	m.executionDuration.WithLabelValues(mode).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) RecordPolicyRejection() {
	if m == nil || m.policyRejections == nil {
		return
	}
	m.policyRejections.Inc()
}

func (m *Metrics) RecordVMCreated() {
	if m == nil || m.sandboxesCreated == nil {
		return
	}
	m.sandboxesCreated.Inc()
}

func (m *Metrics) RecordVMStopped() {
	if m == nil || m.sandboxesStopped == nil {
		return
	}
	m.sandboxesStopped.Inc()
}

func (m *Metrics) RecordSandboxFault() {
	if m == nil || m.sandboxFaults == nil {
		return
	}
	m.sandboxFaults.Inc()
}

func (m *Metrics) RecordSessionTimeout() {
	if m == nil || m.sessionTimeouts == nil {
		return
	}
	m.sessionTimeouts.Inc()
}

func (m *Metrics) RecordSessionBusy() {
	if m == nil || m.sessionBusyTotal == nil {
		return
	}
	m.sessionBusyTotal.Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) SetSessionQueueDepth(sessionID string, depth int) {
	if m == nil || m.sessionQueueDepth == nil {
		return
	}
	m.sessionQueueDepth.WithLabelValues(sessionID).Set(float64(depth))
}

// Handler returns an HTTP handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
