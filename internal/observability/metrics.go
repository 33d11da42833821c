package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type runtimeMetrics struct {
	turnTotal      *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	turnIterations prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	memorySearchDuration prometheus.Histogram
	memoryStoreDuration  prometheus.Histogram
	memoryIndexSize      prometheus.Gauge

	delegationTotal *prometheus.CounterVec

	activeSessions  prometheus.Gauge
	sessionMessages prometheus.Histogram

	jobTotal    *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *runtimeMetrics
)

func getMetrics() *runtimeMetrics {
	metricsOnce.Do(func() {
		m := &runtimeMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_total",
					Help: "Total turns by provider and status.",
				},
				[]string{"provider", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Turn duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			turnIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "turn_iterations",
					Help:    "Model round-trips per turn.",
					Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 25},
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			memorySearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Hybrid memory search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryStoreDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_store_duration_seconds",
					Help:    "Memory store (embed + persist + index) duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryIndexSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_index_size",
					Help: "Records held by the in-process vector index.",
				},
			),
			delegationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "delegation_total",
					Help: "Total delegations by specialist and status.",
				},
				[]string{"specialist", "status"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			sessionMessages: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_messages",
					Help:    "Messages per session at save time.",
					Buckets: []float64{2, 5, 10, 25, 50, 100, 250},
				},
			),
			jobTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "job_total",
					Help: "Total background jobs by lane and status.",
				},
				[]string{"lane", "status"},
			),
			jobDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "job_duration_seconds",
					Help:    "Background job duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.turnIterations,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.memorySearchDuration,
			m.memoryStoreDuration,
			m.memoryIndexSize,
			m.delegationTotal,
			m.activeSessions,
			m.sessionMessages,
			m.jobTotal,
			m.jobDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordTurn(provider string, duration time.Duration, iterations int, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.turnTotal.WithLabelValues(provider, status).Inc()
	m.turnDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.turnIterations.Observe(float64(iterations))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordMemorySearch(duration time.Duration) {
	getMetrics().memorySearchDuration.Observe(duration.Seconds())
}

func RecordMemoryStore(duration time.Duration) {
	getMetrics().memoryStoreDuration.Observe(duration.Seconds())
}

func SetMemoryIndexSize(size int) {
	getMetrics().memoryIndexSize.Set(float64(size))
}

func RecordDelegation(specialist string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().delegationTotal.WithLabelValues(specialist, status).Inc()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionSize(messages int) {
	getMetrics().sessionMessages.Observe(float64(messages))
}

func RecordJob(lane string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.jobTotal.WithLabelValues(lane, status).Inc()
	m.jobDuration.WithLabelValues(lane).Observe(duration.Seconds())
}
