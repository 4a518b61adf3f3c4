// Package metrics provides Prometheus metrics collection for the orchestrator core.
package metrics

import (
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Systemsaholic/nexaas/internal/runtime"
)

// Metrics holds all Prometheus collectors for the core.
type Metrics struct {
	// Queue
	JobsEnqueuedTotal  *prometheus.CounterVec
	JobsDedupedTotal   *prometheus.CounterVec
	JobsClaimedTotal   *prometheus.CounterVec
	JobsCompletedTotal *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	JobDuration        *prometheus.HistogramVec

	// Engine
	EngineTicksTotal    prometheus.Counter
	EngineCandidates    prometheus.Gauge
	EngineLockContested *prometheus.CounterVec
	EventsPausedTotal   *prometheus.CounterVec

	// Monitor
	MonitorRestartsTotal *prometheus.CounterVec
	MonitorAlertsTotal   *prometheus.CounterVec
	StaleJobsReapedTotal prometheus.Counter
	LocksEvictedTotal    prometheus.Counter

	// Bus
	BusPublishTotal *prometheus.CounterVec
	SSEDroppedTotal prometheus.Counter
	SSEQueuesActive prometheus.Gauge

	ServiceInfo *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance against a custom registry, so
// tests can use an isolated one and avoid "duplicate metrics" panics.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsEnqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued.",
		}, []string{"action_type", "source"}),
		JobsDedupedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_deduped_total",
			Help: "Total number of enqueue calls rejected by concurrency-key dedup.",
		}, []string{"action_type"}),
		JobsClaimedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_claimed_total",
			Help: "Total number of jobs claimed by a worker.",
		}, []string{"worker_id"}),
		JobsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed, by terminal result.",
		}, []string{"action_type", "result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of jobs currently queued.",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job execution duration in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
		}, []string{"action_type"}),

		EngineTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ticks_total",
			Help: "Total number of engine tick loop iterations.",
		}),
		EngineCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_candidates",
			Help: "Number of due events seen on the last tick.",
		}),
		EngineLockContested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_lock_contested_total",
			Help: "Total number of lock-acquisition races lost by this instance.",
		}, []string{"event_id"}),
		EventsPausedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_paused_total",
			Help: "Total number of events paused after exceeding max_retries.",
		}, []string{"event_id"}),

		MonitorRestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_restarts_total",
			Help: "Total number of subsystem auto-restarts performed by the monitor.",
		}, []string{"subsystem"}),
		MonitorAlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_alerts_total",
			Help: "Total number of alerts raised by the monitor.",
		}, []string{"severity", "category"}),
		StaleJobsReapedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_stale_jobs_reaped_total",
			Help: "Total number of jobs force-failed for running past the stale timeout.",
		}),
		LocksEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_locks_evicted_total",
			Help: "Total number of expired event locks cleared by the monitor.",
		}),

		BusPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_publish_total",
			Help: "Total number of events published on the bus.",
		}, []string{"type"}),
		SSEDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_sse_dropped_total",
			Help: "Total number of events dropped due to a full SSE queue.",
		}),
		SSEQueuesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bus_sse_queues_active",
			Help: "Number of currently attached SSE queues.",
		}),

		ServiceInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_info",
			Help: "Service information.",
		}, []string{"service", "environment"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.JobsEnqueuedTotal, m.JobsDedupedTotal, m.JobsClaimedTotal, m.JobsCompletedTotal,
			m.QueueDepth, m.JobDuration,
			m.EngineTicksTotal, m.EngineCandidates, m.EngineLockContested, m.EventsPausedTotal,
			m.MonitorRestartsTotal, m.MonitorAlertsTotal, m.StaleJobsReapedTotal, m.LocksEvictedTotal,
			m.BusPublishTotal, m.SSEDroppedTotal, m.SSEQueuesActive,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, getEnvironment()).Set(1)

	return m
}

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed, controlled
// by METRICS_ENABLED (defaults to enabled; this core has no HTTP exposition
// surface of its own, a future facade gates the actual /metrics route).
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	return runtime.ParseBoolValue(raw)
}

// Global metrics instance

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, initializing a fallback if unset.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("nexaas")
	}
	return globalMetrics
}
