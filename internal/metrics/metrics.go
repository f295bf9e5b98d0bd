// Package metrics exposes the crawl core's Prometheus instrumentation:
// queue depth, fetch duration, and retry counters, mirroring the
// prometheus/client_golang conventions the teacher and the wider retrieval
// pack both use for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the core registers. A caller constructs
// one per process and passes it to the dispatcher/worker pool.
type Metrics struct {
	QueueDepth    prometheus.Gauge
	ActiveWorkers prometheus.Gauge
	FetchDuration *prometheus.HistogramVec
	RetryTotal    *prometheus.CounterVec
	TasksTotal    *prometheus.CounterVec
}

// New constructs and registers the collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sitesync",
			Name:      "queue_depth",
			Help:      "Number of tasks currently buffered in the dispatcher channel.",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sitesync",
			Name:      "active_workers",
			Help:      "Number of workers currently processing a task.",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sitesync",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a single fetch attempt, by task_type and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task_type", "outcome"}),
		RetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitesync",
			Name:      "retry_total",
			Help:      "Count of retry attempts, by task_type.",
		}, []string{"task_type"}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitesync",
			Name:      "tasks_total",
			Help:      "Count of terminal task outcomes, by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.QueueDepth, m.ActiveWorkers, m.FetchDuration, m.RetryTotal, m.TasksTotal)
	return m
}
