package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TasksEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "mirador", Name: "sync_tasks_enqueued_total", Help: "Number of sync tasks enqueued by operation."},
		[]string{"op"},
	)
	TasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "mirador", Name: "sync_tasks_processed_total", Help: "Number of sync tasks processed by operation and outcome."},
		[]string{"op", "outcome"},
	)
	TaskRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "mirador", Name: "sync_task_retries_total", Help: "Number of sync task retry attempts."},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "mirador", Name: "sync_queue_depth", Help: "Sync tasks currently waiting in the queue."},
	)
	IndexLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "mirador", Name: "index_latency_seconds", Help: "Time spent applying one task to the search index.", Buckets: prometheus.DefBuckets},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(TasksEnqueued)
	reg.MustRegister(TasksProcessed)
	reg.MustRegister(TaskRetries)
	reg.MustRegister(QueueDepth)
	reg.MustRegister(IndexLatency)
}
