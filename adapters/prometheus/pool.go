package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/metrics"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/pool"
)

// poolMetrics implements pool.PoolMetrics using Prometheus.
type poolMetrics struct {
	workers      *prometheus.GaugeVec
	inflight     *prometheus.GaugeVec
	taskDuration *prometheus.HistogramVec
	tasksTotal   *prometheus.CounterVec
	rejected     *prometheus.CounterVec
}

func NewPoolMetrics(reg prometheus.Registerer) pool.PoolMetrics {
	m := &poolMetrics{
		workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_workers",
			Help:      "Live workers per pool",
		}, []string{"pool"}),

		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_inflight",
			Help:      "Tasks currently running per pool",
		}, []string{"pool"}),

		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pool_task_duration_seconds",
			Help:      "Task run time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"pool"}),

		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_tasks_total",
			Help:      "Total number of tasks run",
		}, []string{"pool", "success"}),

		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_tasks_rejected_total",
			Help:      "Total number of tasks refused by a full or closed pool",
		}, []string{"pool"}),
	}

	reg.MustRegister(m.workers, m.inflight, m.taskDuration, m.tasksTotal, m.rejected)
	return m
}

func (m *poolMetrics) Workers(pool string, count int) {
	m.workers.WithLabelValues(pool).Set(float64(count))
}

func (m *poolMetrics) Inflight(pool string, count int) {
	m.inflight.WithLabelValues(pool).Set(float64(count))
}

func (m *poolMetrics) TaskDuration(pool string) metrics.Timer {
	return newTimer(m.taskDuration.WithLabelValues(pool))
}

func (m *poolMetrics) TaskCompleted(pool string, success bool) {
	m.tasksTotal.WithLabelValues(pool, boolToStr(success)).Inc()
}

func (m *poolMetrics) TaskRejected(pool string) {
	m.rejected.WithLabelValues(pool).Inc()
}

var _ pool.PoolMetrics = (*poolMetrics)(nil)
