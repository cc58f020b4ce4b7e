package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/partition"
)

// partitionMetrics implements partition.PartitionMetrics using Prometheus.
type partitionMetrics struct {
	lookups     *prometheus.CounterVec
	forgotten   prometheus.Counter
	storeErrors *prometheus.CounterVec
}

func NewPartitionMetrics(reg prometheus.Registerer) partition.PartitionMetrics {
	m := &partitionMetrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partition_lookups_total",
			Help:      "Total number of partition lookups",
		}, []string{"memorized"}),

		forgotten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partition_forgotten_total",
			Help:      "Total number of forgotten keys",
		}),

		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partition_store_errors_total",
			Help:      "Total number of partition store failures",
		}, []string{"op"}),
	}

	reg.MustRegister(m.lookups, m.forgotten, m.storeErrors)
	return m
}

func (m *partitionMetrics) Lookup(memorized bool) {
	m.lookups.WithLabelValues(boolToStr(memorized)).Inc()
}

func (m *partitionMetrics) Forgotten() {
	m.forgotten.Inc()
}

func (m *partitionMetrics) StoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

var _ partition.PartitionMetrics = (*partitionMetrics)(nil)
