// Package prometheus provides Prometheus implementations of the metrics
// interfaces of the transport, pool, deposit and partition packages.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/deposit"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/metrics"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/partition"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/pool"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/transport"
)

const namespace = "sdt"

func newTimer(o prometheus.Observer) metrics.Timer {
	return metrics.NewTimer(o.Observe)
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds the Prometheus implementations for a node.
type AllMetrics struct {
	Transport transport.TransportMetrics
	Pool      pool.PoolMetrics
	Deposit   deposit.DepositMetrics
	Partition partition.PartitionMetrics
}

// NewAllMetrics registers every metric family on reg.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		Transport: NewTransportMetrics(reg),
		Pool:      NewPoolMetrics(reg),
		Deposit:   NewDepositMetrics(reg),
		Partition: NewPartitionMetrics(reg),
	}
}
