package pool

import "github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/metrics"

// PoolMetrics is labelled by pool name. All methods are thread-safe.
type PoolMetrics interface {
	Workers(pool string, count int)
	Inflight(pool string, count int)
	TaskDuration(pool string) metrics.Timer
	TaskCompleted(pool string, success bool)
	TaskRejected(pool string)
}

type nopPoolMetrics struct{}

func (nopPoolMetrics) Workers(string, int)               {}
func (nopPoolMetrics) Inflight(string, int)              {}
func (nopPoolMetrics) TaskDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopPoolMetrics) TaskCompleted(string, bool)        {}
func (nopPoolMetrics) TaskRejected(string)               {}

func NopPoolMetrics() PoolMetrics { return nopPoolMetrics{} }
