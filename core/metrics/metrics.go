// Package metrics holds the backend-agnostic pieces shared by the
// per-package metrics interfaces, so core packages can be instrumented
// without importing Prometheus.
package metrics

import "time"

// Histogram samples observations such as request latencies.
type Histogram interface {
	Observe(value float64)
}

// Timer measures one operation. Call ObserveDuration when it completes.
type Timer interface {
	ObserveDuration()
}

type funcTimer struct {
	observe func(seconds float64)
	start   time.Time
}

func (t *funcTimer) ObserveDuration() { t.observe(time.Since(t.start).Seconds()) }

// NewTimer starts a Timer that hands the elapsed seconds to observe.
func NewTimer(observe func(seconds float64)) Timer {
	return &funcTimer{observe: observe, start: time.Now()}
}

// HistogramTimer starts a Timer that observes into h.
func HistogramTimer(h Histogram) Timer { return NewTimer(h.Observe) }
