package metrics

type nopHistogram struct{}

func (nopHistogram) Observe(float64) {}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

func NopHistogram() Histogram { return nopHistogram{} }

// NopTimer is what the Nop implementations of every metrics interface
// return for durations.
func NopTimer() Timer { return nopTimer{} }
