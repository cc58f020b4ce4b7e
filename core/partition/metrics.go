package partition

// PartitionMetrics covers partitioner lookups. All methods are thread-safe.
type PartitionMetrics interface {
	// Lookup records a lookup; memorized is false when the key was assigned.
	Lookup(memorized bool)
	Forgotten()
	StoreError(op string)
}

type nopPartitionMetrics struct{}

func (nopPartitionMetrics) Lookup(bool)       {}
func (nopPartitionMetrics) Forgotten()        {}
func (nopPartitionMetrics) StoreError(string) {}

func NopPartitionMetrics() PartitionMetrics { return nopPartitionMetrics{} }
