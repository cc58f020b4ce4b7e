package partition

import (
	"strconv"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/internal/hrw"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/internal/shard"
)

// Func maps a key to a partition.
type Func func(key string) int

// Modulo spreads keys over n partitions by FNV-1a hash.
func Modulo(n int) Func {
	return func(key string) int { return shard.FNV(key, n) }
}

// Hashed spreads keys over n partitions by seeded BLAKE2b hash. Different
// seeds give unrelated layouts.
func Hashed(n int, seed string) Func {
	return func(key string) int { return shard.Blake(key, n, seed) }
}

// Rendezvous picks the partition with the highest random weight for the key.
// Growing n by one moves only about 1/(n+1) of the keys.
func Rendezvous(n int, seed string) Func {
	candidates := make([]string, n)
	for i := range candidates {
		candidates[i] = strconv.Itoa(i)
	}
	return func(key string) int {
		best, ok := hrw.Best(key, candidates, seed)
		if !ok {
			return 0
		}
		p, _ := strconv.Atoi(best)
		return p
	}
}

// Const puts every key in partition p.
func Const(p int) Func {
	return func(string) int { return p }
}
