// Package hrw implements rendezvous (highest random weight) hashing.
package hrw

import (
	"sort"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/internal/shard"
)

// TopK returns up to k candidates with the highest scores for key, best first.
// seed is optional and keeps unrelated rings from agreeing by accident.
func TopK(key string, candidates []string, k int, seed string) []string {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	type scored struct {
		score uint64
		idx   int
	}
	all := make([]scored, len(candidates))
	keyB := []byte(key)
	for i, c := range candidates {
		all[i] = scored{score: shard.Sum64(keyB, seed, c), idx: i}
	}
	sort.Slice(all, func(a, b int) bool {
		if all[a].score == all[b].score {
			return all[a].idx < all[b].idx
		}
		return all[a].score > all[b].score
	})

	out := make([]string, k)
	for i := range out {
		out[i] = candidates[all[i].idx]
	}
	return out
}

// Best returns the single highest scoring candidate. ok=false if there are none.
func Best(key string, candidates []string, seed string) (best string, ok bool) {
	out := TopK(key, candidates, 1, seed)
	if len(out) == 0 {
		return "", false
	}
	return out[0], true
}
