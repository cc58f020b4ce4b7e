// Package cache provides a bounded, string keyed LRU with optional per-entry
// TTL.
//
// The safe deposit box indexes drawers by deposit key through an [LRU] and
// incinerates the drawers of keys that fall out of it. The process service
// keeps its recent handles in one and closes those it evicts.
//
//	idx := cache.NewLRU(cache.LRUOpts[int64]{Size: 1000})
//	idx.Put("job:1", 17, cache.WithTTL(time.Minute))
//	if claim, ok := idx.Get("job:1"); ok {
//	    // use claim
//	}
//
// Expired entries are evicted lazily on access.
package cache
