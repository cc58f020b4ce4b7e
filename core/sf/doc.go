// Package sf collapses concurrent calls that share a key into one execution.
//
// The partition store uses it so that many goroutines asking for the same
// unseen key perform a single create-or-load against the backing store, and
// the process service uses it so that duplicate submissions of the same
// service key start only one handle.
//
//	g := sf.New[int]()
//	p, shared, err := g.Do("user:123", func() (int, error) {
//	    return store.LoadOrCreate(ctx, "user:123")
//	})
package sf
