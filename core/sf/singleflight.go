package sf

import "golang.org/x/sync/singleflight"

// Group deduplicates concurrent calls with the same key.
type Group[T any] struct {
	group singleflight.Group
}

// Do runs fn once for all concurrent callers of key. shared reports whether
// the result was handed to more than one caller.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	out, err, shared := g.group.Do(key, func() (any, error) {
		return fn()
	})
	if out != nil {
		v = out.(T)
	}
	return v, shared, err
}

// Forget drops an in-flight key so the next Do starts a fresh call.
func (g *Group[T]) Forget(key string) {
	g.group.Forget(key)
}

func New[T any]() *Group[T] {
	return &Group[T]{}
}
