package sf

import "golang.org/x/sync/singleflight"

// Group is the typed form of singleflight.Group. The zero value is ready
// to use.
type Group[T any] struct {
	group singleflight.Group
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for that call and returns its result. shared reports
// whether the result was handed to more than one caller.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	res, err, shared := g.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return v, shared, err
	}
	return res.(T), shared, nil
}

// Forget drops key so the next Do runs fn again.
func (g *Group[T]) Forget(key string) { g.group.Forget(key) }
