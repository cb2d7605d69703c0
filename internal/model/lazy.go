package model

import (
	"sync"
	"sync/atomic"
)

// lazy holds a value computed at most once. A failed computation is not
// stored, so the next caller tries again. Concurrent first callers block on
// the one doing the work.
type lazy[T any] struct {
	mu  sync.Mutex
	val atomic.Pointer[T]
}

func (l *lazy[T]) get(load func() (T, error)) (T, error) {
	if v := l.val.Load(); v != nil {
		return *v, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if v := l.val.Load(); v != nil {
		return *v, nil
	}
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	l.val.Store(&v)
	return v, nil
}
