// Package lock serializes writes to one destination table across runs.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when a lock cannot be taken before ctx ends.
var ErrNotAcquired = errors.New("lock: not acquired")

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Locker hands out exclusive locks by key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Noop grants every request immediately.
type Noop struct{}

// Acquire returns a release that does nothing.
func (Noop) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// Local is an in-process keyed mutex.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire blocks until key is free or ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}
