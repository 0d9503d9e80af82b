// Package lock provides per-key mutual exclusion, either within one process
// or across replicas through Redis.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a key could not be acquired within the wait
// budget.
var ErrTimeout = errors.New("timed out waiting for lock")

// Locker hands out exclusive ownership of a key. The returned release func
// is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// WaitObserver receives lock acquisition timings.
type WaitObserver interface {
	ObserveLockWait(backend string, acquired bool, d time.Duration)
}

type observed struct {
	Locker
	backend string
	obs     WaitObserver
}

// Observe wraps l so that every acquisition is reported to obs.
func Observe(l Locker, backend string, obs WaitObserver) Locker {
	if obs == nil {
		return l
	}
	return &observed{Locker: l, backend: backend, obs: obs}
}

func (o *observed) Acquire(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	release, err := o.Locker.Acquire(ctx, key)
	o.obs.ObserveLockWait(o.backend, err == nil, time.Since(start))
	return release, err
}
