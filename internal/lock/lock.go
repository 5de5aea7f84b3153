// Package lock provides per-document mutual exclusion. At most one
// pipeline run or metadata edit holds a document's lock at a time.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Acquire when the lock stayed held for the whole wait
var ErrTimeout = errors.New("lock wait timed out")

// Manager hands out non-blocking per-key locks
type Manager interface {
	// TryAcquire takes the lock for key if it is free. The returned release
	// func is safe to call more than once.
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)

	// IsHeld reports whether anyone currently holds key
	IsHeld(ctx context.Context, key string) (bool, error)

	// Held lists the keys currently held
	Held(ctx context.Context) ([]string, error)
}

// Acquire polls TryAcquire until the lock is taken, wait elapses or ctx ends
func Acquire(ctx context.Context, m Manager, key string, wait, poll time.Duration) (func(), error) {
	if poll <= 0 {
		poll = 25 * time.Millisecond
	}
	deadline := time.Now().Add(wait)

	for {
		release, ok, err := m.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}
