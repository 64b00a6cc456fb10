package gateway

import (
	"context"
	"sync"
)

// Barrier is the one-shot initialization barrier gated requests wait on.
// It resolves exactly once per process lifetime and is never re-armed.
type Barrier struct {
	once sync.Once
	ch   chan struct{}
}

// NewBarrier creates an unresolved barrier
func NewBarrier() *Barrier {
	return &Barrier{ch: make(chan struct{})}
}

// Resolve marks the barrier resolved. Safe to call more than once; only the
// first call has any effect.
func (b *Barrier) Resolve() {
	b.once.Do(func() { close(b.ch) })
}

// Resolved reports whether the barrier has resolved
func (b *Barrier) Resolved() bool {
	select {
	case <-b.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the barrier resolves or ctx is done
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
