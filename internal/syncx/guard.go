// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// RWGuard couples a value with the RWMutex protecting it, so the value is
// only reachable through scoped lock helpers. The backend cache keeps its
// slot map behind one guard; a model swap's release-and-load runs inside a
// single Update, which is what keeps at most one load in flight.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Read runs fn under the read lock and returns its result.
func (g *RWGuard[T]) Read(fn func(T) any) any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.value)
}

// Write runs fn under the write lock; fn receives a pointer for mutation.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Update runs fn under the write lock and returns its result. Everything fn
// does, including blocking work, holds the lock for its full duration.
func (g *RWGuard[T]) Update(fn func(*T) any) any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}
