// Package refcount implements the manual reference counting used by handles
// that may be shared between the bridge and the host.
//
// A counter starts at one. Acquire increments it, Release decrements it and
// reports whether the caller performed the final release. Go atomics are
// sequentially consistent, which covers the acquire/release ordering the
// host relies on: every write made before a Release is visible to the
// goroutine that observes the transition to zero.
package refcount

import (
	"fmt"
	"sync/atomic"
)

// Counter is an atomic reference counter. The zero value is not usable;
// call Init before sharing it.
type Counter struct {
	n atomic.Int64
}

// Init sets the counter to one.
func (c *Counter) Init() {
	c.n.Store(1)
}

// Acquire increments the counter. Acquiring a counter that already reached
// zero is a use-after-free on the host side and panics.
func (c *Counter) Acquire() {
	if c.n.Add(1) <= 1 {
		panic("refcount: acquire on released handle")
	}
}

// Release decrements the counter and returns true exactly once, for the
// call that moved it from one to zero.
func (c *Counter) Release() bool {
	n := c.n.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("refcount: released %d times too often", -n))
	}
	return n == 0
}

// Load returns the current count.
func (c *Counter) Load() int64 {
	return c.n.Load()
}

// Ref pairs a value with a Counter and a destructor that runs once, after
// the last Release.
type Ref[T any] struct {
	count Counter
	value T
	free  func(T)
}

// New returns a Ref holding value with a count of one. free may be nil.
func New[T any](value T, free func(T)) *Ref[T] {
	r := &Ref[T]{value: value, free: free}
	r.count.Init()
	return r
}

// Clone increments the count and returns the same Ref.
func (r *Ref[T]) Clone() *Ref[T] {
	r.count.Acquire()
	return r
}

// Release decrements the count, running the destructor when it reaches zero.
// It returns true when the value was freed by this call.
func (r *Ref[T]) Release() bool {
	if !r.count.Release() {
		return false
	}
	if r.free != nil {
		r.free(r.value)
	}
	return true
}

// Value returns the wrapped value. It must not be used after the final Release.
func (r *Ref[T]) Value() T {
	return r.value
}

// Count returns the current reference count.
func (r *Ref[T]) Count() int64 {
	return r.count.Load()
}
