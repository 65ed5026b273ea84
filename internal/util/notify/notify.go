// Package notify provides a single-value broadcast primitive used
// throughout the scheduler and CDC pipeline to signal "something
// changed" without a synchronous rendezvous between writer and
// readers. It mirrors the teacher's internal/util/notify.Var, as used
// by internal/source/cdc's resolver (marked, retirements fields) to
// wake a draining goroutine whenever a new resolved timestamp is
// recorded.
package notify

import "sync"

// A Var holds a value of type T and lets any number of goroutines wait
// for the next update. Get returns the current value together with a
// channel that closes the instant the value changes; callers loop
// on "read current value, select on its channel" to observe every
// subsequent update without missing one. The scheduler's control loop
// uses only the value, reading the DAG-change counter once per wake.
type Var[T any] struct {
	mu      sync.Mutex
	val     T
	changed chan struct{}
}

// New constructs a Var with an initial value.
func New[T any](initial T) *Var[T] {
	return &Var[T]{val: initial, changed: make(chan struct{})}
}

// Get returns the current value and a channel that will be closed when
// the value next changes.
func (v *Var[T]) Get() (T, <-chan struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.val, v.changed
}

// Set updates the value and wakes every goroutine currently blocked on
// a channel returned by a prior Get.
func (v *Var[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.val = val
	close(v.changed)
	v.changed = make(chan struct{})
}

// Update atomically replaces the value with the result of applying fn
// to the current value, then wakes waiters, without a separate Get/Set
// race window.
func (v *Var[T]) Update(fn func(T) T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.val = fn(v.val)
	close(v.changed)
	v.changed = make(chan struct{})
}
