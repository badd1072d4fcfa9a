package topology

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyResolved is returned when a deferred value is resolved twice.
var ErrAlreadyResolved = errors.New("deferred value already resolved")

// Deferred is a value that only becomes known after the producing entity is
// realized. It resolves at most once and is immutable afterwards.
type Deferred[T any] struct {
	source string

	mu       sync.Mutex
	value    T
	resolved bool
	done     chan struct{}
}

// NewDeferred returns an unresolved value produced by the step with the given id.
func NewDeferred[T any](source string) *Deferred[T] {
	return &Deferred[T]{source: source, done: make(chan struct{})}
}

// Resolved returns a value known at build time. It has no producing step.
func Resolved[T any](value T) *Deferred[T] {
	d := &Deferred[T]{done: make(chan struct{})}
	d.value = value
	d.resolved = true
	close(d.done)
	return d
}

// Source is the step id of the producing entity, empty for literal values.
func (d *Deferred[T]) Source() string {
	return d.source
}

// Resolve sets the value. A second call returns ErrAlreadyResolved and
// leaves the first value in place.
func (d *Deferred[T]) Resolve(value T) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.resolved {
		return ErrAlreadyResolved
	}
	d.value = value
	d.resolved = true
	close(d.done)
	return nil
}

// Get returns the value and whether it has been resolved.
func (d *Deferred[T]) Get() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.resolved
}

// IsResolved reports whether Resolve has been called.
func (d *Deferred[T]) IsResolved() bool {
	_, ok := d.Get()
	return ok
}

// Wait blocks until the value is resolved or ctx is done.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		value, _ := d.Get()
		return value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
