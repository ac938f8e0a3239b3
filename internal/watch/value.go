// Package watch holds a value that readers can block on until it changes.
package watch

import (
	"context"
	"sync"
)

// Value is a latest-value broadcast. Slow readers skip intermediate values
// and always see the newest one.
type Value[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond
	v    T
	seq  uint64
}

func New[T any](initial T) *Value[T] {
	v := &Value[T]{v: initial}
	v.cond = sync.NewCond(&v.mu)
	return v
}

func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.v = x
	v.seq++
	v.cond.Broadcast()
}

// Get returns the current value and its sequence number.
func (v *Value[T]) Get() (T, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v, v.seq
}

// Next blocks until a value newer than seq is set or ctx is done.
func (v *Value[T]) Next(ctx context.Context, seq uint64) (T, uint64, error) {
	stop := context.AfterFunc(ctx, func() {
		v.mu.Lock()
		v.cond.Broadcast()
		v.mu.Unlock()
	})
	defer stop()

	v.mu.Lock()
	defer v.mu.Unlock()
	for v.seq == seq && ctx.Err() == nil {
		v.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, seq, err
	}
	return v.v, v.seq, nil
}
