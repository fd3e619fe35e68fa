// Package ringbuf provides a bounded FIFO ring buffer that evicts the oldest
// element on overflow. It backs the frozen-candle history of the aggregator
// and the per-connection outbox of the gateway.
//
// A Ring is not safe for concurrent use; owners guard it with their own lock.
package ringbuf

import "sync/atomic"

// Ring is a drop-oldest ring buffer holding at most its configured
// capacity. Storage is a power of two for fast bitwise modulo.
type Ring[T any] struct {
	buf   []T
	mask  uint64
	limit uint64 // configured capacity, <= len(buf)
	head uint64 // next write position
	tail uint64 // oldest element

	// Evicted counter (atomic, read by metrics without the owner's lock)
	evicted atomic.Uint64
}

// New creates a ring buffer that keeps the newest capacity elements.
// Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	size := nextPow2(capacity)
	return &Ring[T]{
		buf:   make([]T, size),
		mask:  uint64(size - 1),
		limit: uint64(capacity),
	}
}

// Push appends v. When the buffer is full the oldest element is evicted
// and returned with evicted=true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.head-r.tail >= r.limit {
		old = r.buf[r.tail&r.mask]
		r.tail++
		r.evicted.Add(1)
		evicted = true
	}
	r.buf[r.head&r.mask] = v
	r.head++
	return old, evicted
}

// Pop removes and returns the oldest element.
// Returns false if the buffer is empty.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.tail >= r.head {
		return zero, false
	}
	v := r.buf[r.tail&r.mask]
	r.buf[r.tail&r.mask] = zero
	r.tail++
	return v, true
}

// Last returns up to n of the newest elements, oldest first.
func (r *Ring[T]) Last(n int) []T {
	size := r.Len()
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, 0, n)
	for i := r.head - uint64(n); i < r.head; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}

// Len returns the current number of items in the buffer.
func (r *Ring[T]) Len() int {
	return int(r.head - r.tail)
}

// Cap returns the configured capacity.
func (r *Ring[T]) Cap() int {
	return int(r.limit)
}

// Evicted returns the total number of elements dropped on overflow.
func (r *Ring[T]) Evicted() uint64 {
	return r.evicted.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
