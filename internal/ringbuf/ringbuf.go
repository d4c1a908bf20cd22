// Package ringbuf provides a lock-free, single-producer single-consumer
// (SPSC) ring buffer for model.Quote. It uses atomic operations and
// cache-line padding to absorb quote bursts with zero contention.
package ringbuf

import (
	"sync/atomic"

	"trade-assistv1/internal/model"
)

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a lock-free SPSC ring buffer for Quote values.
// Size must be a power of two for fast bitwise modulo.
type Ring struct {
	buf  []model.Quote
	mask uint64

	// Separate cache lines to prevent false sharing between producer and consumer.
	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	// Overflow counter (atomic, for metrics)
	overflow atomic.Uint64
}

// New creates a ring buffer. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New(capacity int) *Ring {
	cap := nextPow2(capacity)
	if cap < 2 {
		cap = 2
	}
	return &Ring{
		buf:  make([]model.Quote, cap),
		mask: uint64(cap - 1),
	}
}

// Push appends a quote to the ring buffer. Returns false if the buffer is
// full (the quote is NOT written in that case). Non-blocking.
func (r *Ring) Push(q model.Quote) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= uint64(len(r.buf)) {
		// Buffer full
		r.overflow.Add(1)
		return false
	}

	r.buf[head&r.mask] = q
	r.head.Store(head + 1)
	return true
}

// Pop retrieves the next quote from the ring buffer.
// Returns false if the buffer is empty. Non-blocking.
func (r *Ring) Pop() (model.Quote, bool) {
	tail := r.tail.Load()
	head := r.head.Load()

	if tail >= head {
		// Buffer empty
		return model.Quote{}, false
	}

	q := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return q, true
}

// Len returns the current number of items in the buffer.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overflow returns the total number of dropped pushes due to full buffer.
func (r *Ring) Overflow() uint64 {
	return r.overflow.Load()
}

// nextPow2 rounds n up to the next power of two.
func nextPow2(n int) int {
	if n <= 0 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
