// SPDX-License-Identifier: MIT
/*
Package ringbuf implements the single-producer single-consumer sample queue
that carries gated audio from the capture callback to the playback callback.

Thread Safety:
  - Exactly one goroutine may Write and exactly one may Read
  - Cursors are published with atomic loads/stores, no locks
  - Storage is allocated once in New
*/
package ringbuf

import (
	"sync/atomic"

	"noisegate/pkg/bitint"
)

type Ring struct {
	buf  []float32
	mask uint64

	// Monotonic cursors; only the producer stores head, only the consumer
	// stores tail.
	head atomic.Uint64
	tail atomic.Uint64
}

// New returns a ring holding at least capacity samples, rounded up to a power
// of two.
func New(capacity int) *Ring {
	size := bitint.NextPowerOfTwo(capacity)
	return &Ring{
		buf:  make([]float32, size),
		mask: bitint.Mask(size),
	}
}

// Cap returns the number of samples the ring can hold.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Len returns the number of samples waiting to be read.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Free returns the number of samples that can be written without dropping.
func (r *Ring) Free() int {
	return len(r.buf) - r.Len()
}

// Write copies as many samples from src as fit and returns how many were
// written. Samples that do not fit are dropped.
func (r *Ring) Write(src []float32) int {
	head := r.head.Load()
	free := uint64(len(r.buf)) - (head - r.tail.Load())

	n := min(uint64(len(src)), free)
	for i := uint64(0); i < n; i++ {
		r.buf[(head+i)&r.mask] = src[i]
	}
	r.head.Store(head + n)

	return int(n)
}

// Read fills dst with as many queued samples as available and returns how
// many were read. The remainder of dst is left untouched.
func (r *Ring) Read(dst []float32) int {
	tail := r.tail.Load()
	avail := r.head.Load() - tail

	n := min(uint64(len(dst)), avail)
	for i := uint64(0); i < n; i++ {
		dst[i] = r.buf[(tail+i)&r.mask]
	}
	r.tail.Store(tail + n)

	return int(n)
}

// Prefill queues n silent samples, which delays playback by n samples. It must
// be called by the producer, normally before the streams start.
func (r *Ring) Prefill(n int) int {
	head := r.head.Load()
	free := uint64(len(r.buf)) - (head - r.tail.Load())

	count := min(uint64(max(n, 0)), free)
	for i := uint64(0); i < count; i++ {
		r.buf[(head+i)&r.mask] = 0
	}
	r.head.Store(head + count)

	return int(count)
}
