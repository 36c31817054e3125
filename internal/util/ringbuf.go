package util

import "sync"

// RingBuffer is a fixed-capacity circular buffer. When full, new items
// overwrite the oldest. All methods are safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int
	count int
}

func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{buf: make([]T, capacity)}
}

func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	r.push(item)
	r.mu.Unlock()
}

// PushAll appends items under a single lock; the audio tap calls this once
// per streamed chunk.
func (r *RingBuffer[T]) PushAll(items []T) {
	r.mu.Lock()
	for _, it := range items {
		r.push(it)
	}
	r.mu.Unlock()
}

func (r *RingBuffer[T]) push(item T) {
	idx := (r.head + r.count) % len(r.buf)
	r.buf[idx] = item
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

// Snapshot returns a copy of all elements, oldest first.
func (r *RingBuffer[T]) Snapshot() []T {
	return r.Last(r.Cap())
}

// Last copies the newest n elements (fewer if not yet filled), oldest first.
func (r *RingBuffer[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > r.count {
		n = r.count
	}
	out := make([]T, n)
	start := r.head + r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *RingBuffer[T]) Reset() {
	r.mu.Lock()
	r.head, r.count = 0, 0
	r.mu.Unlock()
}

func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	n := r.count
	r.mu.RUnlock()
	return n
}

func (r *RingBuffer[T]) Cap() int { return len(r.buf) }
