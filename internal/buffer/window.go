package buffer

import "sync"

// Window keeps the most recent items up to a fixed size. Adding to a full
// window evicts the oldest item.
type Window[T any] struct {
	mu      sync.RWMutex
	buf     []T
	head    int // oldest item
	count   int
	evicted int64
}

// NewWindow creates a window holding at most size items.
func NewWindow[T any](size int) *Window[T] {
	if size < 1 {
		size = 1
	}
	return &Window[T]{buf: make([]T, size)}
}

// Add appends item, evicting the oldest one when full.
func (w *Window[T]) Add(item T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	size := len(w.buf)
	if w.count == size {
		w.buf[w.head] = item
		w.head = (w.head + 1) % size
		w.evicted++
		return
	}
	w.buf[(w.head+w.count)%size] = item
	w.count++
}

// Latest returns the newest item.
func (w *Window[T]) Latest() (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.count == 0 {
		var zero T
		return zero, false
	}
	return w.buf[(w.head+w.count-1)%len(w.buf)], true
}

// Snapshot returns a copy of the items, oldest first.
func (w *Window[T]) Snapshot() []T {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]T, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Len returns the number of retained items.
func (w *Window[T]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count
}

// Evicted returns how many items have been pushed out so far.
func (w *Window[T]) Evicted() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.evicted
}
