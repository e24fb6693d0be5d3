package buffer

import (
	"context"
	"sync"
)

// Growable is an unbounded, thread-safe FIFO backed by a ring that doubles
// its capacity when it reaches 70% full. Send never blocks.
type Growable[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	// wake holds a token while items may be available or the buffer closed.
	wake chan struct{}

	// Stats
	totalReceived int64
	totalSent     int64
	resizeCount   int
}

// NewGrowable creates a new buffer with the given initial capacity.
func NewGrowable[T any](initialCapacity int) *Growable[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Growable[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		wake:     make(chan struct{}, 1),
	}
}

// Send adds an item to the buffer. Grows the buffer if at 70% capacity.
// Returns false if the buffer is closed.
func (b *Growable[T]) Send(item T) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++
	b.mu.Unlock()

	b.signal()
	return true
}

// Receive blocks until an item is available or the buffer is closed and
// empty. Returns the zero value and false in the latter case.
func (b *Growable[T]) Receive() (T, bool) {
	item, ok, _ := b.ReceiveContext(context.Background())
	return item, ok
}

// ReceiveContext is Receive bounded by ctx. The error is ctx.Err() when the
// context ends first.
func (b *Growable[T]) ReceiveContext(ctx context.Context) (T, bool, error) {
	for {
		b.mu.Lock()
		if b.count > 0 {
			item := b.pop()
			more := b.count > 0
			b.mu.Unlock()
			if more {
				b.signal()
			}
			return item, true, nil
		}
		if b.closed {
			b.mu.Unlock()
			b.signal()
			var zero T
			return zero, false, nil
		}
		b.mu.Unlock()

		select {
		case <-b.wake:
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		}
	}
}

// TryReceive attempts to receive without blocking.
func (b *Growable[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// DrainTo removes up to max items (all when max <= 0) in FIFO order.
func (b *Growable[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = b.pop()
	}
	return result
}

// Close closes the buffer. After closing, Send returns false.
// Receivers get remaining items, then the closed signal.
func (b *Growable[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
}

// Len returns the current number of items in the buffer.
func (b *Growable[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity of the buffer.
func (b *Growable[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Stats contains buffer statistics.
type Stats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	ResizeCount   int
}

// Stats returns buffer statistics.
func (b *Growable[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Count:         b.count,
		Capacity:      b.capacity,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		ResizeCount:   b.resizeCount,
	}
}

func (b *Growable[T]) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// pop removes the head item. Must be called with lock held and count > 0.
func (b *Growable[T]) pop() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalSent++
	return item
}

// grow doubles the buffer capacity. Must be called with lock held.
func (b *Growable[T]) grow() {
	newCapacity := b.capacity * 2
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizeCount++
}
