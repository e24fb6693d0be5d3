package connection

import "sync"

// outboundQueue is a FIFO of encoded messages awaiting an open connection.
// It is shared between Send callers and the manager loop.
type outboundQueue struct {
	mu    sync.Mutex
	items [][]byte
	limit int // 0 = unbounded

	totalQueued int64
	totalSent   int64
}

func newOutboundQueue(limit int) *outboundQueue {
	return &outboundQueue{limit: limit}
}

// push appends data. When capped is set it returns ErrQueueFull if the queue
// is at its limit. The limit only bounds messages held for a future open.
func (q *outboundQueue) push(data []byte, capped bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if capped && q.limit > 0 && len(q.items) >= q.limit {
		return ErrQueueFull
	}
	q.items = append(q.items, data)
	q.totalQueued++
	return nil
}

// drain removes and returns every queued message in enqueue order.
func (q *outboundQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = nil
	return items
}

// requeue puts unsent messages back at the head, ahead of anything pushed
// since they were drained.
func (q *outboundQueue) requeue(items [][]byte) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([][]byte, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	merged = append(merged, q.items...)
	q.items = merged
}

// markSent records n messages handed to the transport.
func (q *outboundQueue) markSent(n int) {
	q.mu.Lock()
	q.totalSent += int64(n)
	q.mu.Unlock()
}

// Len returns the number of pending messages.
func (q *outboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// QueueStats contains outbound queue statistics.
type QueueStats struct {
	Pending     int
	TotalQueued int64
	TotalSent   int64
}

func (q *outboundQueue) stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pending:     len(q.items),
		TotalQueued: q.totalQueued,
		TotalSent:   q.totalSent,
	}
}
