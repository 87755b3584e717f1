package cache

import (
	"context"
	"sync"
	"time"
)

// Compile-time check to verify that MemoryQueue implements Queue.
var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-process Queue implementation used by unit tests and
// local development without Redis. FIFO semantics match the Redis queue.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []string
	signal chan struct{}
	closed bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		signal: make(chan struct{}, 1),
	}
}

// EnqueueRecalc appends a trigger to the queue.
func (q *MemoryQueue) EnqueueRecalc(_ context.Context, target string) error {
	q.mu.Lock()
	q.items = append(q.items, target)
	q.mu.Unlock()

	// Non-blocking wake-up for a waiting consumer
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// DequeueRecalc pops the oldest trigger, waiting up to timeout.
func (q *MemoryQueue) DequeueRecalc(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", nil
		case <-q.signal:
			// Loop back and retry the pop
		}
	}
}

// HealthCheck always succeeds for the in-memory queue.
func (q *MemoryQueue) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op for the in-memory queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Len reports the number of pending triggers. Test helper.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
