package buffer

import (
	"sync"

	"github.com/optseb/spinemlnet/errors"
)

// minCapacity is the initial ring size unless overridden by an option.
const minCapacity = 64

// fifo is a thread-safe unbounded FIFO backed by a growable ring.
type fifo[T any] struct {
	mu      sync.RWMutex
	items   []T
	head    int // index of the front item
	size    int
	stats   *Statistics   // ALWAYS initialized for observability
	metrics *queueMetrics // optional Prometheus metrics
	closed  bool
}

// newFIFO creates a new queue instance.
// Returns an error if metrics registration fails when requested.
func newFIFO[T any](opts *queueOptions[T]) (*fifo[T], error) {
	capacity := opts.initialCapacity
	if capacity <= 0 {
		capacity = minCapacity
	}

	var metrics *queueMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newFIFO", "metrics registration")
		}
	}

	return &fifo[T]{
		items:   make([]T, capacity),
		stats:   NewStatistics(),
		metrics: metrics,
	}, nil
}

// grow doubles the ring, relinearizing the items starting at index 0.
// Caller must hold mu.
func (q *fifo[T]) grow() {
	bigger := make([]T, len(q.items)*2)
	n := copy(bigger, q.items[q.head:])
	copy(bigger[n:], q.items[:q.head])
	q.items = bigger
	q.head = 0
}

// pushLocked appends one item. Caller must hold mu.
func (q *fifo[T]) pushLocked(item T) {
	if q.size == len(q.items) {
		q.grow()
	}
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
}

// popLocked removes the front item. Caller must hold mu and have
// checked size > 0.
func (q *fifo[T]) popLocked() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero // clear for GC
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item
}

// Push appends an item to the back of the queue.
func (q *fifo[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Push", "queue closed")
	}

	q.pushLocked(item)

	q.stats.Push()
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordPush(1, q.size)
	}

	return nil
}

// PushBatch appends all items to the back of the queue in order.
func (q *fifo[T]) PushBatch(items []T) error {
	if len(items) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "PushBatch", "queue closed")
	}

	for _, item := range items {
		q.pushLocked(item)
		q.stats.Push()
	}
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordPush(len(items), q.size)
	}

	return nil
}

// Pop removes and returns the item at the front of the queue.
func (q *fifo[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.popLocked()

	q.stats.Pop()
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordPop(1, q.size)
	}

	return item, true
}

// PopN atomically removes exactly n items, or nothing at all.
func (q *fifo[T]) PopN(n int) ([]T, bool) {
	if n <= 0 {
		return nil, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size < n {
		return nil, false
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = q.popLocked()
		q.stats.Pop()
	}
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordPop(n, q.size)
	}

	return result, true
}

// Peek returns the front item without removing it.
func (q *fifo[T]) Peek() (T, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}

	q.stats.Peek()
	if q.metrics != nil {
		q.metrics.recordPeek()
	}

	return q.items[q.head], true
}

// Len returns the current number of items in the queue.
func (q *fifo[T]) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// Clear removes all items from the queue.
func (q *fifo[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	for i := 0; i < q.size; i++ {
		q.items[(q.head+i)%len(q.items)] = zero
	}
	q.head = 0
	q.size = 0

	q.stats.UpdateSize(0)
	if q.metrics != nil {
		q.metrics.updateSize(0)
	}
}

// Stats returns queue statistics (always available for observability).
func (q *fifo[T]) Stats() *Statistics {
	return q.stats
}

// Close shuts down the queue. Idempotent.
func (q *fifo[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
