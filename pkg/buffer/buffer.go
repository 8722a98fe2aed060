// Package buffer provides a generic, thread-safe unbounded FIFO queue.
//
// The queue is the sample store behind every stream connection: the
// host application pushes samples on one side while the connection's
// own goroutine pops whole frames on the other. The protocol has no
// flow control, so the queue grows without bound and never drops.
//
// Statistics are always collected for observability; Prometheus
// metrics can optionally be enabled via the WithMetrics functional
// option.
package buffer

// Queue represents a generic FIFO queue interface.
// The queue is parameterized by item type T for type safety.
type Queue[T any] interface {
	// Push appends an item to the back of the queue.
	// Returns an error only if the queue has been closed.
	Push(item T) error

	// PushBatch appends all items to the back of the queue in order.
	PushBatch(items []T) error

	// Pop removes and returns the item at the front of the queue.
	// Returns the zero value and false if the queue is empty.
	Pop() (T, bool)

	// PopN atomically removes and returns exactly n items from the
	// front of the queue. If fewer than n items are present nothing is
	// removed and ok is false. This is the frame-pop used by the I/O
	// pump: a frame is transferred whole or not at all.
	PopN(n int) ([]T, bool)

	// Peek returns the front item without removing it.
	// Returns the zero value and false if the queue is empty.
	Peek() (T, bool)

	// Len returns the current number of items in the queue.
	Len() int

	// Clear removes all items from the queue.
	Clear()

	// Stats returns queue statistics (always available for observability).
	Stats() *Statistics

	// Close shuts down the queue. Subsequent pushes fail; pops drain
	// the remaining items.
	Close() error
}

// NewFIFO creates a new unbounded FIFO queue with the given options.
// Stats are ALWAYS collected. Metrics are optional via WithMetrics().
// Returns an error if metrics registration fails when metrics are requested.
func NewFIFO[T any](options ...Option[T]) (Queue[T], error) {
	opts := applyOptions(options...)
	return newFIFO(opts)
}
