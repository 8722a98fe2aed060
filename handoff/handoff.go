// Package handoff implements the staging cache that carries sample
// queues between the host application and connections that have not
// been established yet.
//
// The host stages data under a connection name before the matching
// client dials in; when the handshake learns the name, the engine takes
// the staged queue and adopts it as the connection's buffer. A Cache is
// an explicit dependency injected into whoever needs it; there is no
// package-level instance.
package handoff

import (
	"sort"
	"sync"

	"github.com/optseb/spinemlnet/pkg/buffer"
)

// Cache maps connection names to staged sample queues. All methods are
// safe for concurrent use. The cache lock is never held while a queue
// operation runs.
type Cache struct {
	mu     sync.Mutex
	staged map[string]buffer.Queue[float64]
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{staged: make(map[string]buffer.Queue[float64])}
}

// Stage queues samples under name for a connection that may not exist
// yet. If an entry for name is already staged the samples are appended
// to it in order.
func (c *Cache) Stage(name string, samples ...float64) error {
	c.mu.Lock()
	q, ok := c.staged[name]
	if !ok {
		var err error
		q, err = buffer.NewFIFO[float64]()
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.staged[name] = q
	}
	c.mu.Unlock()

	// Push outside the cache lock; the queue has its own.
	return q.PushBatch(samples)
}

// TakeOrCreate removes and returns the queue staged under name. When
// nothing is staged it returns a fresh empty queue, so the caller
// always receives a usable buffer.
func (c *Cache) TakeOrCreate(name string) (buffer.Queue[float64], error) {
	c.mu.Lock()
	q, ok := c.staged[name]
	if ok {
		delete(c.staged, name)
	}
	c.mu.Unlock()

	if ok {
		return q, nil
	}
	return buffer.NewFIFO[float64]()
}

// StagedNames returns the names with staged data, sorted. Diagnostic
// use only.
func (c *Cache) StagedNames() []string {
	c.mu.Lock()
	names := make([]string, 0, len(c.staged))
	for name := range c.staged {
		names = append(names, name)
	}
	c.mu.Unlock()

	sort.Strings(names)
	return names
}

// Len returns the number of staged entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.staged)
}
