// Package stream gathers a chunked stream into a single in-memory collection.
package stream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

// ErrCollectorClosed is returned when a collector that already completed or failed is used again.
var ErrCollectorClosed = errors.New("collector closed")

// Collector appends the items of every chunk, in arrival order, to one destination
// collection. On completion the destination is emitted exactly once on Result. On failure
// Result is closed without a value and the partial destination stays available through Items.
type Collector[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	err    error
	result chan []T
}

// NewCollector returns a collector whose destination is pre-allocated for capacity items.
func NewCollector[T any](capacity int) *Collector[T] {
	return &Collector[T]{
		items:  make([]T, 0, max(capacity, 0)),
		result: make(chan []T, 1),
	}
}

// Absorb appends one chunk. It returns once the whole chunk is stored.
func (c *Collector[T]) Absorb(chunk []T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCollectorClosed
	}

	c.items = append(c.items, chunk...)
	return nil
}

// Complete emits the destination on Result and closes it.
func (c *Collector[T]) Complete() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCollectorClosed
	}

	c.closed = true
	c.result <- c.items
	close(c.result)

	return nil
}

// Fail closes Result without emitting and records err.
func (c *Collector[T]) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	c.err = err
	close(c.result)
}

// Collect drains it into the destination and completes the collector. On an upstream error
// the iterator is stopped and the error returned along with the partial destination.
func (c *Collector[T]) Collect(ctx context.Context, it storage.Iterator[[]T]) ([]T, error) {
	defer it.Stop()

	for {
		chunk, err := it.Next(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrIteratorDone) {
				break
			}
			err = fmt.Errorf("collect stream: %w", err)
			c.Fail(err)
			return c.Items(), err
		}

		if err := c.Absorb(chunk); err != nil {
			return c.Items(), err
		}
	}

	if err := c.Complete(); err != nil {
		return c.Items(), err
	}

	return c.Items(), nil
}

// Items returns a copy of the destination as it currently is.
func (c *Collector[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.items)
}

// Len returns the number of absorbed items.
func (c *Collector[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Err returns the error passed to Fail, if any.
func (c *Collector[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// Result yields the destination once after Complete and is then closed.
func (c *Collector[T]) Result() <-chan []T {
	return c.result
}
