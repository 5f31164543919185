package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
)

var ErrIteratorDone = errors.New("iterator done")

type Iterator[T any] interface {
	// Next will return the next available item. Once the iterator is exhausted it returns
	// ErrIteratorDone. If the context is cancelled or times out, it returns the context error.
	Next(ctx context.Context) (T, error)
	// Stop terminates iteration over the underlying iterator and releases its resources.
	Stop()
}

// ChunkIterator yields ordered chunks of resources. It is closed by explicitly calling Stop()
// or by calling Next() until it returns an ErrIteratorDone error.
type ChunkIterator = Iterator[[]resource.Resource]

// IterIsDoneOrCancelled reports whether err terminates an iteration without being a failure.
func IterIsDoneOrCancelled(err error) bool {
	return errors.Is(err, ErrIteratorDone) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type staticIterator[T any] struct {
	items []T
	mu    sync.Mutex
}

// NewStaticIterator returns an iterator over the provided slice.
func NewStaticIterator[T any](items []T) Iterator[T] {
	return &staticIterator[T]{items: items}
}

func (s *staticIterator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return zero, ErrIteratorDone
	}

	next, rest := s.items[0], s.items[1:]
	s.items = rest

	return next, nil
}

func (s *staticIterator[T]) Stop() {}

// NewStaticChunkIterator splits items into chunks of at most size elements.
func NewStaticChunkIterator[T any](items []T, size int) Iterator[[]T] {
	if size <= 0 {
		size = DefaultChunkSize
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}

	return NewStaticIterator(chunks)
}

type errorIterator[T any] struct {
	inner Iterator[T]
	after int
	err   error
}

// NewErrorIterator yields the first n items of inner and then fails with err on every call.
func NewErrorIterator[T any](inner Iterator[T], n int, err error) Iterator[T] {
	return &errorIterator[T]{inner: inner, after: n, err: err}
}

func (e *errorIterator[T]) Next(ctx context.Context) (T, error) {
	if e.after <= 0 {
		var zero T
		return zero, e.err
	}
	e.after--
	return e.inner.Next(ctx)
}

func (e *errorIterator[T]) Stop() {
	e.inner.Stop()
}
