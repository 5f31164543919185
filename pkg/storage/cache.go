package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"
)

const defaultMaxCacheSize = 10000

// InMemoryCache is a general purpose cache to store things in memory.
type InMemoryCache[T any] interface {
	// Get returns the value and true if the key exists and has not expired.
	Get(key string) (T, bool)
	Set(key string, value T, ttl time.Duration)
	Delete(key string)

	// Stop cleans resources.
	Stop()
}

// InMemoryLRUCache is an InMemoryCache backed by theine.
type InMemoryLRUCache[T any] struct {
	client      *theine.Cache[string, T]
	maxElements int64
	stopOnce    sync.Once
}

type InMemoryLRUCacheOpt[T any] func(i *InMemoryLRUCache[T])

func WithMaxCacheSize[T any](maxElements int64) InMemoryLRUCacheOpt[T] {
	return func(i *InMemoryLRUCache[T]) {
		i.maxElements = maxElements
	}
}

var _ InMemoryCache[any] = (*InMemoryLRUCache[any])(nil)

func NewInMemoryLRUCache[T any](opts ...InMemoryLRUCacheOpt[T]) (*InMemoryLRUCache[T], error) {
	c := &InMemoryLRUCache[T]{
		maxElements: defaultMaxCacheSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	client, err := theine.NewBuilder[string, T](c.maxElements).Build()
	if err != nil {
		return nil, fmt.Errorf("initialize cache: %w", err)
	}
	c.client = client

	return c, nil
}

func (c *InMemoryLRUCache[T]) Get(key string) (T, bool) {
	return c.client.Get(key)
}

// Set stores value under key. A non-positive ttl stores the entry without expiry.
func (c *InMemoryLRUCache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		c.client.Set(key, value, 1)
		return
	}
	c.client.SetWithTTL(key, value, 1, ttl)
}

func (c *InMemoryLRUCache[T]) Delete(key string) {
	c.client.Delete(key)
}

// Stop releases the cache. It may be called more than once.
func (c *InMemoryLRUCache[T]) Stop() {
	c.stopOnce.Do(c.client.Close)
}
