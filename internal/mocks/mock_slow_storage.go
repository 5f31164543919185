package mocks

import (
	"context"
	"time"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

// slowDatastore is a proxy to the actual datastore except that every call waits for delay
// first, or until the context is done.
type slowDatastore struct {
	delay time.Duration
	storage.Datastore
}

// NewMockSlowDatastore returns a wrapper of a datastore that adds artificial delays into
// reads and writes. It is used to exercise request deadlines.
func NewMockSlowDatastore(ds storage.Datastore, delay time.Duration) storage.Datastore {
	return &slowDatastore{
		delay:     delay,
		Datastore: ds,
	}
}

func (m *slowDatastore) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.delay):
		return nil
	}
}

func (m *slowDatastore) Get(ctx context.Context, resourceType, id string) (resource.Resource, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.Datastore.Get(ctx, resourceType, id)
}

func (m *slowDatastore) ReadChunks(ctx context.Context, resourceType string, filter storage.ReadFilter, options storage.ReadChunksOptions) (storage.ChunkIterator, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.Datastore.ReadChunks(ctx, resourceType, filter, options)
}

func (m *slowDatastore) MergeBatch(ctx context.Context, resourceType string, resources []resource.Resource) (*storage.WriteOutcome, []storage.EntryOutcome, error) {
	if err := m.wait(ctx); err != nil {
		return nil, nil, err
	}
	return m.Datastore.MergeBatch(ctx, resourceType, resources)
}
