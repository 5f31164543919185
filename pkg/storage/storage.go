//go:generate mockgen -source storage.go -destination ../../internal/mocks/mock_storage.go -package mocks Datastore

// Package storage defines the storage collaborator of the merge engine: the interfaces the
// engine hands rewritten resources to, the write outcomes it gets back, and the iterators
// used to stream query results.
package storage

import (
	"context"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
)

const (
	DefaultChunkSize            = 100
	DefaultMaxResourcesPerWrite = 1000
)

// EntryStatus is the per-item result of a batch write.
type EntryStatus string

const (
	StatusInserted EntryStatus = "inserted"
	StatusUpdated  EntryStatus = "updated"
	StatusSkipped  EntryStatus = "skipped"
	StatusConflict EntryStatus = "conflict"
	StatusFailed   EntryStatus = "failed"
)

// IsSuccess reports whether the status represents an item that ended up persisted or
// deliberately left untouched.
func (s EntryStatus) IsSuccess() bool {
	switch s {
	case StatusInserted, StatusUpdated, StatusSkipped:
		return true
	default:
		return false
	}
}

// WriteOutcome holds the aggregate counts of a batch write. The engine treats it as opaque.
type WriteOutcome struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
}

// Add counts one entry.
func (w *WriteOutcome) Add(status EntryStatus) {
	switch status {
	case StatusInserted:
		w.Inserted++
	case StatusUpdated:
		w.Updated++
	case StatusSkipped:
		w.Skipped++
	case StatusConflict:
		w.Conflicts++
	case StatusFailed:
		w.Failed++
	}
}

// EntryOutcome is the outcome of writing one submitted resource.
type EntryOutcome struct {
	ID           string      `json:"id"`
	ResourceType string      `json:"resourceType"`
	Status       EntryStatus `json:"status"`
	Error        string      `json:"error,omitempty"`
}

// ReadFilter restricts a read. An empty filter matches every resource of the type.
type ReadFilter struct {
	IDs []string
}

// ReadChunksOptions configures a chunked read.
type ReadChunksOptions struct {
	ChunkSize int
}

// ResourceReader reads stored resources.
type ResourceReader interface {
	// Get returns the stored resource or ErrNotFound.
	Get(ctx context.Context, resourceType, id string) (resource.Resource, error)

	// ReadChunks streams all resources matching the filter, ordered by id, in chunks of at
	// most options.ChunkSize resources.
	ReadChunks(ctx context.Context, resourceType string, filter ReadFilter, options ReadChunksOptions) (ChunkIterator, error)
}

// ResourceWriter upserts resources.
type ResourceWriter interface {
	// MergeBatch upserts all resources, which must share resourceType. A non-nil error means
	// the whole batch failed and nothing can be said about individual entries. Otherwise
	// one EntryOutcome is returned per submitted resource, in submission order.
	MergeBatch(ctx context.Context, resourceType string, resources []resource.Resource) (*WriteOutcome, []EntryOutcome, error)

	// MaxResourcesPerWrite returns the maximum number of resources accepted by one MergeBatch call.
	MaxResourcesPerWrite() int
}

// Datastore is the storage collaborator used by the merge and search commands.
type Datastore interface {
	ResourceReader
	ResourceWriter

	Close()
}
