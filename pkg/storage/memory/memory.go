package memory

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

var tracer = otel.Tracer("fhirmerge/pkg/storage/memory")

// StorageOption defines a function type used for configuring a [MemoryBackend] instance.
type StorageOption func(dataStore *MemoryBackend)

// MemoryBackend provides an ephemeral memory-backed implementation of [storage.Datastore].
// These instances may be safely shared by multiple go-routines.
type MemoryBackend struct {
	maxResourcesPerWrite int

	// map: resourceType => resources ordered by id
	resources map[string]*typeIndex // GUARDED_BY(mu).
	mu        sync.RWMutex
}

// Ensures that [MemoryBackend] implements the [storage.Datastore] interface.
var _ storage.Datastore = (*MemoryBackend)(nil)

// New creates a new [MemoryBackend] given the options.
func New(opts ...StorageOption) *MemoryBackend {
	ds := &MemoryBackend{
		maxResourcesPerWrite: storage.DefaultMaxResourcesPerWrite,
		resources:            make(map[string]*typeIndex),
	}

	for _, opt := range opts {
		opt(ds)
	}

	return ds
}

// WithMaxResourcesPerWrite returns a [StorageOption] that sets the maximum number of resources
// accepted by a single MergeBatch call.
func WithMaxResourcesPerWrite(n int) StorageOption {
	return func(ds *MemoryBackend) { ds.maxResourcesPerWrite = n }
}

// Close does not do anything for [MemoryBackend].
func (s *MemoryBackend) Close() {}

// MaxResourcesPerWrite see [storage.ResourceWriter].MaxResourcesPerWrite.
func (s *MemoryBackend) MaxResourcesPerWrite() int {
	return s.maxResourcesPerWrite
}

// Get see [storage.ResourceReader].Get.
func (s *MemoryBackend) Get(ctx context.Context, resourceType, id string) (resource.Resource, error) {
	_, span := tracer.Start(ctx, "memory.Get")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.resources[resourceType]
	if !ok {
		return nil, storage.ErrNotFound
	}

	r, ok := idx.get(id)
	if !ok {
		return nil, storage.ErrNotFound
	}

	return r.Clone(), nil
}

// ReadChunks see [storage.ResourceReader].ReadChunks. The returned iterator reads from a
// snapshot taken at call time.
func (s *MemoryBackend) ReadChunks(ctx context.Context, resourceType string, filter storage.ReadFilter, options storage.ReadChunksOptions) (storage.ChunkIterator, error) {
	_, span := tracer.Start(ctx, "memory.ReadChunks", trace.WithAttributes(attribute.String("resourceType", resourceType)))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []resource.Resource
	if idx, ok := s.resources[resourceType]; ok {
		for _, r := range idx.values() {
			if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, r.ID()) {
				continue
			}
			matches = append(matches, r.Clone())
		}
	}

	return storage.NewStaticChunkIterator(matches, options.ChunkSize), nil
}

// MergeBatch see [storage.ResourceWriter].MergeBatch.
func (s *MemoryBackend) MergeBatch(ctx context.Context, resourceType string, resources []resource.Resource) (*storage.WriteOutcome, []storage.EntryOutcome, error) {
	_, span := tracer.Start(ctx, "memory.MergeBatch", trace.WithAttributes(
		attribute.String("resourceType", resourceType),
		attribute.Int("resources", len(resources)),
	))
	defer span.End()

	if len(resources) > s.maxResourcesPerWrite {
		return nil, nil, storage.ErrExceededWriteBatchLimit
	}

	for _, r := range resources {
		if r.ResourceType() != resourceType {
			return nil, nil, storage.MismatchedResourceTypeError(resourceType, r.ResourceType())
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.resources[resourceType]
	if !ok {
		idx = newTypeIndex()
		s.resources[resourceType] = idx
	}

	outcome := &storage.WriteOutcome{}
	entries := make([]storage.EntryOutcome, 0, len(resources))
	for _, r := range resources {
		entry := s.mergeOne(idx, r)
		outcome.Add(entry.Status)
		entries = append(entries, entry)
	}

	return outcome, entries, nil
}

func (s *MemoryBackend) mergeOne(idx *typeIndex, r resource.Resource) storage.EntryOutcome {
	entry := storage.EntryOutcome{ID: r.ID(), ResourceType: r.ResourceType()}
	if r.ID() == "" {
		entry.Status = storage.StatusFailed
		entry.Error = storage.InvalidWriteInputError(r.ResourceType(), "", "missing id").Error()
		return entry
	}

	existing, found := idx.get(r.ID())
	if !found {
		stored := withVersion(r.Clone(), 1)
		idx.put(r.ID(), stored)
		entry.Status = storage.StatusInserted
		return entry
	}

	current := versionOf(existing)
	if submitted, err := strconv.Atoi(r.VersionID()); err == nil && submitted < current {
		entry.Status = storage.StatusConflict
		entry.Error = storage.ErrVersionConflict.Error()
		return entry
	}

	if storage.SameContent(existing, r) {
		entry.Status = storage.StatusSkipped
		return entry
	}

	idx.put(r.ID(), withVersion(r.Clone(), current+1))
	entry.Status = storage.StatusUpdated
	return entry
}

func versionOf(r resource.Resource) int {
	v, err := strconv.Atoi(r.VersionID())
	if err != nil {
		return 0
	}
	return v
}

func withVersion(r resource.Resource, version int) resource.Resource {
	meta, ok := r[resource.MetaKey].(map[string]any)
	if !ok {
		meta = make(map[string]any)
	}
	meta[resource.VersionIDKey] = strconv.Itoa(version)
	r[resource.MetaKey] = meta
	return r
}
