// Package resolver turns source references into canonical references.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/icanbwell/fhir-server-sub016/internal/build"
	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

const (
	defaultMaxCacheSize = 10000
	defaultCacheTTL     = 10 * time.Minute
)

// ErrMissingAuthority is returned in strict mode for a reference without an assigning authority.
var ErrMissingAuthority = errors.New("reference has no source assigning authority")

var (
	resolveCacheTotalCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "reference_resolve_cache_total_count",
		Help:      "The total number of cacheable reference resolutions.",
	})

	resolveCacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "reference_resolve_cache_hit_count",
		Help:      "The total number of reference resolutions served from cache.",
	})

	deduplicatedLookupsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "reference_resolve_deduplicated_lookups_count",
		Help:      "The total number of reference lookups that were deduplicated.",
	})
)

// Lookup finds an existing canonical reference for (resourceType, id, authority). It is
// consulted before a canonical id is minted.
type Lookup func(ctx context.Context, resourceType, id, authority string) (resource.Reference, bool, error)

// CanonicalResolver rewrites "Type/id|authority" references into "Type/<uuid>" where the
// uuid is a version 5 uuid over "id|authority". The source id and the authority are kept
// in the _sourceId and _sourceAssigningAuthority fields. Contained, absolute and urn
// references and references whose id already is a uuid are only annotated.
type CanonicalResolver struct {
	namespace        uuid.UUID
	defaultAuthority string
	strict           bool
	lookup           Lookup
	cache            storage.InMemoryCache[resource.Reference]
	cacheTTL         time.Duration
	group            singleflight.Group
	logger           logger.Logger
}

type Option func(*CanonicalResolver)

// WithDefaultAuthority sets the authority used when a reference carries none.
func WithDefaultAuthority(authority string) Option {
	return func(r *CanonicalResolver) {
		r.defaultAuthority = authority
	}
}

// WithStrictAuthority makes references without any authority fail with ErrMissingAuthority
// instead of being left unchanged.
func WithStrictAuthority(strict bool) Option {
	return func(r *CanonicalResolver) {
		r.strict = strict
	}
}

func WithNamespace(ns uuid.UUID) Option {
	return func(r *CanonicalResolver) {
		r.namespace = ns
	}
}

func WithLookup(lookup Lookup) Option {
	return func(r *CanonicalResolver) {
		r.lookup = lookup
	}
}

// WithCache sets the cache of resolved references. Entries expire after ttl.
func WithCache(cache storage.InMemoryCache[resource.Reference], ttl time.Duration) Option {
	return func(r *CanonicalResolver) {
		r.cache = cache
		r.cacheTTL = ttl
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *CanonicalResolver) {
		r.logger = l
	}
}

// NewCanonicalResolver builds a resolver. Without WithCache an LRU cache is created and owned
// by the resolver; call Close to release it.
func NewCanonicalResolver(opts ...Option) (*CanonicalResolver, error) {
	r := &CanonicalResolver{
		namespace: uuid.NameSpaceOID,
		cacheTTL:  defaultCacheTTL,
		logger:    logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cache == nil {
		cache, err := storage.NewInMemoryLRUCache(storage.WithMaxCacheSize[resource.Reference](defaultMaxCacheSize))
		if err != nil {
			return nil, fmt.Errorf("create resolver cache: %w", err)
		}
		r.cache = cache
	}

	return r, nil
}

func (r *CanonicalResolver) Close() {
	r.cache.Stop()
}

// CanonicalID returns the canonical id of a source id within an authority.
func (r *CanonicalResolver) CanonicalID(id, authority string) string {
	return uuid.NewSHA1(r.namespace, []byte(id+"|"+authority)).String()
}

// Stamp sets the identity fields of res so references to it resolve to it: _sourceId gets the
// source id, and when an assigning authority is known (the resource's own
// _sourceAssigningAuthority, else the default) _uuid gets CanonicalID and the authority is
// recorded. Resources whose id already is a uuid get that id as _uuid. Existing _uuid values
// are overwritten.
func (r *CanonicalResolver) Stamp(res resource.Resource) {
	id := res.ID()
	if id == "" {
		return
	}

	if isUUID(id) {
		res[resource.UUIDKey] = id
		if _, ok := res[resource.SourceIDKey].(string); !ok {
			res[resource.SourceIDKey] = id
		}
		return
	}

	res[resource.SourceIDKey] = id

	authority, _ := res[resource.SourceAssigningAuthorityKey].(string)
	if authority == "" {
		authority = r.defaultAuthority
	}
	if authority == "" {
		delete(res, resource.UUIDKey)
		return
	}

	res[resource.SourceAssigningAuthorityKey] = authority
	res[resource.UUIDKey] = r.CanonicalID(id, authority)
}

// Resolve returns the canonical form of ref. It is idempotent.
func (r *CanonicalResolver) Resolve(ctx context.Context, ref resource.Reference) (resource.Reference, error) {
	resourceType, id, authority, ok := ref.Parts()
	if !ok {
		return ref, nil
	}

	if isUUID(id) {
		return annotateCanonical(ref, resourceType, id, authority), nil
	}

	if authority == "" {
		authority = ref.SourceAssigningAuthority
	}
	if authority == "" {
		authority = r.defaultAuthority
	}
	if authority == "" {
		if r.strict {
			return ref, fmt.Errorf("%s/%s: %w", resourceType, id, ErrMissingAuthority)
		}
		if ref.SourceID == "" {
			ref.SourceID = resourceType + "/" + id
		}
		return ref, nil
	}

	canonical, err := r.canonical(ctx, resourceType, id, authority)
	if err != nil {
		return ref, err
	}

	out := ref
	out.Reference = canonical.Reference
	out.UUID = canonical.UUID
	out.SourceID = canonical.SourceID
	out.SourceAssigningAuthority = canonical.SourceAssigningAuthority

	return out, nil
}

func (r *CanonicalResolver) canonical(ctx context.Context, resourceType, id, authority string) (resource.Reference, error) {
	key := cacheKey(resourceType, id, authority)

	resolveCacheTotalCounter.Inc()
	if cached, ok := r.cache.Get(key); ok {
		resolveCacheHitCounter.Inc()
		return cached, nil
	}

	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		return r.mint(ctx, resourceType, id, authority)
	})
	if shared {
		deduplicatedLookupsCounter.Inc()
	}
	if err != nil {
		r.logger.DebugWithContext(ctx, "reference lookup failed",
			zap.String("resource_type", resourceType),
			zap.String("id", id),
			zap.Error(err),
		)
		return resource.Reference{}, err
	}

	canonical := v.(resource.Reference)
	r.cache.Set(key, canonical, r.cacheTTL)

	return canonical, nil
}

func (r *CanonicalResolver) mint(ctx context.Context, resourceType, id, authority string) (resource.Reference, error) {
	sourceID := resourceType + "/" + id

	if r.lookup != nil {
		found, ok, err := r.lookup(ctx, resourceType, id, authority)
		if err != nil {
			return resource.Reference{}, fmt.Errorf("lookup %s: %w", sourceID, err)
		}
		if ok {
			return found, nil
		}
	}

	ref := resourceType + "/" + r.CanonicalID(id, authority)
	return resource.Reference{
		Reference:                ref,
		UUID:                     ref,
		SourceID:                 sourceID,
		SourceAssigningAuthority: authority,
	}, nil
}

func annotateCanonical(ref resource.Reference, resourceType, id, authority string) resource.Reference {
	canonical := resourceType + "/" + id
	ref.Reference = canonical
	if authority != "" && ref.SourceAssigningAuthority == "" {
		ref.SourceAssigningAuthority = authority
	}
	if ref.UUID == "" {
		ref.UUID = canonical
	}
	if ref.SourceID == "" {
		ref.SourceID = canonical
	}
	return ref
}

func isUUID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func cacheKey(resourceType, id, authority string) string {
	h := xxhash.New()
	_, _ = h.WriteString(resourceType)
	_, _ = h.WriteString("/")
	_, _ = h.WriteString(id)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(authority)
	return strconv.FormatUint(h.Sum64(), 16)
}
