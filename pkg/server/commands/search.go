package commands

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
	"github.com/icanbwell/fhir-server-sub016/pkg/params"
	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	serverErrors "github.com/icanbwell/fhir-server-sub016/pkg/server/errors"
	"github.com/icanbwell/fhir-server-sub016/pkg/sortkey"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
	"github.com/icanbwell/fhir-server-sub016/pkg/stream"
	"github.com/icanbwell/fhir-server-sub016/pkg/telemetry"
)

const (
	idParam   = "_id"
	sortParam = "_sort"
)

// SearchRequest reads the resources of one type. Sort names a sort field; a leading "-"
// sorts in descending order.
type SearchRequest struct {
	ResourceType string
	IDs          []string
	Sort         string
}

// SearchRequestFromArgs builds a SearchRequest from extracted request parameters. "_id" may
// be repeated or comma separated.
func SearchRequestFromArgs(resourceType string, args params.Args) *SearchRequest {
	req := &SearchRequest{ResourceType: resourceType}

	var rawIDs []string
	switch v := args[idParam].(type) {
	case string:
		rawIDs = []string{v}
	case []string:
		rawIDs = v
	}
	for _, raw := range rawIDs {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.IDs = append(req.IDs, id)
			}
		}
	}

	req.Sort, _ = args.String(sortParam)

	return req
}

type SearchResponse struct {
	Resources []resource.Resource
}

// SearchCommand gathers a chunked storage read into one collection and orders it by the
// default sort key.
type SearchCommand struct {
	datastore storage.ResourceReader
	sorter    *sortkey.Resolver
	chunkSize int
	logger    logger.Logger
}

type SearchCommandOption func(*SearchCommand)

func WithSearchCommandLogger(l logger.Logger) SearchCommandOption {
	return func(c *SearchCommand) {
		c.logger = l
	}
}

// WithSortMapping sets the mapping from sort field names to identifier systems.
func WithSortMapping(m sortkey.Mapping) SearchCommandOption {
	return func(c *SearchCommand) {
		c.sorter = sortkey.NewResolver(m)
	}
}

func WithSearchChunkSize(n int) SearchCommandOption {
	return func(c *SearchCommand) {
		c.chunkSize = n
	}
}

func NewSearchCommand(datastore storage.ResourceReader, opts ...SearchCommandOption) *SearchCommand {
	c := &SearchCommand{
		datastore: datastore,
		sorter:    sortkey.NewResolver(nil),
		chunkSize: storage.DefaultChunkSize,
		logger:    logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *SearchCommand) Execute(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	ctx, span := tracer.Start(ctx, "search.Execute", trace.WithAttributes(
		attribute.String("resource_type", req.ResourceType),
		attribute.String("sort", req.Sort),
	))
	defer span.End()

	if req.ResourceType == "" {
		err := serverErrors.NewValidationError("resourceType", "missing resource type")
		telemetry.TraceError(span, err)
		return nil, err
	}

	iter, err := c.datastore.ReadChunks(ctx, req.ResourceType, storage.ReadFilter{IDs: req.IDs}, storage.ReadChunksOptions{ChunkSize: c.chunkSize})
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, serverErrors.HandleError("", err)
	}

	capacity := c.chunkSize
	if len(req.IDs) > 0 {
		capacity = len(req.IDs)
	}

	collector := stream.NewCollector[resource.Resource](capacity)
	resources, err := collector.Collect(ctx, iter)
	if err != nil {
		telemetry.TraceError(span, err)
		c.logger.WarnWithContext(ctx, "search stream failed",
			zap.String("resource_type", req.ResourceType),
			zap.Int("collected", len(resources)),
			zap.Error(err),
		)
		return nil, serverErrors.HandleError("", err)
	}

	if req.Sort != "" {
		c.sort(resources, req.Sort)
	}

	span.SetAttributes(attribute.Int("results", len(resources)))

	return &SearchResponse{Resources: resources}, nil
}

// sort orders resources by the value of field. Resources without a value keep their
// relative order after all others.
func (c *SearchCommand) sort(resources []resource.Resource, field string) {
	descending := strings.HasPrefix(field, "-")
	field = strings.TrimPrefix(field, "-")

	type keyed struct {
		res   resource.Resource
		key   any
		found bool
	}

	items := make([]keyed, len(resources))
	for i, r := range resources {
		key, found := c.sorter.Resolve(r, field)
		items[i] = keyed{res: r, key: key, found: found}
	}

	slices.SortStableFunc(items, func(a, b keyed) int {
		switch {
		case !a.found && !b.found:
			return 0
		case !a.found:
			return 1
		case !b.found:
			return -1
		}
		if descending {
			return compareKeys(b.key, a.key)
		}
		return compareKeys(a.key, b.key)
	})

	for i, item := range items {
		resources[i] = item.res
	}
}

func compareKeys(a, b any) int {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
