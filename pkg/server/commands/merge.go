package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/icanbwell/fhir-server-sub016/internal/build"
	"github.com/icanbwell/fhir-server-sub016/internal/deferred"
	"github.com/icanbwell/fhir-server-sub016/pkg/bulk"
	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
	"github.com/icanbwell/fhir-server-sub016/pkg/personlink"
	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/rewrite"
	serverErrors "github.com/icanbwell/fhir-server-sub016/pkg/server/errors"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
	"github.com/icanbwell/fhir-server-sub016/pkg/telemetry"
)

var tracer = otel.Tracer("pkg/server/commands")

const (
	defaultMaxResourcesPerMerge  = 1000
	defaultMaxConcurrentTypes    = 4
	defaultMaxConcurrentRewrites = 16
)

var (
	mergedResourcesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "merged_resources_total",
		Help:      "The total number of resources processed by merge requests, by entry status.",
	}, []string{"status"})

	failedBatchesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "merge_failed_batches_total",
		Help:      "The total number of resource type batches that failed as a whole.",
	})

	changeNotificationsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "merge_change_notifications_total",
		Help:      "The total number of post merge change notifications executed.",
	})
)

// MergeRequest is a batch of resources of any types.
type MergeRequest struct {
	Resources []resource.Resource
}

func (r *MergeRequest) GetResources() []resource.Resource {
	if r == nil {
		return nil
	}
	return r.Resources
}

// MergeResponse holds one entry per submitted resource type, in first seen order.
type MergeResponse struct {
	Results []bulk.BulkResultEntry
}

// IdentityStamper sets the canonical identity fields of a resource before it is stored.
type IdentityStamper interface {
	Stamp(res resource.Resource)
}

// MergeCommand rewrites the references of submitted resources, avoids rewriting unchanged
// person links and upserts the resources per type. Instances may be safely shared by
// multiple goroutines.
type MergeCommand struct {
	datastore             storage.Datastore
	rewriter              *rewrite.Rewriter
	resolve               rewrite.Resolver
	stamper               IdentityStamper
	queue                 *deferred.Queue
	logger                logger.Logger
	maxResourcesPerMerge  int
	maxConcurrentTypes    int
	maxConcurrentRewrites int
	newID                 func() string
}

type MergeCommandOption func(*MergeCommand)

func WithMergeCommandLogger(l logger.Logger) MergeCommandOption {
	return func(c *MergeCommand) {
		c.logger = l
	}
}

func WithMergeCommandRewriter(r *rewrite.Rewriter) MergeCommandOption {
	return func(c *MergeCommand) {
		c.rewriter = r
	}
}

// WithMergeCommandResolver sets the reference resolver. It defaults to rewrite.Identity.
func WithMergeCommandResolver(resolve rewrite.Resolver) MergeCommandOption {
	return func(c *MergeCommand) {
		c.resolve = resolve
	}
}

// WithMergeCommandIdentityStamper sets how merged resources are given the identity their
// rewritten references point at. Without a stamper resources are stored as submitted.
func WithMergeCommandIdentityStamper(s IdentityStamper) MergeCommandOption {
	return func(c *MergeCommand) {
		c.stamper = s
	}
}

// WithMergeCommandDeferredQueue sets the queue post merge notifications are enqueued on.
// Without a queue no notification is produced.
func WithMergeCommandDeferredQueue(q *deferred.Queue) MergeCommandOption {
	return func(c *MergeCommand) {
		c.queue = q
	}
}

func WithMaxResourcesPerMerge(n int) MergeCommandOption {
	return func(c *MergeCommand) {
		c.maxResourcesPerMerge = n
	}
}

func WithMaxConcurrentTypes(n int) MergeCommandOption {
	return func(c *MergeCommand) {
		c.maxConcurrentTypes = n
	}
}

func WithMaxConcurrentRewrites(n int) MergeCommandOption {
	return func(c *MergeCommand) {
		c.maxConcurrentRewrites = n
	}
}

// WithIDGenerator sets how ids are minted for resources submitted without one.
func WithIDGenerator(f func() string) MergeCommandOption {
	return func(c *MergeCommand) {
		c.newID = f
	}
}

func NewMergeCommand(datastore storage.Datastore, opts ...MergeCommandOption) *MergeCommand {
	c := &MergeCommand{
		datastore:             datastore,
		resolve:               rewrite.Identity,
		logger:                logger.NewNoopLogger(),
		maxResourcesPerMerge:  defaultMaxResourcesPerMerge,
		maxConcurrentTypes:    defaultMaxConcurrentTypes,
		maxConcurrentRewrites: defaultMaxConcurrentRewrites,
		newID:                 uuid.NewString,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.rewriter == nil {
		c.rewriter = rewrite.New(rewrite.WithLogger(c.logger))
	}
	if c.maxResourcesPerMerge <= 0 {
		c.maxResourcesPerMerge = defaultMaxResourcesPerMerge
	}
	if c.maxConcurrentTypes <= 0 {
		c.maxConcurrentTypes = defaultMaxConcurrentTypes
	}
	if c.maxConcurrentRewrites <= 0 {
		c.maxConcurrentRewrites = defaultMaxConcurrentRewrites
	}

	return c
}

// typeBatch is the part of a request sharing one resource type.
type typeBatch struct {
	resourceType string
	resources    []resource.Resource
}

// Execute merges the request. Only request level validation problems are returned as an
// error. Failures of single resources and of whole types are reported in the response.
func (c *MergeCommand) Execute(ctx context.Context, req *MergeRequest) (*MergeResponse, error) {
	ctx, span := tracer.Start(ctx, "merge.Execute", trace.WithAttributes(
		attribute.Int("resources", len(req.GetResources())),
	))
	defer span.End()

	batches, err := c.validateAndGroup(req)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	agg := bulk.NewAggregator()

	p := pool.New().WithMaxGoroutines(c.maxConcurrentTypes)
	for _, batch := range batches {
		p.Go(func() {
			c.mergeType(ctx, batch, agg)
		})
	}
	p.Wait()

	types := make([]string, 0, len(batches))
	for _, b := range batches {
		types = append(types, b.resourceType)
	}
	results := agg.Results()
	bulk.SortByType(results, types)

	return &MergeResponse{Results: results}, nil
}

// validateAndGroup clones every submitted resource, mints missing ids and groups the clones
// by type in first seen order.
func (c *MergeCommand) validateAndGroup(req *MergeRequest) ([]typeBatch, error) {
	resources := req.GetResources()
	if len(resources) == 0 {
		return nil, serverErrors.EmptyMergeRequest
	}

	if len(resources) > c.maxResourcesPerMerge {
		return nil, serverErrors.NewValidationError("resources", "%d resources exceed the limit of %d per request", len(resources), c.maxResourcesPerMerge)
	}

	index := make(map[string]int)
	var batches []typeBatch

	for i, res := range resources {
		if res == nil {
			return nil, serverErrors.NewValidationError(fmt.Sprintf("resources[%d]", i), "resource is empty")
		}

		resourceType := res.ResourceType()
		if resourceType == "" {
			return nil, serverErrors.NewValidationError(fmt.Sprintf("resources[%d].%s", i, resource.ResourceTypeKey), "missing resource type")
		}

		clone := res.Clone()
		if clone.ID() == "" {
			clone.SetID(c.newID())
		}

		pos, ok := index[resourceType]
		if !ok {
			pos = len(batches)
			index[resourceType] = pos
			batches = append(batches, typeBatch{resourceType: resourceType})
		}
		batches[pos].resources = append(batches[pos].resources, clone)
	}

	return batches, nil
}

// prepared is the state of one resource after rewriting and person link reconciliation.
// A nil doc means the resource does not reach storage and outcome is final.
type prepared struct {
	doc     resource.Resource
	outcome storage.EntryOutcome
}

func (c *MergeCommand) mergeType(ctx context.Context, batch typeBatch, agg *bulk.Aggregator) {
	ctx, span := tracer.Start(ctx, "merge.mergeType", trace.WithAttributes(
		attribute.String("resource_type", batch.resourceType),
		attribute.Int("resources", len(batch.resources)),
	))
	defer span.End()

	items := make([]prepared, len(batch.resources))

	var g errgroup.Group
	g.SetLimit(c.maxConcurrentRewrites)
	for i, res := range batch.resources {
		g.Go(func() error {
			items[i] = c.prepare(ctx, batch.resourceType, res)
			return nil
		})
	}
	_ = g.Wait()

	entries, err := c.write(ctx, batch.resourceType, items)
	if err != nil {
		failedBatchesCounter.Inc()
		telemetry.TraceError(span, err)
		c.logger.ErrorWithContext(ctx, "merge batch failed",
			zap.String("resource_type", batch.resourceType),
			zap.Error(err),
		)
		c.record(agg.RecordFailure(batch.resourceType, err))
		return
	}

	outcome := &storage.WriteOutcome{}
	for _, e := range entries {
		outcome.Add(e.Status)
		mergedResourcesCounter.WithLabelValues(string(e.Status)).Inc()
	}

	c.record(agg.RecordSuccess(batch.resourceType, outcome, entries))

	if outcome.Inserted+outcome.Updated > 0 {
		c.notifyChanged(ctx, batch.resourceType, entries)
	}
}

// prepare rewrites one resource and reconciles its person links with the stored version.
// Failures are confined to the resource.
func (c *MergeCommand) prepare(ctx context.Context, resourceType string, res resource.Resource) prepared {
	outcome := storage.EntryOutcome{ID: res.ID(), ResourceType: resourceType}
	fail := func(err error) prepared {
		outcome.Status = storage.StatusFailed
		outcome.Error = err.Error()
		return prepared{outcome: outcome}
	}

	rewritten, err := c.rewriter.Rewrite(ctx, res.Map(), c.resolve)
	if err != nil {
		return fail(err)
	}
	doc := resource.Resource(rewritten)
	if c.stamper != nil {
		c.stamper.Stamp(doc)
	}

	if _, hasLinks := doc[resource.LinkKey]; !hasLinks {
		return prepared{doc: doc, outcome: outcome}
	}

	stored, err := c.datastore.Get(ctx, resourceType, doc.ID())
	if errors.Is(err, storage.ErrNotFound) {
		return prepared{doc: doc, outcome: outcome}
	}
	if err != nil {
		return fail(fmt.Errorf("read stored %s: %w", doc, err))
	}

	equal, err := personlink.EqualDocuments(stored[resource.LinkKey], doc[resource.LinkKey])
	if err != nil {
		return fail(err)
	}
	if !equal {
		return prepared{doc: doc, outcome: outcome}
	}

	if storedLinks, ok := stored[resource.LinkKey]; ok {
		doc[resource.LinkKey] = storedLinks
	}
	if storage.SameContent(doc, stored) {
		outcome.Status = storage.StatusSkipped
		return prepared{outcome: outcome}
	}

	return prepared{doc: doc, outcome: outcome}
}

// write hands the surviving documents to storage and returns one outcome per item, in
// submission order. Any chunk failing fails the whole type.
func (c *MergeCommand) write(ctx context.Context, resourceType string, items []prepared) ([]storage.EntryOutcome, error) {
	entries := make([]storage.EntryOutcome, len(items))
	positions := make([]int, 0, len(items))
	docs := make([]resource.Resource, 0, len(items))

	for i, item := range items {
		entries[i] = item.outcome
		if item.doc != nil {
			positions = append(positions, i)
			docs = append(docs, item.doc)
		}
	}

	chunkSize := c.datastore.MaxResourcesPerWrite()
	if chunkSize <= 0 {
		chunkSize = len(docs)
	}

	for start := 0; start < len(docs); start += chunkSize {
		end := min(start+chunkSize, len(docs))

		_, written, err := c.datastore.MergeBatch(ctx, resourceType, docs[start:end])
		if err != nil {
			return nil, &serverErrors.BulkWriteError{ResourceType: resourceType, Err: err}
		}
		if len(written) != end-start {
			return nil, &serverErrors.BulkWriteError{
				ResourceType: resourceType,
				Err:          fmt.Errorf("storage returned %d outcomes for %d resources", len(written), end-start),
			}
		}

		for j, w := range written {
			entries[positions[start+j]] = w
		}
	}

	return entries, nil
}

func (c *MergeCommand) notifyChanged(ctx context.Context, resourceType string, entries []storage.EntryOutcome) {
	if c.queue == nil {
		return
	}

	var ids []string
	for _, e := range entries {
		if e.Status == storage.StatusInserted || e.Status == storage.StatusUpdated {
			ids = append(ids, e.ID)
		}
	}

	traceFields := []zap.Field{zap.String("trace_id", trace.SpanContextFromContext(ctx).TraceID().String())}
	c.queue.Enqueue(func() {
		changeNotificationsCounter.Inc()
		c.logger.Info("resources changed",
			append(traceFields,
				zap.String("resource_type", resourceType),
				zap.Strings("ids", ids),
			)...,
		)
	})
}

func (c *MergeCommand) record(err error) {
	if err != nil {
		c.logger.Error("record merge outcome", zap.Error(err))
	}
}
