// Package rewrite replaces the references embedded in a nested document with their
// canonical form.
package rewrite

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	serverErrors "github.com/icanbwell/fhir-server-sub016/pkg/server/errors"
)

var tracer = otel.Tracer("pkg/rewrite")

// Resolver maps a reference to its canonical form. It may perform I/O.
type Resolver func(ctx context.Context, ref resource.Reference) (resource.Reference, error)

// Identity is a Resolver that returns every reference unchanged.
func Identity(_ context.Context, ref resource.Reference) (resource.Reference, error) {
	return ref, nil
}

type Rewriter struct {
	walkSequences bool
	logger        logger.Logger
}

type Option func(*Rewriter)

// WithSequenceWalk controls whether elements of sequence valued fields are visited. It
// defaults to true. With false, only mapping valued fields are followed and references
// held inside sequences, such as generalPractitioner[0], are left as submitted.
func WithSequenceWalk(walk bool) Option {
	return func(r *Rewriter) {
		r.walkSequences = walk
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *Rewriter) {
		r.logger = l
	}
}

func New(opts ...Option) *Rewriter {
	r := &Rewriter{
		walkSequences: true,
		logger:        logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Rewrite walks doc depth first and replaces every reference sub-document in place with the
// resolver's result. Fields are visited in lexical order. A mapping with a "reference" key is
// never recursed into. The first resolver failure stops the walk and is returned as a
// *errors.ResolutionError; doc may then be partially rewritten.
func (r *Rewriter) Rewrite(ctx context.Context, doc map[string]any, resolve Resolver) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "rewrite.Rewrite", trace.WithAttributes(
		attribute.String("resource_type", resource.Resource(doc).ResourceType()),
		attribute.Bool("walk_sequences", r.walkSequences),
	))
	defer span.End()

	w := walker{rewriter: r, resolve: resolve}
	if err := w.document(ctx, "", doc); err != nil {
		span.RecordError(err)
		return doc, err
	}

	span.SetAttributes(attribute.Int("references_rewritten", w.rewritten))

	return doc, nil
}

type walker struct {
	rewriter  *Rewriter
	resolve   Resolver
	rewritten int
}

func (w *walker) document(ctx context.Context, path string, fields map[string]any) error {
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		childPath := key
		if path != "" {
			childPath = path + "." + key
		}

		replaced, changed, err := w.value(ctx, childPath, fields[key])
		if err != nil {
			return err
		}
		if changed {
			fields[key] = replaced
		}
	}

	return nil
}

func (w *walker) sequence(ctx context.Context, path string, items []any) error {
	for i, item := range items {
		replaced, changed, err := w.value(ctx, path+"["+strconv.Itoa(i)+"]", item)
		if err != nil {
			return err
		}
		if changed {
			items[i] = replaced
		}
	}

	return nil
}

func (w *walker) value(ctx context.Context, path string, v any) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	node := resource.Classify(v)
	switch node.Kind {
	case resource.KindReference:
		resolved, err := w.reference(ctx, path, node.Fields)
		if err != nil {
			return nil, false, err
		}
		return resolved, true, nil
	case resource.KindDocument:
		return nil, false, w.document(ctx, path, node.Fields)
	case resource.KindSequence:
		if !w.rewriter.walkSequences {
			return nil, false, nil
		}
		return nil, false, w.sequence(ctx, path, node.Items)
	default:
		return nil, false, nil
	}
}

func (w *walker) reference(ctx context.Context, path string, fields map[string]any) (map[string]any, error) {
	ref, err := resource.ReferenceFromMap(fields)
	if err != nil {
		return nil, &serverErrors.ResolutionError{Path: path, Reference: fmt.Sprint(fields[resource.ReferenceKey]), Err: err}
	}

	resolved, err := w.resolve(ctx, ref)
	if err != nil {
		w.rewriter.logger.DebugWithContext(ctx, "reference resolution failed",
			zap.String("path", path),
			zap.String("reference", ref.Reference),
			zap.Error(err),
		)
		return nil, &serverErrors.ResolutionError{Path: path, Reference: ref.Reference, Err: err}
	}

	w.rewritten++
	return resolved.Map(), nil
}
