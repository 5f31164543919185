// Package sqlite provides a SQLite backed implementation of the storage collaborator.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/icanbwell/fhir-server-sub016/internal/build"
	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

var tracer = otel.Tracer("fhirmerge/pkg/storage/sqlite")

func startTrace(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlite."+name, trace.WithAttributes(attrs...))
}

const maxBusyRetryElapsed = 2 * time.Second

// Config holds the knobs of a [Datastore].
type Config struct {
	Logger               logger.Logger
	MaxResourcesPerWrite int
	MaxOpenConns         int
	ExportMetrics        bool
}

type ConfigOption func(*Config)

func WithLogger(l logger.Logger) ConfigOption {
	return func(c *Config) { c.Logger = l }
}

func WithMaxResourcesPerWrite(n int) ConfigOption {
	return func(c *Config) { c.MaxResourcesPerWrite = n }
}

func WithMaxOpenConns(n int) ConfigOption {
	return func(c *Config) { c.MaxOpenConns = n }
}

func WithMetrics() ConfigOption {
	return func(c *Config) { c.ExportMetrics = true }
}

func NewConfig(opts ...ConfigOption) *Config {
	cfg := &Config{
		Logger:               logger.NewNoopLogger(),
		MaxResourcesPerWrite: storage.DefaultMaxResourcesPerWrite,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Datastore provides a SQLite based implementation of [storage.Datastore].
type Datastore struct {
	stbl                 sq.StatementBuilderType
	db                   *sql.DB
	logger               logger.Logger
	dbStatsCollector     prometheus.Collector
	maxResourcesPerWrite int
}

// Ensures that SQLite implements the Datastore interface.
var _ storage.Datastore = (*Datastore)(nil)

// PrepareDSN prepares a raw DSN for use with SQLite, specifying defaults for journal mode and
// busy timeout.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}

	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	return uri + "?" + query.Encode(), nil
}

// New creates a new [Datastore]. The schema must already be migrated, see [MigrationProvider].
func New(uri string, cfg *Config) (*Datastore, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	return &Datastore{
		stbl:                 sq.StatementBuilder.RunWith(db),
		db:                   db,
		logger:               cfg.Logger,
		dbStatsCollector:     collector,
		maxResourcesPerWrite: cfg.MaxResourcesPerWrite,
	}, nil
}

// Close see [storage.Datastore].Close.
func (s *Datastore) Close() {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	s.db.Close()
}

// MaxResourcesPerWrite see [storage.ResourceWriter].MaxResourcesPerWrite.
func (s *Datastore) MaxResourcesPerWrite() int {
	return s.maxResourcesPerWrite
}

// Get see [storage.ResourceReader].Get.
func (s *Datastore) Get(ctx context.Context, resourceType, id string) (resource.Resource, error) {
	ctx, span := startTrace(ctx, "Get", attribute.String("resourceType", resourceType))
	defer span.End()

	var body string
	err := s.stbl.
		Select("body").
		From("resource").
		Where(sq.Eq{"resource_type": resourceType, "id": id}).
		QueryRowContext(ctx).
		Scan(&body)
	if err != nil {
		return nil, HandleSQLError(err)
	}

	return resource.Decode([]byte(body))
}

// ReadChunks see [storage.ResourceReader].ReadChunks.
func (s *Datastore) ReadChunks(ctx context.Context, resourceType string, filter storage.ReadFilter, options storage.ReadChunksOptions) (storage.ChunkIterator, error) {
	ctx, span := startTrace(ctx, "ReadChunks", attribute.String("resourceType", resourceType))
	defer span.End()

	sb := s.stbl.
		Select("body").
		From("resource").
		Where(sq.Eq{"resource_type": resourceType}).
		OrderBy("id")
	if len(filter.IDs) > 0 {
		sb = sb.Where(sq.Eq{"id": filter.IDs})
	}

	rows, err := sb.QueryContext(ctx)
	if err != nil {
		return nil, HandleSQLError(err)
	}

	chunkSize := options.ChunkSize
	if chunkSize <= 0 {
		chunkSize = storage.DefaultChunkSize
	}

	return &chunkIterator{rows: rows, chunkSize: chunkSize}, nil
}

// MergeBatch see [storage.ResourceWriter].MergeBatch. The batch is written in one
// transaction; per-entry outcomes are decided inside it.
func (s *Datastore) MergeBatch(ctx context.Context, resourceType string, resources []resource.Resource) (*storage.WriteOutcome, []storage.EntryOutcome, error) {
	ctx, span := startTrace(ctx, "MergeBatch",
		attribute.String("resourceType", resourceType),
		attribute.Int("resources", len(resources)),
	)
	defer span.End()

	if len(resources) > s.maxResourcesPerWrite {
		return nil, nil, storage.ErrExceededWriteBatchLimit
	}

	for _, r := range resources {
		if r.ResourceType() != resourceType {
			return nil, nil, storage.MismatchedResourceTypeError(resourceType, r.ResourceType())
		}
	}

	var (
		outcome *storage.WriteOutcome
		entries []storage.EntryOutcome
	)
	err := s.busyRetry(ctx, func() error {
		var err error
		outcome, entries, err = s.mergeBatch(ctx, resources)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return outcome, entries, nil
}

func (s *Datastore) mergeBatch(ctx context.Context, resources []resource.Resource) (*storage.WriteOutcome, []storage.EntryOutcome, error) {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, HandleSQLError(err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	outcome := &storage.WriteOutcome{}
	entries := make([]storage.EntryOutcome, 0, len(resources))

	for _, r := range resources {
		entry, err := s.mergeOne(ctx, txn, r, now)
		if err != nil {
			return nil, nil, err
		}
		outcome.Add(entry.Status)
		entries = append(entries, entry)
	}

	if err := txn.Commit(); err != nil {
		return nil, nil, HandleSQLError(err)
	}

	return outcome, entries, nil
}

func (s *Datastore) mergeOne(ctx context.Context, txn *sql.Tx, r resource.Resource, now string) (storage.EntryOutcome, error) {
	entry := storage.EntryOutcome{ID: r.ID(), ResourceType: r.ResourceType()}
	if r.ID() == "" {
		entry.Status = storage.StatusFailed
		entry.Error = storage.InvalidWriteInputError(r.ResourceType(), "", "missing id").Error()
		return entry, nil
	}

	var (
		current int
		body    string
	)
	err := s.stbl.
		Select("version_id", "body").
		From("resource").
		Where(sq.Eq{"resource_type": r.ResourceType(), "id": r.ID()}).
		RunWith(txn). // Part of a txn.
		QueryRowContext(ctx).
		Scan(&current, &body)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return entry, HandleSQLError(err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		encoded, err := encode(r, 1)
		if err != nil {
			entry.Status = storage.StatusFailed
			entry.Error = err.Error()
			return entry, nil
		}

		_, err = s.stbl.
			Insert("resource").
			Columns("resource_type", "id", "version_id", "ulid", "body", "updated_at").
			Values(r.ResourceType(), r.ID(), 1, ulid.Make().String(), encoded, now).
			RunWith(txn). // Part of a txn.
			ExecContext(ctx)
		if err != nil {
			return entry, HandleSQLError(err)
		}

		entry.Status = storage.StatusInserted
		return entry, nil
	}

	if submitted, err := strconv.Atoi(r.VersionID()); err == nil && submitted < current {
		entry.Status = storage.StatusConflict
		entry.Error = storage.ErrVersionConflict.Error()
		return entry, nil
	}

	existing, err := resource.Decode([]byte(body))
	if err != nil {
		return entry, err
	}
	if storage.SameContent(existing, r) {
		entry.Status = storage.StatusSkipped
		return entry, nil
	}

	encoded, err := encode(r, current+1)
	if err != nil {
		entry.Status = storage.StatusFailed
		entry.Error = err.Error()
		return entry, nil
	}

	_, err = s.stbl.
		Update("resource").
		Set("version_id", current+1).
		Set("ulid", ulid.Make().String()).
		Set("body", encoded).
		Set("updated_at", now).
		Where(sq.Eq{"resource_type": r.ResourceType(), "id": r.ID()}).
		RunWith(txn). // Part of a txn.
		ExecContext(ctx)
	if err != nil {
		return entry, HandleSQLError(err)
	}

	entry.Status = storage.StatusUpdated
	return entry, nil
}

// encode stamps meta.versionId on a copy of r and serializes it.
func encode(r resource.Resource, version int) (string, error) {
	stamped := r.Clone()
	meta, ok := stamped[resource.MetaKey].(map[string]any)
	if !ok {
		meta = make(map[string]any)
	}
	meta[resource.VersionIDKey] = strconv.Itoa(version)
	stamped[resource.MetaKey] = meta

	b, err := json.Marshal(stamped)
	if err != nil {
		return "", storage.InvalidWriteInputError(r.ResourceType(), r.ID(), err.Error())
	}
	return string(b), nil
}

// HandleSQLError translates driver errors into storage errors.
func HandleSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if errors.Is(err, context.Canceled) {
		return storage.ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return storage.ErrDeadlineExceeded
	}

	return fmt.Errorf("sql error: %w", err)
}

// SQLite returns SQLITE_BUSY when the database is locked rather than waiting for the lock,
// so writes are retried with a short exponential backoff.
func (s *Datastore) busyRetry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxElapsedTime = maxBusyRetryElapsed

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !isBusyError(err) {
			return backoff.Permanent(err)
		}

		s.logger.WarnWithContext(ctx, "sqlite busy, retrying write", zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(policy, ctx))
}

var busyErrors = map[int]struct{}{
	sqlite3.SQLITE_BUSY_RECOVERY:      {},
	sqlite3.SQLITE_BUSY_SNAPSHOT:      {},
	sqlite3.SQLITE_BUSY_TIMEOUT:       {},
	sqlite3.SQLITE_BUSY:               {},
	sqlite3.SQLITE_LOCKED_SHAREDCACHE: {},
	sqlite3.SQLITE_LOCKED:             {},
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	_, ok := busyErrors[sqliteErr.Code()]
	return ok
}
