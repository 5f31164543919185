// Package exec_common builds the collaborators shared by the fhirmerge commands from the
// loaded configuration.
package exec_common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/icanbwell/fhir-server-sub016/internal/deferred"
	serverconfig "github.com/icanbwell/fhir-server-sub016/internal/server/config"
	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
	"github.com/icanbwell/fhir-server-sub016/pkg/resolver"
	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/sortkey"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage/memory"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage/sqlite"
	"github.com/icanbwell/fhir-server-sub016/pkg/telemetry"
)

// DatastoreEngine type to define different engine types
type DatastoreEngine string

// Types of Datastore Engines
const (
	Memory DatastoreEngine = "memory"
	SQLite DatastoreEngine = "sqlite"
)

func (e DatastoreEngine) String() string {
	return string(e)
}

func NewDatastoreEngine(engine string) (*DatastoreEngine, error) {
	for _, engineType := range []DatastoreEngine{Memory, SQLite} {
		if engineType.String() == engine {
			return &engineType, nil
		}
	}
	return nil, fmt.Errorf("invalid datastore engine '(%s)'", engine)
}

// VerifyDatastoreEngine rejects URIs that name a different database than engine.
func VerifyDatastoreEngine(uri string, engine DatastoreEngine) error {
	scheme, _, found := strings.Cut(uri, "://")
	if !found {
		return nil
	}

	switch scheme {
	case "postgres", "postgresql", "mysql", "mongodb":
		return fmt.Errorf("datastore uri scheme '%s' is not supported by engine '%s'", scheme, engine)
	}
	return nil
}

// ReadConfig returns the configuration based on the values provided in 'config.yaml', the
// environment and the bound flags. If no configuration file is present, the default values
// are returned.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Verify(); err != nil {
		return nil, err
	}

	return config, nil
}

// NewDatastore opens the datastore named by config.Datastore.Engine.
func NewDatastore(config *serverconfig.Config, l logger.Logger) (storage.Datastore, error) {
	engine, err := NewDatastoreEngine(config.Datastore.Engine)
	if err != nil {
		return nil, err
	}
	if err := VerifyDatastoreEngine(config.Datastore.URI, *engine); err != nil {
		return nil, err
	}

	switch *engine {
	case SQLite:
		opts := []sqlite.ConfigOption{
			sqlite.WithLogger(l),
			sqlite.WithMaxResourcesPerWrite(config.Datastore.MaxResourcesPerWrite),
			sqlite.WithMaxOpenConns(config.Datastore.MaxOpenConns),
		}
		if config.Datastore.Metrics.Enabled {
			opts = append(opts, sqlite.WithMetrics())
		}

		ds, err := sqlite.New(config.Datastore.URI, sqlite.NewConfig(opts...))
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite datastore: %w", err)
		}
		return ds, nil
	default:
		return memory.New(memory.WithMaxResourcesPerWrite(config.Datastore.MaxResourcesPerWrite)), nil
	}
}

// NewTracerProvider returns the tracer provider configured by config.Trace. When tracing is
// disabled a noop provider is installed globally.
func NewTracerProvider(config *serverconfig.Config, l logger.Logger) (telemetry.TracerProvider, error) {
	if !config.Trace.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return telemetry.Noop(), nil
	}

	l.Info("tracing enabled",
		zap.Float64("sample_ratio", config.Trace.SampleRatio),
		zap.String("endpoint", config.Trace.OTLP.Endpoint),
	)

	return telemetry.NewTracerProvider(
		telemetry.WithOTLPEndpoint(config.Trace.OTLP.Endpoint),
		telemetry.WithServiceName(config.Trace.ServiceName),
		telemetry.WithSamplingRatio(config.Trace.SampleRatio),
	)
}

// NewResolver builds the reference resolver. Canonical ids already stored for a
// (type, id, authority) triple are looked up in ds before a new one is minted.
func NewResolver(config *serverconfig.Config, ds storage.ResourceReader, l logger.Logger) (*resolver.CanonicalResolver, error) {
	cache, err := storage.NewInMemoryLRUCache(storage.WithMaxCacheSize[resource.Reference](int64(config.Resolver.CacheSize)))
	if err != nil {
		return nil, fmt.Errorf("create resolver cache: %w", err)
	}

	r, err := resolver.NewCanonicalResolver(
		resolver.WithDefaultAuthority(config.Resolver.DefaultAuthority),
		resolver.WithStrictAuthority(config.Resolver.StrictAuthority),
		resolver.WithCache(cache, config.Resolver.CacheTTL),
		resolver.WithLookup(resolver.StoredLookup(ds)),
		resolver.WithLogger(l),
	)
	if err != nil {
		cache.Stop()
		return nil, err
	}

	return r, nil
}

func NewDeferredQueue(config *serverconfig.Config, l logger.Logger) (*deferred.Queue, error) {
	policy, err := deferred.ParsePolicy(config.Deferred.Policy)
	if err != nil {
		return nil, err
	}

	return deferred.NewQueue(
		deferred.WithName("change-notifications"),
		deferred.WithDelay(config.Deferred.Delay),
		deferred.WithPolicy(policy),
		deferred.WithLogger(l),
	), nil
}

// LoadSortMapping reads config.Search.SortMappingFile. An unset file yields an empty mapping.
func LoadSortMapping(config *serverconfig.Config) (sortkey.Mapping, error) {
	if config.Search.SortMappingFile == "" {
		return sortkey.Mapping{}, nil
	}
	return sortkey.LoadMapping(config.Search.SortMappingFile)
}
