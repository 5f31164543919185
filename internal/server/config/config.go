// Package config contains all knobs and defaults used to configure the merge engine when
// running from the fhirmerge command.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

const (
	DefaultMaxResourcesPerMerge  = 1000
	DefaultMaxConcurrentTypes    = 4
	DefaultMaxConcurrentRewrites = 16
	DefaultRequestTimeout        = 30 * time.Second

	DefaultMaxResourcesPerWrite = 1000
	DefaultMaxOpenConns         = 10

	DefaultResolverCacheSize = 10000
	DefaultResolverCacheTTL  = 10 * time.Minute

	DefaultDeferredDelay        = time.Second
	DefaultDeferredPolicy       = "fifo"
	DefaultDeferredDrainTimeout = 10 * time.Second

	DefaultSearchChunkSize = 100
)

var (
	logFormats = []string{"text", "json"}
	logLevels  = []string{"none", "debug", "info", "warn", "error"}
	engines    = []string{"memory", "sqlite"}
	policies   = []string{"fifo", "lifo"}
)

type DatastoreMetricsConfig struct {
	// Enabled enables export of the datastore connection pool metrics.
	Enabled bool
}

// DatastoreConfig defines the storage collaborator settings.
type DatastoreConfig struct {
	// Engine is the datastore engine to use (e.g. 'memory', 'sqlite')
	Engine string
	URI    string

	// MaxResourcesPerWrite is the maximum number of resources handed to storage in one batch.
	MaxResourcesPerWrite int

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int

	Metrics DatastoreMetricsConfig
}

// ResolverConfig defines how references are canonicalized.
type ResolverConfig struct {
	// DefaultAuthority is used for references that carry no assigning authority.
	DefaultAuthority string

	// StrictAuthority fails references without any assigning authority instead of leaving them unchanged.
	StrictAuthority bool

	CacheSize int
	CacheTTL  time.Duration
}

type RewriteConfig struct {
	// WalkSequences enables rewriting of references held in sequence elements.
	WalkSequences bool
}

// DeferredConfig defines the background task queue.
type DeferredConfig struct {
	Delay time.Duration

	// Policy is the order pending tasks run in ('fifo' or 'lifo').
	Policy string

	// DrainTimeout bounds how long pending tasks are run at shutdown.
	DrainTimeout time.Duration
}

type SearchConfig struct {
	ChunkSize int

	// SortMappingFile is a YAML file mapping sort field names to identifier systems.
	SortMappingFile string
}

type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string
}

type OTLPTraceConfig struct {
	Endpoint string
}

type Config struct {
	// MaxResourcesPerMerge caps the number of resources accepted by one merge request.
	MaxResourcesPerMerge int

	// MaxConcurrentTypes is the number of resource types merged in parallel.
	MaxConcurrentTypes int

	// MaxConcurrentRewrites is the number of resources of one type rewritten in parallel.
	MaxConcurrentRewrites int

	RequestTimeout time.Duration

	Datastore DatastoreConfig
	Resolver  ResolverConfig
	Rewrite   RewriteConfig
	Deferred  DeferredConfig
	Search    SearchConfig
	Log       LogConfig
	Trace     TraceConfig
}

// Verify reports the first invalid setting.
func (cfg *Config) Verify() error {
	if !slices.Contains(logFormats, cfg.Log.Format) {
		return fmt.Errorf("config 'log.format' must be one of %v", logFormats)
	}

	if !slices.Contains(logLevels, cfg.Log.Level) {
		return fmt.Errorf("config 'log.level' must be one of %v", logLevels)
	}

	if !slices.Contains(engines, cfg.Datastore.Engine) {
		return fmt.Errorf("config 'datastore.engine' must be one of %v", engines)
	}

	if cfg.Datastore.Engine == "sqlite" && cfg.Datastore.URI == "" {
		return errors.New("config 'datastore.uri' is required for the sqlite engine")
	}

	if cfg.MaxResourcesPerMerge <= 0 {
		return errors.New("config 'maxResourcesPerMerge' must be greater than zero")
	}

	if cfg.MaxConcurrentTypes <= 0 || cfg.MaxConcurrentRewrites <= 0 {
		return errors.New("config 'maxConcurrentTypes' and 'maxConcurrentRewrites' must be greater than zero")
	}

	if cfg.Datastore.MaxResourcesPerWrite <= 0 {
		return errors.New("config 'datastore.maxResourcesPerWrite' must be greater than zero")
	}

	if !slices.Contains(policies, cfg.Deferred.Policy) {
		return fmt.Errorf("config 'deferred.policy' must be one of %v", policies)
	}

	if cfg.Deferred.Delay <= 0 {
		return errors.New("config 'deferred.delay' must be greater than zero")
	}

	if cfg.Search.ChunkSize <= 0 {
		return errors.New("config 'search.chunkSize' must be greater than zero")
	}

	if cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1 {
		return errors.New("config 'trace.sampleRatio' must be between 0 and 1")
	}

	if cfg.Trace.Enabled && cfg.Trace.OTLP.Endpoint == "" {
		return errors.New("config 'trace.otlp.endpoint' is required when tracing is enabled")
	}

	return nil
}

// DefaultConfig returns the configuration used when no flag, environment variable or config
// file overrides a setting.
func DefaultConfig() *Config {
	return &Config{
		MaxResourcesPerMerge:  DefaultMaxResourcesPerMerge,
		MaxConcurrentTypes:    DefaultMaxConcurrentTypes,
		MaxConcurrentRewrites: DefaultMaxConcurrentRewrites,
		RequestTimeout:        DefaultRequestTimeout,
		Datastore: DatastoreConfig{
			Engine:               "memory",
			MaxResourcesPerWrite: DefaultMaxResourcesPerWrite,
			MaxOpenConns:         DefaultMaxOpenConns,
		},
		Resolver: ResolverConfig{
			CacheSize: DefaultResolverCacheSize,
			CacheTTL:  DefaultResolverCacheTTL,
		},
		Rewrite: RewriteConfig{
			WalkSequences: true,
		},
		Deferred: DeferredConfig{
			Delay:        DefaultDeferredDelay,
			Policy:       DefaultDeferredPolicy,
			DrainTimeout: DefaultDeferredDrainTimeout,
		},
		Search: SearchConfig{
			ChunkSize: DefaultSearchChunkSize,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Trace: TraceConfig{
			Enabled:     false,
			OTLP:        OTLPTraceConfig{Endpoint: "0.0.0.0:4317"},
			SampleRatio: 0.2,
			ServiceName: "fhirmerge",
		},
	}
}
