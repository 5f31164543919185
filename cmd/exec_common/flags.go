package exec_common

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/icanbwell/fhir-server-sub016/cmd/util"
	serverconfig "github.com/icanbwell/fhir-server-sub016/internal/server/config"
)

// configFlags maps each flag added by AddConfigFlags to its config key.
var configFlags = []struct{ flag, key string }{
	{"max-resources-per-merge", "maxResourcesPerMerge"},
	{"max-concurrent-types", "maxConcurrentTypes"},
	{"max-concurrent-rewrites", "maxConcurrentRewrites"},
	{"request-timeout", "requestTimeout"},
	{"datastore-engine", "datastore.engine"},
	{"datastore-uri", "datastore.uri"},
	{"datastore-max-resources-per-write", "datastore.maxResourcesPerWrite"},
	{"datastore-max-open-conns", "datastore.maxOpenConns"},
	{"datastore-metrics-enabled", "datastore.metrics.enabled"},
	{"resolver-default-authority", "resolver.defaultAuthority"},
	{"resolver-strict-authority", "resolver.strictAuthority"},
	{"resolver-cache-size", "resolver.cacheSize"},
	{"resolver-cache-ttl", "resolver.cacheTTL"},
	{"rewrite-walk-sequences", "rewrite.walkSequences"},
	{"deferred-delay", "deferred.delay"},
	{"deferred-policy", "deferred.policy"},
	{"deferred-drain-timeout", "deferred.drainTimeout"},
	{"search-chunk-size", "search.chunkSize"},
	{"search-sort-mapping-file", "search.sortMappingFile"},
	{"log-format", "log.format"},
	{"log-level", "log.level"},
	{"trace-enabled", "trace.enabled"},
	{"trace-otlp-endpoint", "trace.otlp.endpoint"},
	{"trace-sample-ratio", "trace.sampleRatio"},
	{"trace-service-name", "trace.serviceName"},
}

// AddConfigFlags adds one flag per configuration knob, defaulting to DefaultConfig.
func AddConfigFlags(flags *pflag.FlagSet) {
	defaultConfig := serverconfig.DefaultConfig()

	flags.Int("max-resources-per-merge", defaultConfig.MaxResourcesPerMerge, "the maximum number of resources accepted by one merge request")
	flags.Int("max-concurrent-types", defaultConfig.MaxConcurrentTypes, "the number of resource types merged in parallel")
	flags.Int("max-concurrent-rewrites", defaultConfig.MaxConcurrentRewrites, "the number of resources of one type rewritten in parallel")
	flags.Duration("request-timeout", defaultConfig.RequestTimeout, "the timeout of one merge or search request")

	flags.String("datastore-engine", defaultConfig.Datastore.Engine, "the datastore engine that will be used for persistence ('memory' or 'sqlite')")
	flags.String("datastore-uri", defaultConfig.Datastore.URI, "the connection uri of the datastore (e.g. 'file:fhir.db')")
	flags.Int("datastore-max-resources-per-write", defaultConfig.Datastore.MaxResourcesPerWrite, "the maximum number of resources handed to the datastore in one write")
	flags.Int("datastore-max-open-conns", defaultConfig.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")
	flags.Bool("datastore-metrics-enabled", defaultConfig.Datastore.Metrics.Enabled, "enable/disable sql metrics")

	flags.String("resolver-default-authority", defaultConfig.Resolver.DefaultAuthority, "the assigning authority of references that carry none")
	flags.Bool("resolver-strict-authority", defaultConfig.Resolver.StrictAuthority, "fail references that carry no assigning authority")
	flags.Int("resolver-cache-size", defaultConfig.Resolver.CacheSize, "the number of resolved references kept in cache")
	flags.Duration("resolver-cache-ttl", defaultConfig.Resolver.CacheTTL, "how long a resolved reference is kept in cache")

	flags.Bool("rewrite-walk-sequences", defaultConfig.Rewrite.WalkSequences, "rewrite references held in sequence elements")

	flags.Duration("deferred-delay", defaultConfig.Deferred.Delay, "the delay between two deferred post-merge tasks")
	flags.String("deferred-policy", defaultConfig.Deferred.Policy, "the order deferred tasks run in ('fifo' or 'lifo')")
	flags.Duration("deferred-drain-timeout", defaultConfig.Deferred.DrainTimeout, "how long pending deferred tasks are run at shutdown")

	flags.Int("search-chunk-size", defaultConfig.Search.ChunkSize, "the number of resources read from the datastore per chunk")
	flags.String("search-sort-mapping-file", defaultConfig.Search.SortMappingFile, "a YAML file mapping sort field names to identifier systems")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in ('text' or 'json')")
	flags.String("log-level", defaultConfig.Log.Level, "the log level to use ('none', 'debug', 'info', 'warn' or 'error')")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")
	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")
	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample, between 0 and 1")
	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces")

	// NOTE: if you add a new flag here, update configFlags, too
}

// BindConfigFlagsFunc binds the flags added by AddConfigFlags to their config keys and to
// FHIRMERGE_ prefixed environment variables.
func BindConfigFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(_ *cobra.Command, _ []string) {
		for _, f := range configFlags {
			util.MustBindPFlag(f.key, flags.Lookup(f.flag))
			util.MustBindEnv(f.key, "FHIRMERGE_"+strings.ToUpper(strings.ReplaceAll(f.flag, "-", "_")))
		}
	}
}
