package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Verify())
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		err    string
	}{
		{
			name:   "bad_log_format",
			modify: func(c *Config) { c.Log.Format = "xml" },
			err:    "log.format",
		},
		{
			name:   "bad_log_level",
			modify: func(c *Config) { c.Log.Level = "verbose" },
			err:    "log.level",
		},
		{
			name:   "bad_engine",
			modify: func(c *Config) { c.Datastore.Engine = "postgres" },
			err:    "datastore.engine",
		},
		{
			name:   "sqlite_without_uri",
			modify: func(c *Config) { c.Datastore.Engine = "sqlite" },
			err:    "datastore.uri",
		},
		{
			name:   "zero_merge_limit",
			modify: func(c *Config) { c.MaxResourcesPerMerge = 0 },
			err:    "maxResourcesPerMerge",
		},
		{
			name:   "zero_concurrency",
			modify: func(c *Config) { c.MaxConcurrentTypes = 0 },
			err:    "maxConcurrentTypes",
		},
		{
			name:   "zero_write_limit",
			modify: func(c *Config) { c.Datastore.MaxResourcesPerWrite = -1 },
			err:    "datastore.maxResourcesPerWrite",
		},
		{
			name:   "bad_policy",
			modify: func(c *Config) { c.Deferred.Policy = "random" },
			err:    "deferred.policy",
		},
		{
			name:   "zero_delay",
			modify: func(c *Config) { c.Deferred.Delay = 0 },
			err:    "deferred.delay",
		},
		{
			name:   "zero_chunk_size",
			modify: func(c *Config) { c.Search.ChunkSize = 0 },
			err:    "search.chunkSize",
		},
		{
			name:   "sample_ratio_out_of_range",
			modify: func(c *Config) { c.Trace.SampleRatio = 1.5 },
			err:    "trace.sampleRatio",
		},
		{
			name: "tracing_without_endpoint",
			modify: func(c *Config) {
				c.Trace.Enabled = true
				c.Trace.OTLP.Endpoint = ""
			},
			err: "trace.otlp.endpoint",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.modify(cfg)

			require.ErrorContains(t, cfg.Verify(), test.err)
		})
	}
}

func TestSqliteWithURIIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Datastore.Engine = "sqlite"
	cfg.Datastore.URI = "file:fhir.db"

	require.NoError(t, cfg.Verify())
}
