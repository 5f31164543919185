package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage/test"
)

func newMigratedURI(t *testing.T) string {
	t.Helper()

	uri := "file:" + filepath.Join(t.TempDir(), "fhir.db")
	err := NewMigrationProvider(nil).RunMigrations(context.Background(), storage.MigrationConfig{
		Engine:  "sqlite",
		URI:     uri,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	return uri
}

func TestSQLiteDatastore(t *testing.T) {
	test.RunAllTests(t, func(t *testing.T) storage.Datastore {
		ds, err := New(newMigratedURI(t), NewConfig())
		require.NoError(t, err)
		return ds
	})
}

func TestMigrationVersion(t *testing.T) {
	uri := newMigratedURI(t)

	version, err := NewMigrationProvider(nil).GetCurrentVersion(context.Background(), storage.MigrationConfig{URI: uri, Timeout: time.Second})
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}

func TestMaxResourcesPerWrite(t *testing.T) {
	ds, err := New(newMigratedURI(t), NewConfig(WithMaxResourcesPerWrite(1)))
	require.NoError(t, err)
	defer ds.Close()

	_, _, err = ds.MergeBatch(context.Background(), "Patient", []resource.Resource{
		{"resourceType": "Patient", "id": "1"},
		{"resourceType": "Patient", "id": "2"},
	})
	require.ErrorIs(t, err, storage.ErrExceededWriteBatchLimit)
}

func TestReadChunksStopEarly(t *testing.T) {
	ctx := context.Background()
	ds, err := New(newMigratedURI(t), NewConfig())
	require.NoError(t, err)
	defer ds.Close()

	_, _, err = ds.MergeBatch(ctx, "Patient", []resource.Resource{
		{"resourceType": "Patient", "id": "1"},
		{"resourceType": "Patient", "id": "2"},
		{"resourceType": "Patient", "id": "3"},
	})
	require.NoError(t, err)

	iter, err := ds.ReadChunks(ctx, "Patient", storage.ReadFilter{}, storage.ReadChunksOptions{ChunkSize: 1})
	require.NoError(t, err)

	chunk, err := iter.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", chunk[0].ID())

	iter.Stop()
	_, err = iter.Next(ctx)
	require.ErrorIs(t, err, storage.ErrIteratorDone)
}

func TestPrepareDSN(t *testing.T) {
	for _, tc := range []struct {
		name     string
		uri      string
		expected string
	}{
		{
			name:     "defaults",
			uri:      "file:fhir.db",
			expected: "file:fhir.db?_pragma=journal_mode%28WAL%29&_pragma=busy_timeout%28100%29&_txlock=immediate",
		},
		{
			name:     "keeps_explicit_pragmas",
			uri:      "file:fhir.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(DELETE)&_txlock=deferred",
			expected: "file:fhir.db?_pragma=busy_timeout%285000%29&_pragma=journal_mode%28DELETE%29&_txlock=deferred",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PrepareDSN(tc.uri)
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}
