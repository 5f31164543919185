package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

func MergeInsertsThenUpdatesTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	outcome, entries, err := ds.MergeBatch(ctx, "Patient", []resource.Resource{
		patient("1", "active", true),
		patient("2", "active", true),
	})
	require.NoError(t, err)
	require.Equal(t, &storage.WriteOutcome{Inserted: 2}, outcome)
	require.Equal(t, []storage.EntryOutcome{
		{ID: "1", ResourceType: "Patient", Status: storage.StatusInserted},
		{ID: "2", ResourceType: "Patient", Status: storage.StatusInserted},
	}, entries)

	got, err := ds.Get(ctx, "Patient", "1")
	require.NoError(t, err)
	require.Equal(t, "1", got.VersionID())
	require.Equal(t, true, got["active"])

	outcome, entries, err = ds.MergeBatch(ctx, "Patient", []resource.Resource{patient("1", "active", false)})
	require.NoError(t, err)
	require.Equal(t, &storage.WriteOutcome{Updated: 1}, outcome)
	require.Equal(t, storage.StatusUpdated, entries[0].Status)

	got, err = ds.Get(ctx, "Patient", "1")
	require.NoError(t, err)
	require.Equal(t, "2", got.VersionID())
	require.Equal(t, false, got["active"])
}

func MergeSkipsUnchangedTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	_, _, err := ds.MergeBatch(ctx, "Patient", []resource.Resource{patient("1", "gender", "female")})
	require.NoError(t, err)

	outcome, entries, err := ds.MergeBatch(ctx, "Patient", []resource.Resource{patient("1", "gender", "female")})
	require.NoError(t, err)
	require.Equal(t, &storage.WriteOutcome{Skipped: 1}, outcome)
	require.Equal(t, storage.StatusSkipped, entries[0].Status)

	got, err := ds.Get(ctx, "Patient", "1")
	require.NoError(t, err)
	require.Equal(t, "1", got.VersionID())
}

func MergeVersionConflictTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	_, _, err := ds.MergeBatch(ctx, "Patient", []resource.Resource{patient("1", "gender", "female")})
	require.NoError(t, err)
	_, _, err = ds.MergeBatch(ctx, "Patient", []resource.Resource{patient("1", "gender", "male")})
	require.NoError(t, err)

	stale := patient("1", "gender", "other", "meta", map[string]any{"versionId": "1"})
	outcome, entries, err := ds.MergeBatch(ctx, "Patient", []resource.Resource{stale})
	require.NoError(t, err)
	require.Equal(t, &storage.WriteOutcome{Conflicts: 1}, outcome)
	require.Equal(t, storage.StatusConflict, entries[0].Status)
	require.NotEmpty(t, entries[0].Error)

	got, err := ds.Get(ctx, "Patient", "1")
	require.NoError(t, err)
	require.Equal(t, "male", got["gender"])
}

func MergeMissingIDTest(t *testing.T, ds storage.Datastore) {
	outcome, entries, err := ds.MergeBatch(context.Background(), "Patient", []resource.Resource{
		{"resourceType": "Patient"},
		patient("2"),
	})
	require.NoError(t, err)
	require.Equal(t, &storage.WriteOutcome{Inserted: 1, Failed: 1}, outcome)
	require.Equal(t, storage.StatusFailed, entries[0].Status)
	require.Contains(t, entries[0].Error, "missing id")
	require.Equal(t, storage.StatusInserted, entries[1].Status)
}

func MergeMismatchedTypeTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	_, _, err := ds.MergeBatch(ctx, "Patient", []resource.Resource{
		patient("1"),
		{"resourceType": "Observation", "id": "o1"},
	})
	require.ErrorIs(t, err, storage.ErrInvalidWriteInput)

	_, err = ds.Get(ctx, "Patient", "1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func GetNotFoundTest(t *testing.T, ds storage.Datastore) {
	_, err := ds.Get(context.Background(), "Patient", "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func ReadChunksTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	_, _, err := ds.MergeBatch(ctx, "Patient", []resource.Resource{patient("c"), patient("a"), patient("b")})
	require.NoError(t, err)
	_, _, err = ds.MergeBatch(ctx, "Observation", []resource.Resource{{"resourceType": "Observation", "id": "o1"}})
	require.NoError(t, err)

	iter, err := ds.ReadChunks(ctx, "Patient", storage.ReadFilter{}, storage.ReadChunksOptions{ChunkSize: 2})
	require.NoError(t, err)

	chunks := readAll(t, iter)
	require.Len(t, chunks, 2)
	require.Len(t, chunks[0], 2)
	require.Len(t, chunks[1], 1)
	require.Equal(t, "a", chunks[0][0].ID())
	require.Equal(t, "b", chunks[0][1].ID())
	require.Equal(t, "c", chunks[1][0].ID())

	iter, err = ds.ReadChunks(ctx, "Encounter", storage.ReadFilter{}, storage.ReadChunksOptions{})
	require.NoError(t, err)
	require.Empty(t, readAll(t, iter))
}

func ReadChunksFilterTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	_, _, err := ds.MergeBatch(ctx, "Patient", []resource.Resource{patient("a"), patient("b"), patient("c")})
	require.NoError(t, err)

	iter, err := ds.ReadChunks(ctx, "Patient", storage.ReadFilter{IDs: []string{"c", "a"}}, storage.ReadChunksOptions{ChunkSize: 10})
	require.NoError(t, err)

	chunks := readAll(t, iter)
	require.Len(t, chunks, 1)
	require.Equal(t, "a", chunks[0][0].ID())
	require.Equal(t, "c", chunks[0][1].ID())
}
