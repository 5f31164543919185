// Package test contains a conformance suite that every storage.Datastore implementation
// runs from its own tests.
package test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

// DatastoreFactory returns a fresh, empty datastore for one subtest.
type DatastoreFactory func(t *testing.T) storage.Datastore

func RunAllTests(t *testing.T, newDS DatastoreFactory) {
	run := func(name string, fn func(*testing.T, storage.Datastore)) {
		t.Run(name, func(t *testing.T) {
			ds := newDS(t)
			t.Cleanup(ds.Close)
			fn(t, ds)
		})
	}

	run("TestMergeInsertsThenUpdates", MergeInsertsThenUpdatesTest)
	run("TestMergeSkipsUnchanged", MergeSkipsUnchangedTest)
	run("TestMergeVersionConflict", MergeVersionConflictTest)
	run("TestMergeMissingIDIsPerEntryFailure", MergeMissingIDTest)
	run("TestMergeMismatchedTypeFailsBatch", MergeMismatchedTypeTest)
	run("TestGetNotFound", GetNotFoundTest)
	run("TestReadChunks", ReadChunksTest)
	run("TestReadChunksFilter", ReadChunksFilterTest)
}

func patient(id string, fields ...any) resource.Resource {
	r := resource.Resource{"resourceType": "Patient", "id": id}
	for i := 0; i+1 < len(fields); i += 2 {
		r[fields[i].(string)] = fields[i+1]
	}
	return r
}

func readAll(t *testing.T, iter storage.ChunkIterator) [][]resource.Resource {
	t.Helper()
	defer iter.Stop()

	var chunks [][]resource.Resource
	for {
		chunk, err := iter.Next(context.Background())
		if errors.Is(err, storage.ErrIteratorDone) {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
}
