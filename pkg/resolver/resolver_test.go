package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
)

func newResolver(t *testing.T, opts ...Option) *CanonicalResolver {
	t.Helper()

	r, err := NewCanonicalResolver(opts...)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	return r
}

func TestResolveMintsCanonicalReference(t *testing.T) {
	r := newResolver(t)

	got, err := r.Resolve(context.Background(), resource.Reference{
		Reference: "Patient/abc|bwell",
		Extra:     map[string]any{"display": "Jane"},
	})
	require.NoError(t, err)

	expectedID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("abc|bwell")).String()
	require.Equal(t, resource.Reference{
		Reference:                "Patient/" + expectedID,
		UUID:                     "Patient/" + expectedID,
		SourceID:                 "Patient/abc",
		SourceAssigningAuthority: "bwell",
		Extra:                    map[string]any{"display": "Jane"},
	}, got)
	require.Equal(t, expectedID, r.CanonicalID("abc", "bwell"))
}

func TestResolveAuthorityPrecedence(t *testing.T) {
	r := newResolver(t, WithDefaultAuthority("fallback"))

	fromField, err := r.Resolve(context.Background(), resource.Reference{Reference: "Patient/abc", SourceAssigningAuthority: "field"})
	require.NoError(t, err)
	require.Equal(t, "Patient/"+r.CanonicalID("abc", "field"), fromField.Reference)

	fromDefault, err := r.Resolve(context.Background(), resource.Reference{Reference: "Patient/abc"})
	require.NoError(t, err)
	require.Equal(t, "Patient/"+r.CanonicalID("abc", "fallback"), fromDefault.Reference)
	require.Equal(t, "fallback", fromDefault.SourceAssigningAuthority)

	fromSuffix, err := r.Resolve(context.Background(), resource.Reference{Reference: "Patient/abc|suffix", SourceAssigningAuthority: "field"})
	require.NoError(t, err)
	require.Equal(t, "Patient/"+r.CanonicalID("abc", "suffix"), fromSuffix.Reference)
}

func TestResolveLeavesNonRelativeReferences(t *testing.T) {
	r := newResolver(t, WithDefaultAuthority("bwell"))

	for _, ref := range []string{"#contained", "https://example.com/Patient/1", "urn:uuid:1234", "Patient", ""} {
		t.Run(ref, func(t *testing.T) {
			in := resource.Reference{Reference: ref}
			got, err := r.Resolve(context.Background(), in)
			require.NoError(t, err)
			require.Equal(t, in, got)
		})
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	r := newResolver(t)

	once, err := r.Resolve(context.Background(), resource.Reference{Reference: "Practitioner/p1|bwell"})
	require.NoError(t, err)

	twice, err := r.Resolve(context.Background(), once)
	require.NoError(t, err)
	require.Equal(t, once, twice)

	id := uuid.NewString()
	existing, err := r.Resolve(context.Background(), resource.Reference{Reference: "Patient/" + id})
	require.NoError(t, err)
	require.Equal(t, "Patient/"+id, existing.Reference)
	require.Equal(t, "Patient/"+id, existing.UUID)
}

func TestResolveWithoutAuthority(t *testing.T) {
	lenient := newResolver(t)
	got, err := lenient.Resolve(context.Background(), resource.Reference{Reference: "Patient/abc"})
	require.NoError(t, err)
	require.Equal(t, resource.Reference{Reference: "Patient/abc", SourceID: "Patient/abc"}, got)

	strict := newResolver(t, WithStrictAuthority(true))
	_, err = strict.Resolve(context.Background(), resource.Reference{Reference: "Patient/abc"})
	require.ErrorIs(t, err, ErrMissingAuthority)
}

func TestResolveUsesLookupAndCache(t *testing.T) {
	var calls atomic.Int32
	lookup := func(_ context.Context, resourceType, id, authority string) (resource.Reference, bool, error) {
		calls.Add(1)
		if id == "known" {
			return resource.Reference{Reference: resourceType + "/existing", SourceID: resourceType + "/" + id, SourceAssigningAuthority: authority}, true, nil
		}
		return resource.Reference{}, false, nil
	}

	r := newResolver(t, WithLookup(lookup))

	got, err := r.Resolve(context.Background(), resource.Reference{Reference: "Patient/known|bwell"})
	require.NoError(t, err)
	require.Equal(t, "Patient/existing", got.Reference)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), resource.Reference{Reference: "Patient/known|bwell"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())

	minted, err := r.Resolve(context.Background(), resource.Reference{Reference: "Patient/new|bwell"})
	require.NoError(t, err)
	require.Equal(t, "Patient/"+r.CanonicalID("new", "bwell"), minted.Reference)
}

func TestResolveLookupErrorIsNotCached(t *testing.T) {
	var calls atomic.Int32
	lookup := func(context.Context, string, string, string) (resource.Reference, bool, error) {
		if calls.Add(1) == 1 {
			return resource.Reference{}, false, errors.New("timeout")
		}
		return resource.Reference{}, false, nil
	}

	r := newResolver(t, WithLookup(lookup))

	_, err := r.Resolve(context.Background(), resource.Reference{Reference: "Patient/abc|bwell"})
	require.Error(t, err)

	_, err = r.Resolve(context.Background(), resource.Reference{Reference: "Patient/abc|bwell"})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestStamp(t *testing.T) {
	r := newResolver(t, WithDefaultAuthority("bwell"))

	tests := []struct {
		name     string
		res      resource.Resource
		expected resource.Resource
	}{
		{
			name: "default_authority",
			res:  resource.Resource{"resourceType": "Patient", "id": "abc"},
			expected: resource.Resource{
				"resourceType":              "Patient",
				"id":                        "abc",
				"_sourceId":                 "abc",
				"_sourceAssigningAuthority": "bwell",
				"_uuid":                     r.CanonicalID("abc", "bwell"),
			},
		},
		{
			name: "own_authority",
			res:  resource.Resource{"resourceType": "Patient", "id": "abc", "_sourceAssigningAuthority": "clinic", "_uuid": "stale"},
			expected: resource.Resource{
				"resourceType":              "Patient",
				"id":                        "abc",
				"_sourceId":                 "abc",
				"_sourceAssigningAuthority": "clinic",
				"_uuid":                     r.CanonicalID("abc", "clinic"),
			},
		},
		{
			name: "uuid_id",
			res:  resource.Resource{"resourceType": "Patient", "id": "5f0c6e2a-9d55-4c1e-8f3e-8a4f1c9d2b10"},
			expected: resource.Resource{
				"resourceType": "Patient",
				"id":           "5f0c6e2a-9d55-4c1e-8f3e-8a4f1c9d2b10",
				"_sourceId":    "5f0c6e2a-9d55-4c1e-8f3e-8a4f1c9d2b10",
				"_uuid":        "5f0c6e2a-9d55-4c1e-8f3e-8a4f1c9d2b10",
			},
		},
		{
			name:     "no_id",
			res:      resource.Resource{"resourceType": "Patient"},
			expected: resource.Resource{"resourceType": "Patient"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r.Stamp(test.res)
			require.Equal(t, test.expected, test.res)
		})
	}

	t.Run("matches_resolved_reference", func(t *testing.T) {
		res := resource.Resource{"resourceType": "Patient", "id": "abc"}
		r.Stamp(res)

		ref, err := r.Resolve(context.Background(), resource.Reference{Reference: "Patient/abc"})
		require.NoError(t, err)
		require.Equal(t, "Patient/"+res[resource.UUIDKey].(string), ref.Reference)
	})

	t.Run("without_authority", func(t *testing.T) {
		bare := newResolver(t)
		res := resource.Resource{"resourceType": "Patient", "id": "abc", "_uuid": "stale"}
		bare.Stamp(res)
		require.Equal(t, resource.Resource{"resourceType": "Patient", "id": "abc", "_sourceId": "abc"}, res)
	})
}
