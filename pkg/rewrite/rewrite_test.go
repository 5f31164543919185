package rewrite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	serverErrors "github.com/icanbwell/fhir-server-sub016/pkg/server/errors"
)

// upper is an idempotent resolver that upper-cases the id part of a reference.
func upper(_ context.Context, ref resource.Reference) (resource.Reference, error) {
	typ, id, found := strings.Cut(ref.Reference, "/")
	if !found {
		return ref, nil
	}
	ref.Reference = typ + "/" + strings.ToUpper(id)
	return ref, nil
}

func observation() map[string]any {
	return map[string]any{
		"resourceType": "Observation",
		"id":           "o1",
		"status":       "final",
		"subject":      map[string]any{"reference": "Patient/abc", "display": "Jane"},
		"code": map[string]any{
			"text": "bp",
			"coding": []any{
				map[string]any{"system": "http://loinc.org", "code": "85354-9"},
			},
		},
		"extension": map[string]any{
			"source": map[string]any{"reference": "Organization/org"},
		},
		"performer": []any{
			map[string]any{"reference": "Practitioner/p1"},
			map[string]any{"reference": "Practitioner/p2"},
		},
	}
}

func TestRewriteReplacesNestedReferences(t *testing.T) {
	doc := observation()

	out, err := New().Rewrite(context.Background(), doc, upper)
	require.NoError(t, err)

	require.Equal(t, map[string]any{"reference": "Patient/ABC", "display": "Jane"}, out["subject"])
	require.Equal(t, map[string]any{"reference": "Organization/ORG"}, out["extension"].(map[string]any)["source"])
	require.Equal(t, []any{
		map[string]any{"reference": "Practitioner/P1"},
		map[string]any{"reference": "Practitioner/P2"},
	}, out["performer"])
	require.Equal(t, "o1", out["id"])
}

func TestRewriteMutatesInPlace(t *testing.T) {
	doc := observation()

	out, err := New().Rewrite(context.Background(), doc, upper)
	require.NoError(t, err)

	out["marker"] = true
	require.Equal(t, true, doc["marker"])
	require.Equal(t, "Patient/ABC", doc["subject"].(map[string]any)["reference"])
}

func TestRewriteWithoutSequenceWalk(t *testing.T) {
	out, err := New(WithSequenceWalk(false)).Rewrite(context.Background(), observation(), upper)
	require.NoError(t, err)

	require.Equal(t, "Patient/ABC", out["subject"].(map[string]any)["reference"])
	require.Equal(t, []any{
		map[string]any{"reference": "Practitioner/p1"},
		map[string]any{"reference": "Practitioner/p2"},
	}, out["performer"])
}

func TestRewriteDoesNotRecurseIntoReferences(t *testing.T) {
	doc := map[string]any{
		"subject": map[string]any{
			"reference": "Patient/abc",
			"identifier": map[string]any{
				"assigner": map[string]any{"reference": "Organization/inner"},
			},
		},
	}

	var seen []string
	resolver := func(_ context.Context, ref resource.Reference) (resource.Reference, error) {
		seen = append(seen, ref.Reference)
		return ref, nil
	}

	_, err := New().Rewrite(context.Background(), doc, resolver)
	require.NoError(t, err)
	require.Equal(t, []string{"Patient/abc"}, seen)
}

func TestRewriteIsIdentityWithoutReferences(t *testing.T) {
	doc := map[string]any{
		"resourceType": "Patient",
		"id":           "1",
		"name":         []any{map[string]any{"family": "Smith", "given": []any{"Jane"}}},
		"active":       true,
	}
	expected := resource.Resource(doc).Clone().Map()

	called := false
	resolver := func(_ context.Context, ref resource.Reference) (resource.Reference, error) {
		called = true
		return ref, nil
	}

	out, err := New().Rewrite(context.Background(), doc, resolver)
	require.NoError(t, err)
	require.False(t, called)
	if diff := cmp.Diff(expected, out); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRewriteIsIdempotentForIdempotentResolver(t *testing.T) {
	rewriter := New()

	once, err := rewriter.Rewrite(context.Background(), observation(), upper)
	require.NoError(t, err)
	snapshot := resource.Resource(once).Clone().Map()

	twice, err := rewriter.Rewrite(context.Background(), once, upper)
	require.NoError(t, err)
	if diff := cmp.Diff(snapshot, twice); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRewriteResolverFailure(t *testing.T) {
	cause := errors.New("lookup failed")
	resolver := func(_ context.Context, ref resource.Reference) (resource.Reference, error) {
		if ref.Reference == "Practitioner/p2" {
			return resource.Reference{}, cause
		}
		return ref, nil
	}

	_, err := New().Rewrite(context.Background(), observation(), resolver)
	require.ErrorIs(t, err, serverErrors.ErrResolution)
	require.ErrorIs(t, err, cause)

	var resolutionErr *serverErrors.ResolutionError
	require.ErrorAs(t, err, &resolutionErr)
	require.Equal(t, "performer[1]", resolutionErr.Path)
	require.Equal(t, "Practitioner/p2", resolutionErr.Reference)
}

func TestRewriteMalformedReference(t *testing.T) {
	doc := map[string]any{
		"subject": map[string]any{"reference": 42},
	}

	_, err := New().Rewrite(context.Background(), doc, Identity)

	var resolutionErr *serverErrors.ResolutionError
	require.ErrorAs(t, err, &resolutionErr)
	require.Equal(t, "subject", resolutionErr.Path)
	require.Equal(t, "42", resolutionErr.Reference)
}

func TestRewriteNestedPaths(t *testing.T) {
	doc := map[string]any{
		"contained": []any{
			map[string]any{
				"resourceType": "Provenance",
				"agent":        []any{map[string]any{"who": map[string]any{"reference": "Device/d"}}},
			},
		},
	}

	resolver := func(_ context.Context, ref resource.Reference) (resource.Reference, error) {
		return resource.Reference{}, errors.New("nope")
	}

	_, err := New().Rewrite(context.Background(), doc, resolver)

	var resolutionErr *serverErrors.ResolutionError
	require.ErrorAs(t, err, &resolutionErr)
	require.Equal(t, "contained[0].agent[0].who", resolutionErr.Path)
}

func TestRewriteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Rewrite(ctx, observation(), Identity)
	require.ErrorIs(t, err, context.Canceled)
}
