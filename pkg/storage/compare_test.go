package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
)

func TestSameContent(t *testing.T) {
	stored := resource.Resource{
		"resourceType": "Person",
		"id":           "1",
		"meta":         map[string]any{"versionId": "3", "lastUpdated": "2024-01-01T00:00:00Z"},
		"link":         []any{},
	}

	require.True(t, SameContent(stored, resource.Resource{"resourceType": "Person", "id": "1", "link": []any(nil)}))
	require.True(t, SameContent(stored, resource.Resource{"resourceType": "Person", "id": "1", "meta": map[string]any{"versionId": "1"}, "link": []any{}}))
	require.False(t, SameContent(stored, resource.Resource{"resourceType": "Person", "id": "1", "link": []any{}, "active": true}))
}
