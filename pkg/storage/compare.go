package storage

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
)

// SameContent reports whether two resources are equal ignoring their meta element. Empty
// and missing collections compare equal.
func SameContent(a, b resource.Resource) bool {
	return cmp.Equal(a.Without(resource.MetaKey).Map(), b.Without(resource.MetaKey).Map(), cmpopts.EquateEmpty())
}
