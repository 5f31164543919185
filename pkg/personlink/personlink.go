// Package personlink compares linkage collections, such as Person.link, as sets.
package personlink

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	serverErrors "github.com/icanbwell/fhir-server-sub016/pkg/server/errors"
)

var entryComparer = gocmp.Options{
	cmpopts.EquateEmpty(),
}

// Equal reports whether a and b hold the same entries regardless of order. Both sides are
// sorted by target reference, then assurance, then the remaining content, and compared
// structurally. Every entry must have a target reference.
func Equal(a, b []resource.LinkEntry) (bool, error) {
	if err := validate("a", a); err != nil {
		return false, err
	}
	if err := validate("b", b); err != nil {
		return false, err
	}

	if len(a) != len(b) {
		return false, nil
	}

	return gocmp.Equal(sorted(a), sorted(b), entryComparer), nil
}

// EqualDocuments decodes two raw link collections and compares them with Equal. A nil
// collection is treated as empty.
func EqualDocuments(a, b any) (bool, error) {
	left, err := decode("a", a)
	if err != nil {
		return false, err
	}
	right, err := decode("b", b)
	if err != nil {
		return false, err
	}

	return Equal(left, right)
}

func decode(side string, v any) ([]resource.LinkEntry, error) {
	if v == nil {
		return nil, nil
	}

	links, err := resource.LinksFromValue(v)
	if err != nil {
		return nil, serverErrors.NewValidationError(side, "%v", err)
	}

	return links, nil
}

func validate(side string, links []resource.LinkEntry) error {
	for i, l := range links {
		if l.Target == nil {
			return serverErrors.NewValidationError(fmt.Sprintf("%s[%d].target", side, i), "link entry has no target reference")
		}
	}
	return nil
}

func sorted(links []resource.LinkEntry) []resource.LinkEntry {
	out := slices.Clone(links)
	slices.SortStableFunc(out, func(x, y resource.LinkEntry) int {
		return cmp.Or(
			strings.Compare(x.Target.Reference, y.Target.Reference),
			strings.Compare(x.Assurance, y.Assurance),
			strings.Compare(contentKey(x), contentKey(y)),
		)
	})
	return out
}

// contentKey renders the target qualifiers and the extra fields of an entry. Map keys are
// marshalled in sorted order so equal content gives equal keys.
func contentKey(l resource.LinkEntry) string {
	data, err := json.Marshal([]any{l.Target.Map(), l.Extra})
	if err != nil {
		return fmt.Sprint(l.Target.Map(), l.Extra)
	}
	return string(data)
}
