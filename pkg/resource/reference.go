package resource

import (
	"fmt"
	"strings"
)

const (
	ReferenceKey = "reference"

	SourceIDKey                 = "_sourceId"
	UUIDKey                     = "_uuid"
	SourceAssigningAuthorityKey = "_sourceAssigningAuthority"
)

// Reference is a structural pointer from one resource to another. Extra holds the
// qualifying fields (display, type, extension, ...) that are carried through a rewrite
// untouched.
type Reference struct {
	Reference                string
	SourceID                 string
	UUID                     string
	SourceAssigningAuthority string
	Extra                    map[string]any
}

// ReferenceFromMap builds a Reference from a sub-document. It fails if the "reference"
// key is missing or not a string.
func ReferenceFromMap(m map[string]any) (Reference, error) {
	raw, ok := m[ReferenceKey]
	if !ok {
		return Reference{}, fmt.Errorf("sub-document has no %q key", ReferenceKey)
	}
	s, ok := raw.(string)
	if !ok {
		return Reference{}, fmt.Errorf("%q must be a string, got %T", ReferenceKey, raw)
	}

	ref := Reference{Reference: s}
	for k, v := range m {
		switch k {
		case ReferenceKey:
		case SourceIDKey:
			ref.SourceID, _ = v.(string)
		case UUIDKey:
			ref.UUID, _ = v.(string)
		case SourceAssigningAuthorityKey:
			ref.SourceAssigningAuthority, _ = v.(string)
		default:
			if ref.Extra == nil {
				ref.Extra = make(map[string]any)
			}
			ref.Extra[k] = v
		}
	}

	return ref, nil
}

// Map converts the reference back into a sub-document.
func (r Reference) Map() map[string]any {
	m := make(map[string]any, len(r.Extra)+4)
	for k, v := range r.Extra {
		m[k] = v
	}
	m[ReferenceKey] = r.Reference
	if r.SourceID != "" {
		m[SourceIDKey] = r.SourceID
	}
	if r.UUID != "" {
		m[UUIDKey] = r.UUID
	}
	if r.SourceAssigningAuthority != "" {
		m[SourceAssigningAuthorityKey] = r.SourceAssigningAuthority
	}
	return m
}

// Parts splits a relative reference of the form "Type/id" or "Type/id|authority".
// ok is false for contained ("#x"), absolute (scheme://) and malformed references.
func (r Reference) Parts() (resourceType, id, authority string, ok bool) {
	s := r.Reference
	if s == "" || strings.HasPrefix(s, "#") || strings.Contains(s, "://") || strings.HasPrefix(s, "urn:") {
		return "", "", "", false
	}

	if i := strings.Index(s, "|"); i >= 0 {
		s, authority = s[:i], s[i+1:]
	}

	resourceType, id, found := strings.Cut(s, "/")
	if !found || resourceType == "" || id == "" || strings.Contains(id, "/") {
		return "", "", "", false
	}

	return resourceType, id, authority, true
}
