package resource

import (
	"encoding/json"
	"fmt"
	"maps"
)

const (
	ResourceTypeKey = "resourceType"
	IDKey           = "id"
	IdentifierKey   = "identifier"
	LinkKey         = "link"
	MetaKey         = "meta"
	VersionIDKey    = "versionId"

	ParametersResourceType = "Parameters"
)

// Resource is a domain document keyed by field name. It is owned by the request that
// created it until it is handed to storage.
type Resource map[string]any

// Identifier is one entry of a resource's identifier collection.
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// ResourceType returns the resourceType discriminator, or "" if absent.
func (r Resource) ResourceType() string {
	s, _ := r[ResourceTypeKey].(string)
	return s
}

// ID returns the resource id, or "" if absent.
func (r Resource) ID() string {
	s, _ := r[IDKey].(string)
	return s
}

// SetID sets the resource id.
func (r Resource) SetID(id string) {
	r[IDKey] = id
}

// VersionID returns meta.versionId, or "" if absent.
func (r Resource) VersionID() string {
	meta, ok := r[MetaKey].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := meta[VersionIDKey].(string)
	return s
}

// Identifiers returns the well formed entries of the identifier collection. Entries that
// are not objects are skipped.
func (r Resource) Identifiers() []Identifier {
	raw, ok := r[IdentifierKey].([]any)
	if !ok {
		return nil
	}

	ids := make([]Identifier, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		system, _ := m["system"].(string)
		value, _ := m["value"].(string)
		ids = append(ids, Identifier{System: system, Value: value})
	}

	return ids
}

// Links decodes the resource's link collection. A missing field yields (nil, false).
func (r Resource) Links() ([]LinkEntry, bool, error) {
	raw, ok := r[LinkKey]
	if !ok || raw == nil {
		return nil, false, nil
	}

	links, err := LinksFromValue(raw)
	if err != nil {
		return nil, true, err
	}

	return links, true, nil
}

// Clone returns a deep copy of the resource so that rewriting never aliases the caller's
// document.
func (r Resource) Clone() Resource {
	if r == nil {
		return nil
	}
	return Resource(cloneValue(map[string]any(r)).(map[string]any))
}

// Map returns the resource as a plain map.
func (r Resource) Map() map[string]any {
	return map[string]any(r)
}

func (r Resource) String() string {
	return fmt.Sprintf("%s/%s", r.ResourceType(), r.ID())
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return t
	}
}

// Without returns a shallow copy of the resource without the given top level fields.
func (r Resource) Without(fields ...string) Resource {
	out := maps.Clone(r)
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Decode parses a single JSON resource.
func Decode(data []byte) (Resource, error) {
	var r Resource
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	return r, nil
}
