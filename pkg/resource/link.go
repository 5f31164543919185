package resource

import (
	"fmt"
)

// LinkEntry is one element of a linkage collection, for example Person.link. Target is
// nil when the entry carries no target reference.
type LinkEntry struct {
	Target    *Reference
	Assurance string
	Extra     map[string]any
}

// LinksFromValue decodes a raw link collection.
func LinksFromValue(v any) ([]LinkEntry, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("link collection must be a sequence, got %T", v)
	}

	links := make([]LinkEntry, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("link[%d] must be an object, got %T", i, item)
		}

		var entry LinkEntry
		for k, val := range m {
			switch k {
			case "target":
				targetMap, ok := val.(map[string]any)
				if !ok || targetMap == nil {
					continue
				}
				ref, err := ReferenceFromMap(targetMap)
				if err != nil {
					return nil, fmt.Errorf("link[%d].target: %w", i, err)
				}
				entry.Target = &ref
			case "assurance":
				entry.Assurance, _ = val.(string)
			default:
				if entry.Extra == nil {
					entry.Extra = make(map[string]any)
				}
				entry.Extra[k] = val
			}
		}
		links = append(links, entry)
	}

	return links, nil
}

// TargetReference returns the target's reference string, or "" if there is no target.
func (l LinkEntry) TargetReference() string {
	if l.Target == nil {
		return ""
	}
	return l.Target.Reference
}
