// Package sortkey derives a default sort value for a resource.
package sortkey

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
)

// Mapping maps a sort field name, with underscores stripped, to the identifier system
// that carries its value, e.g. "birthdate" -> "sys://birthdate".
type Mapping map[string]string

// LoadMapping reads a Mapping from a YAML or JSON file.
func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sort mapping: %w", err)
	}

	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse sort mapping %s: %w", path, err)
	}

	return m, nil
}

type Resolver struct {
	mapping Mapping
}

func NewResolver(mapping Mapping) *Resolver {
	return &Resolver{mapping: mapping}
}

// Resolve returns the sort value of res for field. A truthy top level field wins. Otherwise
// the value of the first identifier whose system is mapped from field is returned. The
// second result is false when no value exists.
func (r *Resolver) Resolve(res resource.Resource, field string) (any, bool) {
	if field == "" || res == nil {
		return nil, false
	}

	if v, ok := res[field]; ok && truthy(v) {
		return v, true
	}

	system, ok := r.mapping[strings.ReplaceAll(field, "_", "")]
	if !ok {
		return nil, false
	}

	for _, id := range res.Identifiers() {
		if id.System == system {
			return id.Value, true
		}
	}

	return nil, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}
