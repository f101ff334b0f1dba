package records

import (
	"maps"
	"sort"
)

// Property describes one column of a table. Config carries the store's
// kind-specific settings (select options, number format, relation target)
// opaquely so a schema can be cloned without understanding them.
type Property struct {
	Name   string
	Kind   Kind
	Config map[string]any
}

// Schema is a table's property set keyed by name.
type Schema map[string]Property

// Set is a set of field names.
type Set map[string]struct{}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// NewSchema builds a schema from properties.
func NewSchema(props ...Property) Schema {
	s := make(Schema, len(props))
	for _, p := range props {
		s[p.Name] = p
	}
	return s
}

// Has reports whether the schema defines the property.
func (s Schema) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the set of property names.
func (s Schema) Names() Set {
	out := make(Set, len(s))
	for name := range s {
		out[name] = struct{}{}
	}
	return out
}

// Sorted returns the properties ordered by name.
func (s Schema) Sorted() []Property {
	out := make([]Property, 0, len(s))
	for _, p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Writable returns the schema without computed properties.
func (s Schema) Writable() Schema {
	out := make(Schema, len(s))
	for name, p := range s {
		if !p.Kind.Computed() {
			out[name] = p.clone()
		}
	}
	return out
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	for name, p := range s {
		out[name] = p.clone()
	}
	return out
}

// Missing returns the properties of other that s does not define.
func (s Schema) Missing(other Schema) Schema {
	out := make(Schema)
	for name, p := range other {
		if !s.Has(name) {
			out[name] = p.clone()
		}
	}
	return out
}

// TitleProperty returns the schema's title property.
func (s Schema) TitleProperty() (Property, bool) {
	for _, p := range s.Sorted() {
		if p.Kind == KindTitle {
			return p, true
		}
	}
	return Property{}, false
}

func (p Property) clone() Property {
	if p.Config != nil {
		p.Config = cloneMap(p.Config)
	}
	return p
}

// Table is a table's identity, display name and schema.
type Table struct {
	ID     string
	Title  string
	Schema Schema
}

func cloneMap(m map[string]any) map[string]any {
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
