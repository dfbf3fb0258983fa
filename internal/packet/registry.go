package packet

import (
	"fmt"
	"sort"
)

// Registry maps header keywords to message schemas. It is immutable after
// construction and safe for concurrent lookups.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry builds a Registry from one prototype value per message type.
//
// Precondition: No two prototypes may share a header keyword.
// Postcondition: Returns a Registry, or the first *SchemaError or header
// collision encountered.
func NewRegistry(protos ...Message) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*Schema, len(protos))}
	for _, p := range protos {
		s, err := SchemaOf(p)
		if err != nil {
			return nil, err
		}
		if existing, dup := r.schemas[s.Header]; dup {
			return nil, &SchemaError{
				Op:     "build",
				Type:   s.Type.String(),
				Reason: fmt.Sprintf("header %q already registered by %s", s.Header, existing.Type),
			}
		}
		r.schemas[s.Header] = s
	}
	return r, nil
}

// Lookup returns the schema registered for header.
//
// Postcondition: Returns (schema, true) if found, or (nil, false) otherwise.
func (r *Registry) Lookup(header string) (*Schema, bool) {
	s, ok := r.schemas[header]
	return s, ok
}

// Headers returns every registered header keyword in sorted order.
func (r *Registry) Headers() []string {
	headers := make([]string, 0, len(r.schemas))
	for h := range r.schemas {
		headers = append(headers, h)
	}
	sort.Strings(headers)
	return headers
}

// Len returns the number of registered message types.
func (r *Registry) Len() int {
	return len(r.schemas)
}
