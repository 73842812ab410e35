package document

import (
	"fmt"
	"sync"

	"github.com/miradordb/mirador/field"
)

// Registry holds all registered schemas and wires declared backreferences
// between them. Registration order matters: a relationship's target schema
// must be registered before the schema declaring the relationship.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register validates the schema and adds it to the registry. For each
// relationship field carrying a backref declaration, a reverse Reference
// field pointing back at s is created on the target schema, and both
// fields learn the name of the field on the other side.
func (r *Registry) Register(s *Schema) error {
	if err := s.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schemas[s.Name]; ok {
		return fmt.Errorf("schema %s already registered", s.Name)
	}
	// Pre-insert so self-references resolve.
	r.schemas[s.Name] = s

	// Validate every relationship before touching any target schema, so a
	// failed registration leaves the registry and its schemas as they were.
	type wire struct {
		f      *field.Field
		target *Schema
	}
	var wires []wire
	claimed := make(map[string]bool)
	fail := func(err error) error {
		delete(r.schemas, s.Name)
		return err
	}
	for _, f := range s.Fields {
		if f.Kind != field.KindReference && f.Kind != field.KindRelationship {
			continue
		}
		target, ok := r.schemas[f.Target]
		if !ok {
			return fail(fmt.Errorf("schema %s: field %s references unregistered schema %s",
				s.Name, f.Name, f.Target))
		}
		if f.Backref == nil {
			continue
		}
		key := target.Name + "." + f.Backref.Name
		if target.HasField(f.Backref.Name) || claimed[key] {
			return fail(fmt.Errorf("schema %s: backref %s already exists on %s",
				s.Name, f.Backref.Name, target.Name))
		}
		claimed[key] = true
		wires = append(wires, wire{f: f, target: target})
	}

	for _, w := range wires {
		// The reverse side is always a single reference back to the
		// declaring schema.
		reverse := field.Reference(w.f.Backref.Name, s.Name,
			field.OnDelete(w.f.Backref.OnDelete))
		reverse.ReverseField = w.f.Name
		w.f.ReverseField = reverse.Name
		w.target.addField(reverse)
	}
	return nil
}

// Get returns the named schema or an error naming the missing schema.
func (r *Registry) Get(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("schema %q is not registered", name)
	}
	return s, nil
}

// All returns a copy of the registered schemas keyed by name.
func (r *Registry) All() map[string]*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Schema, len(r.schemas))
	for name, s := range r.schemas {
		out[name] = s
	}
	return out
}
