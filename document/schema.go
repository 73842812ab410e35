// Package document declares model schemas, the registry that wires them
// together, and the schema-bound Document values the store persists.
package document

import (
	"fmt"

	"github.com/miradordb/mirador/field"
)

// DefaultNestingDepth is how many relationship hops are embedded inline in
// serialized output before falling back to primary keys.
const DefaultNestingDepth = 1

// Hook runs application logic around field validation, e.g. rules that
// span several fields or inspect raw values (minimum password length and
// the like).
type Hook func(d *Document) error

// Schema describes one document type: its fields, primary key, visibility
// partitions, and which relationships are embedded when serializing.
type Schema struct {
	Name   string
	Fields []*field.Field

	// PKField names the primary-key field. NewSchema fills it from the
	// field marked PrimaryKey, adding an implicit "id" field when none is.
	PKField string

	// PublicFields are shown to anonymous callers, AuthFields to
	// authenticated ones. A nil slice means no restriction at that level.
	// HiddenFields are editable but never serialized.
	PublicFields []string
	AuthFields   []string
	HiddenFields []string

	// NestedRelationships names relationship fields embedded as full
	// documents in serialized output; others render as primary keys.
	NestedRelationships []string
	NestingDepth        int

	// Indexed marks the schema for mirroring into the search index.
	Indexed bool

	// BeforeValidate and AfterValidate run around per-field validation,
	// in order.
	BeforeValidate []Hook
	AfterValidate  []Hook

	byName map[string]*field.Field
}

// NewSchema builds a schema over the given fields. When no field is marked
// as the primary key, an "id" ObjectID field is prepended.
func NewSchema(name string, fields ...*field.Field) *Schema {
	s := &Schema{
		Name:         name,
		Fields:       fields,
		NestingDepth: DefaultNestingDepth,
	}
	for _, f := range fields {
		if f.PrimaryKey {
			s.PKField = f.Name
			break
		}
	}
	if s.PKField == "" {
		pk := field.ID("id", field.PrimaryKey())
		s.Fields = append([]*field.Field{pk}, s.Fields...)
		s.PKField = "id"
	}
	s.reindex()
	return s
}

func (s *Schema) reindex() {
	s.byName = make(map[string]*field.Field, len(s.Fields))
	for _, f := range s.Fields {
		s.byName[f.Name] = f
	}
}

// Field returns the named field.
func (s *Schema) Field(name string) (*field.Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// HasField reports whether the schema declares the named field.
func (s *Schema) HasField(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// PK returns the primary-key field.
func (s *Schema) PK() *field.Field {
	return s.byName[s.PKField]
}

// addField appends a field created during backref wiring.
func (s *Schema) addField(f *field.Field) {
	s.Fields = append(s.Fields, f)
	s.byName[f.Name] = f
}

// RelationshipFields returns reference and relationship fields, excluding
// foreign-key shims.
func (s *Schema) RelationshipFields() []*field.Field {
	var out []*field.Field
	for _, f := range s.Fields {
		if f.Kind == field.KindReference || f.Kind == field.KindRelationship {
			out = append(out, f)
		}
	}
	return out
}

// Nested reports whether the named relationship is embedded in serialized
// output.
func (s *Schema) Nested(name string) bool {
	for _, n := range s.NestedRelationships {
		if n == name {
			return true
		}
	}
	return false
}

// FieldsToQuery lists the names accepted in query parameters: declared
// fields plus the reserved paging and projection params.
func (s *Schema) FieldsToQuery() []string {
	out := []string{"_limit", "_page", "_sort", "_fields", "_count", "_start"}
	for _, f := range s.Fields {
		out = append(out, f.Name)
	}
	return out
}

// NullValues returns the per-field null value map used to reset documents:
// nil for plain fields, an empty list for relationships. The primary key
// is excluded.
func (s *Schema) NullValues() map[string]any {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == s.PKField {
			continue
		}
		if f.Kind == field.KindRelationship {
			out[f.Name] = []any{}
		} else {
			out[f.Name] = nil
		}
	}
	return out
}

// UniqueFields returns the names of fields carrying a unique constraint,
// always including the primary key.
func (s *Schema) UniqueFields() []string {
	out := []string{s.PKField}
	for _, f := range s.Fields {
		if f.Unique && f.Name != s.PKField {
			out = append(out, f.Name)
		}
	}
	return out
}

func (s *Schema) validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema has no name")
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %s: field with empty name", s.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %s: duplicate field %s", s.Name, f.Name)
		}
		seen[f.Name] = true
		if f.Kind.Relational() && f.Kind != field.KindForeignKey && f.Target == "" {
			return fmt.Errorf("schema %s: field %s has no target schema",
				s.Name, f.Name)
		}
	}
	if s.NestingDepth <= 0 {
		s.NestingDepth = DefaultNestingDepth
	}
	return nil
}
