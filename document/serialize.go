package document

import (
	"context"

	"github.com/miradordb/mirador/field"
)

// Level partitions serialized fields by caller identity.
type Level int

const (
	Public Level = iota
	Authenticated
)

// Resolver loads related documents by primary key so relationship fields
// can be embedded. The store implements it.
type Resolver interface {
	Resolve(ctx context.Context, schemaName string, pks []any) ([]*Document, error)
}

// ToMap renders the document for API output. Relationship fields listed in
// the schema's NestedRelationships are embedded as full documents while
// depth remains; otherwise they render as primary keys. ForeignKey fields
// are omitted. The output always carries "_type" and "_pk".
//
// depth < 0 uses the schema's nesting depth. With a nil resolver all
// relationships render as primary keys.
func (d *Document) ToMap(ctx context.Context, depth int, r Resolver) (map[string]any, error) {
	if depth < 0 {
		depth = d.schema.NestingDepth
	}
	out := make(map[string]any, len(d.values)+2)

	for _, f := range d.schema.Fields {
		if f.Kind == field.KindForeignKey {
			continue
		}
		v := d.values[f.Name]
		if v == nil {
			out[f.Name] = nil
			continue
		}
		switch f.Kind {
		case field.KindReference:
			nested, err := d.renderRelated(ctx, f, []any{v}, depth, r)
			if err != nil {
				return nil, err
			}
			if len(nested) > 0 {
				out[f.Name] = nested[0]
			} else {
				out[f.Name] = nil
			}
		case field.KindRelationship:
			pks, _ := v.([]any)
			nested, err := d.renderRelated(ctx, f, pks, depth, r)
			if err != nil {
				return nil, err
			}
			out[f.Name] = nested
		default:
			out[f.Name] = v
		}
	}

	out["_type"] = d.schema.Name
	out["_pk"] = PKString(d.PK())
	return out, nil
}

func (d *Document) renderRelated(ctx context.Context, f *field.Field, pks []any,
	depth int, r Resolver) ([]any, error) {

	embed := d.schema.Nested(f.Name) && depth > 0 && r != nil
	if !embed {
		out := make([]any, len(pks))
		for i, pk := range pks {
			out[i] = PKString(pk)
		}
		return out, nil
	}

	related, err := r.Resolve(ctx, f.Target, pks)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(related))
	for _, rel := range related {
		m, err := rel.ToMap(ctx, depth-1, r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// View filters a ToMap result by caller level: AuthFields for
// authenticated callers, PublicFields for anonymous ones. A nil partition
// leaves all fields visible at that level. Hidden fields are always
// removed; "_type" and "_pk" always survive.
func (s *Schema) View(m map[string]any, lvl Level) map[string]any {
	allowed := s.AuthFields
	if lvl == Public {
		allowed = s.PublicFields
	}

	out := make(map[string]any, len(m))
	for name, v := range m {
		if name == "_type" || name == "_pk" {
			out[name] = v
			continue
		}
		if containsString(s.HiddenFields, name) {
			continue
		}
		if allowed != nil && !containsString(allowed, name) {
			continue
		}
		out[name] = v
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
