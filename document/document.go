package document

import (
	"fmt"

	"github.com/miradordb/mirador/field"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is a schema-bound record. Values are kept in canonical Go form
// (see field.Coerce); the store converts to and from BSON at its boundary.
type Document struct {
	schema   *Schema
	values   map[string]any
	changed  map[string]struct{}
	previous map[string]any
	isNew    bool
}

// New creates an unsaved document with field defaults applied.
func New(s *Schema) *Document {
	d := &Document{
		schema:   s,
		values:   make(map[string]any, len(s.Fields)),
		changed:  make(map[string]struct{}),
		previous: make(map[string]any),
		isNew:    true,
	}
	for _, f := range s.Fields {
		if f.Default != nil {
			if v, err := f.Coerce(f.Default); err == nil {
				d.values[f.Name] = v
			}
		}
	}
	return d
}

// Wrap builds a document from stored values. Keys that are not declared on
// the schema are dropped so stale database content loads cleanly.
func Wrap(s *Schema, values map[string]any) *Document {
	d := &Document{
		schema:   s,
		values:   make(map[string]any, len(values)),
		changed:  make(map[string]struct{}),
		previous: make(map[string]any),
	}
	for name, v := range values {
		if s.HasField(name) {
			d.values[name] = v
		}
	}
	return d
}

func (d *Document) Schema() *Schema { return d.schema }
func (d *Document) IsNew() bool     { return d.isNew }

// Get returns the canonical value of the named field, or nil.
func (d *Document) Get(name string) any { return d.values[name] }

// PK returns the primary-key value.
func (d *Document) PK() any { return d.values[d.schema.PKField] }

// PKString renders a primary-key value for identifiers and serialized
// output.
func PKString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprintf("%v", id)
	}
}

// Set coerces v through the field and records the change. Setting an
// undeclared field is an error; setting an equal value is a no-op.
func (d *Document) Set(name string, v any) error {
	f, ok := d.schema.Field(name)
	if !ok {
		return BadRequestf("'%s' object does not have fields: %s",
			d.schema.Name, name)
	}
	coerced, err := f.Coerce(v)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadRequest, err)
	}
	old, had := d.values[name]
	if had && valueEqual(old, coerced) {
		return nil
	}
	if _, already := d.changed[name]; !already {
		d.previous[name] = old
	}
	d.changed[name] = struct{}{}
	d.values[name] = coerced
	return nil
}

// SetAll applies params in schema field order where possible.
func (d *Document) SetAll(params map[string]any) error {
	for name, v := range params {
		if err := d.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Changed returns the names of fields modified since the last save.
func (d *Document) Changed() []string {
	out := make([]string, 0, len(d.changed))
	for name := range d.changed {
		out = append(out, name)
	}
	return out
}

// HasChanges reports whether any field was modified since the last save.
func (d *Document) HasChanges() bool { return len(d.changed) > 0 }

// Previous returns the value a changed field held before modification.
func (d *Document) Previous(name string) (any, bool) {
	v, ok := d.previous[name]
	return v, ok
}

// MarkSaved clears change tracking after a successful write.
func (d *Document) MarkSaved() {
	d.isNew = false
	d.changed = make(map[string]struct{})
	d.previous = make(map[string]any)
}

// Values returns a copy of the canonical value map.
func (d *Document) Values() map[string]any {
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// Validate runs the schema's BeforeValidate hooks, per-field validation,
// then the AfterValidate hooks.
func (d *Document) Validate() error {
	for _, hook := range d.schema.BeforeValidate {
		if err := hook(d); err != nil {
			return fmt.Errorf("%w: resource %s: %s", ErrBadRequest, d.schema.Name, err)
		}
	}
	for _, f := range d.schema.Fields {
		if err := f.Validate(d.values[f.Name]); err != nil {
			return fmt.Errorf("%w: resource %s: %s", ErrBadRequest, d.schema.Name, err)
		}
	}
	for _, hook := range d.schema.AfterValidate {
		if err := hook(d); err != nil {
			return fmt.Errorf("%w: resource %s: %s", ErrBadRequest, d.schema.Name, err)
		}
	}
	return nil
}

// UpdateIterables merges params into a list or dict field. Keys (or list
// values) prefixed with "-" are removed, the rest are added or set. A nil
// or empty params clears the current value. With unique set, list values
// already present are not appended twice.
func (d *Document) UpdateIterables(name string, params any, unique bool) error {
	f, ok := d.schema.Field(name)
	if !ok {
		return BadRequestf("'%s' object does not have fields: %s",
			d.schema.Name, name)
	}
	switch f.Kind {
	case field.KindDict:
		return d.updateDict(name, params)
	case field.KindList:
		return d.updateList(name, params, unique)
	}
	return BadRequestf("field %s is not a list or dict", name)
}

func (d *Document) updateDict(name string, params any) error {
	current := map[string]any{}
	if v, ok := d.values[name].(map[string]any); ok {
		for k, val := range v {
			current[k] = val
		}
	}
	update, _ := params.(map[string]any)
	if len(update) == 0 {
		// Empty params clears the whole value.
		if len(current) == 0 {
			return nil
		}
		return d.Set(name, map[string]any{})
	}
	for key, val := range update {
		if len(key) > 1 && key[0] == '-' {
			delete(current, key[1:])
		} else if key != "" && key[0] != '-' {
			current[key] = val
		}
	}
	return d.Set(name, current)
}

func (d *Document) updateList(name string, params any, unique bool) error {
	current := []any{}
	if v, ok := d.values[name].([]any); ok {
		current = append(current, v...)
	}

	var keys []string
	switch p := params.(type) {
	case nil:
		keys = nil
	case []string:
		keys = p
	case []any:
		for _, v := range p {
			keys = append(keys, fmt.Sprintf("%v", v))
		}
	case map[string]any:
		for k := range p {
			keys = append(keys, k)
		}
	default:
		return BadRequestf("cannot update list %s from %T", name, params)
	}

	if len(keys) == 0 {
		if len(current) == 0 {
			return nil
		}
		return d.Set(name, []any{})
	}

	var positive, negative []string
	for _, key := range keys {
		if len(key) > 1 && key[0] == '-' {
			negative = append(negative, key[1:])
		} else if key != "" && key[0] != '-' {
			positive = append(positive, key)
		}
	}
	if len(positive)+len(negative) == 0 {
		return BadRequestf("missing params for list update of %s", name)
	}

	for _, v := range positive {
		if unique && containsValue(current, v) {
			continue
		}
		current = append(current, v)
	}
	if len(negative) > 0 {
		kept := current[:0]
		for _, v := range current {
			drop := false
			for _, n := range negative {
				if fmt.Sprintf("%v", v) == n {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, v)
			}
		}
		current = kept
	}
	return d.Set(name, current)
}

// Related identifies documents referenced by one relationship field.
type Related struct {
	Schema string
	PKs    []any
	// ReverseField is the field on the related schema pointing back here,
	// if a backref was wired.
	ReverseField string
}

// RelatedDocuments returns the primary keys held in relationship fields.
// With nestedOnly set, relationships whose reverse field exists but is not
// nested on the target schema are skipped; the rest are the documents
// whose serialized form may embed this one and so must be reindexed when
// it changes. A relationship with no wired reverse field is kept, since
// nothing proves the other side does not embed it.
func (d *Document) RelatedDocuments(reg *Registry, nestedOnly bool) []Related {
	var out []Related
	for _, f := range d.schema.RelationshipFields() {
		v := d.values[f.Name]
		if v == nil {
			continue
		}
		var pks []any
		switch pk := v.(type) {
		case []any:
			pks = pk
		default:
			pks = []any{pk}
		}
		if len(pks) == 0 {
			continue
		}
		if nestedOnly && f.ReverseField != "" {
			target, err := reg.Get(f.Target)
			if err != nil || !target.Nested(f.ReverseField) {
				continue
			}
		}
		out = append(out, Related{
			Schema:       f.Target,
			PKs:          pks,
			ReverseField: f.ReverseField,
		})
	}
	return out
}

func valueEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if valueEqual(item, v) {
			return true
		}
	}
	return false
}
