// Package field provides the typed field descriptors that document schemas
// are declared with. A Field knows how to coerce and validate input values
// and how to convert between canonical Go values and their BSON form.
package field

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind enumerates the supported field types.
type Kind int

const (
	KindInvalid Kind = iota
	KindID
	KindString
	KindText
	KindBoolean
	KindInteger
	KindBigInteger
	KindSmallInteger
	KindFloat
	KindDecimal
	KindDate
	KindDateTime
	KindTime
	KindInterval
	KindBinary
	KindBlob
	KindList
	KindDict
	KindForeignKey
	KindReference
	KindRelationship
)

var kindNames = map[Kind]string{
	KindID:           "id",
	KindString:       "string",
	KindText:         "text",
	KindBoolean:      "boolean",
	KindInteger:      "integer",
	KindBigInteger:   "biginteger",
	KindSmallInteger: "smallinteger",
	KindFloat:        "float",
	KindDecimal:      "decimal",
	KindDate:         "date",
	KindDateTime:     "datetime",
	KindTime:         "time",
	KindInterval:     "interval",
	KindBinary:       "binary",
	KindBlob:         "blob",
	KindList:         "list",
	KindDict:         "dict",
	KindForeignKey:   "foreignkey",
	KindReference:    "reference",
	KindRelationship: "relationship",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "invalid"
}

// ParseKind resolves a kind from its lowercase name, as used in schema files.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown field kind %q", s)
}

// Relational reports whether the kind links documents together.
// ForeignKey is relational but is never serialized.
func (k Kind) Relational() bool {
	return k == KindReference || k == KindRelationship || k == KindForeignKey
}

// Numeric reports whether min/max value constraints apply to the kind.
func (k Kind) Numeric() bool {
	switch k {
	case KindInteger, KindBigInteger, KindSmallInteger, KindFloat, KindDecimal:
		return true
	}
	return false
}

// DeleteRule controls what happens to referencing documents when the
// referenced document is deleted.
type DeleteRule int

const (
	DoNothing DeleteRule = iota
	Nullify
	Cascade
	Restrict
	Pull
)

var deleteRules = map[string]DeleteRule{
	"DO_NOTHING": DoNothing,
	"NULLIFY":    Nullify,
	"CASCADE":    Cascade,
	"RESTRICT":   Restrict,
	"PULL":       Pull,
}

// ParseDeleteRule resolves a rule from its name, case-insensitively.
func ParseDeleteRule(s string) (DeleteRule, error) {
	if s == "" {
		return DoNothing, nil
	}
	rule, ok := deleteRules[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		names := make([]string, 0, len(deleteRules))
		for name := range deleteRules {
			names = append(names, name)
		}
		return DoNothing, fmt.Errorf("invalid ondelete rule %q, must be one of: %s",
			s, strings.Join(names, ", "))
	}
	return rule, nil
}

func (r DeleteRule) String() string {
	for name, rule := range deleteRules {
		if rule == r {
			return name
		}
	}
	return "DO_NOTHING"
}

// Processor transforms a value before coercion and validation.
type Processor func(v any) (any, error)

// Backref declares a reverse field to be materialized on the target schema
// when the owning schema is registered. The reverse field is always a
// single Reference back to the owning schema.
type Backref struct {
	Name     string
	OnDelete DeleteRule
}

// Field is a typed, validated slot on a document schema.
type Field struct {
	Name       string
	DBName     string // storage name; defaults to Name
	Kind       Kind
	Elem       Kind // element kind for List fields
	Required   bool
	Unique     bool
	PrimaryKey bool
	Default    any
	Choices    []any
	MinValue   *float64
	MaxValue   *float64
	MinLength  *int
	MaxLength  *int
	Pattern    *regexp.Regexp
	MaxBytes   int

	// Relational attributes.
	Target   string // referenced schema name
	OnDelete DeleteRule
	Backref  *Backref
	// ReverseField is the name of the field on the other side of the
	// relationship. Set during schema registration when a backref is wired.
	ReverseField string

	Processors []Processor
}

// Option configures a Field at construction time.
type Option func(*Field)

func Required() Option          { return func(f *Field) { f.Required = true } }
func Unique() Option            { return func(f *Field) { f.Unique = true } }
func PrimaryKey() Option        { return func(f *Field) { f.PrimaryKey = true } }
func Default(v any) Option      { return func(f *Field) { f.Default = v } }
func Choices(vs ...any) Option  { return func(f *Field) { f.Choices = vs } }
func DBField(name string) Option { return func(f *Field) { f.DBName = name } }
func Elem(k Kind) Option        { return func(f *Field) { f.Elem = k } }
func MaxBytes(n int) Option     { return func(f *Field) { f.MaxBytes = n } }

func Min(v float64) Option { return func(f *Field) { f.MinValue = &v } }
func Max(v float64) Option { return func(f *Field) { f.MaxValue = &v } }
func MinLen(n int) Option  { return func(f *Field) { f.MinLength = &n } }
func MaxLen(n int) Option  { return func(f *Field) { f.MaxLength = &n } }

// Pattern compiles re and applies it as a validation pattern. Panics on an
// invalid expression, like regexp.MustCompile; use PatternRE when the
// expression comes from untrusted input.
func Pattern(re string) Option {
	compiled := regexp.MustCompile(re)
	return func(f *Field) { f.Pattern = compiled }
}

// PatternRE applies an already compiled validation pattern.
func PatternRE(re *regexp.Regexp) Option {
	return func(f *Field) { f.Pattern = re }
}

func OnDelete(rule DeleteRule) Option { return func(f *Field) { f.OnDelete = rule } }

// WithBackref declares the reverse field created on the target schema.
func WithBackref(name string, rule DeleteRule) Option {
	return func(f *Field) { f.Backref = &Backref{Name: name, OnDelete: rule} }
}

// WithProcessors appends value processors run before coercion.
func WithProcessors(ps ...Processor) Option {
	return func(f *Field) { f.Processors = append(f.Processors, ps...) }
}

// New builds a field of the given kind.
func New(name string, kind Kind, opts ...Option) *Field {
	f := &Field{Name: name, Kind: kind}
	for _, opt := range opts {
		opt(f)
	}
	if f.DBName == "" {
		f.DBName = name
	}
	return f
}

func ID(name string, opts ...Option) *Field     { return New(name, KindID, opts...) }
func String(name string, opts ...Option) *Field { return New(name, KindString, opts...) }
func Text(name string, opts ...Option) *Field   { return New(name, KindText, opts...) }
func Boolean(name string, opts ...Option) *Field {
	return New(name, KindBoolean, opts...)
}
func Integer(name string, opts ...Option) *Field { return New(name, KindInteger, opts...) }
func BigInteger(name string, opts ...Option) *Field {
	return New(name, KindBigInteger, opts...)
}

// SmallInteger is kept distinct from Integer for schema portability; the
// storage representation is identical.
func SmallInteger(name string, opts ...Option) *Field {
	return New(name, KindSmallInteger, opts...)
}
func Float(name string, opts ...Option) *Field    { return New(name, KindFloat, opts...) }
func Decimal(name string, opts ...Option) *Field  { return New(name, KindDecimal, opts...) }
func Date(name string, opts ...Option) *Field     { return New(name, KindDate, opts...) }
func DateTime(name string, opts ...Option) *Field { return New(name, KindDateTime, opts...) }
func Time(name string, opts ...Option) *Field     { return New(name, KindTime, opts...) }
func Interval(name string, opts ...Option) *Field { return New(name, KindInterval, opts...) }
func Binary(name string, opts ...Option) *Field   { return New(name, KindBinary, opts...) }

// Blob stores an arbitrary gob-encoded value as BSON binary. Custom types
// must be registered with encoding/gob by the caller.
func Blob(name string, opts ...Option) *Field { return New(name, KindBlob, opts...) }

func List(name string, elem Kind, opts ...Option) *Field {
	f := New(name, KindList, opts...)
	f.Elem = elem
	return f
}
func Dict(name string, opts ...Option) *Field { return New(name, KindDict, opts...) }

// ForeignKey exists for schema portability with relational engines. It is
// stored but never included in serialized output.
func ForeignKey(name string, opts ...Option) *Field {
	return New(name, KindForeignKey, opts...)
}

// Reference builds a one-to-one (or many-to-one) link to the target schema.
// The stored value is the target's primary key.
func Reference(name, target string, opts ...Option) *Field {
	f := New(name, KindReference, opts...)
	f.Target = target
	return f
}

// Relationship builds a one-to-many link to the target schema. The stored
// value is a list of target primary keys.
func Relationship(name, target string, opts ...Option) *Field {
	f := New(name, KindRelationship, opts...)
	f.Target = target
	return f
}

// Choice resolves the field kind from the type of the first choice value,
// mirroring how choice fields pick their underlying storage type.
func Choice(name string, choices []any, opts ...Option) (*Field, error) {
	if len(choices) == 0 {
		return nil, fmt.Errorf("field %s: choice requires at least one value", name)
	}
	var kind Kind
	switch choices[0].(type) {
	case int, int32, int64:
		kind = KindInteger
	case float32, float64:
		kind = KindFloat
	case string:
		kind = KindString
	default:
		return nil, fmt.Errorf(
			"field %s: choices must be int, float or string values", name)
	}
	f := New(name, kind, opts...)
	f.Choices = choices
	return f, nil
}
