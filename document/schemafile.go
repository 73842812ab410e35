package document

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/miradordb/mirador/field"
)

// Schema files let tooling (the CLI in particular) declare models without
// compiling against the library. Schemas are registered in file order, so
// relationship targets must appear before the schemas that reference them.

type schemaFile struct {
	Schemas []schemaDef `yaml:"schemas"`
}

type schemaDef struct {
	Name                string     `yaml:"name"`
	Indexed             bool       `yaml:"indexed"`
	NestingDepth        int        `yaml:"nesting_depth"`
	PublicFields        []string   `yaml:"public_fields"`
	AuthFields          []string   `yaml:"auth_fields"`
	HiddenFields        []string   `yaml:"hidden_fields"`
	NestedRelationships []string   `yaml:"nested_relationships"`
	Fields              []fieldDef `yaml:"fields"`
}

type fieldDef struct {
	Name            string   `yaml:"name"`
	Type            string   `yaml:"type"`
	Elem            string   `yaml:"elem"`
	Required        bool     `yaml:"required"`
	Unique          bool     `yaml:"unique"`
	PrimaryKey      bool     `yaml:"primary_key"`
	Default         any      `yaml:"default"`
	Choices         []any    `yaml:"choices"`
	Min             *float64 `yaml:"min"`
	Max             *float64 `yaml:"max"`
	MinLen          *int     `yaml:"min_len"`
	MaxLen          *int     `yaml:"max_len"`
	Pattern         string   `yaml:"pattern"`
	Target          string   `yaml:"target"`
	OnDelete        string   `yaml:"ondelete"`
	Backref         string   `yaml:"backref"`
	BackrefOnDelete string   `yaml:"backref_ondelete"`
}

// LoadSchemaFile parses a YAML schema file and registers every schema it
// declares.
func LoadSchemaFile(reg *Registry, path string) ([]*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var file schemaFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}

	var out []*Schema
	for _, def := range file.Schemas {
		s, err := buildSchema(def)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func buildSchema(def schemaDef) (*Schema, error) {
	fields := make([]*field.Field, 0, len(def.Fields))
	for _, fd := range def.Fields {
		f, err := buildField(def.Name, fd)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	s := NewSchema(def.Name, fields...)
	s.Indexed = def.Indexed
	if def.NestingDepth > 0 {
		s.NestingDepth = def.NestingDepth
	}
	s.PublicFields = def.PublicFields
	s.AuthFields = def.AuthFields
	s.HiddenFields = def.HiddenFields
	s.NestedRelationships = def.NestedRelationships
	return s, nil
}

func buildField(schemaName string, fd fieldDef) (*field.Field, error) {
	kind, err := field.ParseKind(fd.Type)
	if err != nil {
		return nil, fmt.Errorf("schema %s, field %s: %w", schemaName, fd.Name, err)
	}

	var opts []field.Option
	if fd.Required {
		opts = append(opts, field.Required())
	}
	if fd.Unique {
		opts = append(opts, field.Unique())
	}
	if fd.PrimaryKey {
		opts = append(opts, field.PrimaryKey())
	}
	if fd.Default != nil {
		opts = append(opts, field.Default(fd.Default))
	}
	if len(fd.Choices) > 0 {
		opts = append(opts, field.Choices(fd.Choices...))
	}
	if fd.Min != nil {
		opts = append(opts, field.Min(*fd.Min))
	}
	if fd.Max != nil {
		opts = append(opts, field.Max(*fd.Max))
	}
	if fd.MinLen != nil {
		opts = append(opts, field.MinLen(*fd.MinLen))
	}
	if fd.MaxLen != nil {
		opts = append(opts, field.MaxLen(*fd.MaxLen))
	}
	if fd.Pattern != "" {
		re, err := regexp.Compile(fd.Pattern)
		if err != nil {
			return nil, fmt.Errorf("schema %s, field %s: invalid pattern: %w",
				schemaName, fd.Name, err)
		}
		opts = append(opts, field.PatternRE(re))
	}
	if fd.OnDelete != "" {
		rule, err := field.ParseDeleteRule(fd.OnDelete)
		if err != nil {
			return nil, fmt.Errorf("schema %s, field %s: %w", schemaName, fd.Name, err)
		}
		opts = append(opts, field.OnDelete(rule))
	}
	if fd.Backref != "" {
		rule, err := field.ParseDeleteRule(fd.BackrefOnDelete)
		if err != nil {
			return nil, fmt.Errorf("schema %s, field %s: %w", schemaName, fd.Name, err)
		}
		opts = append(opts, field.WithBackref(fd.Backref, rule))
	}

	switch kind {
	case field.KindReference:
		return field.Reference(fd.Name, fd.Target, opts...), nil
	case field.KindRelationship:
		return field.Relationship(fd.Name, fd.Target, opts...), nil
	case field.KindList:
		elem := field.KindInvalid
		if fd.Elem != "" {
			if elem, err = field.ParseKind(fd.Elem); err != nil {
				return nil, fmt.Errorf("schema %s, field %s: %w",
					schemaName, fd.Name, err)
			}
		}
		return field.List(fd.Name, elem, opts...), nil
	}
	return field.New(fd.Name, kind, opts...), nil
}
