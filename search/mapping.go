// Package search maintains a full-text index of registered documents. The
// index mapping is derived from document schemas, and payloads are shaped
// from documents so that stored values index cleanly.
package search

import (
	"strings"

	"github.com/blevesearch/bleve/v2"
	keyword "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/miradordb/mirador/document"
	"github.com/miradordb/mirador/field"
)

// TypeName is the index-side name of a schema: its lowercased name.
func TypeName(schemaName string) string {
	return strings.ToLower(schemaName)
}

// IndexMapping builds the full index mapping for every indexed schema in
// the registry. Documents are routed to their type mapping by the "_type"
// field that every payload carries.
func IndexMapping(reg *document.Registry) (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	im.TypeField = "_type"
	for _, sch := range reg.All() {
		if !sch.Indexed {
			continue
		}
		dm, err := documentMapping(reg, sch, sch.NestingDepth)
		if err != nil {
			return nil, err
		}
		im.AddDocumentMapping(TypeName(sch.Name), dm)
	}
	return im, nil
}

func documentMapping(reg *document.Registry, sch *document.Schema, depth int) (*mapping.DocumentMapping, error) {
	dm := bleve.NewDocumentMapping()

	for _, f := range sch.Fields {
		switch f.Kind {
		case field.KindForeignKey, field.KindBlob:
			// Never indexed.
		case field.KindDict:
			dm.AddSubDocumentMapping(f.Name, bleve.NewDocumentDisabledMapping())
		case field.KindText:
			dm.AddFieldMappingsAt(f.Name, bleve.NewTextFieldMapping())
		case field.KindString, field.KindID, field.KindTime, field.KindBinary:
			dm.AddFieldMappingsAt(f.Name, keywordFieldMapping())
		case field.KindBoolean:
			dm.AddFieldMappingsAt(f.Name, bleve.NewBooleanFieldMapping())
		case field.KindInteger, field.KindBigInteger, field.KindSmallInteger,
			field.KindFloat, field.KindDecimal, field.KindInterval:
			dm.AddFieldMappingsAt(f.Name, bleve.NewNumericFieldMapping())
		case field.KindDate, field.KindDateTime:
			dm.AddFieldMappingsAt(f.Name, bleve.NewDateTimeFieldMapping())
		case field.KindList:
			if f.Elem.Numeric() {
				dm.AddFieldMappingsAt(f.Name, bleve.NewNumericFieldMapping())
			} else {
				dm.AddFieldMappingsAt(f.Name, keywordFieldMapping())
			}
		case field.KindReference, field.KindRelationship:
			if sch.Nested(f.Name) && depth > 0 {
				target, err := reg.Get(f.Target)
				if err != nil {
					return nil, err
				}
				sub, err := documentMapping(reg, target, depth-1)
				if err != nil {
					return nil, err
				}
				dm.AddSubDocumentMapping(f.Name, sub)
			} else {
				dm.AddFieldMappingsAt(f.Name, keywordFieldMapping())
			}
		}
	}

	dm.AddFieldMappingsAt("_pk", keywordFieldMapping())
	dm.AddFieldMappingsAt("_type", keywordFieldMapping())
	return dm, nil
}

// keywordFieldMapping indexes a string verbatim, without tokenization.
func keywordFieldMapping() *mapping.FieldMapping {
	fm := bleve.NewTextFieldMapping()
	fm.Analyzer = keyword.Name
	return fm
}
