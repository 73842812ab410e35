package search

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/miradordb/mirador/document"
	"github.com/miradordb/mirador/field"
)

// Payload renders a document into the shape the index ingests: the API map
// with blob fields removed and canonical values flattened to index-friendly
// primitives. Nested relationships are embedded the same way the API embeds
// them, so searches can match on related document fields.
func Payload(ctx context.Context, reg *document.Registry, d *document.Document,
	depth int, r document.Resolver) (map[string]any, error) {

	m, err := d.ToMap(ctx, depth, r)
	if err != nil {
		return nil, err
	}
	return shapeMap(reg, m)
}

func shapeMap(reg *document.Registry, m map[string]any) (map[string]any, error) {
	typeName, _ := m["_type"].(string)
	sch, err := reg.Get(typeName)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(m))
	for name, v := range m {
		if name == "_type" {
			out[name] = TypeName(typeName)
			continue
		}
		if name == "_pk" {
			out[name] = v
			continue
		}
		f, ok := sch.Field(name)
		if !ok {
			continue
		}
		if f.Kind == field.KindBlob {
			continue
		}
		shaped, err := shapeValue(reg, v)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", typeName, name, err)
		}
		out[name] = shaped
	}
	return out, nil
}

func shapeValue(reg *document.Registry, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return val.UTC().Format(time.RFC3339), nil
	case time.Duration:
		return int64(val / time.Second), nil
	case primitive.ObjectID:
		return val.Hex(), nil
	case primitive.Decimal128:
		return strconv.ParseFloat(val.String(), 64)
	case []byte:
		return base64.StdEncoding.EncodeToString(val), nil
	case primitive.Binary:
		return base64.StdEncoding.EncodeToString(val.Data), nil
	case map[string]any:
		if _, hasType := val["_type"]; hasType {
			return shapeMap(reg, val)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			shaped, err := shapeValue(reg, item)
			if err != nil {
				return nil, err
			}
			out[k] = shaped
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			shaped, err := shapeValue(reg, item)
			if err != nil {
				return nil, err
			}
			out[i] = shaped
		}
		return out, nil
	default:
		return val, nil
	}
}
