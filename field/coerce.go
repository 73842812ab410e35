package field

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const timeLayout = "15:04:05"

// Coerce converts v to the field's canonical Go type, applying processors
// first. A nil input stays nil.
func (f *Field) Coerce(v any) (any, error) {
	var err error
	for _, proc := range f.Processors {
		if v, err = proc(v); err != nil {
			return nil, fmt.Errorf("field %s: processor: %w", f.Name, err)
		}
	}
	if v == nil {
		return nil, nil
	}

	switch f.Kind {
	case KindID:
		return coerceObjectID(f.Name, v)
	case KindString, KindText, KindForeignKey:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil
	case KindBoolean:
		return coerceBool(f.Name, v)
	case KindInteger, KindBigInteger, KindSmallInteger:
		return coerceInt(f.Name, v)
	case KindFloat:
		return coerceFloat(f.Name, v)
	case KindDecimal:
		return coerceDecimal(f.Name, v)
	case KindDate:
		t, err := coerceTime(f.Name, v, "2006-01-02")
		if err != nil {
			return nil, err
		}
		return truncateToDay(t), nil
	case KindDateTime:
		return coerceTime(f.Name, v, time.RFC3339)
	case KindTime:
		return coerceClock(f.Name, v)
	case KindInterval:
		return coerceDuration(f.Name, v)
	case KindBinary:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		case primitive.Binary:
			return b.Data, nil
		}
		return nil, fmt.Errorf("field %s: cannot coerce %T to binary", f.Name, v)
	case KindBlob:
		return v, nil
	case KindList, KindRelationship:
		return f.coerceList(v)
	case KindDict:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("field %s: cannot coerce %T to dict", f.Name, v)
	case KindReference:
		// Stored value is the target's primary key; leave it alone except
		// for hex ObjectID strings.
		if s, ok := v.(string); ok {
			if oid, err := primitive.ObjectIDFromHex(s); err == nil {
				return oid, nil
			}
		}
		return v, nil
	}
	return nil, fmt.Errorf("field %s: invalid kind", f.Name)
}

func (f *Field) coerceList(v any) (any, error) {
	var items []any
	switch vs := v.(type) {
	case []any:
		items = vs
	case []string:
		items = make([]any, len(vs))
		for i, s := range vs {
			items[i] = s
		}
	case primitive.A:
		items = []any(vs)
	default:
		return nil, fmt.Errorf("field %s: cannot coerce %T to list", f.Name, v)
	}
	if f.Kind == KindRelationship {
		out := make([]any, len(items))
		for i, item := range items {
			if s, ok := item.(string); ok {
				if oid, err := primitive.ObjectIDFromHex(s); err == nil {
					out[i] = oid
					continue
				}
			}
			out[i] = item
		}
		return out, nil
	}
	if f.Elem == KindInvalid {
		return items, nil
	}
	elem := &Field{Name: f.Name, Kind: f.Elem}
	out := make([]any, len(items))
	for i, item := range items {
		coerced, err := elem.Coerce(item)
		if err != nil {
			return nil, err
		}
		out[i] = coerced
	}
	return out, nil
}

// Validate checks a coerced value against the field's constraints.
func (f *Field) Validate(v any) error {
	if v == nil {
		if f.Required && !f.PrimaryKey {
			return fmt.Errorf("field %s is required", f.Name)
		}
		return nil
	}

	if len(f.Choices) > 0 {
		if f.Kind == KindList {
			// Element membership, not list-in-choices.
			items, _ := v.([]any)
			for _, item := range items {
				if !oneOf(item, f.Choices) {
					return fmt.Errorf("field %s: value %v must be one of %v",
						f.Name, item, f.Choices)
				}
			}
		} else if !oneOf(v, f.Choices) {
			return fmt.Errorf("field %s: value %v must be one of %v",
				f.Name, v, f.Choices)
		}
	}

	if f.Kind.Numeric() && (f.MinValue != nil || f.MaxValue != nil) {
		n, ok := asFloat(v)
		if ok {
			if f.MinValue != nil && n < *f.MinValue {
				return fmt.Errorf("field %s: value %v below minimum %v",
					f.Name, v, *f.MinValue)
			}
			if f.MaxValue != nil && n > *f.MaxValue {
				return fmt.Errorf("field %s: value %v above maximum %v",
					f.Name, v, *f.MaxValue)
			}
		}
	}

	if s, ok := v.(string); ok {
		if f.MinLength != nil && len(s) < *f.MinLength {
			return fmt.Errorf("field %s: length %d below minimum %d",
				f.Name, len(s), *f.MinLength)
		}
		if f.MaxLength != nil && len(s) > *f.MaxLength {
			return fmt.Errorf("field %s: length %d above maximum %d",
				f.Name, len(s), *f.MaxLength)
		}
		if f.Pattern != nil && !f.Pattern.MatchString(s) {
			return fmt.Errorf("field %s: value does not match pattern %s",
				f.Name, f.Pattern)
		}
	}

	if b, ok := v.([]byte); ok && f.MaxBytes > 0 && len(b) > f.MaxBytes {
		return fmt.Errorf("field %s: %d bytes exceeds maximum %d",
			f.Name, len(b), f.MaxBytes)
	}
	return nil
}

// ToBSON converts a canonical value to its storage form.
func (f *Field) ToBSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case KindDate:
		if t, ok := v.(time.Time); ok {
			return truncateToDay(t), nil
		}
	case KindInterval:
		if d, ok := v.(time.Duration); ok {
			return int64(d / time.Second), nil
		}
	case KindBlob:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
			return nil, fmt.Errorf("field %s: gob encode: %w", f.Name, err)
		}
		return primitive.Binary{Data: buf.Bytes()}, nil
	case KindBinary:
		if b, ok := v.([]byte); ok {
			return primitive.Binary{Data: b}, nil
		}
	}
	return v, nil
}

// FromBSON converts a stored value back to the canonical Go type.
func (f *Field) FromBSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case KindInterval:
		switch n := v.(type) {
		case int32:
			return time.Duration(n) * time.Second, nil
		case int64:
			return time.Duration(n) * time.Second, nil
		case float64:
			return time.Duration(n) * time.Second, nil
		}
	case KindBlob:
		var data []byte
		switch b := v.(type) {
		case primitive.Binary:
			data = b.Data
		case []byte:
			data = b
		default:
			return nil, fmt.Errorf("field %s: unexpected blob type %T", f.Name, v)
		}
		var out any
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&out); err != nil {
			return nil, fmt.Errorf("field %s: gob decode: %w", f.Name, err)
		}
		return out, nil
	case KindBinary:
		if b, ok := v.(primitive.Binary); ok {
			return b.Data, nil
		}
	case KindDate, KindDateTime:
		if dt, ok := v.(primitive.DateTime); ok {
			return dt.Time().UTC(), nil
		}
	}
	return f.Coerce(v)
}

func coerceObjectID(name string, v any) (any, error) {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id, nil
	case string:
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid object id %q", name, id)
		}
		return oid, nil
	}
	return nil, fmt.Errorf("field %s: cannot coerce %T to object id", name, v)
}

func coerceBool(name string, v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid boolean %q", name, b)
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("field %s: cannot coerce %T to boolean", name, v)
}

func coerceInt(name string, v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("field %s: %v is not an integer", name, n)
		}
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid integer %q", name, n)
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("field %s: cannot coerce %T to integer", name, v)
}

func coerceFloat(name string, v any) (any, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid float %q", name, n)
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("field %s: cannot coerce %T to float", name, v)
}

func coerceDecimal(name string, v any) (any, error) {
	switch d := v.(type) {
	case primitive.Decimal128:
		return d, nil
	case string:
		parsed, err := primitive.ParseDecimal128(d)
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid decimal %q", name, d)
		}
		return parsed, nil
	case float64:
		parsed, err := primitive.ParseDecimal128(
			strconv.FormatFloat(d, 'f', -1, 64))
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid decimal %v", name, d)
		}
		return parsed, nil
	case int:
		return primitive.ParseDecimal128(strconv.Itoa(d))
	case int64:
		return primitive.ParseDecimal128(strconv.FormatInt(d, 10))
	}
	return nil, fmt.Errorf("field %s: cannot coerce %T to decimal", name, v)
}

func coerceTime(name string, v any, dateLayout string) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case primitive.DateTime:
		return t.Time().UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, dateLayout} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("field %s: cannot parse time %q", name, t)
	}
	return time.Time{}, fmt.Errorf("field %s: cannot coerce %T to time", name, v)
}

func coerceClock(name string, v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Format(timeLayout), nil
	case string:
		for _, layout := range []string{timeLayout, "15:04"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.Format(timeLayout), nil
			}
		}
		return nil, fmt.Errorf("field %s: cannot parse time of day %q", name, t)
	}
	return nil, fmt.Errorf("field %s: cannot coerce %T to time of day", name, v)
}

func coerceDuration(name string, v any) (any, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int32:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid duration %q", name, d)
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("field %s: cannot coerce %T to duration", name, v)
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func oneOf(v any, choices []any) bool {
	for _, c := range choices {
		if equalValue(v, c) {
			return true
		}
	}
	return false
}

// equalValue compares with numeric normalization so that a coerced int64
// matches an int declared in choices.
func equalValue(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	}
	return 0, false
}
