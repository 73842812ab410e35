package mongodb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/miradordb/mirador/document"
	"github.com/miradordb/mirador/field"
)

// ListParams drives collection queries. Filter keys are field names with
// optional double-underscore operator suffixes (status__in, age__gt,
// deleted__exists, flag__bool); plain keys match by equality.
type ListParams struct {
	Filter map[string]any
	// Sort entries prefixed with "-" sort descending.
	Sort []string
	// Fields selects a projection: plain names include, "-" prefixed names
	// exclude. The two styles cannot be mixed.
	Fields []string
	Limit  int
	Page   int
	Start  int
	// Count short-circuits the query and returns only the total.
	Count bool
	// Loose drops filter keys naming unknown fields instead of rejecting
	// the whole query. Queries are strict by default.
	Loose        bool
	RaiseOnEmpty bool
}

// Result carries a page of documents along with the query totals.
type Result struct {
	Docs   []*document.Document
	Total  int64
	Start  int
	Fields []string
}

// List runs a parameterized collection query: field checking, filtering,
// counting, projection, sorting, and paging.
func (s *Store) List(ctx context.Context, sch *document.Schema, p ListParams) (*Result, error) {
	checkNames := make([]string, 0, len(p.Filter)+len(p.Fields)+len(p.Sort))
	for key := range p.Filter {
		name, _ := splitOp(key)
		checkNames = append(checkNames, name)
	}
	for _, f := range p.Fields {
		checkNames = append(checkNames, strings.TrimLeft(f, "-+"))
	}
	for _, f := range p.Sort {
		checkNames = append(checkNames, strings.TrimLeft(f, "-+"))
	}

	if p.Loose {
		p.Filter = filterFields(sch, p.Filter)
	} else if err := checkFieldsAllowed(sch, checkNames); err != nil {
		return nil, err
	}

	filter, err := buildFilter(sch, p.Filter)
	if err != nil {
		return nil, err
	}
	col := s.collection(sch)

	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", sch.Name, err)
	}
	if p.Count {
		return &Result{Total: total, Fields: p.Fields}, nil
	}

	opts := options.Find()
	if proj, err := buildProjection(p.Fields); err != nil {
		return nil, err
	} else if proj != nil {
		opts.SetProjection(proj)
	}
	if sortDoc := buildSort(sch, p.Sort); len(sortDoc) > 0 {
		opts.SetSort(sortDoc)
	}

	start := p.Start
	if start == 0 && p.Page > 0 && p.Limit > 0 {
		start = p.Page * p.Limit
	}
	if p.Limit > 0 {
		opts.SetSkip(int64(start))
		opts.SetLimit(int64(p.Limit))
	}

	docs, err := s.findDocs(ctx, sch, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", sch.Name, err)
	}
	if len(docs) == 0 {
		msg := fmt.Sprintf("'%s(%v)' resource not found", sch.Name, p.Filter)
		if p.RaiseOnEmpty {
			return nil, document.NotFoundf("%s", msg)
		}
		s.log.Debug().Msg(msg)
	}
	s.log.Debug().
		Str("schema", sch.Name).
		Int64("total", total).
		Int("returned", len(docs)).
		Msg("get collection")

	return &Result{Docs: docs, Total: total, Start: start, Fields: p.Fields}, nil
}

// Get returns a single document matching the filter, or a not-found error.
func (s *Store) Get(ctx context.Context, sch *document.Schema, filter map[string]any) (*document.Document, error) {
	res, err := s.List(ctx, sch, ListParams{
		Filter:       filter,
		Limit:        1,
		RaiseOnEmpty: true,
	})
	if err != nil {
		return nil, err
	}
	return res.Docs[0], nil
}

// GetOrCreate finds the document matching filter or creates it with the
// filter values plus defaults. More than one match is an error.
func (s *Store) GetOrCreate(ctx context.Context, sch *document.Schema,
	filter, defaults map[string]any) (*document.Document, bool, error) {

	res, err := s.List(ctx, sch, ListParams{Filter: filter, Limit: 2})
	if err != nil {
		return nil, false, err
	}
	switch len(res.Docs) {
	case 1:
		return res.Docs[0], false, nil
	case 0:
		d := document.New(sch)
		for name, v := range defaults {
			if err := d.Set(name, v); err != nil {
				return nil, false, err
			}
		}
		for name, v := range filter {
			if err := d.Set(name, v); err != nil {
				return nil, false, err
			}
		}
		if err := s.Save(ctx, d); err != nil {
			return nil, false, err
		}
		return d, true, nil
	default:
		return nil, false, document.BadRequestf("bad or insufficient params")
	}
}

// GetByIDs lists documents whose primary key is in ids.
func (s *Store) GetByIDs(ctx context.Context, sch *document.Schema, ids []any) (*Result, error) {
	return s.List(ctx, sch, ListParams{
		Filter: map[string]any{sch.PKField + "__in": ids},
	})
}

// UpdateMany applies a $set of params to every document matching filter
// and reports the affected documents as a bulk update, since no per-
// document save notification fires for queryset-style updates.
func (s *Store) UpdateMany(ctx context.Context, sch *document.Schema,
	filter, params map[string]any) (int64, error) {

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	if err := checkFieldsAllowed(sch, names); err != nil {
		return 0, err
	}

	mongoFilter, err := buildFilter(sch, filter)
	if err != nil {
		return 0, err
	}
	set := bson.M{}
	for name, v := range params {
		if name == sch.PKField {
			continue
		}
		f, _ := sch.Field(name)
		qv, err := queryValue(f, v)
		if err != nil {
			return 0, err
		}
		set[f.DBName] = qv
	}

	col := s.collection(sch)
	pks, err := s.affectedPKs(ctx, col, mongoFilter)
	if err != nil {
		return 0, err
	}
	res, err := col.UpdateMany(ctx, mongoFilter, bson.M{"$set": set})
	if err != nil {
		return 0, fmt.Errorf("update many %s: %w", sch.Name, err)
	}
	s.notifyBulk(ctx, sch, pks)
	return res.ModifiedCount, nil
}

// DeleteMany deletes every document matching filter one by one so delete
// rules and listener notifications run per document.
func (s *Store) DeleteMany(ctx context.Context, sch *document.Schema,
	filter map[string]any) (int, error) {

	res, err := s.List(ctx, sch, ListParams{Filter: filter})
	if err != nil {
		return 0, err
	}
	for _, d := range res.Docs {
		if err := s.Delete(ctx, d); err != nil {
			return 0, err
		}
	}
	return len(res.Docs), nil
}

// FilterObjects narrows an in-memory document set with a stored query, by
// constraining the query to the documents' primary keys.
func (s *Store) FilterObjects(ctx context.Context, sch *document.Schema,
	docs []*document.Document, params map[string]any) (*Result, error) {

	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		if pk := d.PK(); pk != nil {
			ids = append(ids, pk)
		}
	}
	merged := make(map[string]any, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged[sch.PKField+"__in"] = ids
	return s.List(ctx, sch, ListParams{Filter: merged})
}

func splitOp(key string) (name, op string) {
	if i := strings.Index(key, "__"); i >= 0 {
		return key[:i], key[i+2:]
	}
	return key, ""
}

func checkFieldsAllowed(sch *document.Schema, names []string) error {
	allowed := make(map[string]bool)
	for _, f := range sch.FieldsToQuery() {
		allowed[f] = true
	}
	var missing []string
	for _, name := range names {
		name, _ = splitOp(name)
		if !allowed[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return document.BadRequestf("'%s' object does not have fields: %s",
			sch.Name, strings.Join(missing, ", "))
	}
	return nil
}

func filterFields(sch *document.Schema, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for key, v := range params {
		name, _ := splitOp(key)
		if sch.HasField(name) {
			out[key] = v
		}
	}
	return out
}

func buildFilter(sch *document.Schema, params map[string]any) (bson.M, error) {
	filter := bson.M{}
	for key, val := range params {
		name, op := splitOp(key)
		f, ok := sch.Field(name)
		if !ok {
			return nil, document.BadRequestf(
				"'%s' object does not have fields: %s", sch.Name, name)
		}
		dbKey := f.DBName
		if name == sch.PKField {
			dbKey = "_id"
		}

		switch op {
		case "":
			qv, err := queryValue(f, val)
			if err != nil {
				return nil, err
			}
			filter[dbKey] = qv
		case "in", "all":
			items, err := queryList(f, val)
			if err != nil {
				return nil, err
			}
			filter[dbKey] = bson.M{"$" + op: items}
		case "ne", "gt", "gte", "lt", "lte":
			qv, err := queryValue(f, val)
			if err != nil {
				return nil, err
			}
			mergeOp(filter, dbKey, "$"+op, qv)
		case "exists":
			b, err := paramBool(val)
			if err != nil {
				return nil, document.BadRequestf("bad %s param: %s", key, err)
			}
			filter[dbKey] = bson.M{"$exists": b}
		case "bool":
			b, err := paramBool(val)
			if err != nil {
				return nil, document.BadRequestf("bad %s param: %s", key, err)
			}
			filter[dbKey] = b
		default:
			return nil, document.BadRequestf("invalid query operator %q", op)
		}
	}
	return filter, nil
}

// mergeOp allows age__gt and age__lt to land in the same operator doc.
func mergeOp(filter bson.M, key, op string, v any) {
	if existing, ok := filter[key].(bson.M); ok {
		existing[op] = v
		return
	}
	filter[key] = bson.M{op: v}
}

func queryValue(f *field.Field, v any) (any, error) {
	c, err := f.Coerce(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", document.ErrBadRequest, err)
	}
	return f.ToBSON(c)
}

func queryList(f *field.Field, val any) ([]any, error) {
	var items []any
	switch vs := val.(type) {
	case []any:
		items = vs
	case []string:
		for _, s := range vs {
			items = append(items, s)
		}
	case string:
		for _, s := range strings.Split(vs, ",") {
			items = append(items, strings.TrimSpace(s))
		}
	default:
		items = []any{val}
	}
	out := make([]any, len(items))
	for i, item := range items {
		qv, err := queryValue(f, item)
		if err != nil {
			return nil, err
		}
		out[i] = qv
	}
	return out, nil
}

func paramBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("cannot read %T as bool", v)
}

func buildProjection(fields []string) (bson.M, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	proj := bson.M{}
	include, exclude := 0, 0
	for _, f := range fields {
		if strings.HasPrefix(f, "-") {
			proj[strings.TrimPrefix(f, "-")] = 0
			exclude++
		} else {
			proj[strings.TrimPrefix(f, "+")] = 1
			include++
		}
	}
	if include > 0 && exclude > 0 {
		return nil, document.BadRequestf(
			"bad _fields param: cannot mix included and excluded fields")
	}
	return proj, nil
}

func buildSort(sch *document.Schema, fields []string) bson.D {
	var out bson.D
	for _, f := range fields {
		dir := 1
		name := f
		if strings.HasPrefix(f, "-") {
			dir = -1
			name = strings.TrimPrefix(f, "-")
		}
		name = strings.TrimPrefix(name, "+")
		if sf, ok := sch.Field(name); ok {
			key := sf.DBName
			if name == sch.PKField {
				key = "_id"
			}
			out = append(out, bson.E{Key: key, Value: dir})
		}
	}
	return out
}

// ParseParams splits a raw string-keyed parameter map (query-string
// shaped) into ListParams, pulling out the reserved underscore params.
func ParseParams(raw map[string]any) (ListParams, error) {
	p := ListParams{Filter: make(map[string]any)}
	for key, v := range raw {
		switch key {
		case "_limit":
			n, err := paramInt(v)
			if err != nil {
				return p, document.BadRequestf("bad _limit param: %s", err)
			}
			p.Limit = n
		case "_page":
			n, err := paramInt(v)
			if err != nil {
				return p, document.BadRequestf("bad _page param: %s", err)
			}
			p.Page = n
		case "_start":
			n, err := paramInt(v)
			if err != nil {
				return p, document.BadRequestf("bad _start param: %s", err)
			}
			p.Start = n
		case "_sort":
			p.Sort = paramList(v)
		case "_fields":
			p.Fields = paramList(v)
		case "_count":
			p.Count = true
		case "_strict":
			strict, err := paramBool(v)
			if err != nil {
				return p, document.BadRequestf("bad _strict param: %s", err)
			}
			p.Loose = !strict
		default:
			if strings.HasPrefix(key, "_") {
				// Unknown reserved params are dropped, not queried.
				continue
			}
			p.Filter[key] = v
		}
	}
	return p, nil
}

func paramInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("cannot read %T as int", v)
}

func paramList(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case string:
		if vs == "" {
			return nil
		}
		parts := strings.Split(vs, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return nil
}
