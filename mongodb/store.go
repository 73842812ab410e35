// Package mongodb persists schema-bound documents in MongoDB and emits
// change events consumed by the search mirror.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/miradordb/mirador/document"
	"github.com/miradordb/mirador/field"
)

// ChangeListener receives post-write notifications. OnSave fires after a
// document insert or replace, OnBulkUpdate after a multi-document update
// with the affected primary keys, OnDelete after a delete.
type ChangeListener interface {
	OnSave(ctx context.Context, d *document.Document, created bool)
	OnBulkUpdate(ctx context.Context, s *document.Schema, pks []any)
	OnDelete(ctx context.Context, s *document.Schema, pk any)
}

// Connect opens a client and verifies the connection. Caller should call
// client.Disconnect(ctx) when done.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// Store binds a registry of schemas to a MongoDB database.
type Store struct {
	db        *mongo.Database
	reg       *document.Registry
	log       zerolog.Logger
	listeners []ChangeListener
}

func NewStore(db *mongo.Database, reg *document.Registry) *Store {
	return &Store{db: db, reg: reg, log: zerolog.Nop()}
}

// WithLogger returns the store logging through l.
func (s *Store) WithLogger(l zerolog.Logger) *Store {
	s.log = l
	return s
}

// Subscribe attaches a change listener. Listeners are notified
// synchronously after successful writes.
func (s *Store) Subscribe(l ChangeListener) {
	s.listeners = append(s.listeners, l)
}

// Registry returns the schema registry the store was built with.
func (s *Store) Registry() *document.Registry { return s.reg }

func (s *Store) collection(sch *document.Schema) *mongo.Collection {
	return s.db.Collection(strings.ToLower(sch.Name))
}

// EnsureIndexes creates unique indexes for the schema's unique fields.
// The primary key is covered by _id.
func (s *Store) EnsureIndexes(ctx context.Context, sch *document.Schema) error {
	col := s.collection(sch)
	for _, name := range sch.UniqueFields() {
		if name == sch.PKField {
			continue
		}
		f, _ := sch.Field(name)
		model := mongo.IndexModel{
			Keys:    bson.D{{Key: f.DBName, Value: 1}},
			Options: options.Index().SetUnique(true),
		}
		if _, err := col.Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("ensure index %s.%s: %w", sch.Name, name, err)
		}
	}
	return nil
}

// Save validates and writes the document: an insert when new (so unique
// constraints make every create a real create), a replace otherwise.
// Backreferences on changed relationship fields are propagated to the
// other side, and change listeners are notified.
func (s *Store) Save(ctx context.Context, d *document.Document) error {
	if err := d.Validate(); err != nil {
		return err
	}
	sch := d.Schema()
	if d.IsNew() && d.PK() == nil && sch.PK().Kind == field.KindID {
		if err := d.Set(sch.PKField, primitive.NewObjectID()); err != nil {
			return err
		}
	}
	raw, err := s.toBSON(d)
	if err != nil {
		return err
	}

	created := d.IsNew()
	col := s.collection(sch)
	if created {
		_, err = col.InsertOne(ctx, raw)
	} else {
		var res *mongo.UpdateResult
		res, err = col.ReplaceOne(ctx, bson.M{"_id": raw["_id"]}, raw)
		if err == nil && res.MatchedCount == 0 {
			return document.NotFoundf("'%s(%s)' resource not found",
				sch.Name, document.PKString(d.PK()))
		}
	}
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return document.Conflictf("resource `%s`", sch.Name)
		}
		return fmt.Errorf("save %s: %w", sch.Name, err)
	}

	if err := s.syncBackrefs(ctx, d); err != nil {
		return err
	}

	s.log.Debug().
		Str("schema", sch.Name).
		Str("pk", document.PKString(d.PK())).
		Bool("created", created).
		Msg("document saved")

	for _, l := range s.listeners {
		l.OnSave(ctx, d, created)
	}
	d.MarkSaved()
	return nil
}

// Update applies params to the document and saves it. The primary key is
// immutable; list and dict fields are merged with the positive/negative
// key semantics of Document.UpdateIterables.
func (s *Store) Update(ctx context.Context, d *document.Document, params map[string]any) error {
	sch := d.Schema()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	if err := checkFieldsAllowed(sch, names); err != nil {
		return err
	}
	for name, v := range params {
		if name == sch.PKField {
			continue
		}
		f, _ := sch.Field(name)
		if f.Kind == field.KindList || f.Kind == field.KindDict {
			if err := d.UpdateIterables(name, v, true); err != nil {
				return err
			}
			continue
		}
		if err := d.Set(name, v); err != nil {
			return err
		}
	}
	return s.Save(ctx, d)
}

// Delete applies reverse delete rules, removes the document, and notifies
// listeners.
func (s *Store) Delete(ctx context.Context, d *document.Document) error {
	return s.delete(ctx, d, make(map[string]struct{}))
}

// markDeleted records the document in the per-delete visited set and
// reports whether it was already there. Cascade rules can form cycles
// between schemas; the set bounds the recursion.
func markDeleted(seen map[string]struct{}, sch *document.Schema, pk any) bool {
	key := sch.Name + ":" + document.PKString(pk)
	if _, ok := seen[key]; ok {
		return true
	}
	seen[key] = struct{}{}
	return false
}

func (s *Store) delete(ctx context.Context, d *document.Document, seen map[string]struct{}) error {
	sch := d.Schema()
	pk := d.PK()
	if markDeleted(seen, sch, pk) {
		return nil
	}
	if err := s.applyDeleteRules(ctx, sch, pk, seen); err != nil {
		return err
	}
	res, err := s.collection(sch).DeleteOne(ctx, bson.M{"_id": pk})
	if err != nil {
		return fmt.Errorf("delete %s: %w", sch.Name, err)
	}
	if res.DeletedCount == 0 {
		return document.NotFoundf("'%s(%s)' resource not found",
			sch.Name, document.PKString(pk))
	}
	for _, l := range s.listeners {
		l.OnDelete(ctx, sch, pk)
	}
	return nil
}

// applyDeleteRules walks every schema referencing sch and applies the
// referencing field's ondelete rule before pk is removed.
func (s *Store) applyDeleteRules(ctx context.Context, sch *document.Schema, pk any,
	seen map[string]struct{}) error {
	for _, other := range s.reg.All() {
		for _, f := range other.RelationshipFields() {
			if f.Target != sch.Name || f.OnDelete == field.DoNothing {
				continue
			}
			col := s.collection(other)
			filter := bson.M{f.DBName: pk}

			switch f.OnDelete {
			case field.Restrict:
				n, err := col.CountDocuments(ctx, filter)
				if err != nil {
					return err
				}
				if n > 0 {
					return document.Conflictf(
						"resource `%s` is referenced by %s.%s",
						sch.Name, other.Name, f.Name)
				}
			case field.Nullify, field.Pull:
				var update bson.M
				if f.Kind == field.KindRelationship {
					update = bson.M{"$pull": bson.M{f.DBName: pk}}
				} else {
					update = bson.M{"$set": bson.M{f.DBName: nil}}
				}
				pks, err := s.affectedPKs(ctx, col, filter)
				if err != nil {
					return err
				}
				if _, err := col.UpdateMany(ctx, filter, update); err != nil {
					return err
				}
				s.notifyBulk(ctx, other, pks)
			case field.Cascade:
				docs, err := s.findDocs(ctx, other, filter, nil)
				if err != nil {
					return err
				}
				for _, doc := range docs {
					if err := s.delete(ctx, doc, seen); err != nil &&
						!errors.Is(err, document.ErrNotFound) {
						return err
					}
				}
			}
		}
	}
	return nil
}

// syncBackrefs writes this document's pk onto (or off of) the other side
// of changed relationship fields that have a wired reverse field.
func (s *Store) syncBackrefs(ctx context.Context, d *document.Document) error {
	sch := d.Schema()
	myPK := d.PK()

	for _, name := range d.Changed() {
		f, _ := sch.Field(name)
		if f == nil || f.ReverseField == "" {
			continue
		}
		if f.Kind != field.KindReference && f.Kind != field.KindRelationship {
			continue
		}
		target, err := s.reg.Get(f.Target)
		if err != nil {
			continue
		}
		rev, ok := target.Field(f.ReverseField)
		if !ok {
			continue
		}

		if f.Kind == field.KindReference {
			old, _ := d.Previous(name)
			if old != nil {
				if err := s.applyReverse(ctx, target, rev, old, myPK, false); err != nil {
					return err
				}
			}
			if v := d.Get(name); v != nil {
				if err := s.applyReverse(ctx, target, rev, v, myPK, true); err != nil {
					return err
				}
			}
			continue
		}

		var oldList, newList []any
		if prev, ok := d.Previous(name); ok {
			oldList, _ = prev.([]any)
		}
		newList, _ = d.Get(name).([]any)
		for _, pk := range diffPKs(newList, oldList) {
			if err := s.applyReverse(ctx, target, rev, pk, myPK, true); err != nil {
				return err
			}
		}
		for _, pk := range diffPKs(oldList, newList) {
			if err := s.applyReverse(ctx, target, rev, pk, myPK, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyReverse updates a single reverse field on the document targetPK of
// schema target: list reverse fields get an $addToSet/$pull, single
// references a $set. The touched document is reported as a bulk update so
// the mirror reindexes it.
func (s *Store) applyReverse(ctx context.Context, target *document.Schema,
	rev *field.Field, targetPK, val any, add bool) error {

	var update bson.M
	switch {
	case rev.Kind == field.KindRelationship && add:
		update = bson.M{"$addToSet": bson.M{rev.DBName: val}}
	case rev.Kind == field.KindRelationship:
		update = bson.M{"$pull": bson.M{rev.DBName: val}}
	case add:
		update = bson.M{"$set": bson.M{rev.DBName: val}}
	default:
		update = bson.M{"$set": bson.M{rev.DBName: nil}}
	}

	_, err := s.collection(target).UpdateOne(ctx, bson.M{"_id": targetPK}, update)
	if err != nil {
		return fmt.Errorf("sync backref %s.%s: %w", target.Name, rev.Name, err)
	}
	s.notifyBulk(ctx, target, []any{targetPK})
	return nil
}

func (s *Store) notifyBulk(ctx context.Context, sch *document.Schema, pks []any) {
	if len(pks) == 0 {
		return
	}
	for _, l := range s.listeners {
		l.OnBulkUpdate(ctx, sch, pks)
	}
}

// Load fetches one document by its rendered primary key. Implements the
// loader interface the mirror re-reads documents through.
func (s *Store) Load(ctx context.Context, schemaName, pk string) (*document.Document, error) {
	sch, err := s.reg.Get(schemaName)
	if err != nil {
		return nil, err
	}
	pkv := any(pk)
	if sch.PK().Kind == field.KindID {
		oid, err := primitive.ObjectIDFromHex(pk)
		if err != nil {
			return nil, document.BadRequestf("invalid %s id %q", schemaName, pk)
		}
		pkv = oid
	}
	var raw bson.M
	err = s.collection(sch).FindOne(ctx, bson.M{"_id": pkv}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, document.NotFoundf("'%s(%s)' resource not found",
				schemaName, pk)
		}
		return nil, err
	}
	return s.fromBSON(sch, raw), nil
}

// Resolve loads related documents by primary key. Implements
// document.Resolver for nested serialization.
func (s *Store) Resolve(ctx context.Context, schemaName string, pks []any) ([]*document.Document, error) {
	sch, err := s.reg.Get(schemaName)
	if err != nil {
		return nil, err
	}
	return s.findDocs(ctx, sch, bson.M{"_id": bson.M{"$in": pks}}, nil)
}

func (s *Store) findDocs(ctx context.Context, sch *document.Schema,
	filter bson.M, opts *options.FindOptions) ([]*document.Document, error) {

	col := s.collection(sch)
	var cur *mongo.Cursor
	var err error
	if opts != nil {
		cur, err = col.Find(ctx, filter, opts)
	} else {
		cur, err = col.Find(ctx, filter)
	}
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*document.Document
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		out = append(out, s.fromBSON(sch, raw))
	}
	return out, cur.Err()
}

func (s *Store) affectedPKs(ctx context.Context, col *mongo.Collection, filter bson.M) ([]any, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var pks []any
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		pks = append(pks, raw["_id"])
	}
	return pks, cur.Err()
}

func (s *Store) toBSON(d *document.Document) (bson.M, error) {
	sch := d.Schema()
	out := bson.M{}
	for _, f := range sch.Fields {
		v, err := f.ToBSON(d.Get(f.Name))
		if err != nil {
			return nil, err
		}
		if f.Name == sch.PKField {
			if v != nil {
				out["_id"] = v
			}
			continue
		}
		out[f.DBName] = v
	}
	return out, nil
}

// fromBSON maps a stored record back to a document. Values that fail to
// convert are dropped rather than failing the whole load, so schema drift
// in old records does not make them unreadable.
func (s *Store) fromBSON(sch *document.Schema, raw bson.M) *document.Document {
	values := make(map[string]any, len(raw))
	for _, f := range sch.Fields {
		key := f.DBName
		if f.Name == sch.PKField {
			key = "_id"
		}
		rv, ok := raw[key]
		if !ok || rv == nil {
			continue
		}
		cv, err := f.FromBSON(rv)
		if err != nil {
			s.log.Warn().
				Str("schema", sch.Name).
				Str("field", f.Name).
				Err(err).
				Msg("dropping unreadable field value")
			continue
		}
		values[f.Name] = cv
	}
	return document.Wrap(sch, values)
}

func diffPKs(a, b []any) []any {
	var out []any
	for _, v := range a {
		found := false
		for _, w := range b {
			if document.PKString(v) == document.PKString(w) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}
