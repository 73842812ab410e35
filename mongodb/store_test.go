package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/miradordb/mirador/document"
	"github.com/miradordb/mirador/field"
)

func storeSchema() *document.Schema {
	return document.NewSchema("Event",
		field.String("name", field.Required()),
		field.DateTime("at"),
		field.Interval("duration"),
		field.Binary("payload"))
}

func TestToBSONMapsPKToUnderscoreID(t *testing.T) {
	s := NewStore(nil, document.NewRegistry())
	sch := storeSchema()

	id := primitive.NewObjectID()
	d := document.New(sch)
	require.NoError(t, d.Set("id", id))
	require.NoError(t, d.Set("name", "launch"))
	require.NoError(t, d.Set("duration", 90*time.Second))

	raw, err := s.toBSON(d)
	require.NoError(t, err)
	require.Equal(t, id, raw["_id"])
	require.NotContains(t, raw, "id")
	require.Equal(t, "launch", raw["name"])
	require.Equal(t, int64(90), raw["duration"])
}

func TestToBSONSkipsNilPK(t *testing.T) {
	s := NewStore(nil, document.NewRegistry())
	d := document.New(storeSchema())
	require.NoError(t, d.Set("name", "launch"))

	raw, err := s.toBSON(d)
	require.NoError(t, err)
	require.NotContains(t, raw, "_id")
}

func TestFromBSONRoundTrip(t *testing.T) {
	s := NewStore(nil, document.NewRegistry())
	sch := storeSchema()

	id := primitive.NewObjectID()
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	d := s.fromBSON(sch, map[string]any{
		"_id":      id,
		"name":     "launch",
		"at":       primitive.NewDateTimeFromTime(at),
		"duration": int64(90),
		"payload":  primitive.Binary{Data: []byte{0x01}},
	})

	require.Equal(t, id, d.PK())
	require.Equal(t, "launch", d.Get("name"))
	require.Equal(t, at, d.Get("at"))
	require.Equal(t, 90*time.Second, d.Get("duration"))
	require.Equal(t, []byte{0x01}, d.Get("payload"))
	require.False(t, d.IsNew())
}

func TestFromBSONDropsUnreadableValues(t *testing.T) {
	s := NewStore(nil, document.NewRegistry())
	sch := storeSchema()

	d := s.fromBSON(sch, map[string]any{
		"name":     "launch",
		"duration": "not a number",
	})
	require.Equal(t, "launch", d.Get("name"))
	require.Nil(t, d.Get("duration"))
}

func TestMarkDeletedBoundsCascadeCycles(t *testing.T) {
	a := document.NewSchema("Author", field.String("name"))
	b := document.NewSchema("Book", field.String("title"))
	pk := primitive.NewObjectID()

	seen := make(map[string]struct{})
	require.False(t, markDeleted(seen, a, pk))
	// Revisiting the same document stops a cascade cycle.
	require.True(t, markDeleted(seen, a, pk))
	// The same pk under another schema is a different document.
	require.False(t, markDeleted(seen, b, pk))
}

func TestDiffPKs(t *testing.T) {
	a, b, c := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()

	added := diffPKs([]any{a, b, c}, []any{a})
	require.ElementsMatch(t, []any{b, c}, added)

	removed := diffPKs([]any{a}, []any{a, b})
	require.Empty(t, removed)
}
