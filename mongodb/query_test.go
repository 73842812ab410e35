package mongodb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/miradordb/mirador/document"
	"github.com/miradordb/mirador/field"
)

func querySchema() *document.Schema {
	return document.NewSchema("User",
		field.String("username", field.Required()),
		field.Integer("age"),
		field.Boolean("active"),
		field.String("status"))
}

func TestBuildFilterEquality(t *testing.T) {
	sch := querySchema()
	f, err := buildFilter(sch, map[string]any{"username": "bob", "age": "33"})
	require.NoError(t, err)
	require.Equal(t, "bob", f["username"])
	require.Equal(t, int64(33), f["age"])
}

func TestBuildFilterPKMapsToUnderscoreID(t *testing.T) {
	sch := querySchema()
	id := primitive.NewObjectID()
	f, err := buildFilter(sch, map[string]any{"id": id.Hex()})
	require.NoError(t, err)
	require.Equal(t, id, f["_id"])
	require.NotContains(t, f, "id")
}

func TestBuildFilterOperators(t *testing.T) {
	sch := querySchema()

	f, err := buildFilter(sch, map[string]any{"status__in": "new,active"})
	require.NoError(t, err)
	require.Equal(t, bson.M{"$in": []any{"new", "active"}}, f["status"])

	f, err = buildFilter(sch, map[string]any{"age__gt": 18, "age__lt": "65"})
	require.NoError(t, err)
	require.Equal(t, bson.M{"$gt": int64(18), "$lt": int64(65)}, f["age"])

	f, err = buildFilter(sch, map[string]any{"age__ne": 40})
	require.NoError(t, err)
	require.Equal(t, bson.M{"$ne": int64(40)}, f["age"])

	f, err = buildFilter(sch, map[string]any{"status__exists": "true"})
	require.NoError(t, err)
	require.Equal(t, bson.M{"$exists": true}, f["status"])

	f, err = buildFilter(sch, map[string]any{"active__bool": "false"})
	require.NoError(t, err)
	require.Equal(t, false, f["active"])

	_, err = buildFilter(sch, map[string]any{"age__squint": 1})
	require.ErrorIs(t, err, document.ErrBadRequest)

	_, err = buildFilter(sch, map[string]any{"nope": 1})
	require.ErrorIs(t, err, document.ErrBadRequest)
}

func TestBuildFilterCoercesValues(t *testing.T) {
	sch := querySchema()
	_, err := buildFilter(sch, map[string]any{"age": "not a number"})
	require.ErrorIs(t, err, document.ErrBadRequest)
}

func TestCheckFieldsAllowed(t *testing.T) {
	sch := querySchema()
	require.NoError(t, checkFieldsAllowed(sch, []string{"username", "age__gt", "_limit"}))

	err := checkFieldsAllowed(sch, []string{"username", "ghost", "phantom__in"})
	require.ErrorIs(t, err, document.ErrBadRequest)
	require.Contains(t, err.Error(), "ghost, phantom")
}

func TestFilterFieldsDropsUnknown(t *testing.T) {
	sch := querySchema()
	out := filterFields(sch, map[string]any{
		"username": "bob",
		"age__gt":  18,
		"ghost":    1,
	})
	require.Len(t, out, 2)
	require.NotContains(t, out, "ghost")
}

func TestBuildProjection(t *testing.T) {
	proj, err := buildProjection([]string{"username", "age"})
	require.NoError(t, err)
	require.Equal(t, bson.M{"username": 1, "age": 1}, proj)

	proj, err = buildProjection([]string{"-password"})
	require.NoError(t, err)
	require.Equal(t, bson.M{"password": 0}, proj)

	_, err = buildProjection([]string{"username", "-password"})
	require.ErrorIs(t, err, document.ErrBadRequest)

	proj, err = buildProjection(nil)
	require.NoError(t, err)
	require.Nil(t, proj)
}

func TestBuildSort(t *testing.T) {
	sch := querySchema()
	sortDoc := buildSort(sch, []string{"-age", "username", "id", "ghost"})
	require.Equal(t, bson.D{
		{Key: "age", Value: -1},
		{Key: "username", Value: 1},
		{Key: "_id", Value: 1},
	}, sortDoc)
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams(map[string]any{
		"_limit":   "20",
		"_page":    "2",
		"_sort":    "-age,username",
		"_fields":  "username,age",
		"username": "bob",
		"age__gt":  "18",
	})
	require.NoError(t, err)
	require.Equal(t, 20, p.Limit)
	require.Equal(t, 2, p.Page)
	require.Equal(t, []string{"-age", "username"}, p.Sort)
	require.Equal(t, []string{"username", "age"}, p.Fields)
	require.Equal(t, map[string]any{"username": "bob", "age__gt": "18"}, p.Filter)
	require.False(t, p.Count)
}

func TestParseParamsCountAndStrict(t *testing.T) {
	p, err := ParseParams(map[string]any{"_count": "", "_strict": "false"})
	require.NoError(t, err)
	require.True(t, p.Count)
	require.True(t, p.Loose)

	_, err = ParseParams(map[string]any{"_limit": "twenty"})
	require.ErrorIs(t, err, document.ErrBadRequest)
}

func TestSplitOp(t *testing.T) {
	name, op := splitOp("age__gt")
	require.Equal(t, "age", name)
	require.Equal(t, "gt", op)

	name, op = splitOp("username")
	require.Equal(t, "username", name)
	require.Empty(t, op)
}
