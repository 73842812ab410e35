package document

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miradordb/mirador/field"
)

func TestNewSchemaImplicitPK(t *testing.T) {
	s := NewSchema("User", field.String("username", field.Unique()))
	require.Equal(t, "id", s.PKField)
	pk := s.PK()
	require.NotNil(t, pk)
	require.Equal(t, field.KindID, pk.Kind)
	require.True(t, pk.PrimaryKey)
}

func TestNewSchemaExplicitPK(t *testing.T) {
	s := NewSchema("Thing", field.String("slug", field.PrimaryKey()))
	require.Equal(t, "slug", s.PKField)
	require.False(t, s.HasField("id"))
}

func TestUniqueFields(t *testing.T) {
	s := NewSchema("User",
		field.String("username", field.Unique()),
		field.String("bio"))
	require.Equal(t, []string{"id", "username"}, s.UniqueFields())
}

func TestNullValues(t *testing.T) {
	s := NewSchema("Author",
		field.String("name"),
		field.Relationship("books", "Book"))
	nulls := s.NullValues()
	require.NotContains(t, nulls, "id")
	require.Nil(t, nulls["name"])
	require.Equal(t, []any{}, nulls["books"])
}

func TestRegistryBackrefWiring(t *testing.T) {
	reg := NewRegistry()
	book := NewSchema("Book", field.String("title"))
	require.NoError(t, reg.Register(book))

	author := NewSchema("Author",
		field.String("name"),
		field.Relationship("books", "Book",
			field.WithBackref("author", field.Nullify)))
	require.NoError(t, reg.Register(author))

	// The reverse field materialized on Book as a single reference.
	rev, ok := book.Field("author")
	require.True(t, ok)
	require.Equal(t, field.KindReference, rev.Kind)
	require.Equal(t, "Author", rev.Target)
	require.Equal(t, field.Nullify, rev.OnDelete)

	// Both sides know the field name on the other side.
	require.Equal(t, "books", rev.ReverseField)
	books, _ := author.Field("books")
	require.Equal(t, "author", books.ReverseField)
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry()
	s := NewSchema("User", field.String("name"))
	require.NoError(t, reg.Register(s))
	require.Error(t, reg.Register(NewSchema("User", field.String("name"))))

	// Relationship to a schema that was never registered.
	orphan := NewSchema("Post", field.Reference("owner", "Ghost"))
	require.Error(t, reg.Register(orphan))
	_, err := reg.Get("Post")
	require.Error(t, err)

	_, err = reg.Get("Nope")
	require.Error(t, err)
}

func TestRegisterFailureLeavesTargetsUntouched(t *testing.T) {
	reg := NewRegistry()
	book := NewSchema("Book", field.String("title"))
	require.NoError(t, reg.Register(book))

	// The first field would wire a backref onto Book; the second fails.
	bad := NewSchema("Shelf",
		field.Relationship("books", "Book",
			field.WithBackref("shelf", field.Nullify)),
		field.Reference("owner", "Ghost"))
	require.Error(t, reg.Register(bad))

	require.False(t, book.HasField("shelf"))
	_, err := reg.Get("Shelf")
	require.Error(t, err)

	// Two fields claiming the same backref name fail before wiring either.
	dup := NewSchema("Library",
		field.Relationship("fiction", "Book",
			field.WithBackref("library", field.Nullify)),
		field.Relationship("reference", "Book",
			field.WithBackref("library", field.Nullify)))
	require.Error(t, reg.Register(dup))
	require.False(t, book.HasField("library"))
}

func TestRegistrySelfReference(t *testing.T) {
	reg := NewRegistry()
	node := NewSchema("Node",
		field.String("label"),
		field.Reference("parent", "Node", field.WithBackref("child", field.DoNothing)))
	require.NoError(t, reg.Register(node))
	require.True(t, node.HasField("child"))
}

func TestFieldsToQuery(t *testing.T) {
	s := NewSchema("User", field.String("name"))
	q := s.FieldsToQuery()
	require.Contains(t, q, "_limit")
	require.Contains(t, q, "_sort")
	require.Contains(t, q, "name")
	require.Contains(t, q, "id")
}
