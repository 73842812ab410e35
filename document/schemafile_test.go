package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miradordb/mirador/field"
)

const sampleSchemas = `
schemas:
  - name: Author
    indexed: true
    fields:
      - name: name
        type: string
        required: true
  - name: Book
    indexed: true
    nesting_depth: 2
    public_fields: [title]
    hidden_fields: [draft_notes]
    nested_relationships: [author]
    fields:
      - name: title
        type: string
        required: true
        min_len: 1
      - name: draft_notes
        type: text
      - name: status
        type: string
        choices: [draft, published]
        default: draft
      - name: author
        type: reference
        target: Author
        backref: books
        backref_ondelete: nullify
`

func writeSchemaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSchemas), 0o644))
	return path
}

func TestLoadSchemaFile(t *testing.T) {
	reg := NewRegistry()
	schemas, err := LoadSchemaFile(reg, writeSchemaFile(t))
	require.NoError(t, err)
	require.Len(t, schemas, 2)

	book, err := reg.Get("Book")
	require.NoError(t, err)
	require.True(t, book.Indexed)
	require.Equal(t, 2, book.NestingDepth)
	require.Equal(t, []string{"title"}, book.PublicFields)
	require.True(t, book.Nested("author"))

	status, ok := book.Field("status")
	require.True(t, ok)
	require.Equal(t, []any{"draft", "published"}, status.Choices)
	require.Equal(t, "draft", status.Default)

	// The backref materialized on Author.
	author, err := reg.Get("Author")
	require.NoError(t, err)
	books, ok := author.Field("books")
	require.True(t, ok)
	require.Equal(t, field.KindReference, books.Kind)
	require.Equal(t, field.Nullify, books.OnDelete)
}

func TestLoadSchemaFileRejectsBadPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schemas:
  - name: Thing
    fields:
      - name: slug
        type: string
        pattern: "["
`), 0o644))

	_, err := LoadSchemaFile(NewRegistry(), path)
	require.ErrorContains(t, err, "invalid pattern")
}

func TestLoadSchemaFileRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schemas:
  - name: Thing
    fields:
      - name: x
        type: hologram
`), 0o644))

	_, err := LoadSchemaFile(NewRegistry(), path)
	require.ErrorContains(t, err, "hologram")
}
