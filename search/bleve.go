package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/rs/zerolog"

	"github.com/miradordb/mirador/document"
)

// Item is one document in a bulk index request.
type Item struct {
	PK      string
	Payload map[string]any
}

// Indexer is the write and query surface of the search index.
type Indexer interface {
	Index(ctx context.Context, docType, pk string, payload map[string]any) error
	BulkIndex(ctx context.Context, docType string, items []Item) error
	Delete(ctx context.Context, docType, pk string) error
	Search(ctx context.Context, docType, query string, limit int) ([]string, error)
	Close() error
}

// BleveIndexer stores documents in an embedded bleve index, one document
// mapping per indexed schema.
type BleveIndexer struct {
	idx bleve.Index
	log zerolog.Logger
}

// Open opens the index at path, creating it with a registry-derived mapping
// when it does not exist yet.
func Open(path string, reg *document.Registry, log zerolog.Logger) (*BleveIndexer, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) || errors.Is(err, os.ErrNotExist) {
		im, merr := IndexMapping(reg)
		if merr != nil {
			return nil, merr
		}
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return &BleveIndexer{idx: idx, log: log}, nil
}

// OpenMem builds an in-memory index. Used by tests and by deployments that
// rebuild the index on boot.
func OpenMem(reg *document.Registry, log zerolog.Logger) (*BleveIndexer, error) {
	im, err := IndexMapping(reg)
	if err != nil {
		return nil, err
	}
	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("open in-memory index: %w", err)
	}
	return &BleveIndexer{idx: idx, log: log}, nil
}

// docID namespaces primary keys by type so distinct schemas cannot collide.
func docID(docType, pk string) string {
	return TypeName(docType) + ":" + pk
}

func (b *BleveIndexer) Index(ctx context.Context, docType, pk string, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.idx.Index(docID(docType, pk), payload); err != nil {
		return fmt.Errorf("index %s %s: %w", docType, pk, err)
	}
	b.log.Debug().Str("type", docType).Str("pk", pk).Msg("indexed document")
	return nil
}

func (b *BleveIndexer) BulkIndex(ctx context.Context, docType string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := b.idx.NewBatch()
	for _, item := range items {
		if err := batch.Index(docID(docType, item.PK), item.Payload); err != nil {
			return fmt.Errorf("batch %s %s: %w", docType, item.PK, err)
		}
	}
	if err := b.idx.Batch(batch); err != nil {
		return fmt.Errorf("bulk index %s: %w", docType, err)
	}
	b.log.Debug().Str("type", docType).Int("count", len(items)).Msg("bulk indexed")
	return nil
}

func (b *BleveIndexer) Delete(ctx context.Context, docType, pk string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.idx.Delete(docID(docType, pk)); err != nil {
		return fmt.Errorf("unindex %s %s: %w", docType, pk, err)
	}
	b.log.Debug().Str("type", docType).Str("pk", pk).Msg("removed from index")
	return nil
}

// Search runs a query-string query scoped to one document type and returns
// matching primary keys in relevance order.
func (b *BleveIndexer) Search(ctx context.Context, docType, query string, limit int) ([]string, error) {
	typeQ := bleve.NewTermQuery(TypeName(docType))
	typeQ.SetField("_type")
	q := bleve.NewConjunctionQuery(bleve.NewQueryStringQuery(query), typeQ)

	if limit <= 0 {
		limit = 100
	}
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := b.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", docType, err)
	}

	prefix := TypeName(docType) + ":"
	pks := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		pks = append(pks, strings.TrimPrefix(hit.ID, prefix))
	}
	return pks, nil
}

// DocCount reports the number of indexed documents across all types.
func (b *BleveIndexer) DocCount() (uint64, error) {
	return b.idx.DocCount()
}

func (b *BleveIndexer) Close() error {
	return b.idx.Close()
}
