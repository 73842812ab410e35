package mirror

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/miradordb/mirador/document"
	"github.com/miradordb/mirador/mongodb"
	"github.com/miradordb/mirador/search"
)

// Reindex rebuilds the search index from the store, batch by batch, for
// every indexed schema. It returns the number of documents indexed.
func Reindex(ctx context.Context, store *mongodb.Store, idx search.Indexer,
	batchSize int, log zerolog.Logger) (int, error) {

	if batchSize <= 0 {
		batchSize = 500
	}
	reg := store.Registry()

	total := 0
	for _, sch := range reg.All() {
		if !sch.Indexed {
			continue
		}
		indexed, err := reindexSchema(ctx, store, reg, idx, sch, batchSize)
		if err != nil {
			return total, err
		}
		log.Info().Str("schema", sch.Name).Int("count", indexed).Msg("reindexed")
		total += indexed
	}
	return total, nil
}

func reindexSchema(ctx context.Context, store *mongodb.Store, reg *document.Registry,
	idx search.Indexer, sch *document.Schema, batchSize int) (int, error) {

	indexed := 0
	for page := 0; ; page++ {
		res, err := store.List(ctx, sch, mongodb.ListParams{
			Limit: batchSize,
			Page:  page,
			Sort:  []string{sch.PKField},
		})
		if err != nil {
			return indexed, err
		}
		if len(res.Docs) == 0 {
			return indexed, nil
		}

		items := make([]search.Item, 0, len(res.Docs))
		for _, d := range res.Docs {
			payload, err := search.Payload(ctx, reg, d, -1, store)
			if err != nil {
				return indexed, err
			}
			items = append(items, search.Item{
				PK:      document.PKString(d.PK()),
				Payload: payload,
			})
		}
		if err := idx.BulkIndex(ctx, sch.Name, items); err != nil {
			return indexed, err
		}
		indexed += len(items)

		if len(res.Docs) < batchSize {
			return indexed, nil
		}
	}
}
