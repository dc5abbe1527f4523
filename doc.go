// Package vectorize provides an embeddable vector-similarity index for Go.
//
// An index stores (id, embedding, metadata) records of a fixed dimension and
// answers approximate top-K similarity queries under a cosine, euclidean or
// dot-product metric. Records can be inserted, upserted, deleted and looked
// up by id; queries can be restricted by metadata filters.
//
// # Quick Start
//
//	ctx := context.Background()
//	idx, _ := vectorize.New(ctx, vectorize.Config{
//	    Name:   "docs",
//	    Metric: vectorize.MetricCosine,
//	    Preset: model.ModelBGESmallENv15, // 384 dimensions
//	})
//	defer idx.Close()
//
//	idx.Upsert(ctx, []vectorize.VectorRecord{
//	    {ID: "a", Values: emb, Metadata: metadata.Document{"lang": metadata.String("en")}},
//	})
//
//	res, _ := idx.Query(ctx, query, vectorize.QueryOptions{
//	    TopK:   10,
//	    Filter: metadata.NewFilterSet(metadata.Eq("lang", metadata.String("en"))),
//	})
//
// # Insert and Upsert
//
// Insert never replaces: inserting an existing id adds another entry, and
// queries and lookups then see the id once (its best or latest entry).
// Upsert replaces every entry of an id. Invalid records are reported in
// MutationResult.Rejected; the rest of the batch is applied.
//
// # Durability
//
// WithWAL journals every mutation before it is applied and replays the
// journal on New. Snapshot writes the records to a blobstore.BlobStore
// (memory, local disk, S3, MinIO or Badger); Restore rebuilds an index from it.
//
// # Errors
//
// Errors are normalised to ErrDimensionMismatch, ErrInvalidMetric,
// ErrInvalidConfig, ErrUnavailable (retryable), ErrNotFound and ErrClosed.
package vectorize
