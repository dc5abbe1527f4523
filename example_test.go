package vectorize_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/vectorize"
	"github.com/hupe1980/vectorize/blobstore"
	"github.com/hupe1980/vectorize/metadata"
	"github.com/hupe1980/vectorize/model"
)

// Example demonstrates inserting records and running a filtered query.
func Example() {
	ctx := context.Background()

	idx, err := vectorize.New(ctx, vectorize.Config{
		Name:       "animals",
		Dimensions: 3,
		Metric:     vectorize.MetricCosine,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	_, err = idx.Insert(ctx, []vectorize.VectorRecord{
		{ID: "cat", Values: []float32{1, 0.1, 0}, Metadata: metadata.Document{"legs": metadata.Int(4)}},
		{ID: "bird", Values: []float32{0.9, 0.2, 0}, Metadata: metadata.Document{"legs": metadata.Int(2)}},
		{ID: "fish", Values: []float32{0, 0, 1}, Metadata: metadata.Document{"legs": metadata.Int(0)}},
	})
	if err != nil {
		log.Fatal(err)
	}

	res, err := idx.Query(ctx, []float32{1, 0, 0}, vectorize.QueryOptions{
		TopK:   2,
		Filter: metadata.NewFilterSet(metadata.Gt("legs", metadata.Int(0))),
	})
	if err != nil {
		log.Fatal(err)
	}
	for _, m := range res.Matches {
		fmt.Println(m.VectorID)
	}
	// Output:
	// cat
	// bird
}

// Example_preset demonstrates sizing an index from a known embedding model.
func Example_preset() {
	idx, err := vectorize.New(context.Background(), vectorize.Config{
		Name:   "docs",
		Metric: vectorize.MetricDotProduct,
		Preset: model.ModelBGELargeENv15,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	fmt.Println(idx.Describe().Dimensions)
	// Output: 1024
}

// Example_snapshot demonstrates saving an index and restoring it.
func Example_snapshot() {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	idx, err := vectorize.New(ctx, vectorize.Config{Name: "docs", Dimensions: 2, Metric: vectorize.MetricEuclidean})
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	if _, err := idx.Upsert(ctx, []vectorize.VectorRecord{{ID: "a", Values: []float32{1, 2}}}); err != nil {
		log.Fatal(err)
	}
	if _, err := idx.Snapshot(ctx, store, "docs.snap"); err != nil {
		log.Fatal(err)
	}

	restored, err := vectorize.Restore(ctx, store, "docs.snap")
	if err != nil {
		log.Fatal(err)
	}
	defer restored.Close()

	info := restored.Describe()
	fmt.Println(info.Name, info.VectorCount)
	// Output: docs 1
}
