package vectorize

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/internal/engine"
	"github.com/hupe1980/vectorize/internal/hnsw"
	"github.com/hupe1980/vectorize/internal/resource"
	"github.com/hupe1980/vectorize/internal/snapshot"
	"github.com/hupe1980/vectorize/wal"
)

// Index is a vector-similarity index. It is safe for concurrent use.
type Index struct {
	name    string
	engine  *engine.Engine
	rc      *resource.Controller
	logger  *Logger
	metrics MetricsCollector
}

// Info describes an index. Entries counts physical entries; it exceeds
// VectorCount while inserted duplicates of an id coexist.
type Info struct {
	Name           string `json:"name"`
	Dimensions     int    `json:"dimensions"`
	Metric         string `json:"metric"`
	VectorCount    int    `json:"vectorCount"`
	Entries        int    `json:"entries"`
	LastLSN        uint64 `json:"lastLsn,omitempty"`
	MemoryUsed     int64  `json:"memoryUsed"`
	GraphLevel     int    `json:"graphLevel"`
	MetadataFields int    `json:"metadataFields"`
}

// New creates an empty index, or reopens the journal configured by WithWAL
// and replays it.
//
// Example:
//
//	idx, err := vectorize.New(ctx, vectorize.Config{
//	    Name:   "docs",
//	    Metric: vectorize.MetricCosine,
//	    Preset: model.ModelBGEBaseENv15,
//	})
func New(ctx context.Context, cfg Config, optFns ...Option) (*Index, error) {
	dim, metric, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	o := applyOptions(optFns)
	return open(ctx, cfg.Name, dim, metric, nil, o)
}

func open(ctx context.Context, name string, dim int, metric distance.Metric, st *snapshot.State, o options) (*Index, error) {
	logger := o.logger.WithIndex(name)
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     o.limits.MemoryLimitBytes,
		MaxConcurrentQueries: o.limits.MaxConcurrentQueries,
		MutationsPerSecond:   o.limits.MutationsPerSecond,
		MutationBurst:        o.limits.MutationBurst,
		IOLimitBytesPerSec:   o.limits.IOLimitBytesPerSec,
	})

	engineOpts := []engine.Option{
		engine.WithName(name),
		engine.WithLogger(logger.Logger),
		engine.WithResourceController(rc),
		engine.WithMetricsObserver(engineObserver{mc: o.metricsCollector}),
		engine.WithMaxTopK(o.maxTopK),
		engine.WithHNSWOptions(func(h *hnsw.Options) {
			g := o.graph
			if g.M > 0 {
				h.M = g.M
			}
			if g.EF > 0 {
				h.EF = g.EF
			}
			if g.EFSearch > 0 {
				h.EFSearch = g.EFSearch
			}
			h.RandomSeed = g.Seed
		}),
	}
	if o.bruteForce > 0 {
		engineOpts = append(engineOpts, engine.WithBruteForceThreshold(o.bruteForce))
	}

	var journal *wal.WAL
	if o.walPath != "" {
		fns := append([]func(*wal.Options){func(w *wal.Options) { w.Path = o.walPath }}, o.walOptions...)
		j, err := wal.Open(fns...)
		if err != nil {
			return nil, fmt.Errorf("%w: open journal: %w", ErrUnavailable, err)
		}
		journal = j
		engineOpts = append(engineOpts, engine.WithWAL(journal))
	}

	eng, err := engine.New(dim, metric, engineOpts...)
	if err != nil {
		if journal != nil {
			_ = journal.Close()
		}
		return nil, translateError(err)
	}

	idx := &Index{
		name:    name,
		engine:  eng,
		rc:      rc,
		logger:  logger,
		metrics: o.metricsCollector,
	}

	if st != nil || journal != nil {
		stats, err := eng.Recover(ctx, st)
		idx.logger.LogRecovery(ctx, stats.SnapshotRecords, stats.Replayed, err)
		if err != nil {
			_ = eng.Close()
			return nil, translateError(err)
		}
	}
	return idx, nil
}

// Name returns the index name.
func (idx *Index) Name() string { return idx.name }

// Query returns the records most similar to vec, best first.
//
// TopK defaults to 5 and is clamped to the configured maximum. A filter
// restricts matches to records whose metadata satisfies every condition.
// When ctx expires while candidates are collected, the best matches found so
// far are returned with Partial set.
func (idx *Index) Query(ctx context.Context, vec []float32, opts QueryOptions) (QueryResult, error) {
	start := time.Now()
	res, err := idx.engine.Query(ctx, vec, opts)
	err = translateError(err)

	idx.metrics.RecordQuery(opts.TopK, res.Count, time.Since(start), err)
	idx.logger.LogQuery(ctx, opts.TopK, res.Count, res.Partial, err)
	return res, err
}

// Insert adds every valid record as a new entry. An id that already exists
// keeps its previous entries; use Upsert to replace.
//
// Invalid records are reported in Rejected and do not abort the batch.
func (idx *Index) Insert(ctx context.Context, records []VectorRecord) (MutationResult, error) {
	start := time.Now()
	res, err := idx.engine.Insert(ctx, records)
	err = translateError(err)
	translateRejections(res.Rejected)

	idx.metrics.RecordInsert(res.Count, len(res.Rejected), time.Since(start), err)
	idx.logger.LogInsert(ctx, res.Count, len(res.Rejected), err)
	return res, err
}

// Upsert inserts each record or replaces every existing entry of its id.
// When an id occurs more than once in records, the last occurrence wins.
func (idx *Index) Upsert(ctx context.Context, records []VectorRecord) (MutationResult, error) {
	start := time.Now()
	res, err := idx.engine.Upsert(ctx, records)
	err = translateError(err)
	translateRejections(res.Rejected)

	idx.metrics.RecordUpsert(res.Count, len(res.Rejected), time.Since(start), err)
	idx.logger.LogUpsert(ctx, res.Count, len(res.Rejected), err)
	return res, err
}

// DeleteByIDs removes every entry of each id. The result lists the ids that
// were present; absent ids are skipped.
func (idx *Index) DeleteByIDs(ctx context.Context, ids []string) (DeleteResult, error) {
	start := time.Now()
	res, err := idx.engine.DeleteByIDs(ctx, ids)
	err = translateError(err)

	idx.metrics.RecordDelete(res.Count, time.Since(start), err)
	idx.logger.LogDelete(ctx, len(ids), res.Count, err)
	return res, err
}

// GetByIDs returns the current record of each present id in request order.
// Absent ids are omitted.
func (idx *Index) GetByIDs(ctx context.Context, ids []string) ([]VectorRecord, error) {
	recs, err := idx.engine.GetByIDs(ctx, ids)
	return recs, translateError(err)
}

// Describe returns the index shape and size.
func (idx *Index) Describe() Info {
	ei := idx.engine.Describe()
	return Info{
		Name:           ei.Name,
		Dimensions:     ei.Dimension,
		Metric:         ei.Metric.String(),
		VectorCount:    ei.Vectors,
		Entries:        ei.Entries,
		LastLSN:        ei.LastLSN,
		MemoryUsed:     ei.MemoryUsed,
		GraphLevel:     ei.Graph.MaxLevel,
		MetadataFields: ei.Metadata.Fields,
	}
}

// Close releases the index. It closes the journal; later calls fail with ErrClosed.
func (idx *Index) Close() error {
	if idx == nil {
		return nil
	}
	return translateError(idx.engine.Close())
}
