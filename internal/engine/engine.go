package engine

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/internal/hnsw"
	imetadata "github.com/hupe1980/vectorize/internal/metadata"
	"github.com/hupe1980/vectorize/internal/resource"
	"github.com/hupe1980/vectorize/internal/store"
	"github.com/hupe1980/vectorize/wal"
)

const (
	// DefaultTopK is used when a query does not set TopK.
	DefaultTopK = 5

	// DefaultMaxTopK bounds TopK; larger requests are clamped.
	DefaultMaxTopK = 100

	// DefaultBruteForceThreshold is the pre-filter cardinality at or below
	// which candidates are scored exhaustively instead of searched.
	DefaultBruteForceThreshold = 256

	// DefaultFilterOverfetch multiplies the beam width of filtered searches.
	DefaultFilterOverfetch = 4

	// DefaultLockStripes is the number of per-id mutation locks.
	DefaultLockStripes = 64
)

// Options configures an Engine.
type Options struct {
	Name                string
	MaxTopK             int
	DefaultTopK         int
	BruteForceThreshold int
	FilterOverfetch     int
	LockStripes         int

	// HNSW tunes the graph. Dimension and Metric are always overwritten.
	HNSW func(o *hnsw.Options)

	// WAL journals mutations when set. The engine takes ownership and closes it.
	WAL *wal.WAL

	Resource *resource.Controller
	Logger   *slog.Logger
	Metrics  MetricsObserver
}

// Option configures the engine.
type Option func(*Options)

// WithName sets the index name reported by Describe and stored in snapshots.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithLogger sets the logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithResourceController sets the resource controller for the engine.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *Options) { o.Resource = rc }
}

// WithMetricsObserver sets the metrics observer for the engine.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithWAL enables journaling through w.
func WithWAL(w *wal.WAL) Option {
	return func(o *Options) { o.WAL = w }
}

// WithHNSWOptions tunes the graph.
func WithHNSWOptions(fn func(o *hnsw.Options)) Option {
	return func(o *Options) { o.HNSW = fn }
}

// WithMaxTopK sets the TopK clamp.
func WithMaxTopK(k int) Option {
	return func(o *Options) { o.MaxTopK = k }
}

// WithBruteForceThreshold sets the pre-filter size below which candidates are scored directly.
func WithBruteForceThreshold(n int) Option {
	return func(o *Options) { o.BruteForceThreshold = n }
}

// WithLockStripes sets the number of per-id mutation locks.
func WithLockStripes(n int) Option {
	return func(o *Options) { o.LockStripes = n }
}

// Engine is a mutable vector index.
type Engine struct {
	opts   Options
	dim    int
	metric distance.Metric

	store   *store.Store
	graph   *hnsw.HNSW
	meta    *imetadata.Index
	journal *wal.WAL
	rc      *resource.Controller

	stripes []sync.Mutex

	logger  *slog.Logger
	metrics MetricsObserver

	closed atomic.Bool
}

// New creates an empty engine for vectors of length dim.
func New(dim int, metric distance.Metric, optFns ...Option) (*Engine, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidArgument, dim)
	}
	if !metric.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, &distance.ErrUnknownMetric{Name: metric.String()})
	}

	opts := Options{
		MaxTopK:             DefaultMaxTopK,
		DefaultTopK:         DefaultTopK,
		BruteForceThreshold: DefaultBruteForceThreshold,
		FilterOverfetch:     DefaultFilterOverfetch,
		LockStripes:         DefaultLockStripes,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = DefaultMaxTopK
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = DefaultTopK
	}
	opts.DefaultTopK = min(opts.DefaultTopK, opts.MaxTopK)
	if opts.BruteForceThreshold < 0 {
		opts.BruteForceThreshold = 0
	}
	if opts.FilterOverfetch < 1 {
		opts.FilterOverfetch = DefaultFilterOverfetch
	}
	if opts.LockStripes <= 0 {
		opts.LockStripes = DefaultLockStripes
	}

	graph, err := hnsw.New(func(o *hnsw.Options) {
		if opts.HNSW != nil {
			opts.HNSW(o)
		}
		o.Dimension = dim
		o.Metric = metric
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var metrics MetricsObserver = NoopMetricsObserver{}
	if opts.Metrics != nil {
		metrics = opts.Metrics
	}

	return &Engine{
		opts:    opts,
		dim:     dim,
		metric:  metric,
		store:   store.New(dim),
		graph:   graph,
		meta:    imetadata.New(),
		journal: opts.WAL,
		rc:      opts.Resource,
		stripes: make([]sync.Mutex, opts.LockStripes),
		logger:  logger.With("component", "engine"),
		metrics: metrics,
	}, nil
}

// Dimension returns the vector length.
func (e *Engine) Dimension() int { return e.dim }

// Metric returns the distance metric.
func (e *Engine) Metric() distance.Metric { return e.metric }

// Name returns the configured index name.
func (e *Engine) Name() string { return e.opts.Name }

// Info describes the engine.
type Info struct {
	Name       string
	Dimension  int
	Metric     distance.Metric
	Vectors    int // distinct ids
	Entries    int // physical entries
	LastLSN    uint64
	MemoryUsed int64
	Graph      hnsw.Stats
	Metadata   imetadata.Stats
}

// Describe returns a point-in-time description of the engine.
func (e *Engine) Describe() Info {
	info := Info{
		Name:       e.opts.Name,
		Dimension:  e.dim,
		Metric:     e.metric,
		Vectors:    e.store.IDCount(),
		Entries:    e.store.Len(),
		MemoryUsed: e.rc.MemoryUsage(),
		Graph:      e.graph.Stats(),
		Metadata:   e.meta.Stats(),
	}
	if e.journal != nil {
		info.LastLSN = e.journal.LastLSN()
	}
	return info
}

// Close waits for in-flight mutations and closes the journal.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	unlock := e.lockAll()
	defer unlock()

	if e.journal != nil {
		if err := e.journal.Close(); err != nil && !errors.Is(err, wal.ErrClosed) {
			return err
		}
	}
	return nil
}

func (e *Engine) stripe(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(len(e.stripes)))
}

// lockStripes locks the stripes of ids in ascending order and returns the unlock func.
func (e *Engine) lockStripes(ids []string) func() {
	idx := make([]int, 0, len(ids))
	for _, id := range ids {
		idx = append(idx, e.stripe(id))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)

	for _, i := range idx {
		e.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			e.stripes[idx[j]].Unlock()
		}
	}
}

func (e *Engine) lockAll() func() {
	for i := range e.stripes {
		e.stripes[i].Lock()
	}
	return func() {
		for i := len(e.stripes) - 1; i >= 0; i-- {
			e.stripes[i].Unlock()
		}
	}
}

// entryBytes is the accounted size of one physical entry of id.
func (e *Engine) entryBytes(id string) int64 {
	return int64(e.dim*4 + len(id))
}
