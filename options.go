package vectorize

import (
	"log/slog"

	"github.com/hupe1980/vectorize/wal"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	walPath          string
	walOptions       []func(*wal.Options)
	limits           Limits
	graph            GraphOptions
	maxTopK          int
	bruteForce       int
}

// Option configures New and Restore.
type Option func(*options)

// Limits bounds the resources an index may use. Zero values disable a limit.
type Limits struct {
	// MemoryLimitBytes caps the bytes accounted for stored vectors and ids.
	// Mutations that would exceed it fail with ErrUnavailable.
	MemoryLimitBytes int64

	// MaxConcurrentQueries bounds in-flight queries. Excess queries wait for a
	// slot until their context is done.
	MaxConcurrentQueries int64

	// MutationsPerSecond and MutationBurst rate-limit mutation calls.
	MutationsPerSecond float64
	MutationBurst      int

	// IOLimitBytesPerSec caps snapshot read/write throughput.
	IOLimitBytesPerSec int64
}

// GraphOptions tunes the proximity graph. Zero values keep the defaults.
type GraphOptions struct {
	// M is the number of neighbours per node above layer 0.
	M int

	// EF is the beam width used while inserting.
	EF int

	// EFSearch is the beam width used while querying.
	EFSearch int

	// Seed makes level assignment deterministic.
	Seed *int64
}

// WithWAL enables write-ahead journaling in dir. Every mutation is durable
// according to the configured durability mode before it is acknowledged, and
// New replays the journal on start.
//
// Example:
//
//	idx, _ := vectorize.New(ctx, cfg, vectorize.WithWAL("./data", func(o *wal.Options) {
//	    o.DurabilityMode = wal.DurabilitySync
//	}))
func WithWAL(dir string, optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walPath = dir
		o.walOptions = optFns
	}
}

// WithLimits configures memory, concurrency and rate limits.
func WithLimits(l Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithGraphOptions tunes the proximity graph.
func WithGraphOptions(g GraphOptions) Option {
	return func(o *options) {
		o.graph = g
	}
}

// WithMaxTopK changes the TopK clamp (default 100).
func WithMaxTopK(k int) Option {
	return func(o *options) {
		o.maxTopK = k
	}
}

// WithBruteForceThreshold sets the filtered-candidate count at or below which
// a query scores candidates exhaustively (default 256).
func WithBruteForceThreshold(n int) Option {
	return func(o *options) {
		o.bruteForce = n
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vectorize.BasicMetricsCollector{}
//	idx, _ := vectorize.New(ctx, cfg, vectorize.WithMetricsCollector(metrics))
//	// ... use idx ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
