package vectorize

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/vectorize/internal/engine"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// observability package ships a Prometheus implementation.
type MetricsCollector interface {
	// RecordInsert is called after each insert call.
	// count is the number of applied records, rejected the number of rejections.
	RecordInsert(count, rejected int, duration time.Duration, err error)

	// RecordUpsert is called after each upsert call.
	RecordUpsert(count, rejected int, duration time.Duration, err error)

	// RecordDelete is called after each deleteByIds call.
	RecordDelete(deleted int, duration time.Duration, err error)

	// RecordQuery is called after each query.
	RecordQuery(topK, matches int, duration time.Duration, err error)

	// RecordQueryPlan reports the candidate strategy of a query
	// ("graph", "filtered_graph" or "brute_force").
	RecordQueryPlan(plan string, candidates int)

	// RecordJournal is called after a batch was written to the journal.
	RecordJournal(records int, duration time.Duration, err error)

	// RecordSnapshot is called after a snapshot was written.
	RecordSnapshot(records int, duration time.Duration, err error)

	// RecordReplay is called when journal replay completes.
	RecordReplay(entries int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordUpsert(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordQuery(int, int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordQueryPlan(string, int)                 {}
func (NoopMetricsCollector) RecordJournal(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordSnapshot(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordReplay(int, time.Duration, error)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount     atomic.Int64
	InsertRecords   atomic.Int64
	InsertRejected  atomic.Int64
	InsertErrors    atomic.Int64
	UpsertCount     atomic.Int64
	UpsertRecords   atomic.Int64
	UpsertRejected  atomic.Int64
	UpsertErrors    atomic.Int64
	DeleteCount     atomic.Int64
	DeletedRecords  atomic.Int64
	DeleteErrors    atomic.Int64
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryTotalNanos atomic.Int64
	BruteForcePlans atomic.Int64
	GraphPlans      atomic.Int64
	JournalCount    atomic.Int64
	JournalErrors   atomic.Int64
	SnapshotCount   atomic.Int64
	SnapshotErrors  atomic.Int64
	ReplayedEntries atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(count, rejected int, _ time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertRecords.Add(int64(count))
	b.InsertRejected.Add(int64(rejected))
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordUpsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpsert(count, rejected int, _ time.Duration, err error) {
	b.UpsertCount.Add(1)
	b.UpsertRecords.Add(int64(count))
	b.UpsertRejected.Add(int64(rejected))
	if err != nil {
		b.UpsertErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(deleted int, _ time.Duration, err error) {
	b.DeleteCount.Add(1)
	b.DeletedRecords.Add(int64(deleted))
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(_, _ int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordQueryPlan implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQueryPlan(plan string, _ int) {
	if plan == engine.PlanBruteForce.String() {
		b.BruteForcePlans.Add(1)
		return
	}
	b.GraphPlans.Add(1)
}

// RecordJournal implements MetricsCollector.
func (b *BasicMetricsCollector) RecordJournal(_ int, _ time.Duration, err error) {
	b.JournalCount.Add(1)
	if err != nil {
		b.JournalErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(_ int, _ time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// RecordReplay implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReplay(entries int, _ time.Duration, _ error) {
	b.ReplayedEntries.Add(int64(entries))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:     b.InsertCount.Load(),
		InsertRecords:   b.InsertRecords.Load(),
		InsertRejected:  b.InsertRejected.Load(),
		InsertErrors:    b.InsertErrors.Load(),
		UpsertCount:     b.UpsertCount.Load(),
		UpsertRecords:   b.UpsertRecords.Load(),
		UpsertRejected:  b.UpsertRejected.Load(),
		UpsertErrors:    b.UpsertErrors.Load(),
		DeleteCount:     b.DeleteCount.Load(),
		DeletedRecords:  b.DeletedRecords.Load(),
		DeleteErrors:    b.DeleteErrors.Load(),
		QueryCount:      b.QueryCount.Load(),
		QueryErrors:     b.QueryErrors.Load(),
		QueryAvgNanos:   b.getAvgQueryNanos(),
		BruteForcePlans: b.BruteForcePlans.Load(),
		GraphPlans:      b.GraphPlans.Load(),
		JournalCount:    b.JournalCount.Load(),
		JournalErrors:   b.JournalErrors.Load(),
		SnapshotCount:   b.SnapshotCount.Load(),
		SnapshotErrors:  b.SnapshotErrors.Load(),
		ReplayedEntries: b.ReplayedEntries.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgQueryNanos() int64 {
	count := b.QueryCount.Load()
	if count == 0 {
		return 0
	}
	return b.QueryTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount     int64
	InsertRecords   int64
	InsertRejected  int64
	InsertErrors    int64
	UpsertCount     int64
	UpsertRecords   int64
	UpsertRejected  int64
	UpsertErrors    int64
	DeleteCount     int64
	DeletedRecords  int64
	DeleteErrors    int64
	QueryCount      int64
	QueryErrors     int64
	QueryAvgNanos   int64
	BruteForcePlans int64
	GraphPlans      int64
	JournalCount    int64
	JournalErrors   int64
	SnapshotCount   int64
	SnapshotErrors  int64
	ReplayedEntries int64
}

// engineObserver forwards engine-internal events to a MetricsCollector.
type engineObserver struct {
	mc MetricsCollector
}

func (o engineObserver) OnJournal(d time.Duration, records int, err error) {
	o.mc.RecordJournal(records, d, err)
}

func (o engineObserver) OnReplay(d time.Duration, entries int, err error) {
	o.mc.RecordReplay(entries, d, err)
}

func (o engineObserver) OnSnapshot(d time.Duration, records int, err error) {
	o.mc.RecordSnapshot(records, d, err)
}

func (o engineObserver) OnQueryPlan(plan engine.QueryPlan, candidates int) {
	o.mc.RecordQueryPlan(plan.String(), candidates)
}
