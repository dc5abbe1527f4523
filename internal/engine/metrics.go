package engine

import "time"

// MetricsObserver is notified about engine-internal work.
type MetricsObserver interface {
	// OnJournal is called after a batch was journaled.
	OnJournal(duration time.Duration, records int, err error)

	// OnReplay is called when journal replay completes.
	OnReplay(duration time.Duration, entries int, err error)

	// OnSnapshot is called when a snapshot write completes.
	OnSnapshot(duration time.Duration, records int, err error)

	// OnQueryPlan reports which candidate strategy a query used.
	OnQueryPlan(plan QueryPlan, candidates int)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnJournal(time.Duration, int, error)  {}
func (NoopMetricsObserver) OnReplay(time.Duration, int, error)   {}
func (NoopMetricsObserver) OnSnapshot(time.Duration, int, error) {}
func (NoopMetricsObserver) OnQueryPlan(QueryPlan, int)           {}
