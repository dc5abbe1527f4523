package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/vectorize/blobstore"
	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/internal/snapshot"
	"github.com/hupe1980/vectorize/internal/store"
	"github.com/hupe1980/vectorize/metadata"
	"github.com/hupe1980/vectorize/model"
	"github.com/hupe1980/vectorize/wal"
)

// RecoveryStats describes what Recover loaded.
type RecoveryStats struct {
	SnapshotRecords int
	SnapshotLSN     uint64
	Replayed        int
	Skipped         int
	LastLSN         uint64
	Duration        time.Duration
}

// Recover loads st (which may be nil) and replays every journal entry after
// the snapshot's LSN. It must be called once, before the engine is used.
func (e *Engine) Recover(ctx context.Context, st *snapshot.State) (RecoveryStats, error) {
	start := time.Now()
	var stats RecoveryStats

	if st != nil {
		if err := e.load(ctx, st); err != nil {
			return stats, err
		}
		stats.SnapshotRecords = len(st.Records)
		stats.SnapshotLSN = st.LSN
	}

	if e.journal != nil {
		rs, err := e.journal.Replay(ctx, stats.SnapshotLSN, func(entry wal.Entry) error {
			return e.replayEntry(ctx, entry)
		})
		e.metrics.OnReplay(time.Since(start), rs.Entries, err)
		if err != nil {
			return stats, fmt.Errorf("replay journal: %w", err)
		}
		stats.Replayed = rs.Entries
		stats.Skipped = rs.Skipped
		stats.LastLSN = rs.LastLSN

		// A journal behind the snapshot must continue after the snapshot LSN,
		// otherwise new entries are skipped by the next replay.
		if last := e.journal.LastLSN(); st != nil && last < st.LSN {
			if rs.Skipped > 0 {
				e.logger.Warn("discarding journal entries older than snapshot",
					"entries", rs.Skipped,
					"journal_lsn", last,
					"snapshot_lsn", st.LSN,
				)
			}
			if err := e.journal.Checkpoint(st.LSN); err != nil {
				return stats, fmt.Errorf("%w: advance journal: %w", ErrUnavailable, err)
			}
			stats.LastLSN = st.LSN
		}
	}

	stats.Duration = time.Since(start)
	e.logger.Info("recovery complete",
		"snapshot_records", stats.SnapshotRecords,
		"snapshot_lsn", stats.SnapshotLSN,
		"replayed", stats.Replayed,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (e *Engine) load(ctx context.Context, st *snapshot.State) error {
	if st.Dimension != e.dim {
		return fmt.Errorf("%w: snapshot dimension %d, index dimension %d", ErrInvalidArgument, st.Dimension, e.dim)
	}
	m, err := distance.ParseMetric(st.Metric)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if m != e.metric {
		return fmt.Errorf("%w: snapshot metric %s, index metric %s", ErrInvalidArgument, m, e.metric)
	}

	for i, r := range st.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := fromStored(r.ID, r.Values, r.Metadata)
		if err != nil {
			return fmt.Errorf("snapshot record %d: %w", i, err)
		}
		if err := e.reserve(rec.ID); err != nil {
			return err
		}
		if err := e.applyInsert(ctx, rec); err != nil {
			return fmt.Errorf("snapshot record %d: %w", i, err)
		}
	}
	return nil
}

func (e *Engine) replayEntry(ctx context.Context, entry wal.Entry) error {
	switch entry.Type {
	case wal.OpInsert, wal.OpUpsert:
		for _, r := range entry.Records {
			rec, err := fromStored(r.ID, r.Values, r.Metadata)
			if err != nil {
				return err
			}
			if err := e.reserve(rec.ID); err != nil {
				return err
			}
			if err := e.applyRecord(ctx, entry.Type, rec); err != nil {
				return err
			}
		}
	case wal.OpDelete:
		for _, id := range entry.IDs {
			e.applyDelete(ctx, id)
		}
	}
	return nil
}

func (e *Engine) reserve(id string) error {
	if err := e.rc.AcquireMemory(e.entryBytes(id)); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func fromStored(id string, values []float32, meta map[string]any) (model.VectorRecord, error) {
	doc, err := metadata.DocumentFromAny(meta)
	if err != nil {
		return model.VectorRecord{}, err
	}
	return model.VectorRecord{ID: id, Values: values, Metadata: doc}, nil
}

// State captures the engine content for a snapshot. Mutations are blocked
// while the state is collected so it matches the journal LSN exactly.
func (e *Engine) State() *snapshot.State {
	unlock := e.lockAll()
	defer unlock()

	st := &snapshot.State{
		Name:      e.opts.Name,
		Dimension: e.dim,
		Metric:    e.metric.String(),
		CreatedAt: time.Now().UnixNano(),
	}
	if e.journal != nil {
		st.LSN = e.journal.LastLSN()
	}
	e.store.Range(func(ent *store.Entry) bool {
		st.Records = append(st.Records, snapshot.Record{
			ID:       ent.ID,
			Values:   ent.Values,
			Metadata: ent.Metadata.ToAny(),
		})
		return true
	})
	return st
}

// SnapshotOptions configures Snapshot.
type SnapshotOptions struct {
	// Checkpoint truncates the journal once the snapshot is durable, provided
	// no mutation was journaled after the snapshot was taken.
	Checkpoint bool

	Snapshot []func(*snapshot.Options)
}

// Snapshot writes the engine content to bs under name.
func (e *Engine) Snapshot(ctx context.Context, bs blobstore.BlobStore, name string, opts SnapshotOptions) (snapshot.Info, error) {
	if e.closed.Load() {
		return snapshot.Info{}, ErrClosed
	}

	start := time.Now()
	st := e.State()

	fns := append([]func(*snapshot.Options){func(o *snapshot.Options) { o.Resource = e.rc }}, opts.Snapshot...)
	info, err := snapshot.Write(ctx, bs, name, st, fns...)
	e.metrics.OnSnapshot(time.Since(start), len(st.Records), err)
	if err != nil {
		return snapshot.Info{}, err
	}

	if opts.Checkpoint && e.journal != nil {
		if err := e.journal.Checkpoint(st.LSN); err != nil {
			return info, fmt.Errorf("%w: checkpoint: %w", ErrUnavailable, err)
		}
	}

	e.logger.Info("snapshot written",
		"name", name,
		"records", info.Records,
		"bytes", info.Size,
		"lsn", info.LSN,
		"duration", time.Since(start),
	)
	return info, nil
}
