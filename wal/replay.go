package wal

import (
	"context"
	"fmt"
)

// Replay calls fn for every entry with an LSN greater than afterLSN, in LSN
// order. Checkpoint markers are not passed to fn.
//
// Replay is meant to run right after Open, before new appends.
func (w *WAL) Replay(ctx context.Context, afterLSN uint64, fn func(e Entry) error) (ReplayStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var stats ReplayStats
	if err := w.usableLocked(); err != nil {
		return stats, err
	}
	if err := w.bufWriter.Flush(); err != nil {
		return stats, err
	}

	err := w.scanFrames(w.size, func(f frame, _ int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Type == OpCheckpoint {
			return nil
		}
		if f.LSN <= afterLSN {
			stats.Skipped++
			return nil
		}

		e, err := w.decodeEntry(f)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return fmt.Errorf("failed to replay entry %d: %w", e.LSN, err)
		}
		stats.Entries++
		stats.LastLSN = e.LSN
		return nil
	})
	return stats, err
}
