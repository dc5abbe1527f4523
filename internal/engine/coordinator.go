package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vectorize/internal/hnsw"
	"github.com/hupe1980/vectorize/internal/store"
	"github.com/hupe1980/vectorize/model"
	"github.com/hupe1980/vectorize/wal"
)

// indexedRecord keeps a record's position in the caller's batch.
type indexedRecord struct {
	index int
	rec   model.VectorRecord
}

// Insert writes every valid record as a new physical entry. Existing entries
// with the same id are kept.
func (e *Engine) Insert(ctx context.Context, records []model.VectorRecord) (model.MutationResult, error) {
	batch := make([]indexedRecord, len(records))
	for i, r := range records {
		batch[i] = indexedRecord{index: i, rec: r}
	}
	return e.mutate(ctx, wal.OpInsert, batch)
}

// Upsert replaces or creates each record's id. Within a batch the last
// occurrence of an id wins; earlier occurrences are dropped before validation.
func (e *Engine) Upsert(ctx context.Context, records []model.VectorRecord) (model.MutationResult, error) {
	return e.mutate(ctx, wal.OpUpsert, dedupLast(records))
}

func dedupLast(records []model.VectorRecord) []indexedRecord {
	last := make(map[string]int, len(records))
	for i, r := range records {
		last[r.ID] = i
	}
	out := make([]indexedRecord, 0, len(last))
	for i, r := range records {
		if last[r.ID] == i {
			out = append(out, indexedRecord{index: i, rec: r})
		}
	}
	return out
}

func (e *Engine) validate(rec model.VectorRecord) error {
	if rec.ID == "" {
		return ErrEmptyID
	}
	return e.store.Validate(rec)
}

func (e *Engine) mutate(ctx context.Context, op wal.OperationType, batch []indexedRecord) (model.MutationResult, error) {
	if e.closed.Load() {
		return model.MutationResult{}, ErrClosed
	}
	if err := e.rc.AllowMutation(); err != nil {
		return model.MutationResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var res model.MutationResult
	valid := make([]indexedRecord, 0, len(batch))
	for _, ir := range batch {
		if err := e.validate(ir.rec); err != nil {
			res.Rejected = append(res.Rejected, model.Rejection{Index: ir.index, ID: ir.rec.ID, Err: err})
			continue
		}
		valid = append(valid, ir)
	}
	if len(valid) == 0 {
		return res, nil
	}

	// A call cancelled before it is journaled is aborted. Once journaled it completes.
	if err := ctx.Err(); err != nil {
		return model.MutationResult{}, err
	}

	ids := make([]string, len(valid))
	var reserved int64
	for i, ir := range valid {
		ids[i] = ir.rec.ID
		reserved += e.entryBytes(ir.rec.ID)
	}

	unlock := e.lockStripes(ids)
	defer unlock()

	if e.closed.Load() {
		return model.MutationResult{}, ErrClosed
	}
	if err := e.rc.AcquireMemory(reserved); err != nil {
		return model.MutationResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	res.MutationID = newMutationID()
	if err := e.journalRecords(ctx, op, res.MutationID, valid); err != nil {
		e.rc.ReleaseMemory(reserved)
		return model.MutationResult{}, err
	}

	applied, rejected := e.applyBatch(context.WithoutCancel(ctx), op, valid)
	res.Count = applied
	res.Rejected = append(res.Rejected, rejected...)
	slices.SortFunc(res.Rejected, func(a, b model.Rejection) int { return cmp.Compare(a.Index, b.Index) })

	e.logger.Debug("mutation applied",
		"op", op.String(),
		"mutation_id", res.MutationID,
		"count", res.Count,
		"rejected", len(res.Rejected),
	)
	return res, nil
}

func (e *Engine) journalRecords(ctx context.Context, op wal.OperationType, mutationID string, batch []indexedRecord) error {
	if e.journal == nil {
		return nil
	}
	recs := make([]wal.Record, len(batch))
	for i, ir := range batch {
		recs[i] = wal.Record{ID: ir.rec.ID, Values: ir.rec.Values, Metadata: ir.rec.Metadata.ToAny()}
	}
	return e.journalEntry(ctx, &wal.Entry{Type: op, MutationID: mutationID, Records: recs}, len(recs))
}

func (e *Engine) journalEntry(ctx context.Context, entry *wal.Entry, n int) error {
	start := time.Now()
	_, err := e.journal.Append(ctx, entry)
	e.metrics.OnJournal(time.Since(start), n, err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		e.logger.Error("journal append failed", "op", entry.Type.String(), "error", err)
		return fmt.Errorf("%w: journal: %w", ErrUnavailable, err)
	}
	return nil
}

// applyBatch applies records partitioned by lock stripe. Partitions run in
// parallel; records of one partition keep their batch order.
func (e *Engine) applyBatch(ctx context.Context, op wal.OperationType, batch []indexedRecord) (int, []model.Rejection) {
	parts := make(map[int][]indexedRecord)
	for _, ir := range batch {
		s := e.stripe(ir.rec.ID)
		parts[s] = append(parts[s], ir)
	}

	var (
		applied  atomic.Int64
		mu       sync.Mutex
		rejected []model.Rejection
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, part := range parts {
		g.Go(func() error {
			for _, ir := range part {
				if err := e.applyRecord(gctx, op, ir.rec); err != nil {
					e.rc.ReleaseMemory(e.entryBytes(ir.rec.ID))
					e.logger.Warn("record not applied", "id", ir.rec.ID, "error", err)
					mu.Lock()
					rejected = append(rejected, model.Rejection{Index: ir.index, ID: ir.rec.ID, Err: err})
					mu.Unlock()
					continue
				}
				applied.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(applied.Load()), rejected
}

func (e *Engine) applyRecord(ctx context.Context, op wal.OperationType, rec model.VectorRecord) error {
	switch op {
	case wal.OpInsert:
		return e.applyInsert(ctx, rec)
	case wal.OpUpsert:
		return e.applyUpsert(ctx, rec)
	default:
		return fmt.Errorf("%w: operation %s", ErrInvalidArgument, op)
	}
}

func (e *Engine) applyInsert(ctx context.Context, rec model.VectorRecord) error {
	ent, err := e.store.Append(rec)
	if err != nil {
		return err
	}
	if err := e.graph.Insert(ctx, ent.Handle, ent.Values); err != nil {
		return fmt.Errorf("index handle %d: %w", ent.Handle, err)
	}
	e.meta.Add(ent.Handle, ent.Metadata)
	return nil
}

// applyUpsert replaces every entry of rec.ID. The graph sees a delete
// followed by an insert, never an in-place update.
func (e *Engine) applyUpsert(ctx context.Context, rec model.VectorRecord) error {
	old := e.store.Entries(rec.ID)
	ent, _, err := e.store.Replace(rec)
	if err != nil {
		return err
	}
	e.unindex(ctx, rec.ID, old)

	if err := e.graph.Insert(ctx, ent.Handle, ent.Values); err != nil {
		return fmt.Errorf("index handle %d: %w", ent.Handle, err)
	}
	e.meta.Add(ent.Handle, ent.Metadata)
	return nil
}

// applyDelete removes every entry of id and reports whether it was present.
func (e *Engine) applyDelete(ctx context.Context, id string) bool {
	old := e.store.Entries(id)
	if _, ok := e.store.Delete(id); !ok {
		return false
	}
	e.unindex(ctx, id, old)
	return true
}

// unindex drops removed entries from the graph and the metadata index and
// returns their memory reservation.
func (e *Engine) unindex(ctx context.Context, id string, removed []*store.Entry) {
	for _, o := range removed {
		e.meta.Remove(o.Handle, o.Metadata)
		if err := e.graph.Delete(ctx, o.Handle); err != nil {
			var nf *hnsw.ErrNodeNotFound
			if !errors.As(err, &nf) {
				e.logger.Warn("graph delete failed", "id", id, "handle", o.Handle, "error", err)
			}
		}
	}
	e.rc.ReleaseMemory(int64(len(removed)) * e.entryBytes(id))
}

// DeleteByIDs removes every entry of each present id. The result lists the
// ids that were present, in input order; absent ids are omitted.
func (e *Engine) DeleteByIDs(ctx context.Context, ids []string) (model.DeleteResult, error) {
	if e.closed.Load() {
		return model.DeleteResult{}, ErrClosed
	}
	if err := e.rc.AllowMutation(); err != nil {
		return model.DeleteResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	res := model.DeleteResult{IDs: []string{}}
	if len(ids) == 0 {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return model.DeleteResult{}, err
	}

	unlock := e.lockStripes(ids)
	defer unlock()

	if e.closed.Load() {
		return model.DeleteResult{}, ErrClosed
	}

	if e.journal != nil {
		entry := &wal.Entry{Type: wal.OpDelete, IDs: slices.Clone(ids)}
		if err := e.journalEntry(ctx, entry, len(ids)); err != nil {
			return model.DeleteResult{}, err
		}
	}

	present := e.applyDeletes(context.WithoutCancel(ctx), ids)
	for i, id := range ids {
		if present[i] {
			res.IDs = append(res.IDs, id)
			continue
		}
		e.logger.Debug("delete skipped", "id", id, "error", ErrNotFound)
	}
	res.Count = len(res.IDs)
	return res, nil
}

func (e *Engine) applyDeletes(ctx context.Context, ids []string) []bool {
	parts := make(map[int][]int)
	for i, id := range ids {
		s := e.stripe(id)
		parts[s] = append(parts[s], i)
	}

	present := make([]bool, len(ids))
	var g errgroup.Group
	for _, positions := range parts {
		g.Go(func() error {
			for _, i := range positions {
				present[i] = e.applyDelete(ctx, ids[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return present
}

// GetByIDs returns the latest record of each present id in input order.
func (e *Engine) GetByIDs(_ context.Context, ids []string) ([]model.VectorRecord, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.store.GetMany(ids), nil
}

func newMutationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
