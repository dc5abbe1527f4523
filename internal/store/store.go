// Package store implements the authoritative record store: the mapping from
// caller ids to physical entries addressed by integer handles.
//
// An id may own several physical entries after repeated inserts. Upsert and
// delete always collapse the id to at most one entry.
//
// Every write consumes a fresh handle, so a store accepts at most
// math.MaxUint32 writes over its lifetime and then returns
// ErrHandlesExhausted. Recovery rebuilds the store from live records only,
// which starts numbering again from zero.
package store

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/metadata"
	"github.com/hupe1980/vectorize/model"
)

// Handle addresses a physical entry. Handles are allocated monotonically and never reused.
type Handle = uint32

// ErrHandlesExhausted is returned once every handle has been allocated.
var ErrHandlesExhausted = errors.New("store handles exhausted")

// ErrDimensionMismatch is returned when a record's length differs from the store dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Entry is an immutable physical entry. Callers must not modify its slices.
type Entry struct {
	Handle   Handle
	ID       string
	Values   []float32
	Metadata metadata.Document
	Norm     float64
}

// Record returns a deep copy of the entry as a VectorRecord.
func (e *Entry) Record() model.VectorRecord {
	return model.VectorRecord{ID: e.ID, Values: e.Values, Metadata: e.Metadata}.Clone()
}

// Store holds physical entries keyed by handle and indexed by id.
//
// Store is safe for concurrent use. Concurrent writers to the same id must be
// serialised by the caller.
type Store struct {
	dim int

	mu      sync.RWMutex
	entries map[Handle]*Entry
	byID    map[string][]Handle // write order, latest last
	next    Handle
}

// New creates an empty store for vectors of length dim.
func New(dim int) *Store {
	return &Store{
		dim:     dim,
		entries: make(map[Handle]*Entry),
		byID:    make(map[string][]Handle),
	}
}

// Dimension returns the configured vector length.
func (s *Store) Dimension() int { return s.dim }

// Validate checks a record's shape without storing it.
func (s *Store) Validate(rec model.VectorRecord) error {
	if len(rec.Values) != s.dim {
		return &ErrDimensionMismatch{Expected: s.dim, Actual: len(rec.Values)}
	}
	return nil
}

// newEntry allocates the next handle. Callers must check reserveLocked first.
func (s *Store) newEntry(rec model.VectorRecord) *Entry {
	c := rec.Clone()
	e := &Entry{
		Handle:   s.next,
		ID:       c.ID,
		Values:   c.Values,
		Metadata: c.Metadata,
		Norm:     distance.Norm(c.Values),
	}
	s.next++
	return e
}

func (s *Store) reserveLocked() error {
	if s.next == math.MaxUint32 {
		return ErrHandlesExhausted
	}
	return nil
}

// Append writes rec as a new physical entry without checking for an existing id.
func (s *Store) Append(rec model.VectorRecord) (*Entry, error) {
	if err := s.Validate(rec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reserveLocked(); err != nil {
		return nil, err
	}
	e := s.newEntry(rec)
	s.entries[e.Handle] = e
	s.byID[e.ID] = append(s.byID[e.ID], e.Handle)
	return e, nil
}

// Replace removes every physical entry of rec.ID and writes rec as its only entry.
// It returns the new entry and the handles that were removed.
func (s *Store) Replace(rec model.VectorRecord) (*Entry, []Handle, error) {
	if err := s.Validate(rec); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reserveLocked(); err != nil {
		return nil, nil, err
	}
	removed := s.removeLocked(rec.ID)
	e := s.newEntry(rec)
	s.entries[e.Handle] = e
	s.byID[e.ID] = []Handle{e.Handle}
	return e, removed, nil
}

// Delete removes every physical entry of id. It reports whether the id was present.
func (s *Store) Delete(id string) ([]Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.removeLocked(id)
	return removed, len(removed) > 0
}

func (s *Store) removeLocked(id string) []Handle {
	handles, ok := s.byID[id]
	if !ok {
		return nil
	}
	for _, h := range handles {
		delete(s.entries, h)
	}
	delete(s.byID, id)
	return handles
}

// Get returns a copy of the most recently written entry of id.
func (s *Store) Get(id string) (model.VectorRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.latestLocked(id)
	if !ok {
		return model.VectorRecord{}, false
	}
	return e.Record(), true
}

func (s *Store) latestLocked(id string) (*Entry, bool) {
	handles := s.byID[id]
	if len(handles) == 0 {
		return nil, false
	}
	return s.entries[handles[len(handles)-1]], true
}

// GetMany returns copies of the latest entries of ids in input order.
// Absent ids are omitted; duplicated ids yield duplicated records.
func (s *Store) GetMany(ids []string) []model.VectorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.VectorRecord, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.latestLocked(id); ok {
			out = append(out, e.Record())
		}
	}
	return out
}

// Entries returns the live physical entries of id in write order.
// The entries are shared and must not be modified.
func (s *Store) Entries(id string) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handles := s.byID[id]
	out := make([]*Entry, 0, len(handles))
	for _, h := range handles {
		out = append(out, s.entries[h])
	}
	return out
}

// Contains reports whether id has at least one entry.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID[id]) > 0
}

// Resolve returns the live entry behind a handle. The entry is shared and must not be modified.
func (s *Store) Resolve(h Handle) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[h]
	return e, ok
}

// Len returns the number of physical entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// IDCount returns the number of distinct ids.
func (s *Store) IDCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Range calls fn for every live entry in ascending handle order until fn returns false.
// It works on a point-in-time view; entries written during the walk are not visited.
func (s *Store) Range(fn func(e *Entry) bool) {
	s.mu.RLock()
	view := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		view = append(view, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(view, func(a, b *Entry) int { return cmp.Compare(a.Handle, b.Handle) })

	for _, e := range view {
		if !fn(e) {
			return
		}
	}
}
