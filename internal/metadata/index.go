// Package imetadata provides the roaring-bitmap inverted index used to
// pre-filter similarity queries by metadata.
package imetadata

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vectorize/metadata"
)

// Index maps field -> value key -> bitmap of handles.
//
// Only equality-style operators (eq, in) are answered from the index. Every
// other operator is left to post-filtering against the stored document.
type Index struct {
	mu       sync.RWMutex
	inverted map[string]map[string]*roaring.Bitmap
	docs     int
}

// New creates an empty inverted index.
func New() *Index {
	return &Index{
		inverted: make(map[string]map[string]*roaring.Bitmap),
	}
}

// Add indexes doc under handle h.
func (ix *Index) Add(h uint32, doc metadata.Document) {
	if len(doc) == 0 {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for key, value := range doc {
		valueMap, ok := ix.inverted[key]
		if !ok {
			valueMap = make(map[string]*roaring.Bitmap)
			ix.inverted[key] = valueMap
		}

		vk := value.Key()
		bm, ok := valueMap[vk]
		if !ok {
			bm = roaring.New()
			valueMap[vk] = bm
		}
		bm.Add(h)
	}
	ix.docs++
}

// Remove drops handle h, which was indexed with doc.
func (ix *Index) Remove(h uint32, doc metadata.Document) {
	if len(doc) == 0 {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for key, value := range doc {
		valueMap, ok := ix.inverted[key]
		if !ok {
			continue
		}
		vk := value.Key()
		bm, ok := valueMap[vk]
		if !ok {
			continue
		}
		bm.Remove(h)
		if bm.IsEmpty() {
			delete(valueMap, vk)
		}
		if len(valueMap) == 0 {
			delete(ix.inverted, key)
		}
	}
	ix.docs--
}

// Candidates returns the handles that can satisfy the eq/in clauses of fs.
//
// The boolean is false when fs has no indexable clause; the bitmap is then nil
// and every handle remains a candidate. The returned bitmap is owned by the caller.
func (ix *Index) Candidates(fs *metadata.FilterSet) (*roaring.Bitmap, bool) {
	if fs.IsEmpty() {
		return nil, false
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var result *roaring.Bitmap
	for _, f := range fs.Filters {
		var bm *roaring.Bitmap
		switch f.Operator {
		case metadata.OpEqual:
			bm = ix.lookupLocked(f.Key, f.Value)
		case metadata.OpIn:
			bm = ix.lookupInLocked(f.Key, f.Value)
		default:
			continue
		}

		if result == nil {
			result = bm
		} else {
			result.And(bm)
		}
		if result.IsEmpty() {
			return result, true
		}
	}

	if result == nil {
		return nil, false
	}
	return result, true
}

func (ix *Index) lookupLocked(key string, v metadata.Value) *roaring.Bitmap {
	if bm, ok := ix.inverted[key][v.Key()]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

func (ix *Index) lookupInLocked(key string, v metadata.Value) *roaring.Bitmap {
	items, ok := v.AsArray()
	if !ok {
		return roaring.New()
	}
	bms := make([]*roaring.Bitmap, 0, len(items))
	for _, item := range items {
		if bm, ok := ix.inverted[key][item.Key()]; ok {
			bms = append(bms, bm)
		}
	}
	switch len(bms) {
	case 0:
		return roaring.New()
	case 1:
		return bms[0].Clone()
	default:
		return roaring.FastOr(bms...)
	}
}

// Stats describes the index footprint.
type Stats struct {
	Documents    int
	Fields       int
	PostingLists int
	SizeInBytes  uint64
}

// Stats returns the current index footprint.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	st := Stats{Documents: ix.docs, Fields: len(ix.inverted)}
	for _, valueMap := range ix.inverted {
		st.PostingLists += len(valueMap)
		for _, bm := range valueMap {
			st.SizeInBytes += bm.GetSizeInBytes()
		}
	}
	return st
}
