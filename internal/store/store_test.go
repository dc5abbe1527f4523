package store

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectorize/metadata"
	"github.com/hupe1980/vectorize/model"
)

func rec(id string, vals ...float32) model.VectorRecord {
	return model.VectorRecord{ID: id, Values: vals}
}

func TestAppend(t *testing.T) {
	s := New(2)

	e1, err := s.Append(rec("a", 1, 0))
	require.NoError(t, err)
	e2, err := s.Append(rec("a", 0, 1))
	require.NoError(t, err)

	assert.NotEqual(t, e1.Handle, e2.Handle)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.IDCount())

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{0, 1}, got.Values, "latest physical entry wins")
	assert.InDelta(t, 1.0, e1.Norm, 1e-12)
}

func TestDimensionMismatch(t *testing.T) {
	s := New(3)

	_, err := s.Append(rec("a", 1, 2))
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)

	_, _, err = s.Replace(rec("a", 1, 2, 3, 4))
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 0, s.Len())
}

func TestReplace(t *testing.T) {
	s := New(1)
	a1, _ := s.Append(rec("a", 1))
	a2, _ := s.Append(rec("a", 2))
	_, _ = s.Append(rec("b", 3))

	e, removed, err := s.Replace(rec("a", 4))
	require.NoError(t, err)
	assert.ElementsMatch(t, []Handle{a1.Handle, a2.Handle}, removed)
	assert.Equal(t, 2, s.Len())

	_, ok := s.Resolve(a1.Handle)
	assert.False(t, ok)

	live, ok := s.Resolve(e.Handle)
	require.True(t, ok)
	assert.Equal(t, []float32{4}, live.Values)

	_, removed, err = s.Replace(rec("c", 5))
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestDelete(t *testing.T) {
	s := New(1)
	_, _ = s.Append(rec("a", 1))
	_, _ = s.Append(rec("a", 2))

	removed, ok := s.Delete("a")
	assert.True(t, ok)
	assert.Len(t, removed, 2)
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Contains("a"))

	_, ok = s.Delete("a")
	assert.False(t, ok)
}

func TestEntries(t *testing.T) {
	s := New(1)
	e1, _ := s.Append(rec("a", 1))
	e2, _ := s.Append(rec("a", 2))
	_, _ = s.Append(rec("b", 3))

	got := s.Entries("a")
	require.Len(t, got, 2)
	assert.Equal(t, e1.Handle, got[0].Handle)
	assert.Equal(t, e2.Handle, got[1].Handle)
	assert.Empty(t, s.Entries("missing"))
}

func TestHandlesNeverReused(t *testing.T) {
	s := New(1)
	e1, _ := s.Append(rec("a", 1))
	s.Delete("a")
	e2, _ := s.Append(rec("a", 1))
	assert.Greater(t, e2.Handle, e1.Handle)
}

func TestGetMany(t *testing.T) {
	s := New(1)
	_, _ = s.Append(rec("a", 1))
	_, _ = s.Append(rec("b", 2))

	got := s.GetMany([]string{"b", "missing", "a", "b"})
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, "b", got[2].ID)

	assert.Empty(t, s.GetMany(nil))
}

func TestCopySemantics(t *testing.T) {
	s := New(2)
	in := model.VectorRecord{ID: "a", Values: []float32{1, 2}, Metadata: metadata.Document{"k": metadata.String("v")}}
	_, err := s.Append(in)
	require.NoError(t, err)

	in.Values[0] = 99
	in.Metadata["k"] = metadata.String("changed")

	out, _ := s.Get("a")
	assert.Equal(t, float32(1), out.Values[0])
	assert.Equal(t, "v", out.Metadata["k"].StringValue())

	out.Values[1] = 42
	again, _ := s.Get("a")
	assert.Equal(t, float32(2), again.Values[1])
}

func TestRange(t *testing.T) {
	s := New(1)
	for _, id := range []string{"a", "b", "c", "d"} {
		_, _ = s.Append(rec(id, 1))
	}
	s.Delete("b")

	var ids []string
	s.Range(func(e *Entry) bool {
		ids = append(ids, e.ID)
		return true
	})
	assert.Equal(t, []string{"a", "c", "d"}, ids)

	count := 0
	s.Range(func(*Entry) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}

func TestConcurrentAccess(t *testing.T) {
	s := New(1)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = s.Append(rec(string(rune('a'+w)), float32(i)))
				_, _ = s.Get(string(rune('a' + w)))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 400, s.Len())
	assert.Equal(t, 4, s.IDCount())
}

func TestHandlesExhausted(t *testing.T) {
	s := New(1)
	s.next = math.MaxUint32 - 1

	e, err := s.Append(rec("a", 1))
	require.NoError(t, err)
	assert.Equal(t, Handle(math.MaxUint32-1), e.Handle)

	_, err = s.Append(rec("b", 2))
	assert.ErrorIs(t, err, ErrHandlesExhausted)

	_, _, err = s.Replace(rec("a", 3))
	assert.ErrorIs(t, err, ErrHandlesExhausted)

	// A failed replace leaves the existing entry in place.
	got := s.Entries("a")
	require.Len(t, got, 1)
	assert.Equal(t, []float32{1}, got[0].Values)
	assert.Equal(t, 1, s.Len())
}
