package hnsw

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/testutil"
)

func newTestGraph(t *testing.T, dim int, metric distance.Metric) *HNSW {
	t.Helper()
	seed := int64(42)
	h, err := New(func(o *Options) {
		o.Dimension = dim
		o.M = 16
		o.EF = 200
		o.EFSearch = 100
		o.Metric = metric
		o.RandomSeed = &seed
	})
	require.NoError(t, err)
	return h
}

func fill(t *testing.T, h *HNSW, vecs [][]float32) {
	t.Helper()
	ctx := context.Background()
	for i, v := range vecs {
		require.NoError(t, h.Insert(ctx, uint32(i), v))
	}
}

func toTestutil(items []SearchResult) []testutil.SearchResult {
	out := make([]testutil.SearchResult, len(items))
	for i, it := range items {
		out[i] = testutil.SearchResult{ID: it.ID, Distance: it.Distance}
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("InvalidDimension", func(t *testing.T) {
		_, err := New(func(o *Options) { o.Dimension = 0 })
		var dimErr *ErrInvalidDimension
		require.ErrorAs(t, err, &dimErr)
		assert.Equal(t, 0, dimErr.Dimension)
	})

	t.Run("Defaults", func(t *testing.T) {
		h, err := New(func(o *Options) {
			o.Dimension = 4
			o.M = 1
			o.EF = 0
		})
		require.NoError(t, err)
		st := h.Stats()
		assert.Equal(t, minimumM, st.M)
		assert.Equal(t, minimumM*mmax0Multiplier, st.M0)
		assert.Equal(t, DefaultEF, st.EF)
		assert.Equal(t, distance.MetricCosine, h.Metric())
		assert.Equal(t, 4, h.Dimension())
	})
}

func TestEmptyGraph(t *testing.T) {
	h := newTestGraph(t, 4, distance.MetricCosine)

	res, err := h.Search(context.Background(), []float32{1, 0, 0, 0}, 5, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.False(t, res.Partial)
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, h.Stats().Nodes)
}

func TestInsertErrors(t *testing.T) {
	h := newTestGraph(t, 3, distance.MetricEuclidean)
	ctx := context.Background()

	var dimErr *ErrDimensionMismatch
	err := h.Insert(ctx, 1, []float32{1, 2})
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)

	require.NoError(t, h.Insert(ctx, 1, []float32{1, 2, 3}))

	var existsErr *ErrNodeExists
	require.ErrorAs(t, h.Insert(ctx, 1, []float32{1, 2, 3}), &existsErr)
	assert.Equal(t, uint32(1), existsErr.ID)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, h.Insert(cancelled, 2, []float32{1, 2, 3}), context.Canceled)
	assert.False(t, h.Contains(2))
}

func TestSearchErrors(t *testing.T) {
	h := newTestGraph(t, 3, distance.MetricEuclidean)
	ctx := context.Background()

	_, err := h.Search(ctx, []float32{1, 2, 3}, 0, SearchOptions{})
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = h.Search(ctx, []float32{1}, 1, SearchOptions{})
	var dimErr *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dimErr)

	_, err = h.BruteSearch(ctx, []float32{1, 2, 3}, -1, nil)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestSearchExactOnSmallGraph(t *testing.T) {
	h := newTestGraph(t, 2, distance.MetricEuclidean)
	ctx := context.Background()

	fill(t, h, [][]float32{{0, 0}, {1, 0}, {5, 5}, {0.5, 0}})

	res, err := h.Search(ctx, []float32{0, 0}, 2, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, uint32(0), res.Items[0].ID)
	assert.Equal(t, uint32(3), res.Items[1].ID)
	assert.InDelta(t, 0.0, res.Items[0].Distance, 1e-9)
	assert.InDelta(t, 0.5, res.Items[1].Distance, 1e-9)

	// k larger than the graph returns everything.
	res, err = h.Search(ctx, []float32{0, 0}, 10, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 4)
}

func TestRecall(t *testing.T) {
	tests := []struct {
		name   string
		metric distance.Metric
	}{
		{"Cosine", distance.MetricCosine},
		{"Euclidean", distance.MetricEuclidean},
		{"DotProduct", distance.MetricDotProduct},
	}

	const (
		n       = 1000
		dim     = 16
		k       = 10
		queries = 50
	)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := testutil.NewRNG(7)
			data := rng.UnitVectors(n, dim)

			h := newTestGraph(t, dim, tt.metric)
			fill(t, h, data)
			require.Equal(t, n, h.Len())

			var total float64
			for _, q := range rng.UnitVectors(queries, dim) {
				res, err := h.Search(context.Background(), q, k, SearchOptions{})
				require.NoError(t, err)
				require.False(t, res.Partial)
				require.Len(t, res.Items, k)

				truth := testutil.ExactTopK(q, data, k, tt.metric)
				total += testutil.ComputeRecall(truth, toTestutil(res.Items))
			}
			assert.GreaterOrEqual(t, total/queries, 0.9)
		})
	}
}

func TestBruteSearch(t *testing.T) {
	rng := testutil.NewRNG(3)
	data := rng.UnitVectors(200, 8)
	h := newTestGraph(t, 8, distance.MetricCosine)
	fill(t, h, data)
	q := rng.UnitVector(8)

	t.Run("All", func(t *testing.T) {
		res, err := h.BruteSearch(context.Background(), q, 5, nil)
		require.NoError(t, err)
		truth := testutil.ExactTopK(q, data, 5, distance.MetricCosine)
		assert.Equal(t, 1.0, testutil.ComputeRecall(truth, toTestutil(res.Items)))
		assert.Equal(t, 200, res.Visited)
	})

	t.Run("Subset", func(t *testing.T) {
		res, err := h.BruteSearch(context.Background(), q, 5, []uint32{1, 2, 999})
		require.NoError(t, err)
		require.Len(t, res.Items, 2)
		for _, it := range res.Items {
			assert.Contains(t, []uint32{1, 2}, it.ID)
		}
	})

	t.Run("Ordered", func(t *testing.T) {
		res, err := h.BruteSearch(context.Background(), q, 20, nil)
		require.NoError(t, err)
		for i := 1; i < len(res.Items); i++ {
			assert.LessOrEqual(t, res.Items[i-1].Distance, res.Items[i].Distance)
		}
	})
}

func TestSearchAllow(t *testing.T) {
	rng := testutil.NewRNG(11)
	data := rng.UnitVectors(500, 16)
	h := newTestGraph(t, 16, distance.MetricCosine)
	fill(t, h, data)

	even := func(id uint32) bool { return id%2 == 0 }

	res, err := h.Search(context.Background(), rng.UnitVector(16), 10, SearchOptions{Allow: even, EFSearch: 200})
	require.NoError(t, err)
	require.Len(t, res.Items, 10)
	for _, it := range res.Items {
		assert.True(t, even(it.ID), "id %d not allowed", it.ID)
	}

	none := func(uint32) bool { return false }
	res, err = h.Search(context.Background(), rng.UnitVector(16), 10, SearchOptions{Allow: none})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestDeterministic(t *testing.T) {
	rng := testutil.NewRNG(5)
	data := rng.UnitVectors(300, 8)
	q := rng.UnitVector(8)

	h1 := newTestGraph(t, 8, distance.MetricCosine)
	h2 := newTestGraph(t, 8, distance.MetricCosine)
	fill(t, h1, data)
	fill(t, h2, data)

	r1, err := h1.Search(context.Background(), q, 10, SearchOptions{})
	require.NoError(t, err)
	r2, err := h2.Search(context.Background(), q, 10, SearchOptions{})
	require.NoError(t, err)

	assert.Equal(t, r1.Items, r2.Items)
	assert.Equal(t, h1.Stats(), h2.Stats())
}

func TestTieBreakByHandle(t *testing.T) {
	h := newTestGraph(t, 2, distance.MetricEuclidean)
	ctx := context.Background()

	for _, id := range []uint32{7, 3, 5} {
		require.NoError(t, h.Insert(ctx, id, []float32{1, 1}))
	}

	res, err := h.Search(ctx, []float32{1, 1}, 3, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, []uint32{3, 5, 7}, []uint32{res.Items[0].ID, res.Items[1].ID, res.Items[2].ID})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("NotFound", func(t *testing.T) {
		h := newTestGraph(t, 2, distance.MetricEuclidean)
		var nf *ErrNodeNotFound
		require.ErrorAs(t, h.Delete(ctx, 9), &nf)
		assert.Equal(t, uint32(9), nf.ID)
	})

	t.Run("RemovedFromResults", func(t *testing.T) {
		h := newTestGraph(t, 2, distance.MetricEuclidean)
		fill(t, h, [][]float32{{0, 0}, {1, 0}, {2, 0}})

		require.NoError(t, h.Delete(ctx, 0))
		assert.False(t, h.Contains(0))
		assert.Equal(t, 2, h.Len())

		res, err := h.Search(ctx, []float32{0, 0}, 3, SearchOptions{})
		require.NoError(t, err)
		require.Len(t, res.Items, 2)
		assert.Equal(t, uint32(1), res.Items[0].ID)
	})

	t.Run("EntryPoint", func(t *testing.T) {
		rng := testutil.NewRNG(9)
		h := newTestGraph(t, 8, distance.MetricCosine)
		fill(t, h, rng.UnitVectors(200, 8))

		old := h.Stats().EntryPoint
		require.NoError(t, h.Delete(ctx, old))

		st := h.Stats()
		assert.NotEqual(t, old, st.EntryPoint)
		assert.True(t, h.Contains(st.EntryPoint))
		assert.Equal(t, 199, st.Nodes)

		res, err := h.Search(ctx, rng.UnitVector(8), 5, SearchOptions{})
		require.NoError(t, err)
		assert.Len(t, res.Items, 5)
	})

	t.Run("All", func(t *testing.T) {
		rng := testutil.NewRNG(13)
		h := newTestGraph(t, 4, distance.MetricCosine)
		fill(t, h, rng.UnitVectors(50, 4))

		for i := range 50 {
			require.NoError(t, h.Delete(ctx, uint32(i)))
		}
		assert.Equal(t, 0, h.Len())

		res, err := h.Search(ctx, rng.UnitVector(4), 5, SearchOptions{})
		require.NoError(t, err)
		assert.Empty(t, res.Items)

		// The graph is usable again after being emptied.
		require.NoError(t, h.Insert(ctx, 100, rng.UnitVector(4)))
		res, err = h.Search(ctx, rng.UnitVector(4), 5, SearchOptions{})
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		assert.Equal(t, uint32(100), res.Items[0].ID)
	})

	t.Run("RepairKeepsRecall", func(t *testing.T) {
		const (
			n   = 1000
			dim = 16
			k   = 10
		)
		rng := testutil.NewRNG(21)
		data := rng.UnitVectors(n, dim)
		h := newTestGraph(t, dim, distance.MetricCosine)
		fill(t, h, data)

		// Delete every third node.
		live := make([][]float32, 0, n)
		liveIDs := make([]uint32, 0, n)
		for i := range n {
			if i%3 == 0 {
				require.NoError(t, h.Delete(ctx, uint32(i)))
				continue
			}
			live = append(live, data[i])
			liveIDs = append(liveIDs, uint32(i))
		}
		require.Equal(t, len(live), h.Len())
		assert.GreaterOrEqual(t, float64(h.reachable()), 0.95*float64(h.Len()))

		var total float64
		const queries = 30
		for _, q := range rng.UnitVectors(queries, dim) {
			res, err := h.Search(ctx, q, k, SearchOptions{})
			require.NoError(t, err)
			for _, it := range res.Items {
				require.NotZero(t, it.ID%3, "deleted node %d returned", it.ID)
			}

			truth := testutil.ExactTopK(q, live, k, distance.MetricCosine)
			for i := range truth {
				truth[i].ID = liveIDs[truth[i].ID]
			}
			total += testutil.ComputeRecall(truth, toTestutil(res.Items))
		}
		assert.GreaterOrEqual(t, total/queries, 0.85)
	})
}

func TestSearchCancelled(t *testing.T) {
	rng := testutil.NewRNG(17)
	h := newTestGraph(t, 8, distance.MetricCosine)
	fill(t, h, rng.UnitVectors(300, 8))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.Search(ctx, rng.UnitVector(8), 10, SearchOptions{})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.LessOrEqual(t, len(res.Items), 1)

	res, err = h.BruteSearch(ctx, rng.UnitVector(8), 10, nil)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Empty(t, res.Items)
}

func TestConcurrentSearchDuringInsert(t *testing.T) {
	rng := testutil.NewRNG(23)
	data := rng.UnitVectors(2000, 8)
	queries := rng.UnitVectors(16, 8)

	h := newTestGraph(t, 8, distance.MetricCosine)
	fill(t, h, data[:100])

	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		errs    []error
		stopped = make(chan struct{})
	)

	for _, q := range queries {
		wg.Add(1)
		go func(q []float32) {
			defer wg.Done()
			for {
				select {
				case <-stopped:
					return
				default:
				}
				res, err := h.Search(ctx, q, 5, SearchOptions{})
				if err == nil && len(res.Items) == 0 {
					err = errors.New("empty result on non-empty graph")
				}
				if err != nil {
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
					return
				}
			}
		}(q)
	}

	for i := 100; i < len(data); i++ {
		require.NoError(t, h.Insert(ctx, uint32(i), data[i]))
		if i%10 == 0 {
			require.NoError(t, h.Delete(ctx, uint32(i-50)))
		}
	}
	close(stopped)
	wg.Wait()

	assert.Empty(t, errs)
}

func TestStats(t *testing.T) {
	rng := testutil.NewRNG(1)
	h := newTestGraph(t, 8, distance.MetricCosine)
	fill(t, h, rng.UnitVectors(500, 8))

	st := h.Stats()
	assert.Equal(t, 500, st.Nodes)
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, 16, st.M)
	assert.Equal(t, 32, st.M0)
	require.Len(t, st.Levels, st.MaxLevel+1)
	assert.Equal(t, 500, st.Levels[0].Nodes)
	assert.LessOrEqual(t, st.Levels[0].AvgConnections, 32)
	assert.Greater(t, st.Levels[0].AvgConnections, 0)
	for i := 1; i < len(st.Levels); i++ {
		assert.LessOrEqual(t, st.Levels[i].Nodes, st.Levels[i-1].Nodes)
	}
	assert.Equal(t, 500, h.reachable())
}
