package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/internal/hnsw"
	"github.com/hupe1980/vectorize/internal/store"
	"github.com/hupe1980/vectorize/metadata"
	"github.com/hupe1980/vectorize/model"
)

// QueryPlan names the candidate strategy of a query.
type QueryPlan int

const (
	// PlanGraph searches the graph without a filter.
	PlanGraph QueryPlan = iota
	// PlanFilteredGraph searches the graph with an allow predicate and a wider beam.
	PlanFilteredGraph
	// PlanBruteForce scores a small pre-filtered handle set directly.
	PlanBruteForce
)

func (p QueryPlan) String() string {
	switch p {
	case PlanGraph:
		return "graph"
	case PlanFilteredGraph:
		return "filtered_graph"
	case PlanBruteForce:
		return "brute_force"
	default:
		return fmt.Sprintf("QueryPlan(%d)", int(p))
	}
}

// scanCtxInterval is how many handles are scored between context checks.
const scanCtxInterval = 256

type scored struct {
	entry *store.Entry
	score float64
}

// Query returns the TopK records most similar to vec.
//
// When ctx expires during candidate retrieval the best matches found so far
// are returned with Partial set.
func (e *Engine) Query(ctx context.Context, vec []float32, opts model.QueryOptions) (model.QueryResult, error) {
	if e.closed.Load() {
		return model.QueryResult{}, ErrClosed
	}

	topK, err := e.resolveTopK(opts.TopK)
	if err != nil {
		return model.QueryResult{}, err
	}
	if len(vec) != e.dim {
		return model.QueryResult{}, &store.ErrDimensionMismatch{Expected: e.dim, Actual: len(vec)}
	}

	filter := opts.Filter
	if filter.IsEmpty() {
		filter = nil
	} else if err := filter.Validate(); err != nil {
		return model.QueryResult{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if err := e.rc.AcquireQuery(ctx); err != nil {
		return model.QueryResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer e.rc.ReleaseQuery()

	q := queryState{
		vec:         vec,
		norm:        distance.Norm(vec),
		topK:        topK,
		filter:      filter,
		withVectors: opts.ReturnVectors,
	}

	var (
		matches []model.Match
		partial bool
	)

	plan := PlanGraph
	var allowed *roaring.Bitmap
	indexed := false
	if filter != nil {
		plan = PlanFilteredGraph
		allowed, indexed = e.meta.Candidates(filter)
		if indexed && allowed.GetCardinality() <= uint64(e.opts.BruteForceThreshold) {
			plan = PlanBruteForce
		}
	}

	switch plan {
	case PlanBruteForce:
		handles := allowed.ToArray()
		e.metrics.OnQueryPlan(plan, len(handles))
		matches, partial = e.rank(ctx, q, handles)
	default:
		var allow func(uint32) bool
		if plan == PlanFilteredGraph {
			if indexed {
				allow = allowed.Contains
			} else {
				allow = func(h uint32) bool {
					ent, ok := e.store.Resolve(h)
					return ok && filter.Matches(ent.Metadata)
				}
			}
		}
		matches, partial, err = e.searchGraph(ctx, q, plan, allow)
		if err != nil {
			return model.QueryResult{}, err
		}
	}

	e.logger.Debug("query executed",
		"plan", plan.String(),
		"top_k", topK,
		"matches", len(matches),
		"partial", partial,
	)
	return model.QueryResult{Matches: matches, Count: len(matches), Partial: partial}, nil
}

type queryState struct {
	vec         []float32
	norm        float64
	topK        int
	filter      *metadata.FilterSet
	withVectors bool
}

func (e *Engine) resolveTopK(k int) (int, error) {
	switch {
	case k < 0:
		return 0, fmt.Errorf("%w: topK must not be negative, got %d", ErrInvalidArgument, k)
	case k == 0:
		return e.opts.DefaultTopK, nil
	case k > e.opts.MaxTopK:
		return e.opts.MaxTopK, nil
	default:
		return k, nil
	}
}

// searchGraph fetches candidates from the graph, widening the fetch while
// duplicate ids or post-filtering leave fewer than TopK matches.
func (e *Engine) searchGraph(ctx context.Context, q queryState, plan QueryPlan, allow func(uint32) bool) ([]model.Match, bool, error) {
	fetch := q.topK
	for {
		opts := hnsw.SearchOptions{Allow: allow}
		if plan == PlanFilteredGraph {
			opts.EFSearch = fetch * e.opts.FilterOverfetch
		}

		res, err := e.graph.Search(ctx, q.vec, fetch, opts)
		if err != nil {
			return nil, false, err
		}
		e.metrics.OnQueryPlan(plan, len(res.Items))

		handles := make([]uint32, len(res.Items))
		for i, it := range res.Items {
			handles[i] = it.ID
		}
		matches, partial := e.rank(ctx, q, handles)
		partial = partial || res.Partial

		size := e.graph.Len()
		if len(matches) >= q.topK || partial || len(res.Items) < fetch || fetch >= size {
			return matches, partial, nil
		}
		fetch = min(fetch*2, size)
	}
}

// rank resolves handles, applies the filter, scores exactly, keeps the best
// entry per id and returns the TopK matches in rank order.
func (e *Engine) rank(ctx context.Context, q queryState, handles []uint32) ([]model.Match, bool) {
	best := make(map[string]scored, len(handles))
	partial := false

	for i, h := range handles {
		if i%scanCtxInterval == 0 && i > 0 && ctx.Err() != nil {
			partial = true
			break
		}
		ent, ok := e.store.Resolve(h)
		if !ok {
			continue
		}
		if q.filter != nil && !q.filter.Matches(ent.Metadata) {
			continue
		}
		s := e.metric.ScoreWithNorms(q.vec, ent.Values, q.norm, ent.Norm)
		if cur, ok := best[ent.ID]; ok && !e.metric.Better(s, cur.score) {
			continue
		}
		best[ent.ID] = scored{entry: ent, score: s}
	}

	ranked := make([]scored, 0, len(best))
	for _, s := range best {
		ranked = append(ranked, s)
	}
	slices.SortFunc(ranked, func(a, b scored) int {
		switch {
		case e.metric.Better(a.score, b.score):
			return -1
		case e.metric.Better(b.score, a.score):
			return 1
		default:
			return cmp.Compare(a.entry.ID, b.entry.ID)
		}
	})
	if len(ranked) > q.topK {
		ranked = ranked[:q.topK]
	}

	matches := make([]model.Match, len(ranked))
	for i, s := range ranked {
		matches[i] = model.Match{VectorID: s.entry.ID, Score: s.score}
		if q.withVectors {
			rec := s.entry.Record()
			matches[i].Vector = &rec
		}
	}
	return matches, partial
}
