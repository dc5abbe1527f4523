package hnsw

import (
	"context"

	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/internal/searcher"
)

// greedyStep walks layer level from curr towards q until no neighbor is closer.
func (h *HNSW) greedyStep(q []float32, qnorm float64, currID uint32, currDist float64, level int) (uint32, float64) {
	changed := true
	for changed {
		changed = false
		curr := h.getNode(currID)
		if curr == nil {
			return currID, currDist
		}
		for _, next := range curr.neighbors(level) {
			nn := h.getNode(next.ID)
			if nn == nil {
				continue
			}
			d := h.distTo(q, qnorm, nn)
			if searcher.Closer(searcher.PriorityQueueItem{Node: next.ID, Distance: d}, searcher.PriorityQueueItem{Node: currID, Distance: currDist}) {
				currID, currDist = next.ID, d
				changed = true
			}
		}
	}
	return currID, currDist
}

// searchLayer runs a bounded beam search on one layer. Results accumulate in
// s.Candidates (max-heap, at most ef items). It reports false if ctx expired
// before the beam converged.
func (h *HNSW) searchLayer(ctx context.Context, s *searcher.Searcher, q []float32, qnorm float64, epID uint32, epDist float64, level int, ef int, allow func(uint32) bool) bool {
	s.Visited.Reset()
	s.ScratchCandidates.Reset()
	s.Candidates.Reset()

	candidates := s.ScratchCandidates
	results := s.Candidates
	visited := s.Visited

	// The entry point is always explored, but only enters results when allowed.
	visited.Visit(epID)
	candidates.PushItem(searcher.PriorityQueueItem{Node: epID, Distance: epDist})
	if allow == nil || allow(epID) {
		results.PushItem(searcher.PriorityQueueItem{Node: epID, Distance: epDist})
	}

	expansions := 0
	for candidates.Len() > 0 {
		if expansions%ctxCheckInterval == 0 && ctx.Err() != nil {
			return false
		}
		expansions++

		curr, _ := candidates.PopItem()

		if results.Len() >= ef {
			worst, _ := results.TopItem()
			if searcher.Closer(worst, curr) {
				break
			}
		}

		node := h.getNode(curr.Node)
		if node == nil {
			continue
		}

		for _, next := range node.neighbors(level) {
			if !visited.Visit(next.ID) {
				continue
			}
			nn := h.getNode(next.ID)
			if nn == nil {
				continue // deleted concurrently
			}

			item := searcher.PriorityQueueItem{Node: next.ID, Distance: h.distTo(q, qnorm, nn)}
			s.OpsPerformed++

			// Avoid pushing obviously-bad candidates once we already have ef results.
			if results.Len() >= ef {
				worst, _ := results.TopItem()
				if !searcher.Closer(item, worst) {
					continue
				}
			}

			candidates.PushItem(item)
			if allow == nil || allow(next.ID) {
				results.PushItemBounded(item, ef)
			}
		}
	}
	return true
}

// Search returns up to k nearest live nodes to q, nearest first (ties by handle).
//
// If ctx expires during traversal the candidates gathered so far are returned
// with Partial set; cancellation is never reported as an error.
func (h *HNSW) Search(ctx context.Context, q []float32, k int, opts SearchOptions) (SearchResults, error) {
	if k <= 0 {
		return SearchResults{}, ErrInvalidK
	}
	if len(q) != h.opts.Dimension {
		return SearchResults{}, &ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(q)}
	}

	ep := h.entry.Load()
	if ep == nil {
		return SearchResults{}, nil
	}
	epNode := h.getNode(ep.id)
	if epNode == nil {
		// Entry point removed between loads; the writer republishes shortly.
		ep = h.entry.Load()
		if ep == nil {
			return SearchResults{}, nil
		}
		if epNode = h.getNode(ep.id); epNode == nil {
			return SearchResults{}, nil
		}
	}

	ef := h.opts.EFSearch
	if opts.EFSearch > 0 {
		ef = opts.EFSearch
	}
	ef = max(ef, k)

	qnorm := distance.Norm(q)

	s := searcher.Get()
	defer searcher.Put(s)

	currID, currDist := ep.id, h.distTo(q, qnorm, epNode)
	partial := false
	for level := min(ep.level, epNode.level); level > 0; level-- {
		if ctx.Err() != nil {
			partial = true
			break
		}
		currID, currDist = h.greedyStep(q, qnorm, currID, currDist, level)
	}

	if partial {
		// Only the descent path is known; report the current node if allowed.
		res := SearchResults{Partial: true}
		if opts.Allow == nil || opts.Allow(currID) {
			res.Items = []SearchResult{{ID: currID, Distance: currDist}}
		}
		return res, nil
	}

	complete := h.searchLayer(ctx, s, q, qnorm, currID, currDist, 0, ef, opts.Allow)

	items := s.Candidates.DrainAscending(s.ScratchResults[:0])
	s.ScratchResults = items
	if len(items) > k {
		items = items[:k]
	}

	out := make([]SearchResult, len(items))
	for i, it := range items {
		out[i] = SearchResult{ID: it.Node, Distance: it.Distance}
	}
	return SearchResults{Items: out, Partial: !complete, Visited: s.OpsPerformed}, nil
}

// BruteSearch scores the given handles exhaustively and returns the k nearest.
// A nil ids slice scans every live node. Unknown or deleted handles are skipped.
func (h *HNSW) BruteSearch(ctx context.Context, q []float32, k int, ids []uint32) (SearchResults, error) {
	if k <= 0 {
		return SearchResults{}, ErrInvalidK
	}
	if len(q) != h.opts.Dimension {
		return SearchResults{}, &ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(q)}
	}

	qnorm := distance.Norm(q)
	pq := searcher.NewPriorityQueue(true)
	partial := false
	scanned := 0

	visit := func(n *node) bool {
		if scanned%ctxCheckInterval == 0 && ctx.Err() != nil {
			partial = true
			return false
		}
		scanned++
		pq.PushItemBounded(searcher.PriorityQueueItem{Node: n.id, Distance: h.distTo(q, qnorm, n)}, k)
		return true
	}

	if ids == nil {
		h.rangeNodes(visit)
	} else {
		for _, id := range ids {
			n := h.getNode(id)
			if n == nil {
				continue
			}
			if !visit(n) {
				break
			}
		}
	}

	items := pq.DrainAscending(nil)
	out := make([]SearchResult, len(items))
	for i, it := range items {
		out[i] = SearchResult{ID: it.Node, Distance: it.Distance}
	}
	return SearchResults{Items: out, Partial: partial, Visited: scanned}, nil
}
