package hnsw

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/internal/searcher"
)

const (
	// mmax0Multiplier is the multiplier for calculating maximum connections at layer 0.
	mmax0Multiplier = 2

	// minimumM is the minimum valid value for M.
	minimumM = 2

	// maxLevelCap bounds generated levels.
	maxLevelCap = 16

	// DefaultM is the default number of bidirectional links.
	DefaultM = 16

	// DefaultEF is the default size of the dynamic candidate list during construction.
	DefaultEF = 200

	// DefaultEFSearch is the default beam width of a search.
	DefaultEFSearch = 64

	// ctxCheckInterval is how many expansions run between context checks.
	ctxCheckInterval = 32
)

// Options represents the options for configuring HNSW.
type Options struct {
	Dimension  int
	M          int
	EF         int
	EFSearch   int
	Heuristic  bool
	Metric     distance.Metric
	RandomSeed *int64
}

// DefaultOptions contains the default options for HNSW.
var DefaultOptions = Options{
	M:         DefaultM,
	EF:        DefaultEF,
	EFSearch:  DefaultEFSearch,
	Heuristic: true,
	Metric:    distance.MetricCosine,
}

// entryPoint is published atomically so readers always see a consistent
// (handle, level) pair.
type entryPoint struct {
	id    uint32
	level int
}

// HNSW represents the Hierarchical Navigable Small World graph.
//
// Insert and Delete are serialised by a single writer mutex. Search is lock-free.
type HNSW struct {
	opts Options

	maxConnectionsPerLayer int
	maxConnectionsLayer0   int
	layerMultiplier        float64

	mu  sync.Mutex // serialises structural mutation
	rng *rand.Rand // guarded by mu

	segments atomic.Pointer[[]*NodeSegment]
	entry    atomic.Pointer[entryPoint]
	count    atomic.Int64
}

// New creates a new HNSW instance.
func New(optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: opts.Dimension}
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EF <= 0 {
		opts.EF = DefaultEF
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultEFSearch
	}

	seed := time.Now().UnixNano()
	if opts.RandomSeed != nil {
		seed = *opts.RandomSeed
	}

	return &HNSW{
		opts:                   opts,
		maxConnectionsPerLayer: opts.M,
		maxConnectionsLayer0:   opts.M * mmax0Multiplier,
		layerMultiplier:        1 / math.Log(float64(opts.M)),
		rng:                    rand.New(rand.NewSource(seed)),
	}, nil
}

// Dimension returns the dimensionality of the vectors in the index.
func (h *HNSW) Dimension() int { return h.opts.Dimension }

// Metric returns the distance metric of the index.
func (h *HNSW) Metric() distance.Metric { return h.opts.Metric }

// Len returns the number of live nodes.
func (h *HNSW) Len() int { return int(h.count.Load()) }

// Contains reports whether id is a live node.
func (h *HNSW) Contains(id uint32) bool { return h.getNode(id) != nil }

func (h *HNSW) maxConns(level int) int {
	if level == 0 {
		return h.maxConnectionsLayer0
	}
	return h.maxConnectionsPerLayer
}

// randomLevel draws an exponentially distributed level. Caller must hold h.mu.
func (h *HNSW) randomLevel() int {
	u := 1 - h.rng.Float64() // (0, 1]
	level := int(math.Floor(-math.Log(u) * h.layerMultiplier))
	return min(level, maxLevelCap)
}

// distTo returns the lower-is-better distance between a vector and a node.
func (h *HNSW) distTo(q []float32, qnorm float64, n *node) float64 {
	m := h.opts.Metric
	return m.Distance(m.ScoreWithNorms(q, n.vec, qnorm, n.norm))
}

func (h *HNSW) nodeDist(a, b *node) float64 {
	return h.distTo(a.vec, a.norm, b)
}

// Insert adds a node with the given handle. The vector is retained and must not be modified.
func (h *HNSW) Insert(ctx context.Context, id uint32, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vec) != h.opts.Dimension {
		return &ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(vec)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.getNode(id) != nil {
		return &ErrNodeExists{ID: id}
	}

	level := h.randomLevel()
	n := newNode(id, vec, distance.Norm(vec), level)
	h.setNode(id, n)
	h.count.Add(1)

	ep := h.entry.Load()
	if ep == nil {
		h.entry.Store(&entryPoint{id: id, level: level})
		return nil
	}

	h.insertNode(n, ep)

	if level > ep.level {
		h.entry.Store(&entryPoint{id: id, level: level})
	}
	return nil
}

// insertNode performs the graph traversal and linking. Caller must hold h.mu.
func (h *HNSW) insertNode(n *node, ep *entryPoint) {
	epNode := h.getNode(ep.id)
	if epNode == nil {
		return
	}

	currID := ep.id
	currDist := h.distTo(n.vec, n.norm, epNode)

	// 1. Greedy search from top to node.level + 1
	for level := ep.level; level > n.level; level-- {
		currID, currDist = h.greedyStep(n.vec, n.norm, currID, currDist, level)
	}

	s := searcher.Get()
	defer searcher.Put(s)

	// 2. Search and link from node.level down to 0
	for level := min(n.level, ep.level); level >= 0; level-- {
		h.searchLayer(context.Background(), s, n.vec, n.norm, currID, currDist, level, h.opts.EF, nil)

		candidates := s.Candidates.DrainAscending(s.ScratchResults[:0])
		s.ScratchResults = candidates

		// Exclude self and pick the entry point for the next level.
		filtered := candidates[:0]
		for _, c := range candidates {
			if c.Node != n.id {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) == 0 {
			continue
		}
		currID, currDist = filtered[0].Node, filtered[0].Distance

		neighbors := h.selectNeighbors(filtered, h.maxConns(level))
		h.setLinks(n, level, neighbors)

		for _, nb := range neighbors {
			h.addConnection(nb.ID, n, level, nb.Dist)
		}
	}
}

// addConnection links source -> target on level, pruning source's list when full.
// Caller must hold h.mu.
func (h *HNSW) addConnection(sourceID uint32, target *node, level int, dist float64) {
	src := h.getNode(sourceID)
	if src == nil || level > src.level {
		return
	}

	conns := src.neighbors(level)
	if src.hasLink(level, target.id) {
		return
	}

	next := make([]Neighbor, 0, len(conns)+1)
	next = append(next, conns...)
	next = append(next, Neighbor{ID: target.id, Dist: dist})

	maxM := h.maxConns(level)
	if len(next) > maxM {
		sortNeighbors(next)
		next = h.selectNeighbors(toItems(next), maxM)
	}
	h.setLinks(src, level, next)
}

// selectNeighbors picks up to m neighbors from candidates sorted nearest first.
func (h *HNSW) selectNeighbors(candidates []searcher.PriorityQueueItem, m int) []Neighbor {
	if !h.opts.Heuristic || len(candidates) <= m {
		n := min(m, len(candidates))
		out := make([]Neighbor, n)
		for i := 0; i < n; i++ {
			out[i] = Neighbor{ID: candidates[i].Node, Dist: candidates[i].Distance}
		}
		return out
	}

	result := h.applyHeuristic(candidates, m)
	if len(result) < m {
		result = fillUpNeighbors(result, candidates, m)
	}
	return result
}

// applyHeuristic keeps a candidate only if it is closer to the base node than
// to every already selected neighbor (relative neighborhood graph property).
func (h *HNSW) applyHeuristic(candidates []searcher.PriorityQueueItem, m int) []Neighbor {
	result := make([]Neighbor, 0, m)
	selected := make([]*node, 0, m)

	for _, cand := range candidates {
		if len(result) >= m {
			break
		}
		cn := h.getNode(cand.Node)
		if cn == nil {
			continue
		}

		good := true
		for _, sel := range selected {
			if h.nodeDist(cn, sel) < cand.Distance {
				good = false
				break
			}
		}

		if good {
			result = append(result, Neighbor{ID: cand.Node, Dist: cand.Distance})
			selected = append(selected, cn)
		}
	}
	return result
}

func fillUpNeighbors(result []Neighbor, candidates []searcher.PriorityQueueItem, m int) []Neighbor {
	for _, cand := range candidates {
		if len(result) >= m {
			break
		}
		found := false
		for _, r := range result {
			if r.ID == cand.Node {
				found = true
				break
			}
		}
		if !found {
			result = append(result, Neighbor{ID: cand.Node, Dist: cand.Distance})
		}
	}
	return result
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		return searcher.Closer(
			searcher.PriorityQueueItem{Node: ns[i].ID, Distance: ns[i].Dist},
			searcher.PriorityQueueItem{Node: ns[j].ID, Distance: ns[j].Dist},
		)
	})
}

func toItems(ns []Neighbor) []searcher.PriorityQueueItem {
	out := make([]searcher.PriorityQueueItem, len(ns))
	for i, nb := range ns {
		out[i] = searcher.PriorityQueueItem{Node: nb.ID, Distance: nb.Dist}
	}
	return out
}
