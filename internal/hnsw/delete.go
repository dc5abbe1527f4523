package hnsw

import (
	"context"
	"slices"

	"github.com/hupe1980/vectorize/internal/searcher"
)

// Delete removes a node and repairs the graph around it.
//
// Every node that linked to the deleted node is reconnected to the best
// candidates drawn from its remaining neighbors and the deleted node's
// neighbors. The entry point is re-elected when it is the deleted node.
func (h *HNSW) Delete(ctx context.Context, id uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.getNode(id)
	if n == nil {
		return &ErrNodeNotFound{ID: id}
	}

	// Move the entry point away before unpublishing so readers never load a
	// dead entry point.
	if ep := h.entry.Load(); ep != nil && ep.id == id {
		h.entry.Store(h.electEntryPoint(n))
	}

	segs := h.segments.Load()
	(*segs)[id>>nodeSegmentBits][id&nodeSegmentMask].Store(nil)
	h.count.Add(-1)

	for level := n.level; level >= 0; level-- {
		h.repairLayer(n, level)
	}
	return nil
}

// repairLayer reconnects the in-neighbors of the deleted node n on level.
// Caller must hold h.mu.
func (h *HNSW) repairLayer(n *node, level int) {
	outs := n.neighbors(level)

	// Drop n from the inbound sets of its out-neighbors.
	for _, nb := range outs {
		if t := h.getNode(nb.ID); t != nil && level <= t.level {
			delete(t.inbound[level], n.id)
		}
	}

	ins := make([]uint32, 0, len(n.inbound[level]))
	for src := range n.inbound[level] {
		ins = append(ins, src)
	}
	slices.Sort(ins)

	for _, srcID := range ins {
		src := h.getNode(srcID)
		if src == nil || level > src.level {
			continue
		}
		h.relink(src, n, outs, level)
	}

	// Out-neighbors left without any in-edge are attached to the closest
	// surviving node of the neighborhood so they stay reachable.
	for _, nb := range outs {
		t := h.getNode(nb.ID)
		if t == nil || level > t.level || len(t.inbound[level]) > 0 {
			continue
		}
		h.adopt(t, n, ins, outs, level)
	}

	n.inbound[level] = nil
}

// relink rebuilds src's list on level without the deleted node.
func (h *HNSW) relink(src, deleted *node, outs []Neighbor, level int) {
	seen := map[uint32]struct{}{src.id: {}, deleted.id: {}}
	cands := make([]Neighbor, 0, len(outs)+h.maxConns(level))

	for _, nb := range src.neighbors(level) {
		if _, dup := seen[nb.ID]; dup {
			continue
		}
		if h.getNode(nb.ID) == nil {
			continue
		}
		seen[nb.ID] = struct{}{}
		cands = append(cands, nb)
	}
	for _, nb := range outs {
		if _, dup := seen[nb.ID]; dup {
			continue
		}
		t := h.getNode(nb.ID)
		if t == nil || level > t.level {
			continue
		}
		seen[nb.ID] = struct{}{}
		cands = append(cands, Neighbor{ID: nb.ID, Dist: h.nodeDist(src, t)})
	}

	sortNeighbors(cands)
	h.setLinks(src, level, h.selectNeighbors(toItems(cands), h.maxConns(level)))
}

// adopt links orphan from the closest live node among the deleted node's
// former in- and out-neighbors.
func (h *HNSW) adopt(orphan, deleted *node, ins []uint32, outs []Neighbor, level int) {
	var best *node
	bestItem := searcher.PriorityQueueItem{}

	consider := func(id uint32) {
		if id == orphan.id || id == deleted.id {
			return
		}
		c := h.getNode(id)
		if c == nil || level > c.level {
			return
		}
		item := searcher.PriorityQueueItem{Node: id, Distance: h.nodeDist(c, orphan)}
		if best == nil || searcher.Closer(item, bestItem) {
			best, bestItem = c, item
		}
	}
	for _, id := range ins {
		consider(id)
	}
	for _, nb := range outs {
		consider(nb.ID)
	}
	if best == nil {
		return
	}

	list := best.neighbors(level)
	next := make([]Neighbor, 0, len(list)+1)
	next = append(next, list...)

	if len(next) >= h.maxConns(level) {
		// Evict the farthest neighbor that keeps another in-edge.
		evict := -1
		for i := len(next) - 1; i >= 0; i-- {
			if t := h.getNode(next[i].ID); t != nil && len(t.inbound[level]) > 1 {
				evict = i
				break
			}
		}
		if evict < 0 {
			return
		}
		next = slices.Delete(next, evict, evict+1)
	}

	next = append(next, Neighbor{ID: orphan.id, Dist: bestItem.Distance})
	sortNeighbors(next)
	h.setLinks(best, level, next)
}

// electEntryPoint picks a new entry point after deleting the current one.
// Caller must hold h.mu.
func (h *HNSW) electEntryPoint(deleted *node) *entryPoint {
	// Neighbors on the deleted node's top layer share its (maximal) level.
	var best *node
	for _, nb := range deleted.neighbors(deleted.level) {
		c := h.getNode(nb.ID)
		if c == nil || c.id == deleted.id {
			continue
		}
		if best == nil || c.level > best.level || (c.level == best.level && c.id < best.id) {
			best = c
		}
	}
	if best != nil && best.level >= deleted.level {
		return &entryPoint{id: best.id, level: best.level}
	}

	// Fall back to a scan for the highest-level live node.
	best = nil
	h.rangeNodes(func(c *node) bool {
		if c.id == deleted.id {
			return true
		}
		if best == nil || c.level > best.level {
			best = c
		}
		return true
	})
	if best == nil {
		return nil
	}
	return &entryPoint{id: best.id, level: best.level}
}
