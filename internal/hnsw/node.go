package hnsw

import (
	"sync/atomic"
)

const (
	// nodeSegmentSize is the size of each node segment (65536).
	// Using segments avoids copying the entire node array during growth.
	nodeSegmentBits = 16
	nodeSegmentSize = 1 << nodeSegmentBits
	nodeSegmentMask = nodeSegmentSize - 1
)

// NodeSegment is a fixed-size array of node slots.
type NodeSegment [nodeSegmentSize]atomic.Pointer[node]

// Neighbor represents a connection to another node with its distance.
type Neighbor struct {
	ID   uint32
	Dist float64
}

// node is a graph vertex. Its vector, norm and level are immutable; each
// layer's neighbor list is replaced copy-on-write so readers never observe a
// torn list.
type node struct {
	id    uint32
	vec   []float32
	norm  float64
	level int

	links []atomic.Pointer[[]Neighbor]

	// inbound[l] holds the handles linking to this node on layer l.
	// Writer-only bookkeeping, guarded by HNSW.mu.
	inbound []map[uint32]struct{}
}

var emptyNeighbors = []Neighbor{}

func newNode(id uint32, vec []float32, norm float64, level int) *node {
	n := &node{
		id:      id,
		vec:     vec,
		norm:    norm,
		level:   level,
		links:   make([]atomic.Pointer[[]Neighbor], level+1),
		inbound: make([]map[uint32]struct{}, level+1),
	}
	for l := 0; l <= level; l++ {
		n.links[l].Store(&emptyNeighbors)
		n.inbound[l] = make(map[uint32]struct{})
	}
	return n
}

// neighbors returns the current neighbor list of layer l. The slice must not be modified.
func (n *node) neighbors(l int) []Neighbor {
	if l > n.level {
		return nil
	}
	return *n.links[l].Load()
}

func (n *node) hasLink(l int, id uint32) bool {
	for _, nb := range n.neighbors(l) {
		if nb.ID == id {
			return true
		}
	}
	return false
}

func (h *HNSW) getNode(id uint32) *node {
	segs := h.segments.Load()
	if segs == nil {
		return nil
	}
	si := int(id >> nodeSegmentBits)
	if si >= len(*segs) {
		return nil
	}
	seg := (*segs)[si]
	if seg == nil {
		return nil
	}
	return seg[id&nodeSegmentMask].Load()
}

// setNode publishes n in its slot. Caller must hold h.mu.
func (h *HNSW) setNode(id uint32, n *node) {
	h.growSegments(id)
	segs := h.segments.Load()
	(*segs)[id>>nodeSegmentBits][id&nodeSegmentMask].Store(n)
}

// growSegments ensures a segment exists for id, replacing the segment table
// copy-on-write. Caller must hold h.mu.
func (h *HNSW) growSegments(id uint32) {
	si := int(id >> nodeSegmentBits)
	cur := h.segments.Load()

	var old []*NodeSegment
	if cur != nil {
		old = *cur
		if si < len(old) && old[si] != nil {
			return
		}
	}

	next := make([]*NodeSegment, max(len(old), si+1))
	copy(next, old)
	next[si] = new(NodeSegment)
	h.segments.Store(&next)
}

// setLinks replaces the layer-l neighbor list of src and keeps the inbound sets
// of old and new targets consistent. Caller must hold h.mu.
func (h *HNSW) setLinks(src *node, l int, list []Neighbor) {
	old := src.neighbors(l)

	keep := make(map[uint32]struct{}, len(list))
	for _, nb := range list {
		keep[nb.ID] = struct{}{}
	}
	for _, nb := range old {
		if _, ok := keep[nb.ID]; ok {
			continue
		}
		if t := h.getNode(nb.ID); t != nil && l <= t.level {
			delete(t.inbound[l], src.id)
		}
	}
	for _, nb := range list {
		if t := h.getNode(nb.ID); t != nil && l <= t.level {
			t.inbound[l][src.id] = struct{}{}
		}
	}

	cp := make([]Neighbor, len(list))
	copy(cp, list)
	src.links[l].Store(&cp)
}

// rangeNodes calls fn for every live node in handle order until fn returns false.
func (h *HNSW) rangeNodes(fn func(n *node) bool) {
	segs := h.segments.Load()
	if segs == nil {
		return
	}
	for _, seg := range *segs {
		if seg == nil {
			continue
		}
		for j := range seg {
			if n := seg[j].Load(); n != nil {
				if !fn(n) {
					return
				}
			}
		}
	}
}
