package hnsw

// Stats returns statistics about the HNSW graph.
func (h *HNSW) Stats() Stats {
	st := Stats{
		M:  h.maxConnectionsPerLayer,
		M0: h.maxConnectionsLayer0,
		EF: h.opts.EF,
	}
	if segs := h.segments.Load(); segs != nil {
		st.Segments = len(*segs)
	}

	ep := h.entry.Load()
	if ep == nil {
		return st
	}
	st.EntryPoint = ep.id
	st.MaxLevel = ep.level

	levels := make([]LevelStats, ep.level+1)
	connNodes := make([]int, ep.level+1)
	for i := range levels {
		levels[i].Level = i
	}

	h.rangeNodes(func(n *node) bool {
		st.Nodes++
		for l := 0; l <= n.level && l < len(levels); l++ {
			levels[l].Nodes++
			if c := len(n.neighbors(l)); c > 0 {
				levels[l].Connections += c
				connNodes[l]++
			}
		}
		return true
	})

	for i := range levels {
		if connNodes[i] > 0 {
			levels[i].AvgConnections = levels[i].Connections / connNodes[i]
		}
	}
	st.Levels = levels
	return st
}

// reachable returns the number of live nodes reachable from the entry point on layer 0.
func (h *HNSW) reachable() int {
	ep := h.entry.Load()
	if ep == nil {
		return 0
	}
	seen := map[uint32]struct{}{ep.id: {}}
	queue := []uint32{ep.id}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n := h.getNode(id)
		if n == nil {
			continue
		}
		for _, nb := range n.neighbors(0) {
			if _, ok := seen[nb.ID]; ok {
				continue
			}
			if h.getNode(nb.ID) == nil {
				continue
			}
			seen[nb.ID] = struct{}{}
			queue = append(queue, nb.ID)
		}
	}
	return len(seen)
}
