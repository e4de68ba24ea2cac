package graph

// Snapshot is a point-in-time JSON-serializable copy of the graph.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Export copies every live node and edge into a Snapshot.
func (g *Graph) Export() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := Snapshot{
		Nodes: make([]Node, 0, g.liveNodes),
		Edges: make([]Edge, 0, g.liveEdges),
	}
	for i := range g.nodes {
		if g.nodes[i].live {
			snap.Nodes = append(snap.Nodes, copyNode(g.nodes[i].node))
		}
	}
	for i := range g.edges {
		if g.edges[i].live {
			snap.Edges = append(snap.Edges, copyEdge(g.edges[i].edge))
		}
	}
	return snap
}

// Import merges a snapshot into the graph: nodes first so every edge finds
// its endpoints, both with the usual merge-on-conflict semantics. The first
// failure aborts and is returned; already-imported elements stay.
func (g *Graph) Import(snap Snapshot) error {
	for _, n := range snap.Nodes {
		if _, err := g.AddNode(n); err != nil {
			return err
		}
	}
	for _, e := range snap.Edges {
		if _, err := g.AddEdge(e); err != nil {
			return err
		}
	}
	return nil
}
