package graph

import "fmt"

// ClusterOptions tunes connected-component clustering.
type ClusterOptions struct {
	// MinClusterSize drops components smaller than this. Zero means 2.
	MinClusterSize int
	// MinEdgeWeight is the similarity floor an edge must meet to connect
	// cluster members. Zero means 0.5.
	MinEdgeWeight float64
	// MaxDepth bounds the expansion around each seed node. Zero means 2.
	MaxDepth int
	// ThreadID restricts clustering to one thread's nodes when set.
	ThreadID string
}

// Cluster is a group of related nodes discovered by ClusterNodes.
type Cluster struct {
	ID    string `json:"id"`
	Nodes []Node `json:"nodes"`
}

// ClusterNodes groups nodes into clusters by expanding a bounded traversal
// around every not-yet-clustered seed, following only edges at or above the
// weight floor. Components below MinClusterSize are discarded but their
// members stay consumed, so each node lands in at most one cluster.
func (g *Graph) ClusterNodes(opts ClusterOptions) []Cluster {
	minSize := opts.MinClusterSize
	if minSize <= 0 {
		minSize = 2
	}
	minWeight := opts.MinEdgeWeight
	if minWeight <= 0 {
		minWeight = 0.5
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var clusters []Cluster
	visited := make(map[int]struct{}, len(g.nodes))

	for seed := range g.nodes {
		if !g.nodes[seed].live {
			continue
		}
		if opts.ThreadID != "" && g.nodes[seed].node.ThreadID != opts.ThreadID {
			continue
		}
		if _, done := visited[seed]; done {
			continue
		}

		members := g.expandLocked(seed, maxDepth, minWeight, opts.ThreadID, visited)
		if len(members) < minSize {
			continue
		}

		cluster := Cluster{
			ID:    fmt.Sprintf("cluster_%d", len(clusters)+1),
			Nodes: make([]Node, 0, len(members)),
		}
		for _, idx := range members {
			cluster.Nodes = append(cluster.Nodes, copyNode(g.nodes[idx].node))
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// expandLocked collects the component around seed via BFS bounded by depth
// and edge weight, marking every reached node visited.
func (g *Graph) expandLocked(seed, maxDepth int, minWeight float64, threadID string, visited map[int]struct{}) []int {
	members := []int{seed}
	visited[seed] = struct{}{}

	type hop struct {
		idx   int
		depth int
	}
	queue := []hop{{idx: seed}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, st := range g.stepsLocked(cur.idx, nil, minWeight) {
			if _, done := visited[st.nodeIdx]; done {
				continue
			}
			if threadID != "" && g.nodes[st.nodeIdx].node.ThreadID != threadID {
				continue
			}
			visited[st.nodeIdx] = struct{}{}
			members = append(members, st.nodeIdx)
			queue = append(queue, hop{idx: st.nodeIdx, depth: cur.depth + 1})
		}
	}
	return members
}
