package graph

import (
	"fmt"
	"sort"
)

// Default traversal bounds.
const (
	DefaultMaxDepth     = 2
	DefaultMaxNodes     = 50
	DefaultPathMaxDepth = 10
)

// TraverseOptions bounds and filters a breadth-first traversal.
type TraverseOptions struct {
	// MaxDepth limits hops from the start node. Zero means DefaultMaxDepth.
	MaxDepth int
	// MaxNodes caps collected nodes, start included. Zero means
	// DefaultMaxNodes.
	MaxNodes int
	// NodeTypes restricts which discovered nodes are visited. Empty allows
	// all types. The start node is always included.
	NodeTypes []NodeType
	// EdgeTypes restricts which edges are followed. Empty allows all.
	EdgeTypes []string
	// MinEdgeWeight drops edges below the threshold.
	MinEdgeWeight float64
	// SortByImportance orders the result by node importance descending
	// instead of discovery order.
	SortByImportance bool
}

// Traversal is the subgraph reached by Traverse.
type Traversal struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Traverse walks the graph breadth-first from startID, honoring the bounds
// and filters in opts. Edges are followed in their direction, plus the
// reverse direction when marked bidirectional. An unknown start node is a
// validation error.
func (g *Graph) Traverse(startID string, opts TraverseOptions) (*Traversal, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	maxNodes := opts.MaxNodes
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	nodeFilter := toNodeTypeSet(opts.NodeTypes)
	edgeFilter := toStringSet(opts.EdgeTypes)

	g.mu.RLock()
	defer g.mu.RUnlock()

	start, ok := g.nodeByID[startID]
	if !ok {
		return nil, fmt.Errorf("traverse from %q: %w", startID, ErrNodeNotFound)
	}

	result := &Traversal{Nodes: []Node{copyNode(g.nodes[start].node)}}
	visited := map[int]struct{}{start: {}}
	seenEdges := make(map[int]struct{})

	type hop struct {
		idx   int
		depth int
	}
	queue := []hop{{idx: start}}

	for len(queue) > 0 && len(result.Nodes) < maxNodes {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}

		for _, step := range g.stepsLocked(cur.idx, edgeFilter, opts.MinEdgeWeight) {
			if _, dup := seenEdges[step.edgeIdx]; !dup {
				seenEdges[step.edgeIdx] = struct{}{}
				result.Edges = append(result.Edges, copyEdge(g.edges[step.edgeIdx].edge))
			}
			if _, done := visited[step.nodeIdx]; done {
				continue
			}
			node := &g.nodes[step.nodeIdx].node
			if nodeFilter != nil {
				if _, ok := nodeFilter[node.Type]; !ok {
					continue
				}
			}
			visited[step.nodeIdx] = struct{}{}
			result.Nodes = append(result.Nodes, copyNode(*node))
			if len(result.Nodes) >= maxNodes {
				break
			}
			queue = append(queue, hop{idx: step.nodeIdx, depth: cur.depth + 1})
		}
	}

	if opts.SortByImportance {
		sort.SliceStable(result.Nodes, func(i, j int) bool {
			return result.Nodes[i].Importance > result.Nodes[j].Importance
		})
	}
	return result, nil
}

// step is one admissible move out of a node.
type step struct {
	nodeIdx int
	edgeIdx int
}

// stepsLocked enumerates the neighbors reachable from idx in one hop:
// out-edges forward, in-edges only when bidirectional.
func (g *Graph) stepsLocked(idx int, edgeFilter map[string]struct{}, minWeight float64) []step {
	slot := &g.nodes[idx]
	steps := make([]step, 0, len(slot.out)+len(slot.in))

	admit := func(es *edgeSlot) bool {
		if !es.live {
			return false
		}
		if es.edge.Weight < minWeight {
			return false
		}
		if edgeFilter != nil {
			if _, ok := edgeFilter[es.edge.Type]; !ok {
				return false
			}
		}
		return true
	}

	for _, ei := range slot.out {
		es := &g.edges[ei]
		if admit(es) {
			steps = append(steps, step{nodeIdx: es.dst, edgeIdx: ei})
		}
	}
	for _, ei := range slot.in {
		es := &g.edges[ei]
		if admit(es) && es.edge.Bidirectional {
			steps = append(steps, step{nodeIdx: es.src, edgeIdx: ei})
		}
	}
	return steps
}

// PathOptions filters a shortest-path search.
type PathOptions struct {
	// EdgeTypes restricts which edges may form the path. Empty allows all.
	EdgeTypes []string
	// MaxDepth caps the path length in hops. Zero means DefaultPathMaxDepth.
	MaxDepth int
}

// FindPath returns the shortest path (fewest hops) from fromID to toID as an
// ordered node sequence, or nil when no path exists within the depth bound.
// Missing endpoints are validation errors; unreachability is not.
func (g *Graph) FindPath(fromID, toID string, opts PathOptions) ([]Node, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultPathMaxDepth
	}
	edgeFilter := toStringSet(opts.EdgeTypes)

	g.mu.RLock()
	defer g.mu.RUnlock()

	from, ok := g.nodeByID[fromID]
	if !ok {
		return nil, fmt.Errorf("find path from %q: %w", fromID, ErrNodeNotFound)
	}
	to, ok := g.nodeByID[toID]
	if !ok {
		return nil, fmt.Errorf("find path to %q: %w", toID, ErrNodeNotFound)
	}
	if from == to {
		return []Node{copyNode(g.nodes[from].node)}, nil
	}

	// BFS guarantees the first arrival is a shortest path in hop count.
	parent := map[int]int{from: -1}
	type hop struct {
		idx   int
		depth int
	}
	queue := []hop{{idx: from}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, st := range g.stepsLocked(cur.idx, edgeFilter, 0) {
			if _, seen := parent[st.nodeIdx]; seen {
				continue
			}
			parent[st.nodeIdx] = cur.idx
			if st.nodeIdx == to {
				return g.buildPathLocked(parent, to), nil
			}
			queue = append(queue, hop{idx: st.nodeIdx, depth: cur.depth + 1})
		}
	}
	return nil, nil
}

func (g *Graph) buildPathLocked(parent map[int]int, to int) []Node {
	var rev []int
	for idx := to; idx != -1; idx = parent[idx] {
		rev = append(rev, idx)
	}
	path := make([]Node, len(rev))
	for i := range rev {
		path[i] = copyNode(g.nodes[rev[len(rev)-1-i]].node)
	}
	return path
}

func toNodeTypeSet(types []NodeType) map[NodeType]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[NodeType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

func toStringSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
