// Package graph implements the in-process relationship graph tracking
// entities, concepts, and their typed, weighted relationships. Nodes and
// edges live in contiguous arenas addressed by integer index, which keeps
// traversal cache-friendly and avoids re-hashing string ids on every hop.
package graph

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

// NodeType classifies what a graph node represents.
type NodeType string

const (
	NodeEntity       NodeType = "entity"
	NodeConcept      NodeType = "concept"
	NodeConversation NodeType = "conversation"
	NodeEvent        NodeType = "event"
	NodeTopic        NodeType = "topic"
	NodeLocation     NodeType = "location"
	NodeTime         NodeType = "time"
)

// EdgeRelatesTo is the default relationship type for co-occurrence edges.
const EdgeRelatesTo = "RELATES_TO"

// ErrNodeNotFound is returned when an operation references a node id that is
// not (or no longer) in the graph.
var ErrNodeNotFound = types.NewError(types.ErrNotFound, "node not found")

// Node is a vertex in the relationship graph.
type Node struct {
	ID         string         `json:"id"`
	Type       NodeType       `json:"type"`
	Label      string         `json:"label"`
	Content    string         `json:"content,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Importance float64        `json:"importance"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ThreadID   string         `json:"thread_id,omitempty"`
}

// Edge is a directed (optionally bidirectional) connection between two nodes.
type Edge struct {
	ID            string         `json:"id"`
	SourceID      string         `json:"source_id"`
	TargetID      string         `json:"target_id"`
	Type          string         `json:"type"`
	Weight        float64        `json:"weight"`
	Properties    map[string]any `json:"properties,omitempty"`
	Bidirectional bool           `json:"bidirectional"`
}

// EdgeID derives the canonical edge identifier. Re-inserting the same
// (source, type, target) triple therefore merges instead of duplicating.
func EdgeID(sourceID, edgeType, targetID string) string {
	return sourceID + "->" + edgeType + "->" + targetID
}

// nodeSlot is an arena cell. Adjacency is kept as indices into the edge
// arena; dead cells stay in place as tombstones so indices never shift.
type nodeSlot struct {
	node Node
	out  []int
	in   []int
	live bool
}

type edgeSlot struct {
	edge Edge
	src  int
	dst  int
	live bool
}

// Graph is an in-process relationship graph. Nodes and edges live in
// contiguous arenas addressed by integer index; string ids resolve through
// lookup maps. Removals tombstone the cell and cascade to incident edges.
// All operations are safe for concurrent use.
type Graph struct {
	mu       sync.RWMutex
	nodes    []nodeSlot
	edges    []edgeSlot
	nodeByID map[string]int
	edgeByID map[string]int

	liveNodes int
	liveEdges int

	semantic store.Store
	logger   *zap.Logger

	// Now is the clock; tests override it.
	Now func() time.Time
}

// New creates an empty graph. semantic backs SemanticNeighbors and may be
// nil; lookups then degrade to empty results.
func New(semantic store.Store, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		nodeByID: make(map[string]int),
		edgeByID: make(map[string]int),
		semantic: semantic,
		logger:   logger.With(zap.String("component", "graph")),
		Now:      time.Now,
	}
}

// AddNode inserts n or merges it into an existing node with the same ID.
// Merging unions properties (incoming keys win), keeps the maximum
// importance, and refreshes non-empty scalar fields. The stored node is
// returned.
func (g *Graph) AddNode(n Node) (Node, error) {
	if n.ID == "" {
		return Node{}, types.NewValidationError("node id is required")
	}
	if n.Type == "" {
		n.Type = NodeEntity
	}
	if n.Label == "" {
		n.Label = n.ID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.Now()
	if idx, ok := g.nodeByID[n.ID]; ok {
		slot := &g.nodes[idx]
		if n.Label != "" {
			slot.node.Label = n.Label
		}
		if n.Content != "" {
			slot.node.Content = n.Content
		}
		if n.ThreadID != "" {
			slot.node.ThreadID = n.ThreadID
		}
		slot.node.Type = n.Type
		if n.Importance > slot.node.Importance {
			slot.node.Importance = n.Importance
		}
		slot.node.Properties = unionProperties(slot.node.Properties, n.Properties)
		slot.node.UpdatedAt = now
		return copyNode(slot.node), nil
	}

	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	g.nodes = append(g.nodes, nodeSlot{node: n, live: true})
	g.nodeByID[n.ID] = len(g.nodes) - 1
	g.liveNodes++
	return copyNode(n), nil
}

// AddEdge inserts e or merges it into an existing edge with the same
// identity. Both endpoints must already exist. Merging keeps the maximum
// weight, unions properties and ORs the bidirectional flag. Inserting an
// edge refreshes both endpoints' degree-derived importance.
func (g *Graph) AddEdge(e Edge) (Edge, error) {
	if e.SourceID == "" || e.TargetID == "" {
		return Edge{}, types.NewValidationError("edge requires source and target ids")
	}
	if e.Type == "" {
		e.Type = EdgeRelatesTo
	}
	if e.ID == "" {
		e.ID = EdgeID(e.SourceID, e.Type, e.TargetID)
	}
	if e.Weight <= 0 {
		e.Weight = 1.0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	srcIdx, ok := g.nodeByID[e.SourceID]
	if !ok {
		return Edge{}, fmt.Errorf("add edge: source %q: %w", e.SourceID, ErrNodeNotFound)
	}
	dstIdx, ok := g.nodeByID[e.TargetID]
	if !ok {
		return Edge{}, fmt.Errorf("add edge: target %q: %w", e.TargetID, ErrNodeNotFound)
	}

	if idx, ok := g.edgeByID[e.ID]; ok {
		slot := &g.edges[idx]
		if e.Weight > slot.edge.Weight {
			slot.edge.Weight = e.Weight
		}
		slot.edge.Properties = unionProperties(slot.edge.Properties, e.Properties)
		slot.edge.Bidirectional = slot.edge.Bidirectional || e.Bidirectional
		return copyEdge(slot.edge), nil
	}

	g.edges = append(g.edges, edgeSlot{edge: e, src: srcIdx, dst: dstIdx, live: true})
	edgeIdx := len(g.edges) - 1
	g.edgeByID[e.ID] = edgeIdx
	g.nodes[srcIdx].out = append(g.nodes[srcIdx].out, edgeIdx)
	g.nodes[dstIdx].in = append(g.nodes[dstIdx].in, edgeIdx)
	g.liveEdges++

	g.refreshImportanceLocked(srcIdx)
	g.refreshImportanceLocked(dstIdx)
	return copyEdge(e), nil
}

// refreshImportanceLocked raises a node's importance to its degree-derived
// floor: max(current, min(1, degree/10)).
func (g *Graph) refreshImportanceLocked(idx int) {
	slot := &g.nodes[idx]
	degree := float64(len(slot.out) + len(slot.in))
	derived := degree / 10
	if derived > 1 {
		derived = 1
	}
	if derived > slot.node.Importance {
		slot.node.Importance = derived
	}
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.nodeByID[id]
	if !ok {
		return Node{}, false
	}
	return copyNode(g.nodes[idx].node), true
}

// Edge returns a copy of the edge with the given id.
func (g *Graph) Edge(id string) (Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.edgeByID[id]
	if !ok {
		return Edge{}, false
	}
	return copyEdge(g.edges[idx].edge), true
}

// RemoveNode tombstones the node and every incident edge.
func (g *Graph) RemoveNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.nodeByID[id]
	if !ok {
		return fmt.Errorf("remove node %q: %w", id, ErrNodeNotFound)
	}
	g.removeNodeLocked(idx)
	return nil
}

func (g *Graph) removeNodeLocked(idx int) {
	slot := &g.nodes[idx]

	for _, ei := range slot.out {
		g.tombstoneEdgeLocked(ei, idx)
	}
	for _, ei := range slot.in {
		g.tombstoneEdgeLocked(ei, idx)
	}
	slot.out = nil
	slot.in = nil

	delete(g.nodeByID, slot.node.ID)
	slot.live = false
	g.liveNodes--
}

// tombstoneEdgeLocked kills an edge and unlinks it from the endpoint that is
// not being removed itself.
func (g *Graph) tombstoneEdgeLocked(ei, removingNode int) {
	es := &g.edges[ei]
	if !es.live {
		return
	}
	es.live = false
	delete(g.edgeByID, es.edge.ID)
	g.liveEdges--

	if es.src != removingNode {
		g.nodes[es.src].out = removeIndex(g.nodes[es.src].out, ei)
	}
	if es.dst != removingNode {
		g.nodes[es.dst].in = removeIndex(g.nodes[es.dst].in, ei)
	}
}

// Stats reports live node and edge counts.
type Stats struct {
	Nodes       int              `json:"nodes"`
	Edges       int              `json:"edges"`
	NodesByType map[NodeType]int `json:"nodes_by_type,omitempty"`
}

func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{
		Nodes:       g.liveNodes,
		Edges:       g.liveEdges,
		NodesByType: make(map[NodeType]int),
	}
	for i := range g.nodes {
		if g.nodes[i].live {
			s.NodesByType[g.nodes[i].node.Type]++
		}
	}
	return s
}

// ClearThread removes every node (and incident edge) scoped to threadID.
func (g *Graph) ClearThread(threadID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.nodes {
		if g.nodes[i].live && g.nodes[i].node.ThreadID == threadID {
			g.removeNodeLocked(i)
		}
	}
}

// Clear drops everything and releases the arenas.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = nil
	g.edges = nil
	g.nodeByID = make(map[string]int)
	g.edgeByID = make(map[string]int)
	g.liveNodes = 0
	g.liveEdges = 0
}

func removeIndex(s []int, v int) []int {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func unionProperties(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}

func copyNode(n Node) Node {
	out := n
	if n.Properties != nil {
		out.Properties = make(map[string]any, len(n.Properties))
		for k, v := range n.Properties {
			out.Properties[k] = v
		}
	}
	return out
}

func copyEdge(e Edge) Edge {
	out := e
	if e.Properties != nil {
		out.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			out.Properties[k] = v
		}
	}
	return out
}
