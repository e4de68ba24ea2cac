package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chainGraph builds nodes n1..n5 linked n1->n2->..->n5 with NEXT edges plus
// a single SHORTCUT edge n1->n5.
func chainGraph(t *testing.T) *Graph {
	t.Helper()
	g := New(nil, zap.NewNop())
	for i := 1; i <= 5; i++ {
		addNode(t, g, fmt.Sprintf("n%d", i), NodeConcept)
	}
	for i := 1; i < 5; i++ {
		addEdge(t, g, fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i+1), "NEXT", 1, false)
	}
	addEdge(t, g, "n1", "n5", "SHORTCUT", 1, false)
	return g
}

func pathIDs(path []Node) []string {
	ids := make([]string, len(path))
	for i, n := range path {
		ids[i] = n.ID
	}
	return ids
}

func TestFindPathPrefersFewestHops(t *testing.T) {
	t.Parallel()

	g := chainGraph(t)

	path, err := g.FindPath("n1", "n5", PathOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n5"}, pathIDs(path), "shortcut wins unrestricted")

	path, err = g.FindPath("n1", "n5", PathOptions{EdgeTypes: []string{"NEXT"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2", "n3", "n4", "n5"}, pathIDs(path),
		"edge-type filter forces the long way")

	path, err = g.FindPath("n1", "n5", PathOptions{EdgeTypes: []string{"NEXT"}, MaxDepth: 1})
	require.NoError(t, err)
	assert.Nil(t, path, "depth bound makes the target unreachable")
}

func TestFindPathEndpointValidation(t *testing.T) {
	t.Parallel()

	g := chainGraph(t)

	_, err := g.FindPath("ghost", "n5", PathOptions{})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = g.FindPath("n1", "ghost", PathOptions{})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestFindPathSameNode(t *testing.T) {
	t.Parallel()

	g := chainGraph(t)
	path, err := g.FindPath("n3", "n3", PathOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"n3"}, pathIDs(path))
}

func TestFindPathUnreachable(t *testing.T) {
	t.Parallel()

	g := chainGraph(t)
	addNode(t, g, "island", NodeEntity)

	path, err := g.FindPath("n1", "island", PathOptions{})
	require.NoError(t, err, "unreachability is not an error")
	assert.Nil(t, path)

	// Directed edges do not run backwards unless bidirectional.
	path, err = g.FindPath("n5", "n1", PathOptions{EdgeTypes: []string{"NEXT"}})
	require.NoError(t, err)
	assert.Nil(t, path)
}

func TestTraverseDepthBound(t *testing.T) {
	t.Parallel()

	g := chainGraph(t)

	res, err := g.Traverse("n1", TraverseOptions{MaxDepth: 2, EdgeTypes: []string{"NEXT"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2", "n3"}, pathIDs(res.Nodes))
	assert.Len(t, res.Edges, 2)
}

func TestTraverseUnknownStart(t *testing.T) {
	t.Parallel()

	g := chainGraph(t)
	_, err := g.Traverse("ghost", TraverseOptions{})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestTraverseMaxNodes(t *testing.T) {
	t.Parallel()

	g := New(nil, zap.NewNop())
	addNode(t, g, "hub", NodeConcept)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("leaf%d", i)
		addNode(t, g, id, NodeEntity)
		addEdge(t, g, "hub", id, "LINKS", 1, false)
	}

	res, err := g.Traverse("hub", TraverseOptions{MaxNodes: 4})
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 4, "start plus three leaves")
}

func TestTraverseNodeTypeFilter(t *testing.T) {
	t.Parallel()

	g := New(nil, zap.NewNop())
	addNode(t, g, "seed", NodeConcept)
	person, err := g.AddNode(Node{ID: "person", Type: NodeEntity})
	require.NoError(t, err)
	place, err := g.AddNode(Node{ID: "place", Type: NodeLocation})
	require.NoError(t, err)
	addEdge(t, g, "seed", person.ID, EdgeRelatesTo, 1, false)
	addEdge(t, g, "seed", place.ID, EdgeRelatesTo, 1, false)

	res, err := g.Traverse("seed", TraverseOptions{NodeTypes: []NodeType{NodeEntity}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"seed", "person"}, pathIDs(res.Nodes),
		"start is always included, discovered nodes are type-filtered")
}

func TestTraverseMinEdgeWeight(t *testing.T) {
	t.Parallel()

	g := New(nil, zap.NewNop())
	addNode(t, g, "a", NodeEntity)
	addNode(t, g, "strong", NodeEntity)
	addNode(t, g, "weak", NodeEntity)
	addEdge(t, g, "a", "strong", EdgeRelatesTo, 0.9, false)
	addEdge(t, g, "a", "weak", EdgeRelatesTo, 0.1, false)

	res, err := g.Traverse("a", TraverseOptions{MinEdgeWeight: 0.5})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "strong"}, pathIDs(res.Nodes))
	assert.Len(t, res.Edges, 1)
}

func TestTraverseFollowsBidirectionalReverse(t *testing.T) {
	t.Parallel()

	g := New(nil, zap.NewNop())
	addNode(t, g, "a", NodeEntity)
	addNode(t, g, "b", NodeEntity)
	addNode(t, g, "c", NodeEntity)
	addEdge(t, g, "b", "a", "KNOWS", 1, true)  // reverse but bidirectional
	addEdge(t, g, "c", "a", "KNOWS", 1, false) // reverse, one-way

	res, err := g.Traverse("a", TraverseOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, pathIDs(res.Nodes),
		"one-way in-edges are not walked backwards")
}

func TestTraverseSortByImportance(t *testing.T) {
	t.Parallel()

	g := New(nil, zap.NewNop())
	addNode(t, g, "seed", NodeConcept)
	_, err := g.AddNode(Node{ID: "minor", Importance: 0.2})
	require.NoError(t, err)
	_, err = g.AddNode(Node{ID: "major", Importance: 0.9})
	require.NoError(t, err)
	addEdge(t, g, "seed", "minor", EdgeRelatesTo, 1, false)
	addEdge(t, g, "seed", "major", EdgeRelatesTo, 1, false)

	res, err := g.Traverse("seed", TraverseOptions{SortByImportance: true})
	require.NoError(t, err)
	require.Len(t, res.Nodes, 3)
	assert.Equal(t, "major", res.Nodes[0].ID)
}
