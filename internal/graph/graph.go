// Package graph models the routable road network: nodes with coordinates,
// directed edges with geometry and length, neighbor lookup and nearest-node
// search.
package graph

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/routeerr"
)

// Node is a network vertex.
type Node struct {
	ID    int64          `json:"id"`
	Coord geo.Coordinate `json:"coord"`
}

// Edge is a directed road segment. Geometry runs from the From node to the
// To node; Length is in meters.
type Edge struct {
	From     int64            `json:"from"`
	To       int64            `json:"to"`
	Geometry []geo.Coordinate `json:"geometry,omitempty"`
	Length   float64          `json:"length"`
}

// Arc is an outgoing edge paired with its target node.
type Arc struct {
	Edge   Edge
	Target int64
}

// Graph is an immutable road network. All methods are safe for concurrent use.
type Graph struct {
	nodes     []Node        // sorted by id
	index     map[int64]int // node id -> position in nodes
	adjacency [][]Arc       // by node position
	edges     int
	bounds    geo.BBox
	scale     float64 // min length/great-circle ratio over edges, capped at 1
	nearest   *nearestIndex
}

// Build validates nodes and edges and assembles the graph. Zero nodes fail
// with DisconnectedInput; disconnected components are accepted. Edges without
// geometry get a straight segment between their endpoints.
func Build(nodes []Node, edges []Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, routeerr.Newf(routeerr.DisconnectedInput, routeerr.StageGraphBuild, "graph", "no nodes")
	}

	g := &Graph{
		nodes:  slices.Clone(nodes),
		index:  make(map[int64]int, len(nodes)),
		bounds: geo.EmptyBBox(),
		scale:  1,
	}
	slices.SortFunc(g.nodes, func(a, b Node) int { return cmp.Compare(a.ID, b.ID) })

	for i, n := range g.nodes {
		subject := fmt.Sprintf("node %d", n.ID)
		if i > 0 && g.nodes[i-1].ID == n.ID {
			return nil, routeerr.Newf(routeerr.InvalidGeometry, routeerr.StageGraphBuild, subject, "duplicate node id")
		}
		if !n.Coord.Valid() {
			return nil, routeerr.Newf(routeerr.InvalidGeometry, routeerr.StageGraphBuild, subject,
				"coordinate %s out of range", n.Coord)
		}
		g.index[n.ID] = i
		g.bounds = g.bounds.Extend(n.Coord)
	}

	g.adjacency = make([][]Arc, len(g.nodes))
	for _, e := range edges {
		subject := fmt.Sprintf("edge %d->%d", e.From, e.To)
		from, ok := g.index[e.From]
		if !ok {
			return nil, routeerr.Newf(routeerr.InvalidGeometry, routeerr.StageGraphBuild, subject,
				"unknown from node %d", e.From)
		}
		to, ok := g.index[e.To]
		if !ok {
			return nil, routeerr.Newf(routeerr.InvalidGeometry, routeerr.StageGraphBuild, subject,
				"unknown to node %d", e.To)
		}
		if math.IsNaN(e.Length) || math.IsInf(e.Length, 0) || e.Length < 0 {
			return nil, routeerr.Newf(routeerr.InvalidGeometry, routeerr.StageGraphBuild, subject,
				"length %v must be a non-negative number", e.Length)
		}
		if len(e.Geometry) < 2 {
			e.Geometry = []geo.Coordinate{g.nodes[from].Coord, g.nodes[to].Coord}
		} else {
			e.Geometry = slices.Clone(e.Geometry)
		}
		if d := geo.Distance(g.nodes[from].Coord, g.nodes[to].Coord); d > 0 && e.Length < g.scale*d {
			g.scale = e.Length / d
		}
		g.adjacency[from] = append(g.adjacency[from], Arc{Edge: e, Target: e.To})
		g.edges++
	}
	for _, arcs := range g.adjacency {
		slices.SortStableFunc(arcs, func(a, b Arc) int {
			if c := cmp.Compare(a.Target, b.Target); c != 0 {
				return c
			}
			return cmp.Compare(a.Edge.Length, b.Edge.Length)
		})
	}

	g.nearest = newNearestIndex(g.nodes, g.bounds)

	zap.L().Debug("graph: built",
		zap.Int("nodes", len(g.nodes)),
		zap.Int("edges", g.edges),
		zap.Float64("heuristic_scale", g.scale),
	)
	return g, nil
}

// Bidirectional returns edges plus a reversed copy of each, for networks
// whose roads are all two-way.
func Bidirectional(edges []Edge) []Edge {
	out := make([]Edge, 0, 2*len(edges))
	for _, e := range edges {
		out = append(out, e)
		rev := Edge{From: e.To, To: e.From, Length: e.Length}
		if len(e.Geometry) > 0 {
			rev.Geometry = slices.Clone(e.Geometry)
			slices.Reverse(rev.Geometry)
		}
		out = append(out, rev)
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of directed edges.
func (g *Graph) EdgeCount() int {
	return g.edges
}

// Nodes returns all nodes sorted by id.
func (g *Graph) Nodes() []Node {
	return slices.Clone(g.nodes)
}

// Node looks up a node by id.
func (g *Graph) Node(id int64) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Neighbors returns the outgoing arcs of a node, ordered by target id then
// length. Dead ends and unknown ids yield an empty slice. The returned slice
// is shared and must not be modified.
func (g *Graph) Neighbors(id int64) []Arc {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.adjacency[i]
}

// Edge returns the shortest edge from one node to another.
func (g *Graph) Edge(from, to int64) (Edge, bool) {
	for _, a := range g.Neighbors(from) {
		if a.Target == to {
			return a.Edge, true // arcs are sorted by length within a target
		}
	}
	return Edge{}, false
}

// Bounds returns the bounding box of all nodes.
func (g *Graph) Bounds() geo.BBox {
	return g.bounds
}

// HeuristicSafe reports whether every edge is at least as long as the
// great-circle distance between its endpoints.
func (g *Graph) HeuristicSafe() bool {
	return g.scale >= 1
}

// HeuristicScale is the largest k such that every edge is at least k times
// the great-circle distance between its endpoints. Straight-line distance
// scaled by k is a consistent search heuristic; k is 1 for HeuristicSafe
// graphs and 0 when some edge has zero length between distinct points.
func (g *Graph) HeuristicScale() float64 {
	return g.scale
}
