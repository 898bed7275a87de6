package graph

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
	"go.uber.org/zap"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/routeerr"
)

const (
	// Graphs smaller than this are scanned linearly.
	minIndexedNodes = 64
	// Regions wider than this (degrees) are scanned linearly because the
	// equirectangular projection distorts too much to bound the search.
	maxIndexedSpan = 1.0
	// Queries further than this (degrees) outside the graph bounds are
	// scanned linearly for the same reason.
	maxQueryOffset = 0.5
	// Candidate radius multiplier over the projected nearest distance.
	searchSlack = 1.25
)

type nodePoint struct {
	p   orb.Point
	pos int
}

func (n nodePoint) Point() orb.Point { return n.p }

// nearestIndex finds the node closest to a query point by great-circle
// distance, using a projected quadtree to shortlist candidates.
type nearestIndex struct {
	nodes  []Node
	bounds geo.BBox
	proj   geo.Projection
	tree   *quadtree.Quadtree // nil: linear scan
}

func newNearestIndex(nodes []Node, bounds geo.BBox) *nearestIndex {
	ni := &nearestIndex{nodes: nodes, bounds: bounds}
	if len(nodes) < minIndexedNodes ||
		bounds.MaxLat-bounds.MinLat > maxIndexedSpan ||
		bounds.MaxLng-bounds.MinLng > maxIndexedSpan {
		return ni
	}

	proj := geo.NewProjection((bounds.MinLat + bounds.MaxLat) / 2)
	bound := orb.Bound{
		Min: proj.Project(geo.C(bounds.MinLat, bounds.MinLng)),
		Max: proj.Project(geo.C(bounds.MaxLat, bounds.MaxLng)),
	}.Pad(1)

	tree := quadtree.New(bound)
	for i, n := range nodes {
		if err := tree.Add(nodePoint{p: proj.Project(n.Coord), pos: i}); err != nil {
			zap.L().Debug("graph: quadtree rejected node, falling back to scan",
				zap.Int64("node", n.ID), zap.Error(err))
			return ni
		}
	}
	ni.proj = proj
	ni.tree = tree
	return ni
}

// find returns the position of the nearest node; equidistant candidates
// resolve to the lowest position, which is the lowest id.
func (ni *nearestIndex) find(q geo.Coordinate) int {
	if ni.tree == nil || !ni.bounds.Pad(maxQueryOffset).Contains(q) {
		return ni.scan(q)
	}

	pq := ni.proj.Project(q)
	first := ni.tree.Find(pq)
	if first == nil {
		return ni.scan(q)
	}
	r := planar.Distance(pq, first.Point())*searchSlack + 1
	cands := ni.tree.InBound(nil, orb.Bound{
		Min: orb.Point{pq[0] - r, pq[1] - r},
		Max: orb.Point{pq[0] + r, pq[1] + r},
	})

	best, bestDist := -1, 0.0
	for _, c := range cands {
		pos := c.(nodePoint).pos
		d := geo.Distance(q, ni.nodes[pos].Coord)
		if best < 0 || d < bestDist || (d == bestDist && pos < best) {
			best, bestDist = pos, d
		}
	}
	return best
}

func (ni *nearestIndex) scan(q geo.Coordinate) int {
	best, bestDist := -1, 0.0
	for pos, n := range ni.nodes {
		d := geo.Distance(q, n.Coord)
		if best < 0 || d < bestDist {
			best, bestDist = pos, d
		}
	}
	return best
}

// NearestNode returns the id of the node with the smallest great-circle
// distance to point. Ties resolve to the lowest node id.
func (g *Graph) NearestNode(point geo.Coordinate) (int64, error) {
	if g == nil || len(g.nodes) == 0 {
		return 0, routeerr.New(routeerr.EmptyGraph, routeerr.StagePlanning, point.String())
	}
	if !point.Valid() {
		return 0, routeerr.Newf(routeerr.InvalidEndpoints, routeerr.StagePlanning, point.String(),
			"coordinate out of range")
	}
	return g.nodes[g.nearest.find(point)].ID, nil
}
