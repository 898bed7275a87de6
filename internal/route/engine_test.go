package route

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/graph"
	"github.com/sells-group/noflyroute/internal/routeerr"
	"github.com/sells-group/noflyroute/internal/zone"
)

const (
	nodeA int64 = iota + 1
	nodeB
	nodeC
	nodeD
	nodeE
)

// lineScenario builds A-B-C-D along the equator with unit-length edges and a
// zone covering only the middle of the B-C edge. With detour set, node E sits
// north of B-C and connects B and C around the zone.
func lineScenario(t *testing.T, detour bool) (*graph.Graph, *zone.Index) {
	t.Helper()
	nodes := []graph.Node{
		{ID: nodeA, Coord: geo.C(0, 0)},
		{ID: nodeB, Coord: geo.C(0, 0.01)},
		{ID: nodeC, Coord: geo.C(0, 0.02)},
		{ID: nodeD, Coord: geo.C(0, 0.03)},
	}
	edges := []graph.Edge{
		{From: nodeA, To: nodeB, Length: 1},
		{From: nodeB, To: nodeC, Length: 1},
		{From: nodeC, To: nodeD, Length: 1},
	}
	if detour {
		nodes = append(nodes, graph.Node{ID: nodeE, Coord: geo.C(0.01, 0.015)})
		edges = append(edges,
			graph.Edge{From: nodeB, To: nodeE, Length: 1},
			graph.Edge{From: nodeE, To: nodeC, Length: 1},
		)
	}
	g, err := graph.Build(nodes, graph.Bidirectional(edges))
	require.NoError(t, err)

	idx, err := zone.Load([]zone.Zone{{
		ID:       "bc",
		Category: zone.Military,
		Ring: []geo.Coordinate{
			geo.C(-0.001, 0.013), geo.C(-0.001, 0.017),
			geo.C(0.001, 0.017), geo.C(0.001, 0.013),
		},
	}})
	require.NoError(t, err)
	return g, idx
}

func coordOf(t *testing.T, g *graph.Graph, id int64) geo.Coordinate {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok)
	return n.Coord
}

func TestPlan_ExcludeTakesDetour(t *testing.T) {
	g, idx := lineScenario(t, true)
	e := NewEngine(g, idx)

	r, err := e.Plan(context.Background(), coordOf(t, g, nodeA), coordOf(t, g, nodeD), ExcludeZones())
	require.NoError(t, err)
	assert.Equal(t, []int64{nodeA, nodeB, nodeE, nodeC, nodeD}, r.Nodes)
	assert.Equal(t, 4, r.Hops())
	assert.Equal(t, 4.0, r.Length)
	assert.Equal(t, 4.0, r.Cost)
}

func TestPlan_ExcludeWithoutAlternativeFails(t *testing.T) {
	g, idx := lineScenario(t, false)
	e := NewEngine(g, idx)

	_, err := e.Plan(context.Background(), coordOf(t, g, nodeA), coordOf(t, g, nodeD), ExcludeZones())
	require.Error(t, err)
	assert.True(t, errors.Is(err, routeerr.NoPathFound))
	assert.Equal(t, routeerr.StagePlanning, routeerr.StageOf(err))
	assert.Contains(t, err.Error(), "node 1 -> node 4")
}

func TestPlan_Penalize(t *testing.T) {
	tests := []struct {
		name       string
		detour     bool
		multiplier float64
		wantNodes  []int64
		wantCost   float64
		wantLength float64
	}{
		{"line pays the penalty", false, 10, []int64{nodeA, nodeB, nodeC, nodeD}, 12, 3},
		{"heavy penalty prefers detour", true, 10, []int64{nodeA, nodeB, nodeE, nodeC, nodeD}, 4, 4},
		{"light penalty keeps direct edge", true, 1.5, []int64{nodeA, nodeB, nodeC, nodeD}, 3.5, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, idx := lineScenario(t, tt.detour)
			e := NewEngine(g, idx)
			r, err := e.Plan(context.Background(), coordOf(t, g, nodeA), coordOf(t, g, nodeD), PenalizeZones(tt.multiplier))
			require.NoError(t, err)
			assert.Equal(t, tt.wantNodes, r.Nodes)
			assert.InDelta(t, tt.wantCost, r.Cost, 1e-9)
			assert.InDelta(t, tt.wantLength, r.Length, 1e-9)
		})
	}
}

func TestPlan_NoZonesIsShortestPath(t *testing.T) {
	g, _ := lineScenario(t, true)
	e := NewEngine(g, nil)
	r, err := e.Plan(context.Background(), coordOf(t, g, nodeA), coordOf(t, g, nodeD), ExcludeZones())
	require.NoError(t, err)
	assert.Equal(t, []int64{nodeA, nodeB, nodeC, nodeD}, r.Nodes)
}

func TestPlan_EqualCostPrefersFewerEdges(t *testing.T) {
	nodes := []graph.Node{
		{ID: 1, Coord: geo.C(0, 0)},
		{ID: 2, Coord: geo.C(0, 1)},
		{ID: 3, Coord: geo.C(0, 2)},
	}
	// 1->2->3 costs 2 over two edges; 1->3 costs 2 over one edge.
	edges := []graph.Edge{
		{From: 1, To: 2, Length: 1},
		{From: 2, To: 3, Length: 1},
		{From: 1, To: 3, Length: 2},
	}
	g, err := graph.Build(nodes, edges)
	require.NoError(t, err)

	r, err := NewEngine(g, nil).PlanNodes(context.Background(), 1, 3, ExcludeZones())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, r.Nodes)
}

func TestPlan_Deterministic(t *testing.T) {
	g, idx := lineScenario(t, true)
	e := NewEngine(g, idx)
	a, b := coordOf(t, g, nodeA), coordOf(t, g, nodeD)

	first, err := e.Plan(context.Background(), a, b, PenalizeZones(2))
	require.NoError(t, err)
	second, err := e.Plan(context.Background(), a, b, PenalizeZones(2))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlan_SameNearestNode(t *testing.T) {
	g, idx := lineScenario(t, false)
	e := NewEngine(g, idx)

	r, err := e.Plan(context.Background(), geo.C(0.0001, 0.0001), geo.C(-0.0001, 0.0002), ExcludeZones())
	require.NoError(t, err)
	assert.Equal(t, []int64{nodeA}, r.Nodes)
	assert.Empty(t, r.Edges)
	assert.Zero(t, r.Length)
}

func TestPlan_InvalidEndpoints(t *testing.T) {
	e := NewEngine(nil, nil)
	_, err := e.Plan(context.Background(), geo.C(0, 0), geo.C(1, 1), ExcludeZones())
	require.Error(t, err)
	assert.True(t, errors.Is(err, routeerr.InvalidEndpoints))
	assert.Contains(t, err.Error(), "origin")

	g, idx := lineScenario(t, false)
	e = NewEngine(g, idx)
	_, err = e.Plan(context.Background(), geo.C(0, 0), geo.C(0, 500), ExcludeZones())
	require.Error(t, err)
	assert.True(t, errors.Is(err, routeerr.InvalidEndpoints))
	assert.Contains(t, err.Error(), "destination")

	_, err = e.PlanNodes(context.Background(), nodeA, 99, ExcludeZones())
	assert.True(t, errors.Is(err, routeerr.InvalidEndpoints))
}

func TestPlan_InvalidConstraint(t *testing.T) {
	g, idx := lineScenario(t, false)
	e := NewEngine(g, idx)
	_, err := e.PlanNodes(context.Background(), nodeA, nodeD, PenalizeZones(0.5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, routeerr.InvalidConstraint))
	assert.Equal(t, routeerr.StagePlanning, routeerr.StageOf(err))
	assert.Contains(t, err.Error(), "penalize x0.5")
	assert.Contains(t, err.Error(), "multiplier")

	_, err = e.Plan(context.Background(), geo.C(0, 0), geo.C(0, 0.003), Constraint{})
	assert.True(t, errors.Is(err, routeerr.InvalidConstraint))
}

func TestPlan_DirectedEdgesRespected(t *testing.T) {
	nodes := []graph.Node{{ID: 1, Coord: geo.C(0, 0)}, {ID: 2, Coord: geo.C(0, 0.01)}}
	g, err := graph.Build(nodes, []graph.Edge{{From: 1, To: 2, Length: 2000}})
	require.NoError(t, err)
	e := NewEngine(g, nil)

	_, err = e.PlanNodes(context.Background(), 1, 2, ExcludeZones())
	require.NoError(t, err)
	_, err = e.PlanNodes(context.Background(), 2, 1, ExcludeZones())
	assert.True(t, errors.Is(err, routeerr.NoPathFound))
}

// grid builds an n x n lattice with edge lengths between minFactor and
// minFactor+1 times the great-circle length, plus a few random zones.
func grid(t *testing.T, n int, rng *rand.Rand, minFactor float64) (*graph.Graph, *zone.Index) {
	t.Helper()
	const step = 0.001
	id := func(r, c int) int64 { return int64(r*n + c + 1) }

	var nodes []graph.Node
	for r := range n {
		for c := range n {
			nodes = append(nodes, graph.Node{ID: id(r, c), Coord: geo.C(39.9+float64(r)*step, 32.8+float64(c)*step)})
		}
	}
	coord := func(i int64) geo.Coordinate { return nodes[i-1].Coord }
	var edges []graph.Edge
	link := func(a, b int64) {
		edges = append(edges, graph.Edge{From: a, To: b, Length: geo.Distance(coord(a), coord(b)) * (minFactor + rng.Float64())})
	}
	for r := range n {
		for c := range n {
			if c+1 < n {
				link(id(r, c), id(r, c+1))
			}
			if r+1 < n {
				link(id(r, c), id(r+1, c))
			}
		}
	}
	g, err := graph.Build(nodes, graph.Bidirectional(edges))
	require.NoError(t, err)
	require.Positive(t, g.HeuristicScale())

	var zones []zone.Zone
	for i := range 4 {
		lat := 39.9 + rng.Float64()*float64(n)*step
		lon := 32.8 + rng.Float64()*float64(n)*step
		size := step * 1.5
		zones = append(zones, zone.Zone{
			ID:       fmt.Sprintf("z%d", i),
			Category: zone.School,
			Ring: []geo.Coordinate{
				geo.C(lat, lon), geo.C(lat, lon+size), geo.C(lat+size, lon+size), geo.C(lat+size, lon),
			},
		})
	}
	idx, err := zone.Load(zones)
	require.NoError(t, err)
	return g, idx
}

func TestPlan_AStarMatchesDijkstra(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	g, idx := grid(t, 12, rng, 1)
	astar := NewEngine(g, idx)
	dijkstra := NewEngine(g, idx, WithoutHeuristic())

	for _, c := range []Constraint{ExcludeZones(), PenalizeZones(3)} {
		for range 25 {
			src := int64(rng.IntN(g.Len()) + 1)
			dst := int64(rng.IntN(g.Len()) + 1)

			ra, errA := astar.PlanNodes(context.Background(), src, dst, c)
			rd, errD := dijkstra.PlanNodes(context.Background(), src, dst, c)
			if errD != nil {
				require.Error(t, errA)
				assert.Equal(t, routeerr.KindOf(errD), routeerr.KindOf(errA))
				continue
			}
			require.NoError(t, errA)
			assert.InDelta(t, rd.Cost, ra.Cost, 1e-6)
		}
	}
}

func TestPlan_AStarMatchesDijkstra_ShortEdges(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 2))
	g, idx := grid(t, 12, rng, 0.9)
	require.False(t, g.HeuristicSafe())
	astar := NewEngine(g, idx)
	dijkstra := NewEngine(g, idx, WithoutHeuristic())

	for range 40 {
		src := int64(rng.IntN(g.Len()) + 1)
		dst := int64(rng.IntN(g.Len()) + 1)
		ra, errA := astar.PlanNodes(context.Background(), src, dst, PenalizeZones(2))
		rd, errD := dijkstra.PlanNodes(context.Background(), src, dst, PenalizeZones(2))
		require.NoError(t, errD)
		require.NoError(t, errA)
		assert.InDelta(t, rd.Cost, ra.Cost, 1e-6)
	}
}

func TestPlan_RouteInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 1))
	g, idx := grid(t, 10, rng, 1)
	e := NewEngine(g, idx)

	for range 30 {
		src := int64(rng.IntN(g.Len()) + 1)
		dst := int64(rng.IntN(g.Len()) + 1)
		r, err := e.PlanNodes(context.Background(), src, dst, ExcludeZones())
		if err != nil {
			assert.True(t, errors.Is(err, routeerr.NoPathFound))
			continue
		}
		require.NotEmpty(t, r.Nodes)
		assert.Equal(t, src, r.Nodes[0])
		assert.Equal(t, dst, r.Nodes[len(r.Nodes)-1])
		require.Len(t, r.Edges, len(r.Nodes)-1)
		for i, edge := range r.Edges {
			assert.Equal(t, r.Nodes[i], edge.From)
			assert.Equal(t, r.Nodes[i+1], edge.To)
			assert.NotEqual(t, edge.From, edge.To)
			assert.False(t, idx.IntersectsPath(edge.Geometry), "edge %d->%d crosses a zone", edge.From, edge.To)
			_, ok := e.Admissible(edge, ExcludeZones())
			assert.True(t, ok)
		}
	}
}

func TestPlan_ContextCancelled(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	g, _ := grid(t, 40, rng, 1)
	e := NewEngine(g, nil, WithoutHeuristic())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.PlanNodes(ctx, 1, int64(g.Len()), ExcludeZones())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAdmissible(t *testing.T) {
	g, idx := lineScenario(t, false)
	e := NewEngine(g, idx)
	bc, ok := g.Edge(nodeB, nodeC)
	require.True(t, ok)
	ab, ok := g.Edge(nodeA, nodeB)
	require.True(t, ok)

	_, ok = e.Admissible(bc, ExcludeZones())
	assert.False(t, ok)

	w, ok := e.Admissible(bc, PenalizeZones(4))
	assert.True(t, ok)
	assert.Equal(t, 4.0, w)

	w, ok = e.Admissible(ab, ExcludeZones())
	assert.True(t, ok)
	assert.Equal(t, 1.0, w)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("Exclude")
	require.NoError(t, err)
	assert.Equal(t, Exclude, p)

	p, err = ParsePolicy("penalize")
	require.NoError(t, err)
	assert.Equal(t, Penalize, p)

	_, err = ParsePolicy("avoid")
	assert.Error(t, err)

	assert.Equal(t, "penalize x2.5", PenalizeZones(2.5).String())
	assert.Equal(t, "exclude", ExcludeZones().String())
}
