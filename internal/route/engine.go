// Package route plans the shortest admissible path across the road graph
// while honouring exclusion zones.
package route

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/graph"
	"github.com/sells-group/noflyroute/internal/routeerr"
	"github.com/sells-group/noflyroute/internal/zone"
)

// ctxCheckInterval is how many settled nodes pass between context checks.
const ctxCheckInterval = 1024

// Route is an ordered node sequence with the edges connecting it.
type Route struct {
	Nodes  []int64      `json:"nodes"`
	Edges  []graph.Edge `json:"edges"`
	Length float64      `json:"length_m"` // sum of edge lengths
	Cost   float64      `json:"cost"`     // sum of effective weights under the constraint
}

// Hops returns the number of edges in the route.
func (r *Route) Hops() int {
	return len(r.Edges)
}

// Option configures an Engine.
type Option func(*Engine)

// WithoutHeuristic forces plain Dijkstra even on graphs where the
// great-circle heuristic is admissible.
func WithoutHeuristic() Option {
	return func(e *Engine) {
		e.heuristic = false
	}
}

// Engine plans routes over an immutable graph and zone index. A single
// Engine may serve concurrent Plan calls.
type Engine struct {
	graph     *graph.Graph
	zones     *zone.Index
	heuristic bool
}

// NewEngine creates an Engine. A nil index means no zones.
func NewEngine(g *graph.Graph, idx *zone.Index, opts ...Option) *Engine {
	e := &Engine{graph: g, zones: idx, heuristic: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Admissible resolves an edge under the constraint: its effective weight and
// whether it may be traversed at all.
func (e *Engine) Admissible(edge graph.Edge, c Constraint) (float64, bool) {
	if e.zones == nil || e.zones.Len() == 0 || !e.zones.IntersectsPath(edge.Geometry) {
		return edge.Length, true
	}
	if c.Policy == Penalize {
		return edge.Length * c.Multiplier, true
	}
	return math.Inf(1), false
}

// Plan maps origin and destination to their nearest nodes and returns the
// cheapest admissible route between them. Among equal-cost routes the one
// with fewer edges wins; remaining ties resolve by node id.
func (e *Engine) Plan(ctx context.Context, origin, destination geo.Coordinate, c Constraint) (*Route, error) {
	src, err := e.endpoint(origin, "origin")
	if err != nil {
		return nil, err
	}
	dst, err := e.endpoint(destination, "destination")
	if err != nil {
		return nil, err
	}
	return e.PlanNodes(ctx, src, dst, c)
}

func (e *Engine) endpoint(c geo.Coordinate, role string) (int64, error) {
	subject := fmt.Sprintf("%s %s", role, c)
	if e.graph == nil || e.graph.Len() == 0 {
		return 0, routeerr.Newf(routeerr.InvalidEndpoints, routeerr.StagePlanning, subject, "graph is empty")
	}
	id, err := e.graph.NearestNode(c)
	if err != nil {
		return 0, routeerr.Wrap(err, routeerr.InvalidEndpoints, routeerr.StagePlanning, subject)
	}
	return id, nil
}

// label is the best known way of reaching a node.
type label struct {
	cost    float64
	hops    int
	prev    int64
	via     graph.Edge
	settled bool
}

// better reports whether (cost, hops) improves on l, comparing
// lexicographically with a relative tolerance on cost.
func (l *label) better(cost float64, hops int) bool {
	eps := 1e-9 * math.Max(1, l.cost)
	if cost < l.cost-eps {
		return true
	}
	return cost <= l.cost+eps && hops < l.hops
}

// PlanNodes runs the search between two known node ids.
func (e *Engine) PlanNodes(ctx context.Context, src, dst int64, c Constraint) (*Route, error) {
	if err := c.Validate(); err != nil {
		return nil, routeerr.Wrap(err, routeerr.InvalidConstraint, routeerr.StagePlanning, c.String())
	}
	if e.graph == nil {
		return nil, routeerr.Newf(routeerr.InvalidEndpoints, routeerr.StagePlanning, "graph", "graph is empty")
	}
	srcNode, ok := e.graph.Node(src)
	if !ok {
		return nil, routeerr.Newf(routeerr.InvalidEndpoints, routeerr.StagePlanning, fmt.Sprintf("node %d", src), "unknown node")
	}
	dstNode, ok := e.graph.Node(dst)
	if !ok {
		return nil, routeerr.Newf(routeerr.InvalidEndpoints, routeerr.StagePlanning, fmt.Sprintf("node %d", dst), "unknown node")
	}
	if src == dst {
		return &Route{Nodes: []int64{src}}, nil
	}

	h := func(graph.Node) float64 { return 0 }
	if k := e.graph.HeuristicScale(); e.heuristic && k > 0 {
		h = func(n graph.Node) float64 { return k * geo.Distance(n.Coord, dstNode.Coord) }
	}

	labels := map[int64]*label{src: {prev: src}}
	pq := &queue{}
	heap.Push(pq, &item{node: src, priority: h(srcNode)})

	settled := 0
	for pq.Len() > 0 {
		it := heap.Pop(pq).(*item)
		cur := labels[it.node]
		if cur.settled || it.cost != cur.cost || it.hops != cur.hops {
			continue // stale entry
		}
		cur.settled = true

		if it.node == dst {
			r := reconstruct(labels, src, dst)
			zap.L().Debug("route: planned",
				zap.Int64("from", src), zap.Int64("to", dst),
				zap.String("constraint", c.String()),
				zap.Int("hops", r.Hops()), zap.Int("settled", settled),
			)
			return r, nil
		}

		settled++
		if settled%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "route: plan cancelled")
			}
		}

		for _, arc := range e.graph.Neighbors(it.node) {
			next, ok := labels[arc.Target]
			if ok && next.settled {
				continue
			}
			w, admissible := e.Admissible(arc.Edge, c)
			if !admissible {
				continue
			}
			cost, hops := cur.cost+w, cur.hops+1
			if ok && !next.better(cost, hops) {
				continue
			}
			if !ok {
				next = &label{}
				labels[arc.Target] = next
			}
			next.cost, next.hops, next.prev, next.via = cost, hops, it.node, arc.Edge

			n, _ := e.graph.Node(arc.Target)
			heap.Push(pq, &item{node: arc.Target, priority: cost + h(n), cost: cost, hops: hops})
		}
	}

	return nil, routeerr.Newf(routeerr.NoPathFound, routeerr.StagePlanning,
		fmt.Sprintf("node %d -> node %d", src, dst), "no admissible path under %s", c)
}

func reconstruct(labels map[int64]*label, src, dst int64) *Route {
	r := &Route{}
	for n := dst; n != src; n = labels[n].prev {
		l := labels[n]
		r.Nodes = append(r.Nodes, n)
		r.Edges = append(r.Edges, l.via)
		r.Length += l.via.Length
	}
	r.Nodes = append(r.Nodes, src)
	r.Cost = labels[dst].cost
	slices.Reverse(r.Nodes)
	slices.Reverse(r.Edges)
	return r
}

type item struct {
	node     int64
	priority float64
	cost     float64
	hops     int
}

// queue orders by priority, then hop count, then node id.
type queue []*item

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	if q[i].hops != q[j].hops {
		return q[i].hops < q[j].hops
	}
	return q[i].node < q[j].node
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) {
	*q = append(*q, x.(*item))
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}
