// Package pipeline wires acquisition, index and graph construction, route
// planning, export, and run history into one flow.
package pipeline

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/noflyroute/internal/export"
	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/graph"
	"github.com/sells-group/noflyroute/internal/provider"
	"github.com/sells-group/noflyroute/internal/route"
	"github.com/sells-group/noflyroute/internal/routeerr"
	"github.com/sells-group/noflyroute/internal/store"
	"github.com/sells-group/noflyroute/internal/zone"
)

// clipPad widens the route bbox when selecting nearby zones.
const clipPad = 0.005 // degrees, roughly 500 m

// Observer receives one call per planning request.
type Observer interface {
	Observe(policy string, err error, d time.Duration)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore records every planning run.
func WithStore(st store.Store) Option {
	return func(p *Pipeline) { p.store = st }
}

// WithObserver reports planning outcomes, typically to metrics.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithEngineOptions passes options through to every route.Engine.
func WithEngineOptions(opts ...route.Option) Option {
	return func(p *Pipeline) { p.engineOpts = append(p.engineOpts, opts...) }
}

// Pipeline builds Scenes from a provider.
type Pipeline struct {
	provider   provider.Provider
	store      store.Store
	observer   Observer
	engineOpts []route.Option
}

// New creates a Pipeline over prov.
func New(prov provider.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{provider: prov}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scene is a ready-to-plan region: an immutable graph and zone index. It is
// safe for concurrent Plan calls.
type Scene struct {
	Region provider.Region
	Graph  *graph.Graph
	Zones  *zone.Index

	engine   *route.Engine
	pipeline *Pipeline
}

// Prepare fetches the network and zones for region concurrently and builds
// the zone index and road graph.
func (p *Pipeline) Prepare(ctx context.Context, region provider.Region, cats []zone.Category) (*Scene, error) {
	log := zap.L().With(zap.String("region", region.String()))
	start := time.Now()

	var (
		network provider.Network
		zones   []zone.Zone
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		network, err = p.provider.FetchNetwork(gctx, region)
		return err
	})
	g.Go(func() error {
		var err error
		zones, err = p.provider.FetchZones(gctx, region, cats)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, routeerr.Acquisition(err, region.String())
	}

	idx, err := zone.Load(zones)
	if err != nil {
		return nil, err
	}
	rg, err := graph.Build(network.Nodes, network.Edges)
	if err != nil {
		return nil, err
	}

	log.Info("pipeline: scene ready",
		zap.Int("nodes", rg.Len()),
		zap.Int("edges", rg.EdgeCount()),
		zap.Int("zones", idx.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Scene{
		Region:   region,
		Graph:    rg,
		Zones:    idx,
		engine:   route.NewEngine(rg, idx, p.engineOpts...),
		pipeline: p,
	}, nil
}

// PlanRequest is one origin/destination query.
type PlanRequest struct {
	Origin      geo.Coordinate
	Destination geo.Coordinate
	Constraint  route.Constraint
	// ClipZones limits the exported zones to those near the route.
	ClipZones bool
}

// PlanResult is a planned route with its export-ready collections.
type PlanResult struct {
	RunID    string
	Route    *route.Route
	Path     []geo.Coordinate
	RouteFC  *geojson.FeatureCollection
	ZonesFC  *geojson.FeatureCollection
	Duration time.Duration
}

// Plan routes req across the scene, exports the result, and records the
// run when the pipeline has a store. Recording failures are logged only.
func (s *Scene) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	start := time.Now()
	res, err := s.plan(ctx, req)
	elapsed := time.Since(start)

	p := s.pipeline
	if p.observer != nil {
		p.observer.Observe(req.Constraint.Policy.String(), err, elapsed)
	}
	runID := s.record(ctx, req, res, err, elapsed)
	if err != nil {
		return nil, err
	}
	res.RunID = runID
	res.Duration = elapsed
	return res, nil
}

func (s *Scene) plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	r, err := s.engine.Plan(ctx, req.Origin, req.Destination, req.Constraint)
	if err != nil {
		return nil, err
	}
	fc, err := export.ExportRoute(s.Graph, r)
	if err != nil {
		return nil, err
	}
	path, err := export.RoutePath(s.Graph, r)
	if err != nil {
		return nil, err
	}

	zones := s.Zones.Zones()
	if req.ClipZones {
		zones = slices.Collect(s.Zones.Overlapping(geo.BBoxOf(path...).Pad(clipPad)))
	}
	return &PlanResult{
		Route:   r,
		Path:    path,
		RouteFC: fc,
		ZonesFC: export.ExportZones(zones),
	}, nil
}

func (s *Scene) record(ctx context.Context, req PlanRequest, res *PlanResult, planErr error, d time.Duration) string {
	st := s.pipeline.store
	if st == nil {
		return ""
	}
	run := &store.Run{
		Region:      s.Region.String(),
		Origin:      req.Origin,
		Destination: req.Destination,
		Constraint:  req.Constraint.String(),
		Status:      store.RunStatusOK,
		Duration:    d,
	}
	if planErr != nil {
		run.Status = store.RunStatusFailed
		run.ErrorKind = string(routeerr.KindOf(planErr))
		run.Error = planErr.Error()
	} else {
		run.Nodes = res.Route.Nodes
		run.LengthM = res.Route.Length
		run.Cost = res.Route.Cost
		wkb, err := export.LineWKB(res.Path)
		if err != nil {
			zap.L().Warn("pipeline: encode route geometry", zap.Error(err))
		}
		run.Geometry = wkb
	}

	// Record even when the request context is already done.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := st.CreateRun(recCtx, run); err != nil {
		zap.L().Warn("pipeline: record run", zap.Error(eris.Wrap(err, "pipeline: record run")))
		return ""
	}
	return run.ID
}

// ZonesFC exports every zone in the scene.
func (s *Scene) ZonesFC() *geojson.FeatureCollection {
	return export.ExportZones(s.Zones.Zones())
}
