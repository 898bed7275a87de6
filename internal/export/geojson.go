// Package export turns exclusion zones and planned routes into GeoJSON
// feature collections (and shapefiles) for downstream GIS tools.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/graph"
	"github.com/sells-group/noflyroute/internal/route"
	"github.com/sells-group/noflyroute/internal/routeerr"
	"github.com/sells-group/noflyroute/internal/zone"
)

// Feature property keys.
const (
	PropID       = "id"
	PropCategory = "category"
	PropIndex    = "index"
	PropFrom     = "from"
	PropTo       = "to"
	PropLength   = "length_m"
)

// ExportZones builds one Polygon feature per zone, in input order.
func ExportZones(zones []zone.Zone) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(zones))}
	for _, z := range zones {
		ring := zone.Closed(z.Ring)
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       z.ID,
			Geometry: geom.NewPolygonFlat(geom.XY, flatten(ring), []int{2 * len(ring)}),
			Properties: map[string]interface{}{
				PropID:       z.ID,
				PropCategory: z.Category.String(),
			},
		})
	}
	return fc
}

// ExportRoute builds one LineString feature per consecutive edge of r, in
// route order. Routes with fewer than two nodes fail with EmptyRoute.
func ExportRoute(g *graph.Graph, r *route.Route) (*geojson.FeatureCollection, error) {
	if r == nil || len(r.Nodes) < 2 {
		n := 0
		if r != nil {
			n = len(r.Nodes)
		}
		return nil, routeerr.Newf(routeerr.EmptyRoute, routeerr.StageExport, "route",
			"route has %d node(s), need at least 2", n)
	}

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(r.Nodes)-1)}
	for i := 1; i < len(r.Nodes); i++ {
		from, to := r.Nodes[i-1], r.Nodes[i]
		edge, err := routeEdge(g, r, i-1)
		if err != nil {
			return nil, err
		}
		coords := edge.Geometry
		if len(coords) < 2 {
			a, okA := g.Node(from)
			b, okB := g.Node(to)
			if !okA || !okB {
				return nil, routeerr.Newf(routeerr.InvalidEndpoints, routeerr.StageExport,
					fmt.Sprintf("edge %d->%d", from, to), "node missing from graph")
			}
			coords = []geo.Coordinate{a.Coord, b.Coord}
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       fmt.Sprintf("%d", i-1),
			Geometry: geom.NewLineStringFlat(geom.XY, flatten(coords)),
			Properties: map[string]interface{}{
				PropIndex:  i - 1,
				PropFrom:   from,
				PropTo:     to,
				PropLength: edge.Length,
			},
		})
	}
	return fc, nil
}

// routeEdge returns the i-th edge of the route, preferring the edge recorded
// by the planner and falling back to the graph's shortest parallel edge.
func routeEdge(g *graph.Graph, r *route.Route, i int) (graph.Edge, error) {
	from, to := r.Nodes[i], r.Nodes[i+1]
	if len(r.Edges) == len(r.Nodes)-1 {
		e := r.Edges[i]
		if e.From == from && e.To == to {
			return e, nil
		}
	}
	if g != nil {
		if e, ok := g.Edge(from, to); ok {
			return e, nil
		}
	}
	return graph.Edge{}, routeerr.Newf(routeerr.InvalidEndpoints, routeerr.StageExport,
		fmt.Sprintf("edge %d->%d", from, to), "no edge connects consecutive route nodes")
}

// Encode marshals a collection. Property keys are emitted in sorted order and
// features in slice order, so identical inputs encode identically.
func Encode(fc *geojson.FeatureCollection) ([]byte, error) {
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, eris.Wrap(err, "export: encode feature collection")
	}
	return data, nil
}

// WriteGeoJSON encodes fc to path, creating parent directories.
func WriteGeoJSON(path string, fc *geojson.FeatureCollection) error {
	data, err := Encode(fc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "export: create directory for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}

// ParseZones decodes a feature collection back into zones. Polygon and
// MultiPolygon features become zones, and LineString runways are covered by
// LineZones using their "width" property. Other geometries, and features with
// neither a "category" property nor a recognised OpenStreetMap tag, are
// skipped. Ids come from the feature id, then the "id" property; MultiPolygon
// parts get a "#n" suffix.
func ParseZones(data []byte) ([]zone.Zone, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "export: decode zones")
	}

	var (
		zones   []zone.Zone
		skipped int
	)
	skip := func(id, reason string) {
		skipped++
		zap.L().Debug("export: skipping zone feature", zap.String("id", id), zap.String("reason", reason))
	}
	for i, f := range fc.Features {
		id := featureID(f, i)
		cat, ok := featureCategory(f)
		if !ok {
			skip(id, "no category")
			continue
		}

		switch g := f.Geometry.(type) {
		case *geom.Polygon:
			ring, err := outerRing(g)
			if err != nil {
				return nil, eris.Wrapf(err, "export: zone %s", id)
			}
			zones = append(zones, zone.Zone{ID: id, Category: cat, Ring: ring})
		case *geom.MultiPolygon:
			for j := 0; j < g.NumPolygons(); j++ {
				ring, err := outerRing(g.Polygon(j))
				if err != nil {
					return nil, eris.Wrapf(err, "export: zone %s part %d", id, j)
				}
				zones = append(zones, zone.Zone{ID: fmt.Sprintf("%s#%d", id, j), Category: cat, Ring: ring})
			}
		case *geom.LineString:
			if cat != zone.Runway {
				skip(id, "line is not a runway")
				continue
			}
			zones = append(zones, zone.LineZones(id, cat, lineCoords(g), zone.ParseWidth(fmt.Sprint(f.Properties["width"])))...)
		default:
			skip(id, fmt.Sprintf("unsupported geometry %T", f.Geometry))
		}
	}
	if skipped > 0 {
		zap.L().Warn("export: skipped zone features",
			zap.Int("skipped", skipped),
			zap.Int("zones", len(zones)),
		)
	}
	return zones, nil
}

func featureID(f *geojson.Feature, i int) string {
	if f.ID != "" {
		return f.ID
	}
	if v, ok := f.Properties[PropID]; ok {
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("feature-%d", i)
}

func featureCategory(f *geojson.Feature) (zone.Category, bool) {
	if v, ok := f.Properties[PropCategory].(string); ok {
		cat, err := zone.ParseCategory(v)
		return cat, err == nil
	}
	return zone.Classify(func(key string) string {
		s, _ := f.Properties[key].(string)
		return s
	})
}

func outerRing(p *geom.Polygon) ([]geo.Coordinate, error) {
	if p.NumLinearRings() == 0 {
		return nil, eris.New("polygon has no rings")
	}
	coords := p.LinearRing(0).Coords()
	if len(coords) < 3 {
		return nil, eris.Errorf("outer ring has %d vertices", len(coords))
	}
	out := make([]geo.Coordinate, len(coords))
	for i, c := range coords {
		out[i] = geo.C(c.Y(), c.X())
	}
	return out, nil
}

func lineCoords(ls *geom.LineString) []geo.Coordinate {
	out := make([]geo.Coordinate, 0, ls.NumCoords())
	for _, c := range ls.Coords() {
		out = append(out, geo.C(c.Y(), c.X()))
	}
	return out
}

// flatten converts coordinates to go-geom XY flat coordinates (lon, lat).
func flatten(coords []geo.Coordinate) []float64 {
	flat := make([]float64, 0, 2*len(coords))
	for _, c := range coords {
		flat = append(flat, c.Lon, c.Lat)
	}
	return flat
}
