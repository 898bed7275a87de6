package export

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/graph"
	"github.com/sells-group/noflyroute/internal/route"
)

// SRID of all exported geometry.
const SRID = 4326

// RoutePath joins the edge geometries of r into one coordinate sequence,
// dropping the vertex shared between consecutive edges.
func RoutePath(g *graph.Graph, r *route.Route) ([]geo.Coordinate, error) {
	if r == nil || len(r.Nodes) < 2 {
		return nil, nil
	}
	var path []geo.Coordinate
	for i := 0; i < len(r.Nodes)-1; i++ {
		e, err := routeEdge(g, r, i)
		if err != nil {
			return nil, err
		}
		coords := e.Geometry
		if len(path) > 0 && len(coords) > 0 && path[len(path)-1] == coords[0] {
			coords = coords[1:]
		}
		path = append(path, coords...)
	}
	return path, nil
}

// LineWKB encodes a coordinate sequence as a little-endian EWKB LineString
// with SRID 4326. Fewer than two coordinates encode as nil.
func LineWKB(coords []geo.Coordinate) ([]byte, error) {
	if len(coords) < 2 {
		return nil, nil
	}
	ls := geom.NewLineStringFlat(geom.XY, flatten(coords)).SetSRID(SRID)
	data, err := ewkb.Marshal(ls, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "export: encode WKB")
	}
	return data, nil
}
