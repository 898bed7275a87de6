package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// dBase limits field names to 10 characters.
const maxFieldName = 10

// WriteShapefile writes a homogeneous collection of Polygon or LineString
// features to path (.shp plus its .shx and .dbf siblings). Attribute columns
// are the sorted property keys of the first feature.
func WriteShapefile(path string, fc *geojson.FeatureCollection) error {
	if fc == nil || len(fc.Features) == 0 {
		return eris.New("export: shapefile needs at least one feature")
	}

	shapeType, err := shapeTypeOf(fc.Features[0].Geometry)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "export: create directory for %s", path)
	}

	w, err := shp.Create(path, shapeType)
	if err != nil {
		return eris.Wrapf(err, "export: create shapefile %s", path)
	}
	defer w.Close()

	keys := propertyKeys(fc.Features[0])
	fields := make([]shp.Field, len(keys))
	for i, k := range keys {
		fields[i] = fieldFor(k, fc.Features[0].Properties[k])
	}
	if err := w.SetFields(fields); err != nil {
		return eris.Wrap(err, "export: set shapefile fields")
	}

	for _, f := range fc.Features {
		shape, err := toShape(f.Geometry, shapeType)
		if err != nil {
			return eris.Wrapf(err, "export: feature %s", f.ID)
		}
		row := int(w.Write(shape))
		for i, k := range keys {
			if err := w.WriteAttribute(row, i, attribute(f.Properties[k])); err != nil {
				return eris.Wrapf(err, "export: write attribute %s", k)
			}
		}
	}

	zap.L().Debug("export: wrote shapefile",
		zap.String("path", path),
		zap.Int("features", len(fc.Features)),
	)
	return nil
}

func shapeTypeOf(g geom.T) (shp.ShapeType, error) {
	switch g.(type) {
	case *geom.Polygon:
		return shp.POLYGON, nil
	case *geom.LineString:
		return shp.POLYLINE, nil
	default:
		return 0, eris.Errorf("export: unsupported shapefile geometry %T", g)
	}
}

func toShape(g geom.T, want shp.ShapeType) (shp.Shape, error) {
	switch g := g.(type) {
	case *geom.Polygon:
		if want != shp.POLYGON {
			return nil, eris.New("mixed geometry types")
		}
		parts := make([][]shp.Point, 0, g.NumLinearRings())
		for i := 0; i < g.NumLinearRings(); i++ {
			parts = append(parts, points(g.LinearRing(i).Coords()))
		}
		poly := shp.Polygon(*shp.NewPolyLine(parts))
		return &poly, nil
	case *geom.LineString:
		if want != shp.POLYLINE {
			return nil, eris.New("mixed geometry types")
		}
		return shp.NewPolyLine([][]shp.Point{points(g.Coords())}), nil
	default:
		return nil, eris.Errorf("unsupported geometry %T", g)
	}
}

func points(coords []geom.Coord) []shp.Point {
	out := make([]shp.Point, len(coords))
	for i, c := range coords {
		out[i] = shp.Point{X: c.X(), Y: c.Y()}
	}
	return out
}

func propertyKeys(f *geojson.Feature) []string {
	keys := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fieldFor(name string, sample any) shp.Field {
	if len(name) > maxFieldName {
		name = name[:maxFieldName]
	}
	switch sample.(type) {
	case int, int32, int64:
		return shp.NumberField(name, 20)
	case float32, float64:
		return shp.FloatField(name, 24, 3)
	default:
		return shp.StringField(name, 80)
	}
}

func attribute(v any) any {
	switch v := v.(type) {
	case nil:
		return ""
	case int, float64, string:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float32:
		return float64(v)
	default:
		return fmt.Sprint(v)
	}
}
