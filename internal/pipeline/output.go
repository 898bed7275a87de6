package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/noflyroute/internal/export"
)

// Format selects the on-disk export format.
type Format string

// Export formats.
const (
	FormatGeoJSON   Format = "geojson"
	FormatShapefile Format = "shapefile"
	FormatBoth      Format = "both"
)

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatGeoJSON, FormatShapefile, FormatBoth:
		return f, nil
	case "":
		return FormatGeoJSON, nil
	}
	return "", eris.Errorf("pipeline: unknown export format %q", s)
}

// Output names the export files. Names carry no extension.
type Output struct {
	Dir       string `mapstructure:"dir"`
	ZonesName string `mapstructure:"zones_name"`
	RouteName string `mapstructure:"route_name"`
	Format    Format `mapstructure:"format"`
}

// DefaultOutput writes export/yasakli_bolgeler and export/rota.
func DefaultOutput() Output {
	return Output{Dir: "export", ZonesName: "yasakli_bolgeler", RouteName: "rota", Format: FormatGeoJSON}
}

func (o Output) withDefaults() Output {
	d := DefaultOutput()
	if o.Dir == "" {
		o.Dir = d.Dir
	}
	if o.ZonesName == "" {
		o.ZonesName = d.ZonesName
	}
	if o.RouteName == "" {
		o.RouteName = d.RouteName
	}
	if o.Format == "" {
		o.Format = d.Format
	}
	return o
}

// WriteFiles writes the zone and route collections and returns the paths
// written.
func (r *PlanResult) WriteFiles(o Output) ([]string, error) {
	o = o.withDefaults()
	zones, err := writeCollection(o, o.ZonesName, r.ZonesFC, true)
	if err != nil {
		return nil, err
	}
	routes, err := writeCollection(o, o.RouteName, r.RouteFC, false)
	if err != nil {
		return nil, err
	}
	return append(zones, routes...), nil
}

// WriteZones writes only the zone collection.
func WriteZones(o Output, fc *geojson.FeatureCollection) ([]string, error) {
	o = o.withDefaults()
	return writeCollection(o, o.ZonesName, fc, true)
}

// writeCollection writes one collection. Shapefiles cannot hold zero
// features, so empty zone sets fall back to GeoJSON only.
func writeCollection(o Output, name string, fc *geojson.FeatureCollection, zones bool) ([]string, error) {
	var paths []string
	if o.Format == FormatGeoJSON || o.Format == FormatBoth || (zones && len(fc.Features) == 0) {
		p := filepath.Join(o.Dir, name+".geojson")
		if err := export.WriteGeoJSON(p, fc); err != nil {
			return nil, eris.Wrapf(err, "pipeline: write %s", name)
		}
		paths = append(paths, p)
	}
	if (o.Format == FormatShapefile || o.Format == FormatBoth) && len(fc.Features) > 0 {
		p := filepath.Join(o.Dir, name+".shp")
		if err := export.WriteShapefile(p, fc); err != nil {
			return nil, eris.Wrapf(err, "pipeline: write %s", name)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
