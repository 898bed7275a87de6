package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/noflyroute/internal/export"
	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/graph"
	"github.com/sells-group/noflyroute/internal/routeerr"
	"github.com/sells-group/noflyroute/internal/zone"
)

func TestRegion_Key(t *testing.T) {
	// "C" + combining cedilla normalises to the precomposed "Ç".
	decomposed := Region{Name: "C\u0327ankaya, Ankara, Turkey"}
	composed := Region{Name: " Çankaya, Ankara, Turkey"}
	assert.Equal(t, composed.Key(), decomposed.Key())
	assert.Equal(t, "çankaya, ankara, turkey", composed.Key())

	box := geo.BBox{MinLng: 32.8, MinLat: 39.9, MaxLng: 32.9, MaxLat: 40}
	withBox := Region{BBox: &box}
	assert.Equal(t, "@39.900000,32.800000:40.000000,32.900000", withBox.Key())
	assert.Equal(t, withBox.Key(), withBox.String())
}

const osmnxJSON = `{
	"directed": true,
	"multigraph": true,
	"graph": {"crs": "epsg:4326"},
	"nodes": [
		{"id": 101, "x": 32.85, "y": 39.911, "street_count": 3},
		{"id": "102", "x": 32.852, "y": 39.915},
		{"id": 103, "x": 32.855, "y": 39.92}
	],
	"links": [
		{"source": 101, "target": 102, "key": 0, "length": 480.2},
		{"source": 102, "target": 103, "key": 0, "length": 700.5,
		 "geometry": "LINESTRING (32.852 39.915, 32.853 39.918, 32.855 39.92)"},
		{"source": 103, "target": 101, "key": 0,
		 "geometry": [[32.855, 39.92], [32.85, 39.911]]}
	]
}`

func TestParseNodeLink_Osmnx(t *testing.T) {
	n, err := ParseNodeLink([]byte(osmnxJSON))
	require.NoError(t, err)
	require.Len(t, n.Nodes, 3)
	require.Len(t, n.Edges, 3)

	assert.Equal(t, graph.Node{ID: 102, Coord: geo.C(39.915, 32.852)}, n.Nodes[1])
	assert.Equal(t, []geo.Coordinate{geo.C(39.911, 32.85), geo.C(39.915, 32.852)}, n.Edges[0].Geometry)
	assert.Len(t, n.Edges[1].Geometry, 3)
	assert.Equal(t, 700.5, n.Edges[1].Length)
	assert.InDelta(t, geo.Distance(geo.C(39.92, 32.855), geo.C(39.911, 32.85)), n.Edges[2].Length, 1e-6)

	_, err = graph.Build(n.Nodes, n.Edges)
	require.NoError(t, err)
}

func TestParseNodeLink_NestedUndirected(t *testing.T) {
	data := `{"graph": {"directed": false,
		"nodes": [{"id": 1, "x": 0, "y": 0}, {"id": 2, "x": 0.001, "y": 0}],
		"edges": [{"source": 1, "target": 2, "length": 111.4}]}}`
	n, err := ParseNodeLink([]byte(data))
	require.NoError(t, err)
	require.Len(t, n.Edges, 2)
	assert.Equal(t, int64(2), n.Edges[1].From)
	assert.Equal(t, int64(1), n.Edges[1].To)
}

func TestParseNodeLink_Errors(t *testing.T) {
	for name, data := range map[string]string{
		"malformed":   `{"nodes": [`,
		"bad id":      `{"nodes": [{"id": "abc", "x": 0, "y": 0}]}`,
		"bad geom":    `{"nodes": [], "links": [{"source": 1, "target": 2, "geometry": "POINT (1 2)"}]}`,
		"bad source":  `{"nodes": [], "links": [{"source": true, "target": 2}]}`,
		"short coord": `{"nodes": [], "links": [{"source": 1, "target": 2, "geometry": [[1]]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseNodeLink([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	netPath := filepath.Join(dir, "network.json")
	zonesPath := filepath.Join(dir, "zones.geojson")
	require.NoError(t, os.WriteFile(netPath, []byte(osmnxJSON), 0o644))
	require.NoError(t, export.WriteGeoJSON(zonesPath, export.ExportZones([]zone.Zone{
		{ID: "way/1", Category: zone.Military, Ring: []geo.Coordinate{geo.C(0, 0), geo.C(0, 1), geo.C(1, 1)}},
		{ID: "way/2", Category: zone.School, Ring: []geo.Coordinate{geo.C(2, 2), geo.C(2, 3), geo.C(3, 3)}},
	})))

	p := NewFileProvider(netPath, zonesPath)
	ctx := context.Background()

	n, err := p.FetchNetwork(ctx, Region{})
	require.NoError(t, err)
	assert.Len(t, n.Nodes, 3)

	all, err := p.FetchZones(ctx, Region{}, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	schools, err := p.FetchZones(ctx, Region{}, []zone.Category{zone.School})
	require.NoError(t, err)
	require.Len(t, schools, 1)
	assert.Equal(t, "way/2", schools[0].ID)
}

func TestFileProvider_Missing(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "nope.json"), "")
	_, err := p.FetchNetwork(context.Background(), Region{})
	assert.ErrorIs(t, err, routeerr.AcquisitionError)
	assert.Equal(t, routeerr.StageAcquisition, routeerr.StageOf(err))

	zones, err := p.FetchZones(context.Background(), Region{}, nil)
	require.NoError(t, err)
	assert.Empty(t, zones)
}
