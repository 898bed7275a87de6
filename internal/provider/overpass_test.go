package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/resilience"
	"github.com/sells-group/noflyroute/internal/routeerr"
	"github.com/sells-group/noflyroute/internal/zone"
)

const networkXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="Overpass API">
  <node id="1" lat="39.910" lon="32.850"/>
  <node id="2" lat="39.911" lon="32.850"/>
  <node id="3" lat="39.912" lon="32.851"/>
  <node id="9" lat="39.999" lon="32.999"/>
  <way id="100">
    <nd ref="1"/><nd ref="2"/><nd ref="3"/>
    <tag k="highway" v="residential"/>
  </way>
  <way id="101">
    <nd ref="3"/><nd ref="1"/>
    <tag k="highway" v="primary"/><tag k="oneway" v="yes"/>
  </way>
  <way id="102">
    <nd ref="3"/><nd ref="404"/>
    <tag k="highway" v="tertiary"/>
  </way>
</osm>`

const zonesXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="Overpass API">
  <node id="1" lat="39.90" lon="32.80"/>
  <node id="2" lat="39.90" lon="32.81"/>
  <node id="3" lat="39.91" lon="32.81"/>
  <node id="4" lat="39.95" lon="32.90"/>
  <way id="500">
    <nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="1"/>
    <tag k="landuse" v="military"/>
  </way>
  <way id="501">
    <nd ref="1"/><nd ref="4"/>
    <tag k="aeroway" v="runway"/><tag k="width" v="60"/>
  </way>
  <way id="502">
    <nd ref="3"/><nd ref="2"/><nd ref="1"/><nd ref="3"/>
    <tag k="amenity" v="school"/>
  </way>
</osm>`

func fastRetry() resilience.Backoff {
	return resilience.Backoff{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}
}

func overpassServer(t *testing.T, handler http.HandlerFunc) *OverpassProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOverpass(OverpassConfig{URL: srv.URL, Rate: 1000, Retry: fastRetry()})
}

func TestOverpass_FetchNetwork(t *testing.T) {
	var query string
	p := overpassServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		query = r.PostForm.Get("data")
		_, _ = w.Write([]byte(networkXML))
	})

	n, err := p.FetchNetwork(context.Background(), Region{Name: "Çankaya, Ankara, Turkey"})
	require.NoError(t, err)

	assert.Contains(t, query, `area["name"="Çankaya"]["boundary"="administrative"]->.a;`)
	assert.Contains(t, query, `(area.a)`)
	assert.Contains(t, query, `["highway"!~"abandoned|`)

	require.Len(t, n.Nodes, 3, "unused and missing nodes are dropped")
	assert.Equal(t, []int64{1, 2, 3}, []int64{n.Nodes[0].ID, n.Nodes[1].ID, n.Nodes[2].ID})
	require.Len(t, n.Edges, 5)

	var oneway int
	for _, e := range n.Edges {
		if e.From == 1 && e.To == 3 {
			t.Fatal("oneway 3->1 must not produce 1->3")
		}
		if e.From == 3 && e.To == 1 {
			oneway++
		}
		assert.InDelta(t, geo.PathLength(e.Geometry), e.Length, 1e-9)
	}
	assert.Equal(t, 1, oneway)
}

func TestOverpass_FetchZones_BBox(t *testing.T) {
	var query string
	p := overpassServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		query = r.PostForm.Get("data")
		_, _ = w.Write([]byte(zonesXML))
	})

	box := geo.BBox{MinLng: 32.7, MinLat: 39.8, MaxLng: 33, MaxLat: 40}
	zones, err := p.FetchZones(context.Background(), Region{BBox: &box}, []zone.Category{zone.Military, zone.Runway})
	require.NoError(t, err)

	assert.Contains(t, query, `way["landuse"="military"](39.8,32.7,40,33);`)
	assert.Contains(t, query, `way["aeroway"="runway"](39.8,32.7,40,33);`)
	assert.Contains(t, query, `rel["type"="multipolygon"]["landuse"="military"](39.8,32.7,40,33);`)
	assert.NotContains(t, query, "amenity")
	assert.NotContains(t, query, "area.a")

	require.Len(t, zones, 2, "unwanted school is skipped")
	assert.Equal(t, "way/500", zones[0].ID)
	assert.Equal(t, zone.Military, zones[0].Category)
	assert.Len(t, zones[0].Ring, 4)

	assert.Equal(t, "way/501", zones[1].ID, "open runway is widened into a zone")
	assert.Equal(t, zone.Runway, zones[1].Category)
	assert.Len(t, zones[1].Ring, 5)
}

// multipolygonXML is a military area mapped as a relation: one outer ring
// split across two ways (the second drawn backwards), a second outer ring
// as a single closed way, an inner ring, and a broken relation whose outer
// chain never closes.
const multipolygonXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="Overpass API">
  <node id="1" lat="39.90" lon="32.80"/>
  <node id="2" lat="39.90" lon="32.90"/>
  <node id="3" lat="40.00" lon="32.90"/>
  <node id="4" lat="40.00" lon="32.80"/>
  <node id="5" lat="39.94" lon="32.84"/>
  <node id="6" lat="39.94" lon="32.86"/>
  <node id="7" lat="39.96" lon="32.85"/>
  <node id="8" lat="40.10" lon="33.00"/>
  <node id="9" lat="40.10" lon="33.10"/>
  <node id="10" lat="40.20" lon="33.05"/>
  <way id="600"><nd ref="1"/><nd ref="2"/><nd ref="3"/></way>
  <way id="601"><nd ref="1"/><nd ref="4"/><nd ref="3"/></way>
  <way id="602"><nd ref="5"/><nd ref="6"/><nd ref="7"/><nd ref="5"/></way>
  <way id="603"><nd ref="8"/><nd ref="9"/><nd ref="10"/><nd ref="8"/></way>
  <way id="604"><nd ref="8"/><nd ref="9"/></way>
  <relation id="900">
    <member type="way" ref="600" role="outer"/>
    <member type="way" ref="601" role="outer"/>
    <member type="way" ref="602" role="inner"/>
    <member type="way" ref="603" role="outer"/>
    <tag k="type" v="multipolygon"/>
    <tag k="landuse" v="military"/>
  </relation>
  <relation id="901">
    <member type="way" ref="604" role="outer"/>
    <tag k="type" v="multipolygon"/>
    <tag k="landuse" v="military"/>
  </relation>
  <relation id="902">
    <member type="way" ref="603" role="outer"/>
    <tag k="type" v="route"/>
    <tag k="landuse" v="military"/>
  </relation>
</osm>`

func TestOverpass_FetchZones_Multipolygon(t *testing.T) {
	p := overpassServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(multipolygonXML))
	})

	zones, err := p.FetchZones(context.Background(), Region{Name: "Etimesgut"}, []zone.Category{zone.Military})
	require.NoError(t, err)
	require.Len(t, zones, 2)

	assert.Equal(t, "relation/900#0", zones[0].ID)
	assert.Equal(t, zone.Military, zones[0].Category)
	assert.Equal(t, []geo.Coordinate{
		geo.C(39.90, 32.80), geo.C(39.90, 32.90), geo.C(40.00, 32.90), geo.C(40.00, 32.80), geo.C(39.90, 32.80),
	}, zones[0].Ring)
	assert.Equal(t, "relation/900#1", zones[1].ID)
	assert.Len(t, zones[1].Ring, 4)

	idx, err := zone.Load(zones)
	require.NoError(t, err)
	assert.True(t, idx.Intersects(geo.C(39.95, 32.70), geo.C(39.95, 33.00)), "crossing the relation is caught")
}

func TestOverpass_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	p := overpassServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(networkXML))
	})

	n, err := p.FetchNetwork(context.Background(), Region{Name: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, n.Edges)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOverpass_PermanentFailure(t *testing.T) {
	var calls atomic.Int32
	p := overpassServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "parse error: line 1", http.StatusBadRequest)
	})

	_, err := p.FetchZones(context.Background(), Region{Name: "x"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, routeerr.AcquisitionError)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOverpass_BadXML(t *testing.T) {
	p := overpassServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<osm><node id="))
	})
	_, err := p.FetchNetwork(context.Background(), Region{Name: "x"})
	assert.ErrorIs(t, err, routeerr.AcquisitionError)
}

func TestOnewayDirection(t *testing.T) {
	tests := []struct {
		tags string
		want int
	}{
		{"oneway=yes", 1},
		{"oneway=-1", -1},
		{"oneway=no,highway=motorway", 0},
		{"junction=roundabout", 1},
		{"highway=motorway", 1},
		{"highway=residential", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, onewayDirection(parseTags(tt.tags)), tt.tags)
	}
}

func TestNewOverpass_Defaults(t *testing.T) {
	p := NewOverpass(OverpassConfig{})
	assert.Equal(t, DefaultOverpassURL, p.url)
	assert.Equal(t, "[out:xml][timeout:180];\n", p.header())
	assert.True(t, strings.HasPrefix(p.userAgent, "noflyroute"))
}

func parseTags(s string) osm.Tags {
	var tags osm.Tags
	for _, kv := range strings.Split(s, ",") {
		k, v, _ := strings.Cut(kv, "=")
		tags = append(tags, osm.Tag{Key: k, Value: v})
	}
	return tags
}
