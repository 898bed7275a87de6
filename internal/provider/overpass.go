package provider

import (
	"cmp"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/paulmach/osm"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/graph"
	"github.com/sells-group/noflyroute/internal/resilience"
	"github.com/sells-group/noflyroute/internal/routeerr"
	"github.com/sells-group/noflyroute/internal/zone"
)

// DefaultOverpassURL is the public Overpass interpreter.
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// driveFilter keeps ways passable by private cars, matching osmnx's "drive"
// network type.
const driveFilter = `["highway"]["area"!~"yes"]` +
	`["highway"!~"abandoned|bridleway|bus_guideway|construction|corridor|cycleway|elevator|escalator|footway|no|path|pedestrian|planned|platform|proposed|raceway|razed|service|steps|track"]` +
	`["motor_vehicle"!~"no"]["motorcar"!~"no"]` +
	`["service"!~"alley|driveway|emergency_access|parking|parking_aisle|private"]`

// OverpassConfig configures the Overpass client.
type OverpassConfig struct {
	URL       string             `mapstructure:"url"`
	Timeout   time.Duration      `mapstructure:"timeout"`
	Rate      float64            `mapstructure:"rate"` // requests per second
	UserAgent string             `mapstructure:"user_agent"`
	Retry     resilience.Backoff `mapstructure:"retry"`
}

// OverpassOption customises an OverpassProvider.
type OverpassOption func(*OverpassProvider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) OverpassOption {
	return func(p *OverpassProvider) { p.client = c }
}

// OverpassProvider queries the OpenStreetMap Overpass API.
type OverpassProvider struct {
	url       string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	limiter   *rate.Limiter
	retry     resilience.Backoff
}

// NewOverpass creates a provider. Zero config fields take defaults: the
// public endpoint, a 3 minute server timeout and one request per second.
func NewOverpass(cfg OverpassConfig, opts ...OverpassOption) *OverpassProvider {
	if cfg.URL == "" {
		cfg.URL = DefaultOverpassURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "noflyroute/1.0"
	}
	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetries("overpass")
	}

	p := &OverpassProvider{
		url:       cfg.URL,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		client:    &http.Client{Timeout: cfg.Timeout + 30*time.Second},
		limiter:   rate.NewLimiter(rate.Limit(cfg.Rate), 1),
		retry:     retry,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OverpassProvider) FetchNetwork(ctx context.Context, region Region) (Network, error) {
	q := p.header() + areaSelector(region) +
		"way" + driveFilter + searchFilter(region) + ";\n(._;>;);\nout body;"
	doc, err := p.query(ctx, q)
	if err != nil {
		return Network{}, routeerr.Acquisition(err, "network "+region.String())
	}
	n := networkFromOSM(doc)
	zap.L().Info("provider: fetched network",
		zap.String("region", region.String()),
		zap.Int("nodes", len(n.Nodes)),
		zap.Int("edges", len(n.Edges)),
	)
	return n, nil
}

func (p *OverpassProvider) FetchZones(ctx context.Context, region Region, cats []zone.Category) ([]zone.Zone, error) {
	rules := zone.TagRules(cats)
	if len(rules) == 0 {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString(p.header())
	b.WriteString(areaSelector(region))
	b.WriteString("(\n")
	for _, r := range rules {
		fmt.Fprintf(&b, "  way[%q=%q]%s;\n", r.Key, r.Value, searchFilter(region))
		fmt.Fprintf(&b, "  rel[\"type\"=\"multipolygon\"][%q=%q]%s;\n", r.Key, r.Value, searchFilter(region))
	}
	b.WriteString(");\n(._;>;);\nout body;")

	doc, err := p.query(ctx, b.String())
	if err != nil {
		return nil, routeerr.Acquisition(err, "zones "+region.String())
	}
	zones := zonesFromOSM(doc, cats)
	zap.L().Info("provider: fetched zones",
		zap.String("region", region.String()),
		zap.Int("zones", len(zones)),
	)
	return zones, nil
}

func (p *OverpassProvider) header() string {
	return fmt.Sprintf("[out:xml][timeout:%d];\n", int(p.timeout.Seconds()))
}

// areaSelector binds the named administrative area to .a. Only the first
// comma-separated part of the name is matched.
func areaSelector(r Region) string {
	if r.BBox != nil {
		return ""
	}
	name := strings.TrimSpace(strings.Split(r.Name, ",")[0])
	return fmt.Sprintf("area[%q=%q][\"boundary\"=\"administrative\"]->.a;\n", "name", name)
}

// searchFilter is the spatial filter, bbox order (south,west,north,east).
func searchFilter(r Region) string {
	if b := r.BBox; b != nil {
		return fmt.Sprintf("(%g,%g,%g,%g)", b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
	}
	return "(area.a)"
}

func (p *OverpassProvider) query(ctx context.Context, q string) (*osm.OSM, error) {
	return resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*osm.OSM, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "provider: rate limit wait")
		}
		form := url.Values{"data": {q}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, eris.Wrap(err, "provider: build overpass request")
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", p.userAgent)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "provider: overpass request")
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, &resilience.StatusError{URL: p.url, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}

		var doc osm.OSM
		if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, eris.Wrap(err, "provider: decode overpass xml")
		}
		return &doc, nil
	})
}

// onewayDirection returns 1 for forward-only ways, -1 for reverse-only and 0
// for two-way roads.
func onewayDirection(tags osm.Tags) int {
	switch tags.Find("oneway") {
	case "yes", "true", "1":
		return 1
	case "-1", "reverse":
		return -1
	case "no", "false", "0":
		return 0
	}
	if tags.Find("junction") == "roundabout" || tags.Find("highway") == "motorway" {
		return 1
	}
	return 0
}

// networkFromOSM splits every way into one edge per consecutive node pair.
// Node references missing from the document drop the adjoining segments.
func networkFromOSM(doc *osm.OSM) Network {
	coords := make(map[osm.NodeID]geo.Coordinate, len(doc.Nodes))
	for _, n := range doc.Nodes {
		coords[n.ID] = geo.C(n.Lat, n.Lon)
	}

	used := make(map[osm.NodeID]bool)
	var edges []graph.Edge
	for _, w := range doc.Ways {
		dir := onewayDirection(w.Tags)
		for i := 1; i < len(w.Nodes); i++ {
			a, b := w.Nodes[i-1].ID, w.Nodes[i].ID
			ca, okA := coords[a]
			cb, okB := coords[b]
			if !okA || !okB || a == b {
				continue
			}
			used[a], used[b] = true, true
			fwd := graph.Edge{From: int64(a), To: int64(b), Geometry: []geo.Coordinate{ca, cb}, Length: geo.Distance(ca, cb)}
			rev := graph.Edge{From: int64(b), To: int64(a), Geometry: []geo.Coordinate{cb, ca}, Length: fwd.Length}
			switch dir {
			case 1:
				edges = append(edges, fwd)
			case -1:
				edges = append(edges, rev)
			default:
				edges = append(edges, fwd, rev)
			}
		}
	}

	nodes := make([]graph.Node, 0, len(used))
	for id := range used {
		nodes = append(nodes, graph.Node{ID: int64(id), Coord: coords[id]})
	}
	slices.SortFunc(nodes, func(a, b graph.Node) int { return cmp.Compare(a.ID, b.ID) })
	return Network{Nodes: nodes, Edges: edges}
}

// zonesFromOSM keeps closed ways and multipolygon relations whose tags match
// a wanted category. Open runway ways are widened by their width tag. Each
// outer ring of a relation becomes its own zone; inner rings are ignored, so
// a hole is treated as part of the zone.
func zonesFromOSM(doc *osm.OSM, cats []zone.Category) []zone.Zone {
	coords := make(map[osm.NodeID]geo.Coordinate, len(doc.Nodes))
	for _, n := range doc.Nodes {
		coords[n.ID] = geo.C(n.Lat, n.Lon)
	}
	ways := make(map[osm.WayID]*osm.Way, len(doc.Ways))
	for _, w := range doc.Ways {
		ways[w.ID] = w
	}

	var zones []zone.Zone
	for _, w := range doc.Ways {
		cat, ok := zone.Classify(w.Tags.Find)
		if !ok || !wantCategory(cats, cat) {
			continue
		}
		line, ok := wayCoords(w.Nodes, coords)
		if !ok {
			continue
		}
		id := fmt.Sprintf("way/%d", w.ID)
		switch {
		case len(w.Nodes) >= 4 && w.Nodes[0].ID == w.Nodes[len(w.Nodes)-1].ID:
			zones = append(zones, zone.Zone{ID: id, Category: cat, Ring: line})
		case cat == zone.Runway:
			zones = append(zones, zone.LineZones(id, cat, line, zone.ParseWidth(w.Tags.Find("width")))...)
		}
	}

	for _, r := range doc.Relations {
		if r.Tags.Find("type") != "multipolygon" {
			continue
		}
		cat, ok := zone.Classify(r.Tags.Find)
		if !ok || !wantCategory(cats, cat) {
			continue
		}
		rings := outerRings(r, ways)
		var n int
		for _, ring := range rings {
			line, ok := wayCoords(ring, coords)
			if !ok {
				continue
			}
			zones = append(zones, zone.Zone{ID: fmt.Sprintf("relation/%d#%d", r.ID, n), Category: cat, Ring: line})
			n++
		}
		if n < len(rings) || len(rings) == 0 {
			zap.L().Debug("provider: incomplete multipolygon",
				zap.Int64("relation", int64(r.ID)),
				zap.Int("rings", len(rings)),
				zap.Int("kept", n),
			)
		}
	}
	return zones
}

// wayCoords resolves node references, failing when any node is missing.
func wayCoords(nodes osm.WayNodes, coords map[osm.NodeID]geo.Coordinate) ([]geo.Coordinate, bool) {
	out := make([]geo.Coordinate, 0, len(nodes))
	for _, wn := range nodes {
		c, ok := coords[wn.ID]
		if !ok {
			return nil, false
		}
		out = append(out, c)
	}
	return out, len(out) >= 2
}

// outerRings joins the outer member ways of a multipolygon end to end into
// closed rings. Members with an empty role count as outer. Chains that never
// close are dropped.
func outerRings(r *osm.Relation, ways map[osm.WayID]*osm.Way) []osm.WayNodes {
	var parts []osm.WayNodes
	for _, m := range r.Members {
		if m.Type != osm.TypeWay || (m.Role != "outer" && m.Role != "") {
			continue
		}
		if w, ok := ways[osm.WayID(m.Ref)]; ok && len(w.Nodes) >= 2 {
			parts = append(parts, w.Nodes)
		}
	}

	used := make([]bool, len(parts))
	var rings []osm.WayNodes
	for i := range parts {
		if used[i] {
			continue
		}
		used[i] = true
		ring := slices.Clone(parts[i])
		for ring[0].ID != ring[len(ring)-1].ID {
			next := -1
			for j := range parts {
				if used[j] {
					continue
				}
				switch ring[len(ring)-1].ID {
				case parts[j][0].ID:
					ring = append(ring, parts[j][1:]...)
					next = j
				case parts[j][len(parts[j])-1].ID:
					rev := slices.Clone(parts[j])
					slices.Reverse(rev)
					ring = append(ring, rev[1:]...)
					next = j
				}
				if next >= 0 {
					break
				}
			}
			if next < 0 {
				break
			}
			used[next] = true
		}
		if len(ring) >= 4 && ring[0].ID == ring[len(ring)-1].ID {
			rings = append(rings, ring)
		}
	}
	return rings
}
