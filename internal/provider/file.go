package provider

import (
	"context"
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/sells-group/noflyroute/internal/export"
	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/graph"
	"github.com/sells-group/noflyroute/internal/routeerr"
	"github.com/sells-group/noflyroute/internal/zone"
)

// FileProvider reads a network saved as osmnx/networkx node-link JSON and
// zones saved as a GeoJSON feature collection. The region is ignored.
type FileProvider struct {
	NetworkPath string
	ZonesPath   string
}

// NewFileProvider returns a provider over the two files. An empty zonesPath
// yields no zones.
func NewFileProvider(networkPath, zonesPath string) *FileProvider {
	return &FileProvider{NetworkPath: networkPath, ZonesPath: zonesPath}
}

// nodeLink is networkx node_link_data output. osmnx wraps it under "graph";
// networkx 3.4+ writes "edges" instead of "links".
type nodeLink struct {
	Directed *bool          `json:"directed"`
	Nodes    []nodeLinkNode `json:"nodes"`
	Links    []nodeLinkEdge `json:"links"`
	Edges    []nodeLinkEdge `json:"edges"`
	Graph    *struct {
		Directed *bool          `json:"directed"`
		Nodes    []nodeLinkNode `json:"nodes"`
		Links    []nodeLinkEdge `json:"links"`
		Edges    []nodeLinkEdge `json:"edges"`
	} `json:"graph"`
}

type nodeLinkNode struct {
	ID json.RawMessage `json:"id"`
	X  float64         `json:"x"`
	Y  float64         `json:"y"`
}

type nodeLinkEdge struct {
	Source   json.RawMessage `json:"source"`
	Target   json.RawMessage `json:"target"`
	Length   *float64        `json:"length"`
	Geometry json.RawMessage `json:"geometry"`
}

func (p *FileProvider) FetchNetwork(_ context.Context, _ Region) (Network, error) {
	data, err := os.ReadFile(p.NetworkPath)
	if err != nil {
		return Network{}, routeerr.Acquisition(eris.Wrap(err, "provider: read network"), p.NetworkPath)
	}
	n, err := ParseNodeLink(data)
	if err != nil {
		return Network{}, routeerr.Acquisition(err, p.NetworkPath)
	}
	return n, nil
}

func (p *FileProvider) FetchZones(_ context.Context, _ Region, cats []zone.Category) ([]zone.Zone, error) {
	if p.ZonesPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(p.ZonesPath)
	if err != nil {
		return nil, routeerr.Acquisition(eris.Wrap(err, "provider: read zones"), p.ZonesPath)
	}
	all, err := export.ParseZones(data)
	if err != nil {
		return nil, routeerr.Acquisition(err, p.ZonesPath)
	}
	var out []zone.Zone
	for _, z := range all {
		if wantCategory(cats, z.Category) {
			out = append(out, z)
		}
	}
	return out, nil
}

// ParseNodeLink decodes node-link JSON. Undirected graphs get both edge
// directions; missing lengths fall back to the great-circle length of the
// edge geometry.
func ParseNodeLink(data []byte) (Network, error) {
	var doc nodeLink
	if err := json.Unmarshal(data, &doc); err != nil {
		return Network{}, eris.Wrap(err, "provider: decode node-link")
	}
	directed, nodes, links := doc.Directed, doc.Nodes, append(doc.Links, doc.Edges...)
	if doc.Graph != nil && len(nodes) == 0 {
		directed, nodes, links = doc.Graph.Directed, doc.Graph.Nodes, append(doc.Graph.Links, doc.Graph.Edges...)
	}

	var n Network
	coords := make(map[int64]geo.Coordinate, len(nodes))
	for i, raw := range nodes {
		id, err := parseID(raw.ID)
		if err != nil {
			return Network{}, eris.Wrapf(err, "provider: node %d", i)
		}
		c := geo.C(raw.Y, raw.X)
		coords[id] = c
		n.Nodes = append(n.Nodes, graph.Node{ID: id, Coord: c})
	}

	for i, raw := range links {
		from, err := parseID(raw.Source)
		if err != nil {
			return Network{}, eris.Wrapf(err, "provider: link %d source", i)
		}
		to, err := parseID(raw.Target)
		if err != nil {
			return Network{}, eris.Wrapf(err, "provider: link %d target", i)
		}
		line, err := parseGeometry(raw.Geometry)
		if err != nil {
			return Network{}, eris.Wrapf(err, "provider: link %d geometry", i)
		}
		if len(line) < 2 {
			a, okA := coords[from]
			b, okB := coords[to]
			if okA && okB {
				line = []geo.Coordinate{a, b}
			}
		}
		e := graph.Edge{From: from, To: to, Geometry: line}
		if raw.Length != nil {
			e.Length = *raw.Length
		} else {
			e.Length = geo.PathLength(line)
		}
		n.Edges = append(n.Edges, e)
	}

	if directed != nil && !*directed {
		n.Edges = graph.Bidirectional(n.Edges)
	}
	return n, nil
}

// parseID accepts numeric or string ids.
func parseID(raw json.RawMessage) (int64, error) {
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.Int64()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, eris.Errorf("unsupported id %s", string(raw))
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse id %q", s)
	}
	return id, nil
}

// parseGeometry accepts a [[x,y],...] array or a WKT LINESTRING, the form
// osmnx uses when serialising shapely geometry.
func parseGeometry(raw json.RawMessage) ([]geo.Coordinate, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var pairs [][]float64
	if err := json.Unmarshal(raw, &pairs); err == nil {
		out := make([]geo.Coordinate, 0, len(pairs))
		for _, p := range pairs {
			if len(p) < 2 {
				return nil, eris.New("coordinate needs two values")
			}
			out = append(out, geo.C(p[1], p[0]))
		}
		return out, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, eris.New("geometry is neither coordinates nor WKT")
	}
	g, err := wkt.Unmarshal(text)
	if err != nil {
		return nil, eris.Wrap(err, "parse WKT")
	}
	ls, ok := g.(*geom.LineString)
	if !ok {
		return nil, eris.Errorf("WKT geometry %T is not a LineString", g)
	}
	out := make([]geo.Coordinate, 0, ls.NumCoords())
	for _, c := range ls.Coords() {
		out = append(out, geo.C(c.Y(), c.X()))
	}
	return out, nil
}
