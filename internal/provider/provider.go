// Package provider acquires the road network and exclusion zones for a
// region, from local files or the OpenStreetMap Overpass API.
package provider

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/graph"
	"github.com/sells-group/noflyroute/internal/zone"
)

// DefaultRegion is the area planned over when none is configured.
const DefaultRegion = "Çankaya, Ankara, Turkey"

// Region names the planning area. BBox, when set, takes precedence over the
// name for providers that query by area.
type Region struct {
	Name string    `json:"name" mapstructure:"name"`
	BBox *geo.BBox `json:"bbox,omitempty" mapstructure:"bbox"`
}

// Key returns a stable cache key: the NFC-normalised, lower-cased name, or
// the bbox in fixed precision when the name is empty.
func (r Region) Key() string {
	key := strings.ToLower(strings.TrimSpace(norm.NFC.String(r.Name)))
	if r.BBox != nil {
		b := r.BBox
		key += "@" + geo.C(b.MinLat, b.MinLng).String() + ":" + geo.C(b.MaxLat, b.MaxLng).String()
	}
	return key
}

// String returns the region name, or its key when unnamed.
func (r Region) String() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Key()
}

// Network is a raw road network ready for graph.Build.
type Network struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// Provider fetches map data for a region. Implementations must be safe for
// concurrent use; FetchNetwork and FetchZones may run in parallel.
type Provider interface {
	FetchNetwork(ctx context.Context, region Region) (Network, error)
	// FetchZones returns zones of the given categories, all categories when
	// cats is empty.
	FetchZones(ctx context.Context, region Region, cats []zone.Category) ([]zone.Zone, error)
}

func wantCategory(cats []zone.Category, c zone.Category) bool {
	if len(cats) == 0 {
		return true
	}
	for _, want := range cats {
		if want == c {
			return true
		}
	}
	return false
}
