// Package zone holds exclusion zones (no-fly polygons) and answers segment
// intersection queries against them.
package zone

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/noflyroute/internal/geo"
)

// Category tags the kind of area a zone protects.
type Category int

const (
	// Military covers landuse=military areas.
	Military Category = iota + 1
	// Aerodrome covers aeroway=aerodrome.
	Aerodrome
	// Runway covers aeroway=runway.
	Runway
	// Prison covers amenity=prison.
	Prison
	// School covers amenity=school.
	School
	// Kindergarten covers amenity=kindergarten.
	Kindergarten
	// NatureReserve covers leisure=nature_reserve.
	NatureReserve
	// Government covers building=government.
	Government
)

var categoryNames = map[Category]string{
	Military:      "military",
	Aerodrome:     "aerodrome",
	Runway:        "runway",
	Prison:        "prison",
	School:        "school",
	Kindergarten:  "kindergarten",
	NatureReserve: "nature_reserve",
	Government:    "government",
}

// AllCategories returns every category in declaration order.
func AllCategories() []Category {
	return []Category{Military, Aerodrome, Runway, Prison, School, Kindergarten, NatureReserve, Government}
}

// String returns the snake_case category name.
func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "unknown"
}

// ParseCategory converts a name into a Category. Hyphens are accepted in
// place of underscores ("nature-reserve").
func ParseCategory(s string) (Category, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for c, name := range categoryNames {
		if name == norm {
			return c, nil
		}
	}
	return 0, eris.Errorf("zone: unknown category %q", s)
}

// ParseCategories parses a list of names, returning the first failure.
func ParseCategories(names []string) ([]Category, error) {
	out := make([]Category, 0, len(names))
	for _, n := range names {
		c, err := ParseCategory(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Zone is a single exclusion polygon.
type Zone struct {
	ID       string
	Category Category
	Ring     []geo.Coordinate // closed: first == last once loaded
}

// BBox returns the bounding box of the zone ring.
func (z Zone) BBox() geo.BBox {
	return geo.BBoxOf(z.Ring...)
}

// Closed returns a copy of the ring with the first vertex appended when the
// ring is open.
func Closed(ring []geo.Coordinate) []geo.Coordinate {
	out := make([]geo.Coordinate, len(ring), len(ring)+1)
	copy(out, ring)
	if len(out) > 0 && out[0] != out[len(out)-1] {
		out = append(out, out[0])
	}
	return out
}

// distinctVertices counts the distinct vertices of a ring.
func distinctVertices(ring []geo.Coordinate) int {
	seen := make(map[geo.Coordinate]struct{}, len(ring))
	for _, c := range ring {
		seen[c] = struct{}{}
	}
	return len(seen)
}
