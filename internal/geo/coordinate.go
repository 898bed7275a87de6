// Package geo provides the coordinate, bounding box and distance primitives
// shared by the zone index, the road graph and the route engine.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/rotisserie/eris"
)

// EarthRadiusMeters is the WGS84 equatorial radius, matching orb/geo.
const EarthRadiusMeters = 6378137.0

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// C is shorthand for Coordinate{Lat: lat, Lon: lon}.
func C(lat, lon float64) Coordinate {
	return Coordinate{Lat: lat, Lon: lon}
}

// Point returns the coordinate as an orb.Point (lon, lat order).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// FromPoint converts an orb.Point (lon, lat order) into a Coordinate.
func FromPoint(p orb.Point) Coordinate {
	return Coordinate{Lat: p.Lat(), Lon: p.Lon()}
}

// Valid reports whether the coordinate lies within WGS84 bounds.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// String formats the coordinate as "lat,lon".
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// ParseCoordinate parses "lat,lon" as written by String.
func ParseCoordinate(s string) (Coordinate, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return Coordinate{}, eris.Errorf("geo: coordinate %q is not lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Coordinate{}, eris.Wrapf(err, "geo: parse latitude %q", latStr)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Coordinate{}, eris.Wrapf(err, "geo: parse longitude %q", lonStr)
	}
	c := C(lat, lon)
	if !c.Valid() {
		return Coordinate{}, eris.Errorf("geo: coordinate %s out of range", c)
	}
	return c, nil
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	return orbgeo.DistanceHaversine(a.Point(), b.Point())
}

// PathLength sums the great-circle length of a vertex sequence.
func PathLength(coords []Coordinate) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += Distance(coords[i-1], coords[i])
	}
	return total
}

// Projection is a local equirectangular projection to meters, anchored at a
// reference latitude. Distortion grows with distance from the anchor, so it is
// only used as a pre-filter before exact great-circle ranking.
type Projection struct {
	cosLat float64
}

// NewProjection anchors a projection at the given latitude.
func NewProjection(refLat float64) Projection {
	return Projection{cosLat: math.Cos(refLat * math.Pi / 180)}
}

// Project maps a coordinate onto the projected plane.
func (p Projection) Project(c Coordinate) orb.Point {
	rad := math.Pi / 180
	return orb.Point{
		EarthRadiusMeters * c.Lon * rad * p.cosLat,
		EarthRadiusMeters * c.Lat * rad,
	}
}

// Unproject maps a projected point back to a coordinate.
func (p Projection) Unproject(pt orb.Point) Coordinate {
	rad := math.Pi / 180
	return Coordinate{
		Lat: pt[1] / (EarthRadiusMeters * rad),
		Lon: pt[0] / (EarthRadiusMeters * rad * p.cosLat),
	}
}
