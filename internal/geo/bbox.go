package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// BBox represents a geographic bounding box.
type BBox struct {
	MinLng float64 `json:"min_lng" mapstructure:"min_lng"`
	MinLat float64 `json:"min_lat" mapstructure:"min_lat"`
	MaxLng float64 `json:"max_lng" mapstructure:"max_lng"`
	MaxLat float64 `json:"max_lat" mapstructure:"max_lat"`
}

// EmptyBBox returns an inverted box that any Extend call will replace.
func EmptyBBox() BBox {
	return BBox{
		MinLng: math.Inf(1),
		MinLat: math.Inf(1),
		MaxLng: math.Inf(-1),
		MaxLat: math.Inf(-1),
	}
}

// BBoxOf returns the smallest box containing every coordinate.
func BBoxOf(coords ...Coordinate) BBox {
	b := EmptyBBox()
	for _, c := range coords {
		b = b.Extend(c)
	}
	return b
}

// Extend grows the box to include c.
func (b BBox) Extend(c Coordinate) BBox {
	b.MinLng = math.Min(b.MinLng, c.Lon)
	b.MinLat = math.Min(b.MinLat, c.Lat)
	b.MaxLng = math.Max(b.MaxLng, c.Lon)
	b.MaxLat = math.Max(b.MaxLat, c.Lat)
	return b
}

// Union grows the box to include other.
func (b BBox) Union(other BBox) BBox {
	if !other.Valid() {
		return b
	}
	if !b.Valid() {
		return other
	}
	return BBox{
		MinLng: math.Min(b.MinLng, other.MinLng),
		MinLat: math.Min(b.MinLat, other.MinLat),
		MaxLng: math.Max(b.MaxLng, other.MaxLng),
		MaxLat: math.Max(b.MaxLat, other.MaxLat),
	}
}

// Valid reports whether the box is non-inverted.
func (b BBox) Valid() bool {
	return b.MinLng <= b.MaxLng && b.MinLat <= b.MaxLat
}

// Contains reports whether c lies inside or on the edge of the box.
func (b BBox) Contains(c Coordinate) bool {
	return c.Lon >= b.MinLng && c.Lon <= b.MaxLng && c.Lat >= b.MinLat && c.Lat <= b.MaxLat
}

// Intersects reports whether the two boxes share any point, edges included.
func (b BBox) Intersects(other BBox) bool {
	return b.MinLng <= other.MaxLng && other.MinLng <= b.MaxLng &&
		b.MinLat <= other.MaxLat && other.MinLat <= b.MaxLat
}

// Pad returns the box grown by deg degrees on every side.
func (b BBox) Pad(deg float64) BBox {
	return BBox{
		MinLng: b.MinLng - deg,
		MinLat: b.MinLat - deg,
		MaxLng: b.MaxLng + deg,
		MaxLat: b.MaxLat + deg,
	}
}

// Min returns the lower-left corner as an rtree-style point.
func (b BBox) Min() [2]float64 {
	return [2]float64{b.MinLng, b.MinLat}
}

// Max returns the upper-right corner as an rtree-style point.
func (b BBox) Max() [2]float64 {
	return [2]float64{b.MaxLng, b.MaxLat}
}

// Bound converts the box to an orb.Bound.
func (b BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLng, b.MinLat},
		Max: orb.Point{b.MaxLng, b.MaxLat},
	}
}
