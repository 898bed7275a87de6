package zone

import (
	"iter"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/rtree"
	"go.uber.org/zap"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/routeerr"
)

// Index stores exclusion zones behind an R-tree of their bounding boxes.
// It is immutable after Load and safe for concurrent readers.
type Index struct {
	zones []Zone
	rings []orb.Ring
	boxes []geo.BBox
	tree  rtree.RTreeG[int]
}

// Load validates zones and builds the index. Open rings are closed by
// repeating the first vertex; rings with fewer than three distinct vertices,
// invalid coordinates, or duplicate ids fail with InvalidGeometry.
func Load(zones []Zone) (*Index, error) {
	idx := &Index{
		zones: make([]Zone, 0, len(zones)),
		rings: make([]orb.Ring, 0, len(zones)),
		boxes: make([]geo.BBox, 0, len(zones)),
	}
	ids := make(map[string]struct{}, len(zones))

	for _, z := range zones {
		subject := "zone " + z.ID
		if z.ID == "" {
			return nil, routeerr.Newf(routeerr.InvalidGeometry, routeerr.StageIndexBuild, "zone", "zone has no id")
		}
		if _, dup := ids[z.ID]; dup {
			return nil, routeerr.Newf(routeerr.InvalidGeometry, routeerr.StageIndexBuild, subject, "duplicate zone id")
		}
		if n := distinctVertices(z.Ring); n < 3 {
			return nil, routeerr.Newf(routeerr.InvalidGeometry, routeerr.StageIndexBuild, subject,
				"ring has %d distinct vertices, need at least 3", n)
		}
		for _, c := range z.Ring {
			if !c.Valid() {
				return nil, routeerr.Newf(routeerr.InvalidGeometry, routeerr.StageIndexBuild, subject,
					"vertex %s out of range", c)
			}
		}
		ids[z.ID] = struct{}{}

		z.Ring = Closed(z.Ring)
		ring := make(orb.Ring, len(z.Ring))
		for i, c := range z.Ring {
			ring[i] = c.Point()
		}
		box := z.BBox()

		idx.tree.Insert(box.Min(), box.Max(), len(idx.zones))
		idx.zones = append(idx.zones, z)
		idx.rings = append(idx.rings, ring)
		idx.boxes = append(idx.boxes, box)
	}

	zap.L().Debug("zone: index loaded", zap.Int("zones", len(idx.zones)))
	return idx, nil
}

// Len returns the number of zones.
func (x *Index) Len() int {
	return len(x.zones)
}

// Zones returns the zones in load order.
func (x *Index) Zones() []Zone {
	return slices.Clone(x.zones)
}

// Intersects reports whether the segment a-b crosses, touches, or lies inside
// any zone.
func (x *Index) Intersects(a, b geo.Coordinate) bool {
	_, ok := x.firstHit(a, b)
	return ok
}

// IntersectsPath reports whether any consecutive segment of coords
// intersects a zone. A single coordinate is tested as a degenerate segment.
func (x *Index) IntersectsPath(coords []geo.Coordinate) bool {
	switch len(coords) {
	case 0:
		return false
	case 1:
		return x.Intersects(coords[0], coords[0])
	}
	for i := 1; i < len(coords); i++ {
		if x.Intersects(coords[i-1], coords[i]) {
			return true
		}
	}
	return false
}

// HitZone returns the first zone (in load order) intersected by segment a-b.
func (x *Index) HitZone(a, b geo.Coordinate) (Zone, bool) {
	i, ok := x.firstHit(a, b)
	if !ok {
		return Zone{}, false
	}
	return x.zones[i], true
}

func (x *Index) firstHit(a, b geo.Coordinate) (int, bool) {
	if x == nil || len(x.zones) == 0 {
		return 0, false
	}
	box := geo.BBoxOf(a, b)
	best := -1
	x.tree.Search(box.Min(), box.Max(), func(_, _ [2]float64, i int) bool {
		if best >= 0 && i > best {
			return true
		}
		if segmentHitsRing(a.Point(), b.Point(), x.rings[i]) {
			best = i
		}
		return true
	})
	return best, best >= 0
}

// Overlapping yields, in load order, the zones whose bounding box intersects
// bbox. The sequence can be ranged over repeatedly.
func (x *Index) Overlapping(bbox geo.BBox) iter.Seq[Zone] {
	return func(yield func(Zone) bool) {
		if x == nil {
			return
		}
		var hits []int
		x.tree.Search(bbox.Min(), bbox.Max(), func(_, _ [2]float64, i int) bool {
			hits = append(hits, i)
			return true
		})
		slices.Sort(hits)
		for _, i := range hits {
			if !yield(x.zones[i]) {
				return
			}
		}
	}
}

// segmentHitsRing is the exact test behind the bbox pre-filter: an endpoint
// inside the ring, or the segment meeting any ring edge.
func segmentHitsRing(a, b orb.Point, ring orb.Ring) bool {
	if planar.RingContains(ring, a) || planar.RingContains(ring, b) {
		return true
	}
	for i := 1; i < len(ring); i++ {
		if segmentsIntersect(a, b, ring[i-1], ring[i]) {
			return true
		}
	}
	return false
}

// segmentsIntersect reports whether p1-p2 and p3-p4 share at least one point,
// collinear overlap and shared endpoints included.
func segmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	d1 := orientation(p3, p4, p1)
	d2 := orientation(p3, p4, p2)
	d3 := orientation(p1, p2, p3)
	d4 := orientation(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	return (d1 == 0 && onSegment(p3, p4, p1)) ||
		(d2 == 0 && onSegment(p3, p4, p2)) ||
		(d3 == 0 && onSegment(p1, p2, p3)) ||
		(d4 == 0 && onSegment(p1, p2, p4))
}

// orientation is the cross product (r-p) x (q-p); its sign gives the turn
// direction of p, q, r.
func orientation(p, q, r orb.Point) float64 {
	return (r[0]-p[0])*(q[1]-p[1]) - (q[0]-p[0])*(r[1]-p[1])
}

// onSegment reports whether q, known collinear with p-r, lies within its span.
func onSegment(p, r, q orb.Point) bool {
	return q[0] <= max(p[0], r[0]) && q[0] >= min(p[0], r[0]) &&
		q[1] <= max(p[1], r[1]) && q[1] >= min(p[1], r[1])
}
