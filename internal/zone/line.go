package zone

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/sells-group/noflyroute/internal/geo"
)

// DefaultLineWidth applies to runway lines without a usable width tag.
const DefaultLineWidth = 45.0 // meters

// ParseWidth reads an OpenStreetMap width value such as "45", "45 m" or
// "60.5m". Anything else yields DefaultLineWidth.
func ParseWidth(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "m"))
	w, err := strconv.ParseFloat(s, 64)
	if err != nil || !(w > 0) || math.IsInf(w, 0) {
		return DefaultLineWidth
	}
	return w
}

// LineZones covers an open line with one rectangle per segment, width meters
// across and extended width/2 past both segment ends, so the union holds
// every point within width/2 of the line. A single segment keeps id; longer
// lines number their parts "id#n". Zero-length segments are dropped.
func LineZones(id string, cat Category, line []geo.Coordinate, width float64) []Zone {
	if len(line) < 2 || !(width > 0) {
		return nil
	}
	var lat float64
	for _, c := range line {
		lat += c.Lat
	}
	proj := geo.NewProjection(lat / float64(len(line)))
	half := width / 2

	var rings [][]geo.Coordinate
	for i := 1; i < len(line); i++ {
		a, b := proj.Project(line[i-1]), proj.Project(line[i])
		dx, dy := b[0]-a[0], b[1]-a[1]
		l := math.Hypot(dx, dy)
		if l == 0 {
			continue
		}
		ux, uy := dx/l*half, dy/l*half // along the segment
		nx, ny := -uy, ux              // across it
		corners := []orb.Point{
			{a[0] - ux + nx, a[1] - uy + ny},
			{b[0] + ux + nx, b[1] + uy + ny},
			{b[0] + ux - nx, b[1] + uy - ny},
			{a[0] - ux - nx, a[1] - uy - ny},
		}
		ring := make([]geo.Coordinate, 0, len(corners)+1)
		for _, p := range corners {
			ring = append(ring, proj.Unproject(p))
		}
		rings = append(rings, append(ring, ring[0]))
	}

	zones := make([]Zone, 0, len(rings))
	for i, ring := range rings {
		zid := id
		if len(rings) > 1 {
			zid = fmt.Sprintf("%s#%d", id, i)
		}
		zones = append(zones, Zone{ID: zid, Category: cat, Ring: ring})
	}
	return zones
}
