package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance_KnownPair(t *testing.T) {
	// One degree of latitude on the WGS84-radius sphere.
	d := Distance(C(39.0, 32.0), C(40.0, 32.0))
	assert.InDelta(t, 111319, d, 50)
}

func TestDistance_Symmetric(t *testing.T) {
	a, b := C(39.911, 32.85), C(39.928, 32.86)
	assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-9)
	assert.Zero(t, Distance(a, a))
}

func TestPathLength(t *testing.T) {
	coords := []Coordinate{C(0, 0), C(0, 1), C(0, 2)}
	assert.InDelta(t, 2*Distance(C(0, 0), C(0, 1)), PathLength(coords), 1e-6)
	assert.Zero(t, PathLength(coords[:1]))
}

func TestCoordinate_Valid(t *testing.T) {
	tests := []struct {
		name string
		c    Coordinate
		want bool
	}{
		{"origin", C(0, 0), true},
		{"ankara", C(39.91, 32.85), true},
		{"lat out of range", C(91, 0), false},
		{"lon out of range", C(0, -181), false},
		{"nan", C(math.NaN(), 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Valid())
		})
	}
}

func TestPointRoundTrip(t *testing.T) {
	c := C(39.911, 32.85)
	p := c.Point()
	assert.Equal(t, 32.85, p[0])
	assert.Equal(t, 39.911, p[1])
	assert.Equal(t, c, FromPoint(p))
}

func TestProjection_MetricAtAnchor(t *testing.T) {
	p := NewProjection(39.9)
	a := p.Project(C(39.9, 32.85))
	b := p.Project(C(39.9, 32.86))
	dx := b[0] - a[0]
	assert.InDelta(t, Distance(C(39.9, 32.85), C(39.9, 32.86)), dx, 1.0)
}

func TestProjection_UnprojectInverts(t *testing.T) {
	p := NewProjection(41.0)
	c := C(41.01, 29.03)
	back := p.Unproject(p.Project(c))
	assert.InDelta(t, c.Lat, back.Lat, 1e-12)
	assert.InDelta(t, c.Lon, back.Lon, 1e-12)
}

func TestBBox(t *testing.T) {
	b := BBoxOf(C(1, 2), C(3, 0))
	assert.Equal(t, BBox{MinLng: 0, MinLat: 1, MaxLng: 2, MaxLat: 3}, b)
	assert.True(t, b.Contains(C(2, 1)))
	assert.True(t, b.Contains(C(1, 0)))
	assert.False(t, b.Contains(C(4, 1)))

	assert.True(t, b.Intersects(BBox{MinLng: 2, MinLat: 3, MaxLng: 5, MaxLat: 5}))
	assert.False(t, b.Intersects(BBox{MinLng: 2.1, MinLat: 0, MaxLng: 5, MaxLat: 5}))

	assert.False(t, EmptyBBox().Valid())
	assert.Equal(t, b, EmptyBBox().Union(b))
	assert.Equal(t, BBox{MinLng: -1, MinLat: 0, MaxLng: 3, MaxLat: 4}, b.Pad(1))
}

func TestParseCoordinate(t *testing.T) {
	c, err := ParseCoordinate("39.92, 32.85")
	require.NoError(t, err)
	assert.Equal(t, C(39.92, 32.85), c)

	back, err := ParseCoordinate(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, back)

	for _, bad := range []string{"", "39.92", "north,32", "39,east", "91,0", "0,181"} {
		_, err := ParseCoordinate(bad)
		assert.Error(t, err, bad)
	}
}
