package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/graph"
	"github.com/sells-group/noflyroute/internal/zone"
)

type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	readErr error
}

func (m *memCache) GetCachedMap(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.data[key], nil
}

func (m *memCache) SetCachedMap(_ context.Context, key string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = data
	return nil
}

type countingProvider struct {
	network, zones int
	err            error
}

func (c *countingProvider) FetchNetwork(context.Context, Region) (Network, error) {
	c.network++
	if c.err != nil {
		return Network{}, c.err
	}
	return Network{
		Nodes: []graph.Node{{ID: 1, Coord: geo.C(0, 0)}, {ID: 2, Coord: geo.C(0, 0.001)}},
		Edges: []graph.Edge{{From: 1, To: 2, Length: 111.4}},
	}, nil
}

func (c *countingProvider) FetchZones(_ context.Context, _ Region, cats []zone.Category) ([]zone.Zone, error) {
	c.zones++
	if c.err != nil {
		return nil, c.err
	}
	return []zone.Zone{{ID: "way/7", Category: zone.Prison, Ring: []geo.Coordinate{
		geo.C(0, 0), geo.C(0, 1), geo.C(1, 1), geo.C(0, 0),
	}}}, nil
}

func TestCached_HitsAfterFirstFetch(t *testing.T) {
	ctx := context.Background()
	next := &countingProvider{}
	c := NewCached(next, &memCache{}, time.Hour)
	region := Region{Name: "Test"}

	first, err := c.FetchNetwork(ctx, region)
	require.NoError(t, err)
	second, err := c.FetchNetwork(ctx, region)
	require.NoError(t, err)
	assert.Equal(t, 1, next.network)
	assert.Equal(t, first, second)

	z1, err := c.FetchZones(ctx, region, nil)
	require.NoError(t, err)
	z2, err := c.FetchZones(ctx, region, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, next.zones)
	assert.Equal(t, z1, z2)

	// A different category set is a different key.
	_, err = c.FetchZones(ctx, region, []zone.Category{zone.Prison})
	require.NoError(t, err)
	assert.Equal(t, 2, next.zones)
}

func TestCached_CacheErrorsFallThrough(t *testing.T) {
	next := &countingProvider{}
	c := NewCached(next, &memCache{readErr: errors.New("db down")}, 0)
	assert.Equal(t, DefaultCacheTTL, c.ttl)

	_, err := c.FetchNetwork(context.Background(), Region{Name: "x"})
	require.NoError(t, err)
	_, err = c.FetchNetwork(context.Background(), Region{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.network)
}

func TestCached_CorruptEntryRefetches(t *testing.T) {
	cache := &memCache{data: map[string][]byte{networkKey(Region{Name: "x"}): []byte("{not json")}}
	next := &countingProvider{}
	c := NewCached(next, cache, time.Hour)

	n, err := c.FetchNetwork(context.Background(), Region{Name: "x"})
	require.NoError(t, err)
	assert.Len(t, n.Nodes, 2)
	assert.Equal(t, 1, next.network)
}

func TestCached_ProviderErrorNotCached(t *testing.T) {
	cache := &memCache{}
	next := &countingProvider{err: errors.New("offline")}
	c := NewCached(next, cache, time.Hour)

	_, err := c.FetchZones(context.Background(), Region{Name: "x"}, nil)
	require.Error(t, err)
	assert.Empty(t, cache.data)
}

func TestZonesKey(t *testing.T) {
	r := Region{Name: "Ankara"}
	assert.Equal(t, zonesKey(r, zone.AllCategories()), zonesKey(r, nil))
	assert.Equal(t, "zones:ankara:school,prison", zonesKey(r, []zone.Category{zone.School, zone.Prison}))
}
