package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/noflyroute/internal/export"
	"github.com/sells-group/noflyroute/internal/routeerr"
	"github.com/sells-group/noflyroute/internal/zone"
)

// DefaultCacheTTL keeps downloaded map data for a week.
const DefaultCacheTTL = 7 * 24 * time.Hour

// MapCache is the slice of store.Store the cache needs.
type MapCache interface {
	GetCachedMap(ctx context.Context, key string) ([]byte, error)
	SetCachedMap(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// CachedProvider serves networks and zones from a MapCache, falling through
// to the wrapped provider on a miss. Cache failures are logged and never
// fail a fetch.
type CachedProvider struct {
	next  Provider
	cache MapCache
	ttl   time.Duration
}

// NewCached wraps next. A non-positive ttl uses DefaultCacheTTL.
func NewCached(next Provider, cache MapCache, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProvider{next: next, cache: cache, ttl: ttl}
}

func networkKey(r Region) string {
	return "network:" + r.Key()
}

func zonesKey(r Region, cats []zone.Category) string {
	if len(cats) == 0 {
		cats = zone.AllCategories()
	}
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.String()
	}
	return "zones:" + r.Key() + ":" + strings.Join(names, ",")
}

func (c *CachedProvider) FetchNetwork(ctx context.Context, region Region) (Network, error) {
	key := networkKey(region)
	if data := c.lookup(ctx, key); data != nil {
		var n Network
		if err := json.Unmarshal(data, &n); err == nil {
			return n, nil
		}
		zap.L().Warn("provider: discarding corrupt cached network", zap.String("key", key))
	}

	n, err := c.next.FetchNetwork(ctx, region)
	if err != nil {
		return Network{}, err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return Network{}, routeerr.Acquisition(eris.Wrap(err, "provider: encode network"), key)
	}
	c.save(ctx, key, data)
	return n, nil
}

func (c *CachedProvider) FetchZones(ctx context.Context, region Region, cats []zone.Category) ([]zone.Zone, error) {
	key := zonesKey(region, cats)
	if data := c.lookup(ctx, key); data != nil {
		if zones, err := export.ParseZones(data); err == nil {
			return zones, nil
		}
		zap.L().Warn("provider: discarding corrupt cached zones", zap.String("key", key))
	}

	zones, err := c.next.FetchZones(ctx, region, cats)
	if err != nil {
		return nil, err
	}
	data, err := export.Encode(export.ExportZones(zones))
	if err != nil {
		return nil, routeerr.Acquisition(err, key)
	}
	c.save(ctx, key, data)
	return zones, nil
}

func (c *CachedProvider) lookup(ctx context.Context, key string) []byte {
	data, err := c.cache.GetCachedMap(ctx, key)
	if err != nil {
		zap.L().Warn("provider: cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if data != nil {
		zap.L().Debug("provider: cache hit", zap.String("key", key))
	}
	return data
}

func (c *CachedProvider) save(ctx context.Context, key string, data []byte) {
	if err := c.cache.SetCachedMap(ctx, key, data, c.ttl); err != nil {
		zap.L().Warn("provider: cache write failed", zap.String("key", key), zap.Error(err))
	}
}
