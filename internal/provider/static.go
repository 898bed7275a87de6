package provider

import (
	"context"

	"github.com/sells-group/noflyroute/internal/zone"
)

// Static serves a fixed network and zone set for every region.
type Static struct {
	Network Network
	Zones   []zone.Zone
	Err     error
}

func (s *Static) FetchNetwork(context.Context, Region) (Network, error) {
	return s.Network, s.Err
}

func (s *Static) FetchZones(_ context.Context, _ Region, cats []zone.Category) ([]zone.Zone, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []zone.Zone
	for _, z := range s.Zones {
		if wantCategory(cats, z.Category) {
			out = append(out, z)
		}
	}
	return out, nil
}
