// Package store persists planning runs and cached map downloads.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/noflyroute/internal/geo"
)

// RunStatus is the outcome of a planning run.
type RunStatus string

// Run outcomes.
const (
	RunStatusOK     RunStatus = "ok"
	RunStatusFailed RunStatus = "failed"
)

// Run records one planning request and its result.
type Run struct {
	ID          string         `json:"id"`
	Region      string         `json:"region"`
	Origin      geo.Coordinate `json:"origin"`
	Destination geo.Coordinate `json:"destination"`
	Constraint  string         `json:"constraint"`
	Status      RunStatus      `json:"status"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	Nodes       []int64        `json:"nodes,omitempty"`
	LengthM     float64        `json:"length_m"`
	Cost        float64        `json:"cost"`
	Geometry    []byte         `json:"-"` // EWKB LineString, SRID 4326
	Duration    time.Duration  `json:"duration"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Status RunStatus
	Region string
	Limit  int
	Offset int
}

// DefaultLimit bounds ListRuns when the filter sets none.
const DefaultLimit = 50

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = eris.New("store: not found")

// Store is the persistence surface of the planner.
type Store interface {
	// CreateRun assigns an id and timestamp when unset and inserts the run.
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// GetCachedMap returns nil, nil on a miss or an expired entry.
	GetCachedMap(ctx context.Context, key string) ([]byte, error)
	SetCachedMap(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteExpiredMaps(ctx context.Context) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

func limitOf(f RunFilter) int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}
