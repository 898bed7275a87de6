package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/noflyroute/internal/db"
)

// PostgresStore implements Store on a shared Postgres database.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres wraps an open pool. closeFn, when set, runs on Close.
func NewPostgres(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	region      TEXT NOT NULL,
	origin_lat  DOUBLE PRECISION NOT NULL,
	origin_lon  DOUBLE PRECISION NOT NULL,
	dest_lat    DOUBLE PRECISION NOT NULL,
	dest_lon    DOUBLE PRECISION NOT NULL,
	constraint_ TEXT NOT NULL,
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	nodes       BIGINT[] NOT NULL DEFAULT '{}',
	length_m    DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost        DOUBLE PRECISION NOT NULL DEFAULT 0,
	geometry    BYTEA,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS map_cache (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_region ON runs(region);
CREATE INDEX IF NOT EXISTS idx_map_cache_expires_at ON map_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	stampRun(run, func() time.Time { return time.Now().UTC() })
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		run.ID, run.Region, run.Origin.Lat, run.Origin.Lon, run.Destination.Lat, run.Destination.Lon,
		run.Constraint, string(run.Status), run.ErrorKind, run.Error, nonNilNodes(run.Nodes),
		run.LengthM, run.Cost, run.Geometry, run.Duration.Milliseconds(), run.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.Region != "" {
		args = append(args, filter.Region)
		query += fmt.Sprintf(` AND region = $%d`, len(args))
	}
	args = append(args, limitOf(filter), max(filter.Offset, 0))
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) GetCachedMap(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM map_cache WHERE key = $1 AND expires_at > now()`, key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cached map %s", key)
	}
	return data, nil
}

func (s *PostgresStore) SetCachedMap(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO map_cache (key, data, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrapf(err, "postgres: set cached map %s", key)
}

func (s *PostgresStore) DeleteExpiredMaps(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM map_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired maps")
	}
	return int(tag.RowsAffected()), nil
}

func scanPgRun(row pgx.Row) (*Run, error) {
	var (
		r      Run
		status string
		ms     int64
	)
	err := row.Scan(&r.ID, &r.Region, &r.Origin.Lat, &r.Origin.Lon, &r.Destination.Lat, &r.Destination.Lon,
		&r.Constraint, &status, &r.ErrorKind, &r.Error, &r.Nodes, &r.LengthM, &r.Cost, &r.Geometry, &ms, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	r.Duration = time.Duration(ms) * time.Millisecond
	if len(r.Nodes) == 0 {
		r.Nodes = nil
	}
	return &r, nil
}
