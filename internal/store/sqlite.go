package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens the database at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	region      TEXT NOT NULL,
	origin_lat  REAL NOT NULL,
	origin_lon  REAL NOT NULL,
	dest_lat    REAL NOT NULL,
	dest_lon    REAL NOT NULL,
	constraint_ TEXT NOT NULL,
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	nodes       TEXT NOT NULL DEFAULT '[]',
	length_m    REAL NOT NULL DEFAULT 0,
	cost        REAL NOT NULL DEFAULT 0,
	geometry    BLOB,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS map_cache (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	cached_at  DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_region ON runs(region);
CREATE INDEX IF NOT EXISTS idx_map_cache_expires_at ON map_cache(expires_at);
`

const runColumns = `id, region, origin_lat, origin_lon, dest_lat, dest_lon, constraint_, status,
	error_kind, error, nodes, length_m, cost, geometry, duration_ms, created_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	stampRun(run, s.now)
	nodes, err := json.Marshal(nonNilNodes(run.Nodes))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal nodes")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Region, run.Origin.Lat, run.Origin.Lon, run.Destination.Lat, run.Destination.Lon,
		run.Constraint, string(run.Status), run.ErrorKind, run.Error, string(nodes),
		run.LengthM, run.Cost, run.Geometry, run.Duration.Milliseconds(), run.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, filter.Region)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limitOf(filter), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) GetCachedMap(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM map_cache WHERE key = ? AND expires_at > ?`, key, s.now(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cached map %s", key)
	}
	return data, nil
}

func (s *SQLiteStore) SetCachedMap(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO map_cache (key, data, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrapf(err, "sqlite: set cached map %s", key)
}

func (s *SQLiteStore) DeleteExpiredMaps(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM map_cache WHERE expires_at <= ?`, s.now())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired maps")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var (
		r      Run
		status string
		nodes  []byte
		ms     int64
	)
	err := row.Scan(&r.ID, &r.Region, &r.Origin.Lat, &r.Origin.Lon, &r.Destination.Lat, &r.Destination.Lon,
		&r.Constraint, &status, &r.ErrorKind, &r.Error, &nodes, &r.LengthM, &r.Cost, &r.Geometry, &ms, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	r.Duration = time.Duration(ms) * time.Millisecond
	if len(nodes) > 0 {
		if err := json.Unmarshal(nodes, &r.Nodes); err != nil {
			return nil, eris.Wrap(err, "unmarshal nodes")
		}
	}
	if len(r.Nodes) == 0 {
		r.Nodes = nil
	}
	return &r, nil
}

func stampRun(run *Run, now func() time.Time) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now()
	}
}

func nonNilNodes(n []int64) []int64 {
	if n == nil {
		return []int64{}
	}
	return n
}
