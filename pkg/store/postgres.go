package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bilisub/pkg/logger"
	"bilisub/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxIface is the subset of *pgxpool.Pool the store uses
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS {table} (
	uid               BIGINT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	video_watermark   BIGINT NOT NULL DEFAULT 0,
	dynamic_watermark BIGINT NOT NULL DEFAULT 0,
	live              BOOLEAN NOT NULL DEFAULT FALSE,
	destinations      TEXT[] NOT NULL DEFAULT '{}',
	interval_min_ms   BIGINT NOT NULL DEFAULT 0,
	interval_max_ms   BIGINT NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DefaultTable holds account entities; other namespaces prefix it
const DefaultTable = "entities"

const entityColumns = `uid, name, video_watermark, dynamic_watermark, live, destinations, interval_min_ms, interval_max_ms, created_at, updated_at`

// tableDB substitutes the table name into every statement
type tableDB struct {
	pgxIface
	table string
}

func (t tableDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.pgxIface.Exec(ctx, t.bind(sql), args...)
}

func (t tableDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.pgxIface.Query(ctx, t.bind(sql), args...)
}

func (t tableDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.pgxIface.QueryRow(ctx, t.bind(sql), args...)
}

func (t tableDB) bind(sql string) string {
	return strings.ReplaceAll(sql, "{table}", t.table)
}

// PostgresStore keeps entities in a single table. Watermark updates use
// GREATEST so a stale writer can never move them backwards.
type PostgresStore struct {
	db     pgxIface
	logger logger.Logger
}

// OpenPostgres connects with dsn and ensures table exists. An empty table
// means DefaultTable.
func OpenPostgres(ctx context.Context, dsn, table string, log logger.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := newPostgresTable(pool, table, log)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgres(db pgxIface, log logger.Logger) *PostgresStore {
	return newPostgresTable(db, DefaultTable, log)
}

func newPostgresTable(db pgxIface, table string, log logger.Logger) *PostgresStore {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{db: tableDB{pgxIface: db, table: table}, logger: log}
}

// Migrate creates the table when missing
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.logger.Debug("Schema ready")
	return nil
}

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	err := row.Scan(
		&e.UID,
		&e.Name,
		&e.VideoWatermark,
		&e.DynamicWatermark,
		&e.Live,
		&e.Destinations,
		&e.Interval.MinMillis,
		&e.Interval.MaxMillis,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Entity, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entityColumns+` FROM {table} ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	out := []*models.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, uid int64) (*models.Entity, error) {
	e, err := scanEntity(s.db.QueryRow(ctx, `SELECT `+entityColumns+` FROM {table} WHERE uid = $1`, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entity %d: %w", uid, err)
	}
	return e, nil
}

func (s *PostgresStore) AddDestination(ctx context.Context, seed *models.Entity, dest string) (*models.Entity, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO {table} (uid, name, video_watermark, dynamic_watermark, live, interval_min_ms, interval_max_ms, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (uid) DO NOTHING`,
		seed.UID, seed.Name, seed.VideoWatermark, seed.DynamicWatermark, seed.Live,
		seed.Interval.MinMillis, seed.Interval.MaxMillis, seed.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity %d: %w", seed.UID, err)
	}

	e, err := scanEntity(s.db.QueryRow(ctx,
		`UPDATE {table} SET destinations = array_append(destinations, $2), updated_at = $3
		 WHERE uid = $1 AND NOT ($2 = ANY(destinations))
		 RETURNING `+entityColumns,
		seed.UID, dest, time.Now(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDestinationExists
		}
		return nil, fmt.Errorf("failed to add destination to %d: %w", seed.UID, err)
	}
	return e, nil
}

func (s *PostgresStore) RemoveDestination(ctx context.Context, uid int64, dest string) (*models.Entity, error) {
	e, err := scanEntity(s.db.QueryRow(ctx,
		`UPDATE {table} SET destinations = array_remove(destinations, $2), updated_at = $3
		 WHERE uid = $1 AND $2 = ANY(destinations)
		 RETURNING `+entityColumns,
		uid, dest, time.Now(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to remove destination from %d: %w", uid, err)
	}
	return e, nil
}

func (s *PostgresStore) SaveProgress(ctx context.Context, uid int64, p models.Progress) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE {table} SET
		   video_watermark = GREATEST(video_watermark, $2),
		   dynamic_watermark = GREATEST(dynamic_watermark, $3),
		   live = $4,
		   updated_at = $5
		 WHERE uid = $1`,
		uid, p.VideoWatermark, p.DynamicWatermark, p.Live, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save progress for %d: %w", uid, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
