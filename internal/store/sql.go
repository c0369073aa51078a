package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/park285/chess-rooms/internal/game"
)

const roomsSchema = `CREATE TABLE IF NOT EXISTS chess_rooms (
	id         TEXT PRIMARY KEY,
	version    BIGINT NOT NULL,
	status     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	active_ms  BIGINT NOT NULL,
	hold_ms    BIGINT NOT NULL DEFAULT 0
)`

// SQLStore keeps one row per game; CAS is a conditional UPDATE on version.
// Works with lib/pq ("postgres") and modernc.org/sqlite ("sqlite").
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens driver/dsn, applies pool settings and migrates.
func OpenSQL(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// in-memory DBs are per-connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// NewSQLStore migrates the rooms table on db. The db stays owned by the caller.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, roomsSchema); err != nil {
		return nil, fmt.Errorf("migrate chess_rooms: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*game.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM chess_rooms WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select room: %w", err)
	}
	return decodeRecord([]byte(payload))
}

func (s *SQLStore) Create(ctx context.Context, rec *game.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chess_rooms (id, version, status, payload, active_ms, hold_ms)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Version, string(rec.Status), string(raw), rec.LastActive().UnixMilli(), holdMillis(rec),
	)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (s *SQLStore) CompareAndSwap(ctx context.Context, rec *game.Record, expected int64) (bool, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chess_rooms SET version = $1, status = $2, payload = $3, active_ms = $4, hold_ms = $5
		 WHERE id = $6 AND version = $7`,
		rec.Version, string(rec.Status), string(raw), rec.LastActive().UnixMilli(), holdMillis(rec), rec.ID, expected,
	)
	if err != nil {
		return false, fmt.Errorf("update room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update room: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) ListStale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return s.listIDs(ctx,
		`SELECT id FROM chess_rooms
		 WHERE status IN ('waiting', 'active') AND active_ms < $1
		 ORDER BY active_ms LIMIT $2`,
		before.UnixMilli(), limit)
}

func (s *SQLStore) ListExpiredHolds(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return s.listIDs(ctx,
		`SELECT id FROM chess_rooms
		 WHERE status = 'waiting' AND hold_ms > 0 AND hold_ms <= $1
		 ORDER BY hold_ms LIMIT $2`,
		before.UnixMilli(), limit)
}

func (s *SQLStore) listIDs(ctx context.Context, q string, cutoff int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func holdMillis(rec *game.Record) int64 {
	if hold := rec.HoldDeadline(); !hold.IsZero() {
		return hold.UnixMilli()
	}
	return 0
}

// Close is a no-op; the db is shared with the archive repository.
func (s *SQLStore) Close() error { return nil }
