// Package postgres keeps colony snapshots in a Postgres table as JSONB rows,
// one per save.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"mousedb/internal/snapshot"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/mousedb?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const ddl = `CREATE TABLE IF NOT EXISTS snapshots (
	seq BIGSERIAL PRIMARY KEY,
	save_id TEXT NOT NULL UNIQUE,
	schema_version INTEGER NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL
)`

// Store is a snapshot backend over Postgres.
type Store struct {
	db *sql.DB
}

// Open connects using dsn (falls back to a local default) and ensures the
// snapshots table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure snapshots table: %w", err)
	}
	return &Store{db: db}, nil
}

// Save inserts doc as a new row inside a transaction committed only when ctx
// is still live.
func (s *Store) Save(ctx context.Context, doc snapshot.Document) error {
	data, err := snapshot.Encode(doc, snapshot.FormatJSON)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (save_id, schema_version, saved_at, payload) VALUES ($1,$2,$3,$4)`,
		doc.SaveID, doc.SchemaVersion, doc.SavedAt.UTC(), string(data),
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Load returns the most recent snapshot.
func (s *Store) Load(ctx context.Context) (snapshot.Document, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM snapshots ORDER BY seq DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Document{}, snapshot.ErrNotExist
	}
	if err != nil {
		return snapshot.Document{}, fmt.Errorf("select snapshot: %w", err)
	}
	return snapshot.Decode(payload, snapshot.FormatJSON)
}

// Saves lists stored snapshots oldest first.
func (s *Store) Saves(ctx context.Context) ([]snapshot.SaveInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, save_id, schema_version, saved_at FROM snapshots ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []snapshot.SaveInfo
	for rows.Next() {
		var info snapshot.SaveInfo
		if err := rows.Scan(&info.Seq, &info.SaveID, &info.SchemaVersion, &info.SavedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
