// Package sqlite keeps colony snapshots in a SQLite database, one row per save.
// The schema is managed by goose migrations embedded in the binary.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"mousedb/internal/snapshot"
)

// Store is a snapshot backend over a SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "mousedb.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Save appends doc as a new row. The row becomes visible only at commit,
// which is skipped when ctx is cancelled first.
func (s *Store) Save(ctx context.Context, doc snapshot.Document) (retErr error) {
	data, err := snapshot.Encode(doc, snapshot.FormatJSON)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots(save_id, schema_version, saved_at, payload) VALUES(?,?,?,?)`,
		doc.SaveID, doc.SchemaVersion, doc.SavedAt.UTC().Format(time.RFC3339Nano), data,
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
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
		var savedAt string
		if err := rows.Scan(&info.Seq, &info.SaveID, &info.SchemaVersion, &savedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if info.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
			return nil, fmt.Errorf("parse saved_at of %s: %w", info.SaveID, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path.
func (s *Store) Path() string { return s.path }
