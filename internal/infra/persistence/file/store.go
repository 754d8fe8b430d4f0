// Package file persists colony snapshots as a single JSON or YAML document on
// the local filesystem.
//
// Saves hold an exclusive lock file next to the document for their whole
// duration; a lock older than StaleLockAge is taken over. Saves replace the document with write-temp, fsync, rename, so a
// failed or cancelled save leaves the previous document intact.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mousedb/internal/snapshot"
)

// ErrLocked is returned when another save or load holds the lock file.
var ErrLocked = errors.New("snapshot file is locked")

// Store is a single-document snapshot backend.
type Store struct {
	path   string
	format snapshot.Format
}

// New returns a backend for path. The encoding follows the file extension.
func New(path string) *Store {
	return &Store{path: path, format: snapshot.FormatForPath(path)}
}

// Path returns the document path.
func (s *Store) Path() string { return s.path }

// StaleLockAge is how old a lock file must be before it is treated as left
// behind by a process that died mid-save and is taken over.
const StaleLockAge = 10 * time.Minute

func (s *Store) lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	name := s.path + ".lock"
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = fmt.Fprintf(f, "pid %d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(name) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("acquire snapshot lock: %w", err)
		}
		info, statErr := os.Stat(name)
		if attempt == 0 && statErr == nil && time.Since(info.ModTime()) > StaleLockAge {
			slog.Warn("removing stale snapshot lock", "lock", name, "age", time.Since(info.ModTime()).Round(time.Second))
			if rmErr := os.Remove(name); rmErr == nil || errors.Is(rmErr, fs.ErrNotExist) {
				continue
			}
		}
		return nil, fmt.Errorf("%w: %s (remove it if no other mousedb process is running)", ErrLocked, name)
	}
}

// Save writes doc atomically. Cancellation is honoured up to the rename.
func (s *Store) Save(ctx context.Context, doc snapshot.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := snapshot.Encode(doc, s.format)
	if err != nil {
		return err
	}
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	syncDir(filepath.Dir(s.path))
	return nil
}

// syncDir makes the rename durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Load reads and validates the document. It returns snapshot.ErrNotExist when
// nothing has been saved at the path.
func (s *Store) Load(ctx context.Context) (snapshot.Document, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Document{}, err
	}
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return snapshot.Document{}, snapshot.ErrNotExist
	}
	unlock, err := s.lock()
	if err != nil {
		return snapshot.Document{}, err
	}
	defer unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snapshot.Document{}, snapshot.ErrNotExist
		}
		return snapshot.Document{}, fmt.Errorf("read snapshot: %w", err)
	}
	return snapshot.Decode(data, s.format)
}

// Close is a no-op; locks are released by each call.
func (s *Store) Close() error { return nil }
