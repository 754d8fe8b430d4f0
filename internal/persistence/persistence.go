// Package persistence resolves a save/load location to a snapshot backend.
//
// Locations:
//
//	colony.json, file://colony.yaml   single document on disk
//	sqlite://path/to/colony.db        SQLite, one row per save
//	postgres://... postgresql://...   Postgres, one JSONB row per save
//	blob://prefix                     configured blob store, one object per save
package persistence

import (
	"context"
	"fmt"
	"strings"

	"mousedb/internal/blob"
	"mousedb/internal/infra/persistence/blobstore"
	"mousedb/internal/infra/persistence/file"
	"mousedb/internal/infra/persistence/postgres"
	"mousedb/internal/infra/persistence/sqlite"
	"mousedb/internal/snapshot"
)

// Backend stores and retrieves colony snapshots.
type Backend interface {
	Save(ctx context.Context, doc snapshot.Document) error
	// Load returns the most recent snapshot or snapshot.ErrNotExist.
	Load(ctx context.Context) (snapshot.Document, error)
	Close() error
}

// Lister is implemented by backends that keep every save.
type Lister interface {
	Saves(ctx context.Context) ([]snapshot.SaveInfo, error)
}

// Scheme names a location kind.
type Scheme string

// Supported location schemes.
const (
	SchemeFile     Scheme = "file"
	SchemeSQLite   Scheme = "sqlite"
	SchemePostgres Scheme = "postgres"
	SchemeBlob     Scheme = "blob"
)

// Options carries the settings some backends need beyond the location.
type Options struct {
	Blob blob.Config
	// BlobStore overrides Blob with an already open store.
	BlobStore blob.Store
}

// Parse splits a location into its scheme and backend-specific target.
func Parse(location string) (Scheme, string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", "", fmt.Errorf("empty storage location")
	}
	scheme, rest, ok := strings.Cut(location, "://")
	if !ok {
		return SchemeFile, location, nil
	}
	switch strings.ToLower(scheme) {
	case "file":
		return SchemeFile, rest, nil
	case "sqlite":
		return SchemeSQLite, rest, nil
	case "postgres", "postgresql":
		return SchemePostgres, location, nil
	case "blob":
		return SchemeBlob, rest, nil
	}
	return "", "", fmt.Errorf("unsupported storage scheme %q", scheme)
}

// Open returns the backend for location.
func Open(ctx context.Context, location string, opts Options) (Backend, error) {
	scheme, target, err := Parse(location)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemeFile:
		if target == "" {
			return nil, fmt.Errorf("file location needs a path")
		}
		return file.New(target), nil
	case SchemeSQLite:
		return sqlite.Open(ctx, target)
	case SchemePostgres:
		return postgres.Open(ctx, target)
	case SchemeBlob:
		store := opts.BlobStore
		if store == nil {
			if store, err = blob.Open(ctx, opts.Blob); err != nil {
				return nil, fmt.Errorf("open blob store: %w", err)
			}
		}
		return blobstore.New(store, target), nil
	}
	return nil, fmt.Errorf("unsupported storage scheme %q", scheme)
}
