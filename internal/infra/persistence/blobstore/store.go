// Package blobstore keeps colony snapshots as objects in a blob store, one
// object per save. Keys sort by changelog clock so the newest save is the
// last key under the prefix.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"mousedb/internal/blob"
	"mousedb/internal/snapshot"
)

const (
	contentType = "application/json"

	metaSaveID  = "save-id"
	metaVersion = "schema-version"
)

// Store is a snapshot backend over a blob.Store.
type Store struct {
	blobs  blob.Store
	prefix string
}

// New returns a backend writing under prefix (default "snapshots").
func New(blobs blob.Store, prefix string) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "snapshots"
	}
	return &Store{blobs: blobs, prefix: prefix}
}

// Prefix returns the key prefix.
func (s *Store) Prefix() string { return s.prefix }

// key orders saves by changelog clock, then save time. Saves with equal
// clocks hold the same colony state.
func (s *Store) key(doc snapshot.Document) string {
	return fmt.Sprintf("%s/%020d-%020d-%s.json", s.prefix, doc.Clock, doc.SavedAt.UnixNano(), doc.SaveID)
}

// Save uploads doc as a new object.
func (s *Store) Save(ctx context.Context, doc snapshot.Document) error {
	data, err := snapshot.Encode(doc, snapshot.FormatJSON)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = s.blobs.Put(ctx, s.key(doc), bytes.NewReader(data), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			metaSaveID:  doc.SaveID,
			metaVersion: strconv.Itoa(doc.SchemaVersion),
		},
	})
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// Load downloads the newest snapshot.
func (s *Store) Load(ctx context.Context) (snapshot.Document, error) {
	infos, err := s.list(ctx)
	if err != nil {
		return snapshot.Document{}, err
	}
	if len(infos) == 0 {
		return snapshot.Document{}, snapshot.ErrNotExist
	}
	latest := infos[len(infos)-1]
	_, rc, err := s.blobs.Get(ctx, latest.Key)
	if errors.Is(err, blob.ErrNotFound) {
		return snapshot.Document{}, snapshot.ErrNotExist
	}
	if err != nil {
		return snapshot.Document{}, fmt.Errorf("get snapshot %s: %w", latest.Key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return snapshot.Document{}, fmt.Errorf("read snapshot %s: %w", latest.Key, err)
	}
	return snapshot.Decode(data, snapshot.FormatJSON)
}

// Saves lists stored snapshots oldest first. Seq is the position in that
// order, starting at 1.
func (s *Store) Saves(ctx context.Context) ([]snapshot.SaveInfo, error) {
	infos, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]snapshot.SaveInfo, 0, len(infos))
	for i, info := range infos {
		saveID, version := parseKey(strings.TrimPrefix(info.Key, s.prefix+"/"))
		if v := info.Metadata[metaSaveID]; v != "" {
			saveID = v
		}
		if v, err := strconv.Atoi(info.Metadata[metaVersion]); err == nil {
			version = v
		}
		out = append(out, snapshot.SaveInfo{
			Seq:           int64(i + 1),
			SaveID:        saveID,
			SchemaVersion: version,
			SavedAt:       info.LastModified,
		})
	}
	return out, nil
}

func (s *Store) list(ctx context.Context) ([]blob.Info, error) {
	infos, err := s.blobs.List(ctx, s.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Key, ".json") {
			out = append(out, info)
		}
	}
	return out, nil
}

// parseKey extracts the save id from "<clock>-<nanos>-<save id>.json". The
// schema version is unknown from the key alone.
func parseKey(name string) (saveID string, version int) {
	name = strings.TrimSuffix(name, ".json")
	parts := strings.SplitN(name, "-", 3)
	if len(parts) == 3 {
		return parts[2], 0
	}
	return name, 0
}

// Close is a no-op; blob stores hold no per-backend resources.
func (s *Store) Close() error { return nil }
