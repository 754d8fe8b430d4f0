// Package snapshot maps colony state plus changelog to a self-describing,
// versioned document and back.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"mousedb/pkg/domain"
)

// SchemaVersion is the document layout version written by this package.
// Documents declaring any other version are rejected.
const SchemaVersion = 1

// ErrNotExist is returned by backends when no snapshot has been saved yet.
var ErrNotExist = errors.New("snapshot does not exist")

// CategorySchema records the enumerations the colony was saved with.
type CategorySchema struct {
	Genotypes []string `json:"genotypes" yaml:"genotypes"`
	Sexes     []string `json:"sexes" yaml:"sexes"`
}

// Document is the persisted colony snapshot.
type Document struct {
	SchemaVersion int                   `json:"schema_version" yaml:"schema_version"`
	SaveID        string                `json:"save_id" yaml:"save_id"`
	SavedAt       time.Time             `json:"saved_at" yaml:"saved_at"`
	Clock         int64                 `json:"clock" yaml:"clock"`
	Schema        CategorySchema        `json:"schema" yaml:"schema"`
	Cages         []domain.Cage         `json:"cages" yaml:"cages"`
	Entities      []domain.Mouse        `json:"entities" yaml:"entities"`
	DeadIDs       []string              `json:"dead_ids" yaml:"dead_ids"`
	Changelog     []domain.ChangeRecord `json:"changelog" yaml:"changelog"`
	// Pending is never written by Save, which folds pending records into
	// Changelog. Documents produced elsewhere may carry records committed
	// after their save point; Load restores them as pending.
	Pending []domain.ChangeRecord `json:"pending,omitempty" yaml:"pending,omitempty"`
}

// Contents is the in-memory side of a snapshot.
type Contents struct {
	State   domain.State
	DeadIDs []string
	// History holds records already flushed at earlier save points.
	History []domain.ChangeRecord
	// Pending holds records committed since the last save point. It is only
	// filled when reading a document that carries them.
	Pending []domain.ChangeRecord
	LastSeq int64
	Schema  domain.Schema
}

// Build captures contents as a new document with a fresh save id. Cages and
// entities are written in id order so equal contents give equal documents
// apart from save id and time.
func Build(c Contents, savedAt time.Time) Document {
	doc := Document{
		SchemaVersion: SchemaVersion,
		SaveID:        uuid.NewString(),
		SavedAt:       savedAt.UTC(),
		Clock:         c.LastSeq,
		Schema:        CategorySchema{Genotypes: c.Schema.Genotypes(), Sexes: c.Schema.Sexes()},
		Cages:         make([]domain.Cage, 0, len(c.State.Cages)),
		Entities:      make([]domain.Mouse, 0, len(c.State.Mice)),
		DeadIDs:       append([]string{}, c.DeadIDs...),
		Changelog:     domain.CloneRecords(c.History),
		Pending:       domain.CloneRecords(c.Pending),
	}
	for _, id := range c.State.CageIDs() {
		doc.Cages = append(doc.Cages, c.State.Cages[id])
	}
	for _, m := range c.State.Mice {
		doc.Entities = append(doc.Entities, m.Clone())
	}
	domain.SortMice(doc.Entities)
	sort.Strings(doc.DeadIDs)
	return doc
}

// Contents validates the document and rebuilds the in-memory contents. The
// returned Schema is empty; callers keep their injected schema.
func (d Document) Contents() (Contents, error) {
	if err := d.Validate(); err != nil {
		return Contents{}, err
	}
	state := domain.NewState()
	for _, c := range d.Cages {
		state.Cages[c.ID] = c
	}
	for _, m := range d.Entities {
		state.Mice[m.ID] = m.Clone()
	}
	return Contents{
		State:   state,
		DeadIDs: append([]string(nil), d.DeadIDs...),
		History: domain.CloneRecords(d.Changelog),
		Pending: domain.CloneRecords(d.Pending),
		LastSeq: d.Clock,
	}, nil
}

// Validate checks the version tag, required fields, id uniqueness,
// references and changelog ordering.
func (d Document) Validate() error {
	if err := checkVersion(d.SchemaVersion); err != nil {
		return err
	}

	cages := make(map[string]struct{}, len(d.Cages))
	for i, c := range d.Cages {
		if c.ID == "" {
			return domain.Corrupt("cage %d has no id", i)
		}
		if _, dup := cages[c.ID]; dup {
			return domain.Corrupt("cage %q appears more than once", c.ID)
		}
		cages[c.ID] = struct{}{}
	}

	seen := make(map[string]bool, len(d.Entities))
	for i, m := range d.Entities {
		switch {
		case m.ID == "":
			return domain.Corrupt("entity %d has no id", i)
		case m.Genotype == "" || m.Sex == "":
			return domain.Corrupt("entity %q is missing genotype or sex", m.ID)
		case m.CageID == "" && !m.Tombstoned:
			return domain.Corrupt("live entity %q has no cage", m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			return domain.Corrupt("entity %q appears more than once", m.ID)
		}
		seen[m.ID] = m.Tombstoned
		if !m.Tombstoned {
			if _, ok := cages[m.CageID]; !ok {
				return domain.Corrupt("entity %q references missing cage %q", m.ID, m.CageID)
			}
		}
	}

	for _, id := range d.DeadIDs {
		tombstoned, ok := seen[id]
		if !ok || !tombstoned {
			return domain.Corrupt("dead id %q has no tombstoned entity", id)
		}
	}

	var last int64
	for _, rec := range append(append([]domain.ChangeRecord(nil), d.Changelog...), d.Pending...) {
		if rec.Seq <= last {
			return domain.Corrupt("changelog seq %d does not follow %d", rec.Seq, last)
		}
		if rec.Kind == "" || rec.EntityID == "" {
			return domain.Corrupt("changelog seq %d lacks kind or entity id", rec.Seq)
		}
		last = rec.Seq
	}
	if d.Clock < last {
		return domain.Corrupt("clock %d is behind changelog seq %d", d.Clock, last)
	}
	return nil
}

func checkVersion(v int) error {
	switch {
	case v == 0:
		return domain.Corrupt("schema_version is missing")
	case v != SchemaVersion:
		return &domain.CommandError{
			Kind:   domain.ErrSchemaVersionMismatch,
			Entity: domain.EntitySnapshot,
			Detail: fmt.Sprintf("document version %d, supported version %d", v, SchemaVersion),
		}
	}
	return nil
}

// SaveInfo describes one stored snapshot in backends that keep every save.
type SaveInfo struct {
	Seq           int64     `json:"seq"`
	SaveID        string    `json:"save_id"`
	SchemaVersion int       `json:"schema_version"`
	SavedAt       time.Time `json:"saved_at"`
}
