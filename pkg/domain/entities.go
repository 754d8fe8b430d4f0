// Package domain defines the colony records (mice and cages), the change
// records that describe their mutation, and the rule primitives evaluated
// against them.
package domain

import (
	"sort"
	"strings"
	"time"
)

// EntityType identifies the kind of record a change or error refers to.
type EntityType string

// Supported entity type identifiers used in change records and errors.
const (
	// EntityMouse identifies an individual mouse record.
	EntityMouse EntityType = "mouse"
	// EntityCage identifies a cage record.
	EntityCage EntityType = "cage"
	// EntitySnapshot identifies a persisted colony snapshot.
	EntitySnapshot EntityType = "snapshot"
)

// Field names addressable by identity policies and edits.
const (
	FieldGenotype  = "genotype"
	FieldSex       = "sex"
	FieldCageID    = "cage_id"
	FieldBirthDate = "birth_date"
	FieldToe       = "toe"
	FieldParentF   = "parent_f"
	FieldParentM   = "parent_m"
	FieldBreedDate = "breed_date"
	FieldNotes     = "notes"

	// AttributePrefix addresses free-form attributes, e.g. "attr.coat".
	AttributePrefix = "attr."
)

// DateLayout is the layout used for birth and breed dates.
const DateLayout = "2006-01-02"

// Metadata holds the descriptive attributes of a mouse.
type Metadata struct {
	BirthDate  string            `json:"birth_date,omitempty" yaml:"birth_date,omitempty"`
	Toe        string            `json:"toe,omitempty" yaml:"toe,omitempty"`
	ParentF    string            `json:"parent_f,omitempty" yaml:"parent_f,omitempty"`
	ParentM    string            `json:"parent_m,omitempty" yaml:"parent_m,omitempty"`
	BreedDate  string            `json:"breed_date,omitempty" yaml:"breed_date,omitempty"`
	Notes      string            `json:"notes,omitempty" yaml:"notes,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	cp := m
	if m.Attributes != nil {
		cp.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			cp.Attributes[k] = v
		}
	}
	return cp
}

// NewMouse is the input accepted when creating a mouse.
type NewMouse struct {
	Genotype string   `json:"genotype" yaml:"genotype"`
	Sex      string   `json:"sex" yaml:"sex"`
	CageID   string   `json:"cage_id" yaml:"cage_id"`
	Metadata Metadata `json:"metadata" yaml:"metadata"`
}

// Field returns the value of a named field on the creation input.
func (n NewMouse) Field(name string) (string, bool) {
	switch name {
	case FieldGenotype:
		return n.Genotype, true
	case FieldSex:
		return n.Sex, true
	case FieldCageID:
		return n.CageID, true
	}
	return metadataField(n.Metadata, name)
}

// Mouse represents an individual tracked by the colony.
type Mouse struct {
	ID         string    `json:"id" yaml:"id"`
	Genotype   string    `json:"genotype" yaml:"genotype"`
	Sex        string    `json:"sex" yaml:"sex"`
	CageID     string    `json:"cage_id" yaml:"cage_id"`
	Metadata   Metadata  `json:"metadata" yaml:"metadata"`
	Tombstoned bool      `json:"tombstoned" yaml:"tombstoned"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy of the mouse.
func (m Mouse) Clone() Mouse {
	cp := m
	cp.Metadata = m.Metadata.Clone()
	return cp
}

// Field returns the value of a named field on the record.
func (m Mouse) Field(name string) (string, bool) {
	switch name {
	case FieldGenotype:
		return m.Genotype, true
	case FieldSex:
		return m.Sex, true
	case FieldCageID:
		return m.CageID, true
	}
	return metadataField(m.Metadata, name)
}

// Category returns the genotype/sex/cage key of the mouse.
func (m Mouse) Category() CategoryKey {
	return CategoryKey{Genotype: m.Genotype, Sex: m.Sex, CageID: m.CageID}
}

// Summary returns the roster projection of the mouse.
func (m Mouse) Summary() MouseSummary {
	return MouseSummary{
		ID:        m.ID,
		Genotype:  m.Genotype,
		Sex:       m.Sex,
		Toe:       m.Metadata.Toe,
		BirthDate: m.Metadata.BirthDate,
	}
}

// AgeDays returns the age in days at now. It reports false when the birth
// date is unset, unparsable or in the future.
func (m Mouse) AgeDays(now time.Time) (int, bool) {
	if m.Metadata.BirthDate == "" {
		return 0, false
	}
	born, err := time.Parse(DateLayout, m.Metadata.BirthDate)
	if err != nil {
		return 0, false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if born.After(today) {
		return 0, false
	}
	return int(today.Sub(born).Hours() / 24), true
}

// MouseSummary is the read-only projection used in cage rosters.
type MouseSummary struct {
	ID        string `json:"id"`
	Genotype  string `json:"genotype"`
	Sex       string `json:"sex"`
	Toe       string `json:"toe,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
}

// Cage is a labelled container housing zero or more mice.
type Cage struct {
	ID string `json:"id" yaml:"id"`
	// Capacity of zero means unlimited.
	Capacity  int       `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Holding cages for mice awaiting placement or culling.
const (
	CageWaitingRoom = "Waiting Room"
	CageDeathRow    = "Death Row"
)

func metadataField(m Metadata, name string) (string, bool) {
	switch name {
	case FieldBirthDate:
		return m.BirthDate, true
	case FieldToe:
		return m.Toe, true
	case FieldParentF:
		return m.ParentF, true
	case FieldParentM:
		return m.ParentM, true
	case FieldBreedDate:
		return m.BreedDate, true
	case FieldNotes:
		return m.Notes, true
	}
	if key, ok := strings.CutPrefix(name, AttributePrefix); ok && key != "" {
		return m.Attributes[key], true
	}
	return "", false
}

// KnownField reports whether name addresses a mouse field.
func KnownField(name string) bool {
	_, ok := Mouse{}.Field(name)
	return ok
}

// SortMice orders mice by id.
func SortMice(mice []Mouse) {
	sort.Slice(mice, func(i, j int) bool { return mice[i].ID < mice[j].ID })
}
