// Package snapshottest builds small valid snapshot documents for backend tests.
package snapshottest

import (
	"time"

	"mousedb/internal/snapshot"
	"mousedb/pkg/domain"
)

// Document returns a valid document holding one cage and one mouse, with
// clock set to seq.
func Document(seq int64, savedAt time.Time) snapshot.Document {
	state := domain.NewState()
	state.Cages["C1"] = domain.Cage{ID: "C1", CreatedAt: savedAt.UTC()}
	state.Mice["M-1"] = domain.Mouse{
		ID: "M-1", Genotype: "WT", Sex: "F", CageID: "C1",
		Metadata:  domain.Metadata{BirthDate: "2024-11-02", Toe: "R1"},
		CreatedAt: savedAt.UTC(), UpdatedAt: savedAt.UTC(),
	}
	return snapshot.Build(snapshot.Contents{
		State:   state,
		LastSeq: seq,
		Schema:  domain.DefaultSchema(),
	}, savedAt)
}
