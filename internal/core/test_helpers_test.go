package core

import (
	"context"
	"testing"
	"time"

	"mousedb/internal/identity"
	"mousedb/pkg/domain"
)

var fixedNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func fixedClock() Clock { return ClockFunc(func() time.Time { return fixedNow }) }

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	return NewStore(append([]StoreOption{WithStoreClock(fixedClock())}, opts...)...)
}

func mouseInput(toe, genotype, sex, cage string) domain.NewMouse {
	return domain.NewMouse{
		Genotype: genotype,
		Sex:      sex,
		CageID:   cage,
		Metadata: domain.Metadata{BirthDate: "2024-11-02", Toe: toe},
	}
}

func mustCage(t *testing.T, s *Store, id string, capacity int) domain.Cage {
	t.Helper()
	c, _, err := s.CreateCage(context.Background(), domain.Cage{ID: id, Capacity: capacity})
	if err != nil {
		t.Fatalf("create cage %s: %v", id, err)
	}
	return c
}

func mustMouse(t *testing.T, s *Store, n domain.NewMouse) domain.Mouse {
	t.Helper()
	m, _, err := s.CreateMouse(context.Background(), n)
	if err != nil {
		t.Fatalf("create mouse %s: %v", n.Metadata.Toe, err)
	}
	return m
}

func mustVerify(t *testing.T, s *Store) {
	t.Helper()
	if err := s.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func kinds(records []domain.ChangeRecord) []domain.Operation {
	out := make([]domain.Operation, len(records))
	for i, r := range records {
		out[i] = r.Kind
	}
	return out
}

func mustAssignerFor(t *testing.T, p identity.Policy) *identity.Assigner {
	t.Helper()
	a, err := identity.NewAssigner(p)
	if err != nil {
		t.Fatalf("new assigner: %v", err)
	}
	return a
}
