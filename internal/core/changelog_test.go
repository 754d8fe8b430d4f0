package core

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"mousedb/pkg/domain"
)

func summaryRecords() []domain.ChangeRecord {
	m1 := domain.Mouse{ID: "M-1", Genotype: "WT", Sex: "F", CageID: "C1"}
	m2 := domain.Mouse{ID: "M-2", Genotype: "CMV-CRE", Sex: "M", CageID: "C1"}
	m1b := m1.Clone()
	m1b.Metadata.Notes = "weaned"
	m1b.Metadata.Attributes = map[string]string{"coat": "agouti"}
	m2b := m2.Clone()
	m2b.CageID = "C2"
	gone := m1b.Clone()
	gone.Tombstoned = true
	return []domain.ChangeRecord{
		{Seq: 1, Kind: domain.OpCreateCage, Entity: domain.EntityCage, EntityID: "C1", After: domain.CageState(domain.Cage{ID: "C1"})},
		{Seq: 2, Kind: domain.OpCreate, Entity: domain.EntityMouse, EntityID: "M-1", After: domain.MouseState(m1)},
		{Seq: 3, Kind: domain.OpCreate, Entity: domain.EntityMouse, EntityID: "M-2", After: domain.MouseState(m2)},
		{Seq: 4, Kind: domain.OpEdit, Entity: domain.EntityMouse, EntityID: "M-1", Before: domain.MouseState(m1), After: domain.MouseState(m1b)},
		{Seq: 5, Kind: domain.OpTransfer, Entity: domain.EntityMouse, EntityID: "M-2", Before: domain.MouseState(m2), After: domain.MouseState(m2b)},
		{Seq: 6, Kind: domain.OpDelete, Entity: domain.EntityMouse, EntityID: "M-1", Before: domain.MouseState(m1b), After: domain.MouseState(gone)},
		{Seq: 7, Kind: domain.OpDeleteCage, Entity: domain.EntityCage, EntityID: "C3", Before: domain.CageState(domain.Cage{ID: "C3"})},
	}
}

func TestRenderSummaryGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "changelog_summary", []byte(RenderSummary(summaryRecords())))
}

func TestRenderSummaryEmpty(t *testing.T) {
	if got := RenderSummary(nil); got != "Changelog: 0 change(s)\n" {
		t.Fatalf("unexpected empty summary %q", got)
	}
}

func TestRecorderStampsAndFlushes(t *testing.T) {
	r := NewRecorder()
	for _, rec := range summaryRecords()[:3] {
		rec.Seq = 0
		r.Record(rec)
	}
	if r.Pending() != 3 || r.LastSeq() != 3 {
		t.Fatalf("pending=%d last=%d", r.Pending(), r.LastSeq())
	}
	peek := r.Peek()
	peek[0].EntityID = "mutated"
	if r.Peek()[0].EntityID != "C1" {
		t.Fatalf("peek exposed internal records")
	}
	if got := r.FlushThrough(2); len(got) != 2 || r.Pending() != 1 {
		t.Fatalf("flush through 2 returned %d, pending %d", len(got), r.Pending())
	}
	if got := r.Flush(); len(got) != 1 || got[0].Seq != 3 {
		t.Fatalf("flush returned %+v", got)
	}
	if len(r.Flush()) != 0 || len(r.History()) != 3 {
		t.Fatalf("flush should be idempotent and keep history")
	}
	if n := r.Compact(); n != 3 || len(r.History()) != 0 {
		t.Fatalf("compact dropped %d", n)
	}
	next := r.Record(domain.ChangeRecord{Kind: domain.OpCreateCage, EntityID: "C9"})
	if next.Seq != 4 {
		t.Fatalf("clock must continue after compaction, got %d", next.Seq)
	}
}

func TestRecorderRestore(t *testing.T) {
	r := NewRecorder()
	recs := summaryRecords()
	r.Restore(recs[:5], recs[5:], 9)
	if len(r.History()) != 5 || r.Pending() != 2 || r.LastSeq() != 9 {
		t.Fatalf("restore did not take effect")
	}
	if got := r.Record(domain.ChangeRecord{Kind: domain.OpCreateCage, EntityID: "C4"}); got.Seq != 10 {
		t.Fatalf("clock did not resume after 9: %d", got.Seq)
	}
	if r.Summary() == "" {
		t.Fatalf("summary should render pending records")
	}
}

func TestLogicalClock(t *testing.T) {
	c := NewLogicalClockAt(41)
	if c.Current() != 41 || c.Next() != 42 || c.Current() != 42 {
		t.Fatalf("clock sequence broken")
	}
}
