package core

import (
	"fmt"
	"sort"
	"strings"

	"mousedb/pkg/domain"
)

// Recorder accumulates change records in commit order. Pending records are
// those committed since the last save point; history holds the records
// already flushed into persisted snapshots since inception or the last
// compaction.
type Recorder struct {
	clock   *LogicalClock
	pending []domain.ChangeRecord
	history []domain.ChangeRecord
}

// NewRecorder returns an empty recorder whose clock starts at zero.
func NewRecorder() *Recorder {
	return &Recorder{clock: NewLogicalClockAt(0)}
}

// Record stamps the next sequence number on change and appends it.
func (r *Recorder) Record(change domain.ChangeRecord) domain.ChangeRecord {
	change = change.Clone()
	change.Seq = r.clock.Next()
	r.pending = append(r.pending, change)
	return change.Clone()
}

// Flush returns the pending records, moves them into history and clears the
// pending buffer. A second Flush without intervening commits returns an empty
// slice.
func (r *Recorder) Flush() []domain.ChangeRecord {
	out := domain.CloneRecords(r.pending)
	r.history = append(r.history, r.pending...)
	r.pending = nil
	return out
}

// FlushThrough moves pending records with Seq <= seq into history and
// returns them. Records committed after seq stay pending.
func (r *Recorder) FlushThrough(seq int64) []domain.ChangeRecord {
	n := 0
	for n < len(r.pending) && r.pending[n].Seq <= seq {
		n++
	}
	out := domain.CloneRecords(r.pending[:n])
	r.history = append(r.history, r.pending[:n]...)
	r.pending = append([]domain.ChangeRecord(nil), r.pending[n:]...)
	if len(r.pending) == 0 {
		r.pending = nil
	}
	return out
}

// Peek returns a copy of the pending records without clearing them.
func (r *Recorder) Peek() []domain.ChangeRecord {
	return domain.CloneRecords(r.pending)
}

// Pending returns the number of pending records.
func (r *Recorder) Pending() int { return len(r.pending) }

// History returns a copy of the flushed records.
func (r *Recorder) History() []domain.ChangeRecord {
	return domain.CloneRecords(r.history)
}

// LastSeq returns the last issued sequence number.
func (r *Recorder) LastSeq() int64 { return r.clock.Current() }

// Restore resets the recorder to a persisted position: history and pending
// are replaced and the clock resumes after lastSeq.
func (r *Recorder) Restore(history, pending []domain.ChangeRecord, lastSeq int64) {
	r.history = domain.CloneRecords(history)
	r.pending = domain.CloneRecords(pending)
	r.clock = NewLogicalClockAt(lastSeq)
}

// Compact discards flushed history. Pending records and the clock position
// are kept so ordering continues without gaps in meaning.
func (r *Recorder) Compact() int {
	n := len(r.history)
	r.history = nil
	return n
}

// Summary renders the pending records as a human-readable changelog.
func (r *Recorder) Summary() string {
	return RenderSummary(r.pending)
}

// RenderSummary groups records into Added, Changed, Transferred, Removed and
// Cages sections. Records keep commit order inside each section.
func RenderSummary(records []domain.ChangeRecord) string {
	var added, changed, moved, removed, cages []string
	for _, c := range records {
		switch c.Kind {
		case domain.OpCreate:
			if m := afterMouse(c); m != nil {
				added = append(added, fmt.Sprintf("%s  %s %s  cage %s", m.ID, m.Genotype, m.Sex, m.CageID))
			}
		case domain.OpEdit:
			if c.Before != nil && c.Before.Mouse != nil && c.After != nil && c.After.Mouse != nil {
				for _, d := range diffMouse(*c.Before.Mouse, *c.After.Mouse) {
					changed = append(changed, fmt.Sprintf("%s  %s", c.EntityID, d))
				}
			}
		case domain.OpTransfer:
			from, to := c.TransferCages()
			moved = append(moved, fmt.Sprintf("%s  %s -> %s", c.EntityID, from, to))
		case domain.OpDelete:
			removed = append(removed, c.EntityID)
		case domain.OpCreateCage:
			cages = append(cages, "+ "+c.EntityID)
		case domain.OpDeleteCage:
			cages = append(cages, "- "+c.EntityID)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Changelog: %d change(s)\n", len(records))
	section := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s (%d)\n", title, len(lines))
		for _, l := range lines {
			b.WriteString("  ")
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	section("Added", added)
	section("Changed", changed)
	section("Transferred", moved)
	section("Removed", removed)
	section("Cages", cages)
	return b.String()
}

func afterMouse(c domain.ChangeRecord) *domain.Mouse {
	if c.After == nil {
		return nil
	}
	return c.After.Mouse
}

var summaryFields = []string{
	domain.FieldGenotype,
	domain.FieldSex,
	domain.FieldBirthDate,
	domain.FieldToe,
	domain.FieldParentF,
	domain.FieldParentM,
	domain.FieldBreedDate,
	domain.FieldNotes,
}

// diffMouse lists `field: "old" -> "new"` for every differing field.
func diffMouse(before, after domain.Mouse) []string {
	var out []string
	for _, f := range summaryFields {
		a, _ := before.Field(f)
		b, _ := after.Field(f)
		if a != b {
			out = append(out, fmt.Sprintf("%s: %q -> %q", f, a, b))
		}
	}
	keys := make(map[string]struct{})
	for k := range before.Metadata.Attributes {
		keys[k] = struct{}{}
	}
	for k := range after.Metadata.Attributes {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	for _, k := range sorted {
		a, b := before.Metadata.Attributes[k], after.Metadata.Attributes[k]
		if a != b {
			out = append(out, fmt.Sprintf("%s%s: %q -> %q", domain.AttributePrefix, k, a, b))
		}
	}
	return out
}
