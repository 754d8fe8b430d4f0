package core

import (
	"fmt"
	"sort"

	"mousedb/pkg/domain"
)

// Observer receives committed mutations from the Store. Hooks are invoked
// synchronously after commit and never for a failed command.
type Observer interface {
	OnCreate(after domain.Mouse)
	OnEdit(before, after domain.Mouse)
	OnTransfer(before, after domain.Mouse)
	OnDelete(before domain.Mouse)
	OnCageCreate(cage domain.Cage)
	OnCageDelete(cage domain.Cage)
}

var groupings = []domain.GroupBy{domain.GroupByGenotype, domain.GroupBySex, domain.GroupByBoth, domain.GroupByCage}

// CategoryIndex maintains live membership by cage and population counts per
// grouping incrementally. It is owned by a Store and guarded by its lock.
type CategoryIndex struct {
	summaries map[string]domain.MouseSummary
	byCage    map[string]map[string]struct{}
	counts    map[domain.GroupBy]map[domain.CategoryKey]int
}

// NewCategoryIndex returns an empty index.
func NewCategoryIndex() *CategoryIndex {
	idx := &CategoryIndex{}
	idx.reset()
	return idx
}

func (x *CategoryIndex) reset() {
	x.summaries = make(map[string]domain.MouseSummary)
	x.byCage = make(map[string]map[string]struct{})
	x.counts = make(map[domain.GroupBy]map[domain.CategoryKey]int, len(groupings))
	for _, g := range groupings {
		x.counts[g] = make(map[domain.CategoryKey]int)
	}
}

// Rebuild replaces the index contents with the partition of state.
func (x *CategoryIndex) Rebuild(state domain.State) {
	x.reset()
	for _, c := range state.Cages {
		x.OnCageCreate(c)
	}
	for _, m := range state.Mice {
		if !m.Tombstoned {
			x.add(m)
		}
	}
}

// OnCreate registers a new live mouse.
func (x *CategoryIndex) OnCreate(after domain.Mouse) { x.add(after) }

// OnEdit re-indexes a mouse whose attributes changed.
func (x *CategoryIndex) OnEdit(before, after domain.Mouse) {
	x.remove(before)
	x.add(after)
}

// OnTransfer moves a mouse between cage member sets.
func (x *CategoryIndex) OnTransfer(before, after domain.Mouse) {
	x.remove(before)
	x.add(after)
}

// OnDelete drops a tombstoned mouse.
func (x *CategoryIndex) OnDelete(before domain.Mouse) { x.remove(before) }

// OnCageCreate registers an empty cage.
func (x *CategoryIndex) OnCageCreate(cage domain.Cage) {
	if _, ok := x.byCage[cage.ID]; !ok {
		x.byCage[cage.ID] = make(map[string]struct{})
	}
}

// OnCageDelete forgets a cage. The store guarantees it is empty.
func (x *CategoryIndex) OnCageDelete(cage domain.Cage) {
	delete(x.byCage, cage.ID)
}

func (x *CategoryIndex) add(m domain.Mouse) {
	x.summaries[m.ID] = m.Summary()
	members, ok := x.byCage[m.CageID]
	if !ok {
		members = make(map[string]struct{})
		x.byCage[m.CageID] = members
	}
	members[m.ID] = struct{}{}
	key := m.Category()
	for _, g := range groupings {
		x.counts[g][g.Project(key)]++
	}
}

func (x *CategoryIndex) remove(m domain.Mouse) {
	delete(x.summaries, m.ID)
	if members, ok := x.byCage[m.CageID]; ok {
		delete(members, m.ID)
	}
	key := m.Category()
	for _, g := range groupings {
		k := g.Project(key)
		if x.counts[g][k] <= 1 {
			delete(x.counts[g], k)
			continue
		}
		x.counts[g][k]--
	}
}

// QueryPopulation returns live member counts keyed by the grouping.
func (x *CategoryIndex) QueryPopulation(g domain.GroupBy) map[domain.CategoryKey]int {
	src, ok := x.counts[g]
	if !ok {
		src = x.counts[domain.GroupByBoth]
	}
	out := make(map[domain.CategoryKey]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// QueryCage returns the roster of a cage ordered by mouse id.
func (x *CategoryIndex) QueryCage(cageID string) ([]domain.MouseSummary, error) {
	members, ok := x.byCage[cageID]
	if !ok {
		return nil, domain.NotFound(domain.EntityCage, cageID)
	}
	out := make([]domain.MouseSummary, 0, len(members))
	for id := range members {
		out = append(out, x.summaries[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Occupancy returns the number of live mice in a cage.
func (x *CategoryIndex) Occupancy(cageID string) int {
	return len(x.byCage[cageID])
}

// Verify compares the index against a full recomputation from state and
// reports the first divergence as an IntegrityError.
func (x *CategoryIndex) Verify(state domain.State) error {
	expected := NewCategoryIndex()
	expected.Rebuild(state)

	if len(expected.summaries) != len(x.summaries) {
		return &domain.IntegrityError{Check: "index_members", Detail: fmt.Sprintf("index holds %d live mice, store holds %d", len(x.summaries), len(expected.summaries))}
	}
	for id, want := range expected.summaries {
		if got, ok := x.summaries[id]; !ok || got != want {
			return &domain.IntegrityError{Check: "index_members", Detail: fmt.Sprintf("mouse %s is stale or missing in the index", id)}
		}
	}
	if len(expected.byCage) != len(x.byCage) {
		return &domain.IntegrityError{Check: "index_cages", Detail: fmt.Sprintf("index tracks %d cages, store holds %d", len(x.byCage), len(expected.byCage))}
	}
	for cageID, want := range expected.byCage {
		got, ok := x.byCage[cageID]
		if !ok || len(got) != len(want) {
			return &domain.IntegrityError{Check: "index_cages", Detail: fmt.Sprintf("cage %s membership diverged", cageID)}
		}
		for id := range want {
			if _, ok := got[id]; !ok {
				return &domain.IntegrityError{Check: "index_cages", Detail: fmt.Sprintf("cage %s is missing mouse %s", cageID, id)}
			}
		}
	}
	for _, g := range groupings {
		want, got := expected.counts[g], x.counts[g]
		if len(want) != len(got) {
			return &domain.IntegrityError{Check: "index_counts", Detail: fmt.Sprintf("grouping %s has %d categories, expected %d", g, len(got), len(want))}
		}
		for k, n := range want {
			if got[k] != n {
				return &domain.IntegrityError{Check: "index_counts", Detail: fmt.Sprintf("grouping %s category %s counts %d, expected %d", g, k, got[k], n)}
			}
		}
	}
	return nil
}
