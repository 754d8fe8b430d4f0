package domain

import "sort"

// State is the plain colony state: every cage and every mouse record,
// tombstoned ones included. It is the unit exchanged between the store, the
// serializer and changelog replay.
type State struct {
	Cages map[string]Cage
	Mice  map[string]Mouse
}

// NewState returns an empty state.
func NewState() State {
	return State{
		Cages: make(map[string]Cage),
		Mice:  make(map[string]Mouse),
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{
		Cages: make(map[string]Cage, len(s.Cages)),
		Mice:  make(map[string]Mouse, len(s.Mice)),
	}
	for k, v := range s.Cages {
		out.Cages[k] = v
	}
	for k, v := range s.Mice {
		out.Mice[k] = v.Clone()
	}
	return out
}

// LiveMice returns non-tombstoned mice ordered by id.
func (s State) LiveMice() []Mouse {
	out := make([]Mouse, 0, len(s.Mice))
	for _, m := range s.Mice {
		if !m.Tombstoned {
			out = append(out, m.Clone())
		}
	}
	SortMice(out)
	return out
}

// DeadIDs returns the ids of tombstoned mice in order.
func (s State) DeadIDs() []string {
	var out []string
	for id, m := range s.Mice {
		if m.Tombstoned {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// CageIDs returns cage ids in order.
func (s State) CageIDs() []string {
	out := make([]string, 0, len(s.Cages))
	for id := range s.Cages {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
