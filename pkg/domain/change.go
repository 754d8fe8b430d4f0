package domain

import "time"

// Operation is the kind of a committed mutation.
type Operation string

// Change record operations.
const (
	OpCreate     Operation = "CREATE"
	OpEdit       Operation = "EDIT"
	OpDelete     Operation = "DELETE"
	OpTransfer   Operation = "TRANSFER"
	OpCreateCage Operation = "CREATE_CAGE"
	OpDeleteCage Operation = "DELETE_CAGE"
)

// RecordState is the before or after image carried by a change record.
// Exactly one of Mouse or Cage is set.
type RecordState struct {
	Mouse *Mouse `json:"mouse,omitempty" yaml:"mouse,omitempty"`
	Cage  *Cage  `json:"cage,omitempty" yaml:"cage,omitempty"`
}

// MouseState wraps a copy of m.
func MouseState(m Mouse) *RecordState {
	cp := m.Clone()
	return &RecordState{Mouse: &cp}
}

// CageState wraps a copy of c.
func CageState(c Cage) *RecordState {
	cp := c
	return &RecordState{Cage: &cp}
}

// Clone returns a deep copy.
func (s *RecordState) Clone() *RecordState {
	if s == nil {
		return nil
	}
	out := &RecordState{}
	if s.Mouse != nil {
		m := s.Mouse.Clone()
		out.Mouse = &m
	}
	if s.Cage != nil {
		c := *s.Cage
		out.Cage = &c
	}
	return out
}

// ChangeRecord is an immutable log entry for one committed mutation. Seq is
// assigned from a monotonic logical clock and defines the replay order.
type ChangeRecord struct {
	Seq       int64        `json:"seq" yaml:"seq"`
	Timestamp time.Time    `json:"timestamp" yaml:"timestamp"`
	Kind      Operation    `json:"kind" yaml:"kind"`
	Entity    EntityType   `json:"entity" yaml:"entity"`
	EntityID  string       `json:"entity_id" yaml:"entity_id"`
	Before    *RecordState `json:"before,omitempty" yaml:"before,omitempty"`
	After     *RecordState `json:"after,omitempty" yaml:"after,omitempty"`
}

// Clone returns a deep copy.
func (c ChangeRecord) Clone() ChangeRecord {
	cp := c
	cp.Before = c.Before.Clone()
	cp.After = c.After.Clone()
	return cp
}

// CloneRecords deep copies a slice of change records.
func CloneRecords(in []ChangeRecord) []ChangeRecord {
	out := make([]ChangeRecord, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// TransferCages returns the source and target cage of a TRANSFER record.
func (c ChangeRecord) TransferCages() (from, to string) {
	if c.Before != nil && c.Before.Mouse != nil {
		from = c.Before.Mouse.CageID
	}
	if c.After != nil && c.After.Mouse != nil {
		to = c.After.Mouse.CageID
	}
	return from, to
}
