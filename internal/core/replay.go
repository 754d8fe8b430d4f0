package core

import (
	"fmt"
	"sort"

	"mousedb/pkg/domain"
)

// Replay applies change records in order to a copy of base and returns the
// resulting state. Each record's before image must match the state it is
// applied to, so a changelog replayed against the wrong base fails instead of
// silently diverging.
func Replay(base domain.State, records []domain.ChangeRecord) (domain.State, error) {
	state := base.Clone()
	var last int64
	for _, rec := range records {
		if rec.Seq != 0 {
			if rec.Seq <= last {
				return domain.State{}, domain.Corrupt("change record seq %d follows %d", rec.Seq, last)
			}
			last = rec.Seq
		}
		if err := applyRecord(&state, rec); err != nil {
			return domain.State{}, fmt.Errorf("replay seq %d (%s %s): %w", rec.Seq, rec.Kind, rec.EntityID, err)
		}
	}
	return state, nil
}

// Apply replays exported change records inside the transaction. The records
// are re-recorded with fresh sequence numbers on commit. Each after image is
// held to the same schema, date and immutability checks as a direct command.
func (tx *Transaction) Apply(records []domain.ChangeRecord) error {
	for _, rec := range records {
		if err := tx.checkReplayed(rec); err != nil {
			return fmt.Errorf("apply %s %s: %w", rec.Kind, rec.EntityID, err)
		}
		if err := applyRecord(&tx.state, rec); err != nil {
			return fmt.Errorf("apply %s %s: %w", rec.Kind, rec.EntityID, err)
		}
		if rec.Kind == domain.OpDelete {
			tx.dead[rec.EntityID] = struct{}{}
		}
		cp := rec.Clone()
		cp.Seq = 0
		tx.changes = append(tx.changes, cp)
	}
	if err := checkState(tx.state, tx.dead); err != nil {
		return domain.Corrupt("applied changelog leaves an inconsistent colony: %v", err)
	}
	return nil
}

// checkReplayed validates a mouse record against the colony's schema and
// identity policy before it is applied.
func (tx *Transaction) checkReplayed(rec domain.ChangeRecord) error {
	switch rec.Kind {
	case domain.OpCreate, domain.OpEdit, domain.OpTransfer:
	default:
		return nil
	}
	m, err := afterImage(rec)
	if err != nil {
		return err
	}
	if m.Tombstoned {
		return domain.Corrupt("%s record %s carries a tombstoned after image", rec.Kind, rec.EntityID)
	}
	for _, f := range []string{domain.FieldGenotype, domain.FieldSex} {
		v, _ := m.Field(f)
		if !tx.store.schema.Allows(f, v) {
			return domain.Invalid(domain.EntityMouse, m.ID, f, fmt.Sprintf("%q is not in the schema", v))
		}
	}
	if err := domain.ValidateDates(m.Metadata); err != nil {
		return err
	}
	current, ok := tx.state.Mice[rec.EntityID]
	if !ok || current.Tombstoned {
		return nil
	}
	switch rec.Kind {
	case domain.OpEdit:
		if m.CageID != current.CageID {
			return &domain.CommandError{Kind: domain.ErrImmutableFieldViolation, Entity: domain.EntityMouse, ID: m.ID, Field: domain.FieldCageID, Detail: "use transfer to move a mouse"}
		}
		for _, f := range changedFields(current, m) {
			if tx.store.assigner.IsImmutable(f) {
				return &domain.CommandError{Kind: domain.ErrImmutableFieldViolation, Entity: domain.EntityMouse, ID: m.ID, Field: f}
			}
		}
	case domain.OpTransfer:
		moved := current.Clone()
		moved.CageID = m.CageID
		if !sameMouse(moved, m) {
			return domain.Corrupt("TRANSFER record %s changes more than the cage", rec.EntityID)
		}
	}
	return nil
}

var mouseFields = []string{
	domain.FieldGenotype, domain.FieldSex, domain.FieldBirthDate, domain.FieldToe,
	domain.FieldParentF, domain.FieldParentM, domain.FieldBreedDate, domain.FieldNotes,
}

// changedFields lists the addressable fields whose values differ between a
// and b, attributes included.
func changedFields(a, b domain.Mouse) []string {
	fields := append([]string(nil), mouseFields...)
	seen := make(map[string]struct{})
	for _, attrs := range []map[string]string{a.Metadata.Attributes, b.Metadata.Attributes} {
		for k := range attrs {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				fields = append(fields, domain.AttributePrefix+k)
			}
		}
	}
	var out []string
	for _, f := range fields {
		av, _ := a.Field(f)
		bv, _ := b.Field(f)
		if av != bv {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func applyRecord(state *domain.State, rec domain.ChangeRecord) error {
	switch rec.Kind {
	case domain.OpCreate:
		m, err := afterImage(rec)
		if err != nil {
			return err
		}
		if _, exists := state.Mice[m.ID]; exists {
			return &domain.CommandError{Kind: domain.ErrDuplicateEntity, Entity: domain.EntityMouse, ID: m.ID}
		}
		if _, ok := state.Cages[m.CageID]; !ok {
			return domain.NotFound(domain.EntityCage, m.CageID)
		}
		state.Mice[m.ID] = m
	case domain.OpEdit, domain.OpTransfer, domain.OpDelete:
		m, err := afterImage(rec)
		if err != nil {
			return err
		}
		current, ok := state.Mice[rec.EntityID]
		if !ok || current.Tombstoned {
			return domain.NotFound(domain.EntityMouse, rec.EntityID)
		}
		if rec.Before == nil || rec.Before.Mouse == nil || !sameMouse(current, *rec.Before.Mouse) {
			return domain.Corrupt("before image of %s does not match current state", rec.EntityID)
		}
		if rec.Kind == domain.OpDelete {
			m.Tombstoned = true
		} else if _, ok := state.Cages[m.CageID]; !ok {
			return domain.NotFound(domain.EntityCage, m.CageID)
		}
		state.Mice[rec.EntityID] = m
	case domain.OpCreateCage:
		if rec.After == nil || rec.After.Cage == nil {
			return domain.Corrupt("CREATE_CAGE record %s lacks an after image", rec.EntityID)
		}
		if _, exists := state.Cages[rec.EntityID]; exists {
			return &domain.CommandError{Kind: domain.ErrDuplicateCage, Entity: domain.EntityCage, ID: rec.EntityID}
		}
		state.Cages[rec.EntityID] = *rec.After.Cage
	case domain.OpDeleteCage:
		if _, ok := state.Cages[rec.EntityID]; !ok {
			return domain.NotFound(domain.EntityCage, rec.EntityID)
		}
		for _, m := range state.Mice {
			if !m.Tombstoned && m.CageID == rec.EntityID {
				return &domain.CommandError{Kind: domain.ErrCageNotEmpty, Entity: domain.EntityCage, ID: rec.EntityID}
			}
		}
		delete(state.Cages, rec.EntityID)
	default:
		return domain.Corrupt("unknown change kind %q", rec.Kind)
	}
	return nil
}

func afterImage(rec domain.ChangeRecord) (domain.Mouse, error) {
	if rec.After == nil || rec.After.Mouse == nil {
		return domain.Mouse{}, domain.Corrupt("%s record %s lacks an after image", rec.Kind, rec.EntityID)
	}
	m := rec.After.Mouse.Clone()
	if m.ID != rec.EntityID {
		return domain.Mouse{}, domain.Corrupt("%s record %s carries image of %s", rec.Kind, rec.EntityID, m.ID)
	}
	return m, nil
}
