package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mousedb/internal/identity"
	"mousedb/internal/snapshot"
	"mousedb/pkg/domain"
)

// Store is the canonical owner of mouse and cage records. Every mutation runs
// against a transactional copy of the state; the copy replaces the live state
// only when the command and the rules engine both succeed, after which the
// index, the changelog and registered observers are updated.
type Store struct {
	mu        sync.RWMutex
	state     domain.State
	dead      map[string]struct{}
	schema    domain.Schema
	assigner  *identity.Assigner
	engine    *domain.RulesEngine
	index     *CategoryIndex
	recorder  *Recorder
	observers []Observer
	clock     Clock
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithSchema injects the genotype and sex enumerations.
func WithSchema(schema domain.Schema) StoreOption {
	return func(s *Store) { s.schema = schema }
}

// WithAssigner injects the identity assigner.
func WithAssigner(a *identity.Assigner) StoreOption {
	return func(s *Store) {
		if a != nil {
			s.assigner = a
		}
	}
}

// WithRulesEngine injects the engine evaluated before each commit.
func WithRulesEngine(engine *domain.RulesEngine) StoreOption {
	return func(s *Store) { s.engine = engine }
}

// WithStoreClock overrides the wall clock used for timestamps.
func WithStoreClock(clock Clock) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewStore constructs an empty store. Without options it uses the default
// schema, the default identity policy and no rules.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		state:    domain.NewState(),
		dead:     make(map[string]struct{}),
		schema:   domain.DefaultSchema(),
		index:    NewCategoryIndex(),
		recorder: NewRecorder(),
		clock:    systemClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.assigner == nil {
		a, err := identity.NewAssigner(identity.DefaultPolicy())
		if err != nil {
			panic(err)
		}
		s.assigner = a
	}
	return s
}

// AddObserver registers an observer notified after every commit.
func (s *Store) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Schema returns the injected schema.
func (s *Store) Schema() domain.Schema { return s.schema }

// Assigner returns the identity assigner.
func (s *Store) Assigner() *identity.Assigner { return s.assigner }

// Transaction is a mutation set applied to a private copy of the store state.
type Transaction struct {
	store   *Store
	state   domain.State
	dead    map[string]struct{}
	changes []domain.ChangeRecord
	now     time.Time
}

// transactionView exposes the transactional state to rules and the assigner.
type transactionView struct {
	state *domain.State
	dead  map[string]struct{}
}

func (v transactionView) ListMice() []domain.Mouse { return v.state.LiveMice() }

func (v transactionView) ListCages() []domain.Cage {
	out := make([]domain.Cage, 0, len(v.state.Cages))
	for _, id := range v.state.CageIDs() {
		out = append(out, v.state.Cages[id])
	}
	return out
}

func (v transactionView) FindMouse(id string) (domain.Mouse, bool) {
	m, ok := v.state.Mice[id]
	if !ok {
		return domain.Mouse{}, false
	}
	return m.Clone(), true
}

func (v transactionView) LookupMouse(id string) (domain.Mouse, bool) { return v.FindMouse(id) }

func (v transactionView) FindCage(id string) (domain.Cage, bool) {
	c, ok := v.state.Cages[id]
	return c, ok
}

func (v transactionView) IsDead(id string) bool {
	_, ok := v.dead[id]
	return ok
}

func (tx *Transaction) view() transactionView {
	return transactionView{state: &tx.state, dead: tx.dead}
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// RunInTransaction executes fn within a transactional copy of the store
// state. Nothing observable changes unless fn and every blocking rule pass.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Transaction{
		store: s,
		state: s.state.Clone(),
		dead:  cloneSet(s.dead),
		now:   s.clock.Now(),
	}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil && len(tx.changes) > 0 {
		res, err := s.engine.Evaluate(ctx, tx.view(), tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	s.dead = tx.dead
	for _, change := range tx.changes {
		s.recorder.Record(change)
		s.notify(change)
	}
	return result, nil
}

func (s *Store) notify(change domain.ChangeRecord) {
	observers := append([]Observer{s.index}, s.observers...)
	for _, o := range observers {
		switch change.Kind {
		case domain.OpCreate:
			o.OnCreate(*change.After.Mouse)
		case domain.OpEdit:
			o.OnEdit(*change.Before.Mouse, *change.After.Mouse)
		case domain.OpTransfer:
			o.OnTransfer(*change.Before.Mouse, *change.After.Mouse)
		case domain.OpDelete:
			o.OnDelete(*change.Before.Mouse)
		case domain.OpCreateCage:
			o.OnCageCreate(*change.After.Cage)
		case domain.OpDeleteCage:
			o.OnCageDelete(*change.Before.Cage)
		}
	}
}

func (tx *Transaction) record(kind domain.Operation, entity domain.EntityType, id string, before, after *domain.RecordState) {
	tx.changes = append(tx.changes, domain.ChangeRecord{
		Timestamp: tx.now,
		Kind:      kind,
		Entity:    entity,
		EntityID:  id,
		Before:    before,
		After:     after,
	})
}

// CreateMouse derives the id of n and inserts the record. A live record with
// the same id and matching immutable fields is returned unchanged.
func (tx *Transaction) CreateMouse(n domain.NewMouse) (domain.Mouse, error) {
	if err := tx.store.schema.ValidateNew(n); err != nil {
		return domain.Mouse{}, err
	}
	id, existing, err := tx.store.assigner.AssignAgainst(n, tx.view())
	if err != nil {
		return domain.Mouse{}, asDuplicate(err)
	}
	if existing {
		return tx.state.Mice[id].Clone(), nil
	}
	if _, ok := tx.state.Cages[n.CageID]; !ok {
		return domain.Mouse{}, domain.NotFound(domain.EntityCage, n.CageID)
	}
	m := domain.Mouse{
		ID:        id,
		Genotype:  n.Genotype,
		Sex:       n.Sex,
		CageID:    n.CageID,
		Metadata:  n.Metadata.Clone(),
		CreatedAt: tx.now,
		UpdatedAt: tx.now,
	}
	tx.state.Mice[id] = m
	tx.record(domain.OpCreate, domain.EntityMouse, id, nil, domain.MouseState(m))
	return m.Clone(), nil
}

// asDuplicate reports a derived id that collides with a known record as a
// duplicate entity. Blank identity fields stay ambiguous.
func asDuplicate(err error) error {
	var cmdErr *domain.CommandError
	if errors.As(err, &cmdErr) && errors.Is(err, domain.ErrAmbiguousIdentity) && cmdErr.ID != "" {
		dup := *cmdErr
		dup.Kind = domain.ErrDuplicateEntity
		return &dup
	}
	return err
}

// EditMouse applies field updates to a live mouse. Identity-defining and
// immutable fields are rejected, as is cage_id, which changes only through
// TransferMouse. An empty attribute value removes the attribute.
func (tx *Transaction) EditMouse(id string, updates map[string]string) (domain.Mouse, error) {
	current, ok := tx.state.Mice[id]
	if !ok || current.Tombstoned {
		return domain.Mouse{}, domain.NotFound(domain.EntityMouse, id)
	}
	fields := make([]string, 0, len(updates))
	for f := range updates {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	next := current.Clone()
	for _, f := range fields {
		v := updates[f]
		switch {
		case !domain.KnownField(f):
			return domain.Mouse{}, domain.Invalid(domain.EntityMouse, id, f, "unknown field")
		case f == domain.FieldCageID:
			return domain.Mouse{}, &domain.CommandError{Kind: domain.ErrImmutableFieldViolation, Entity: domain.EntityMouse, ID: id, Field: f, Detail: "use transfer to move a mouse"}
		case tx.store.assigner.IsImmutable(f):
			if have, _ := current.Field(f); have == v {
				continue
			}
			return domain.Mouse{}, &domain.CommandError{Kind: domain.ErrImmutableFieldViolation, Entity: domain.EntityMouse, ID: id, Field: f}
		}
		if !tx.store.schema.Allows(f, v) {
			return domain.Mouse{}, domain.Invalid(domain.EntityMouse, id, f, fmt.Sprintf("%q is not in the schema", v))
		}
		setField(&next, f, v)
	}
	if err := domain.ValidateDates(next.Metadata); err != nil {
		return domain.Mouse{}, err
	}
	if sameMouse(current, next) {
		return current.Clone(), nil
	}
	next.UpdatedAt = tx.now
	tx.state.Mice[id] = next
	tx.record(domain.OpEdit, domain.EntityMouse, id, domain.MouseState(current), domain.MouseState(next))
	return next.Clone(), nil
}

func setField(m *domain.Mouse, field, value string) {
	switch field {
	case domain.FieldGenotype:
		m.Genotype = value
	case domain.FieldSex:
		m.Sex = value
	case domain.FieldBirthDate:
		m.Metadata.BirthDate = value
	case domain.FieldToe:
		m.Metadata.Toe = value
	case domain.FieldParentF:
		m.Metadata.ParentF = value
	case domain.FieldParentM:
		m.Metadata.ParentM = value
	case domain.FieldBreedDate:
		m.Metadata.BreedDate = value
	case domain.FieldNotes:
		m.Metadata.Notes = value
	default:
		key := strings.TrimPrefix(field, domain.AttributePrefix)
		if value == "" {
			delete(m.Metadata.Attributes, key)
			if len(m.Metadata.Attributes) == 0 {
				m.Metadata.Attributes = nil
			}
			return
		}
		if m.Metadata.Attributes == nil {
			m.Metadata.Attributes = make(map[string]string)
		}
		m.Metadata.Attributes[key] = value
	}
}

func sameMouse(a, b domain.Mouse) bool {
	if a.Genotype != b.Genotype || a.Sex != b.Sex || a.CageID != b.CageID {
		return false
	}
	am, bm := a.Metadata, b.Metadata
	if am.BirthDate != bm.BirthDate || am.Toe != bm.Toe || am.ParentF != bm.ParentF ||
		am.ParentM != bm.ParentM || am.BreedDate != bm.BreedDate || am.Notes != bm.Notes {
		return false
	}
	if len(am.Attributes) != len(bm.Attributes) {
		return false
	}
	for k, v := range am.Attributes {
		if w, ok := bm.Attributes[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// DeleteMouse tombstones a live mouse and retires its id.
func (tx *Transaction) DeleteMouse(id string) error {
	current, ok := tx.state.Mice[id]
	if !ok || current.Tombstoned {
		return domain.NotFound(domain.EntityMouse, id)
	}
	gone := current.Clone()
	gone.Tombstoned = true
	gone.UpdatedAt = tx.now
	tx.state.Mice[id] = gone
	tx.dead[id] = struct{}{}
	tx.record(domain.OpDelete, domain.EntityMouse, id, domain.MouseState(current), domain.MouseState(gone))
	return nil
}

// TransferMouse moves a live mouse to another existing cage.
func (tx *Transaction) TransferMouse(id, target string) (domain.Mouse, error) {
	current, ok := tx.state.Mice[id]
	if !ok || current.Tombstoned {
		return domain.Mouse{}, domain.NotFound(domain.EntityMouse, id)
	}
	if _, ok := tx.state.Cages[target]; !ok {
		return domain.Mouse{}, domain.NotFound(domain.EntityCage, target)
	}
	if current.CageID == target {
		return domain.Mouse{}, &domain.CommandError{Kind: domain.ErrNoOpTransfer, Entity: domain.EntityMouse, ID: id, Field: domain.FieldCageID, Detail: fmt.Sprintf("already housed in %s", target)}
	}
	next := current.Clone()
	next.CageID = target
	next.UpdatedAt = tx.now
	tx.state.Mice[id] = next
	tx.record(domain.OpTransfer, domain.EntityMouse, id, domain.MouseState(current), domain.MouseState(next))
	return next.Clone(), nil
}

// CreateCage registers a new empty cage.
func (tx *Transaction) CreateCage(c domain.Cage) (domain.Cage, error) {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return domain.Cage{}, domain.Invalid(domain.EntityCage, "", "cage_id", "cage id is required")
	}
	if c.Capacity < 0 {
		return domain.Cage{}, domain.Invalid(domain.EntityCage, c.ID, "capacity", "capacity must not be negative")
	}
	if _, exists := tx.state.Cages[c.ID]; exists {
		return domain.Cage{}, &domain.CommandError{Kind: domain.ErrDuplicateCage, Entity: domain.EntityCage, ID: c.ID}
	}
	c.CreatedAt = tx.now
	tx.state.Cages[c.ID] = c
	tx.record(domain.OpCreateCage, domain.EntityCage, c.ID, nil, domain.CageState(c))
	return c, nil
}

// DeleteCageOptions controls deletion of occupied cages.
type DeleteCageOptions struct {
	// Force permits deleting an occupied cage when ReassignTo is set.
	Force bool
	// ReassignTo receives the members of a force-deleted cage.
	ReassignTo string
}

// DeleteCage removes a cage. An occupied cage is refused unless Force is set
// with a reassignment target, in which case every member is transferred
// before the cage is removed.
func (tx *Transaction) DeleteCage(id string, opts DeleteCageOptions) error {
	cage, ok := tx.state.Cages[id]
	if !ok {
		return domain.NotFound(domain.EntityCage, id)
	}
	var members []string
	for _, m := range tx.state.LiveMice() {
		if m.CageID == id {
			members = append(members, m.ID)
		}
	}
	if len(members) > 0 {
		if !opts.Force {
			return &domain.CommandError{Kind: domain.ErrCageNotEmpty, Entity: domain.EntityCage, ID: id, Detail: fmt.Sprintf("%d live mice housed", len(members))}
		}
		target := strings.TrimSpace(opts.ReassignTo)
		if target == "" || target == id {
			return &domain.CommandError{Kind: domain.ErrDanglingMembers, Entity: domain.EntityCage, ID: id, Detail: fmt.Sprintf("%d members need a reassignment cage", len(members))}
		}
		for _, mouseID := range members {
			if _, err := tx.TransferMouse(mouseID, target); err != nil {
				return err
			}
		}
	}
	delete(tx.state.Cages, id)
	tx.record(domain.OpDeleteCage, domain.EntityCage, id, domain.CageState(cage), nil)
	return nil
}

// CreateMouse runs a single-mouse create transaction.
func (s *Store) CreateMouse(ctx context.Context, n domain.NewMouse) (domain.Mouse, domain.Result, error) {
	var out domain.Mouse
	res, err := s.RunInTransaction(ctx, func(tx *Transaction) error {
		m, err := tx.CreateMouse(n)
		out = m
		return err
	})
	return out, res, err
}

// EditMouse runs a single edit transaction.
func (s *Store) EditMouse(ctx context.Context, id string, updates map[string]string) (domain.Mouse, domain.Result, error) {
	var out domain.Mouse
	res, err := s.RunInTransaction(ctx, func(tx *Transaction) error {
		m, err := tx.EditMouse(id, updates)
		out = m
		return err
	})
	return out, res, err
}

// DeleteMouse runs a single delete transaction.
func (s *Store) DeleteMouse(ctx context.Context, id string) (domain.Result, error) {
	return s.RunInTransaction(ctx, func(tx *Transaction) error { return tx.DeleteMouse(id) })
}

// TransferMouse runs a single transfer transaction.
func (s *Store) TransferMouse(ctx context.Context, id, target string) (domain.Mouse, domain.Result, error) {
	var out domain.Mouse
	res, err := s.RunInTransaction(ctx, func(tx *Transaction) error {
		m, err := tx.TransferMouse(id, target)
		out = m
		return err
	})
	return out, res, err
}

// CreateCage runs a single cage creation transaction.
func (s *Store) CreateCage(ctx context.Context, c domain.Cage) (domain.Cage, domain.Result, error) {
	var out domain.Cage
	res, err := s.RunInTransaction(ctx, func(tx *Transaction) error {
		created, err := tx.CreateCage(c)
		out = created
		return err
	})
	return out, res, err
}

// DeleteCage runs a single cage deletion transaction.
func (s *Store) DeleteCage(ctx context.Context, id string, opts DeleteCageOptions) (domain.Result, error) {
	return s.RunInTransaction(ctx, func(tx *Transaction) error { return tx.DeleteCage(id, opts) })
}

// GetMouse returns a mouse record, tombstoned ones included.
func (s *Store) GetMouse(id string) (domain.Mouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.state.Mice[id]
	if !ok {
		return domain.Mouse{}, domain.NotFound(domain.EntityMouse, id)
	}
	return m.Clone(), nil
}

// ListMice returns live mice ordered by id.
func (s *Store) ListMice() []domain.Mouse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LiveMice()
}

// ListCages returns cages ordered by id.
func (s *Store) ListCages() []domain.Cage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListCages()
}

// DeadIDs returns the retired ids in order.
func (s *Store) DeadIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.dead))
	for id := range s.dead {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// QueryPopulation returns live counts per category of the grouping.
func (s *Store) QueryPopulation(g domain.GroupBy) map[domain.CategoryKey]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.QueryPopulation(g)
}

// QueryCage returns the roster of a cage ordered by mouse id.
func (s *Store) QueryCage(cageID string) ([]domain.MouseSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.QueryCage(cageID)
}

// Occupancy returns the number of live mice in a cage.
func (s *Store) Occupancy(cageID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Occupancy(cageID)
}

// State returns a deep copy of the canonical state.
func (s *Store) State() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Changelog exposes the recorder. Callers must not retain it across Restore.
func (s *Store) Changelog() *Recorder {
	return s.recorder
}

// Flush returns and clears the pending change records.
func (s *Store) Flush() []domain.ChangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder.Flush()
}

// Peek returns the pending change records.
func (s *Store) Peek() []domain.ChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recorder.Peek()
}

// Contents captures the state for a save point. Pending records are folded
// into History, since the document being built becomes the new save point;
// LastSeq marks how far the caller may FlushThrough once the save succeeds.
func (s *Store) Contents() snapshot.Contents {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dead := make([]string, 0, len(s.dead))
	for id := range s.dead {
		dead = append(dead, id)
	}
	sort.Strings(dead)
	return snapshot.Contents{
		State:   s.state.Clone(),
		DeadIDs: dead,
		History: append(s.recorder.History(), s.recorder.Peek()...),
		LastSeq: s.recorder.LastSeq(),
		Schema:  s.schema,
	}
}

// FlushThrough clears pending records up to seq.
func (s *Store) FlushThrough(seq int64) []domain.ChangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder.FlushThrough(seq)
}

// Compact discards flushed history and returns the number of records dropped.
func (s *Store) Compact() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder.Compact()
}

// History returns the flushed records.
func (s *Store) History() []domain.ChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recorder.History()
}

// Summary renders the pending records as a human-readable changelog.
func (s *Store) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recorder.Summary()
}

// Restore replaces the store contents with a persisted position. The dead-id
// set is rebuilt from tombstoned records and deadIDs, and the index is
// recomputed from scratch.
func (s *Store) Restore(state domain.State, deadIDs []string, history, pending []domain.ChangeRecord, lastSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dead := make(map[string]struct{}, len(deadIDs))
	for _, id := range deadIDs {
		dead[id] = struct{}{}
	}
	for id, m := range state.Mice {
		if m.Tombstoned {
			dead[id] = struct{}{}
		}
	}
	next := state.Clone()
	if err := checkState(next, dead); err != nil {
		return err
	}
	s.state = next
	s.dead = dead
	s.index.Rebuild(next)
	s.recorder.Restore(history, pending, lastSeq)
	return nil
}

// Verify runs the consistency checks: referential integrity of live mice,
// agreement between the dead-id set and tombstones, and index agreement with
// a full recomputation.
func (s *Store) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := checkState(s.state, s.dead); err != nil {
		return err
	}
	return s.index.Verify(s.state)
}

func checkState(state domain.State, dead map[string]struct{}) error {
	for id, m := range state.Mice {
		if m.ID != id {
			return &domain.IntegrityError{Check: "record_id", Detail: fmt.Sprintf("record keyed %s carries id %s", id, m.ID)}
		}
		_, retired := dead[id]
		if m.Tombstoned != retired {
			return &domain.IntegrityError{Check: "dead_ids", Detail: fmt.Sprintf("mouse %s tombstone flag disagrees with the dead-id set", id)}
		}
		if m.Tombstoned {
			continue
		}
		if _, ok := state.Cages[m.CageID]; !ok {
			return &domain.IntegrityError{Check: "cage_reference", Detail: fmt.Sprintf("mouse %s references missing cage %q", id, m.CageID)}
		}
	}
	for id := range dead {
		if _, ok := state.Mice[id]; !ok {
			return &domain.IntegrityError{Check: "dead_ids", Detail: fmt.Sprintf("retired id %s has no tombstone record", id)}
		}
	}
	return nil
}
