package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mousedb/internal/snapshot"
	"mousedb/pkg/domain"
)

// SeniorAgeDays is the age past which a mouse counts as senior in age reports.
const SeniorAgeDays = 300

// SnapshotBackend persists colony snapshots.
type SnapshotBackend interface {
	Save(ctx context.Context, doc snapshot.Document) error
	Load(ctx context.Context) (snapshot.Document, error)
}

// Service is the command surface of the colony. It wraps the store with
// tracing, metrics, audit and logging.
type Service struct {
	store   *Store
	clock   Clock
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// ServiceOption configures optional Service behaviour.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock     Clock
	logger    Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	storeOpts []StoreOption
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:   systemClock(),
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
}

// WithClock overrides the clock used for timestamps and durations.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithStoreOptions passes options to the store the service creates.
func WithStoreOptions(opts ...StoreOption) ServiceOption {
	return func(o *serviceOptions) { o.storeOpts = append(o.storeOpts, opts...) }
}

// NewService constructs a service over a new empty store.
func NewService(opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	storeOpts := append([]StoreOption{WithStoreClock(o.clock)}, o.storeOpts...)
	return &Service{
		store:   NewStore(storeOpts...),
		clock:   o.clock,
		logger:  o.logger,
		audit:   o.audit,
		metrics: o.metrics,
		tracer:  o.tracer,
	}
}

// Store returns the underlying store.
func (s *Service) Store() *Store { return s.store }

// run executes fn under a span and reports its outcome to metrics, audit and
// the log. entityID is read after fn so commands can report assigned ids.
func (s *Service) run(ctx context.Context, op string, entityID *string, fn func(context.Context) error) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	elapsed := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)

	id := ""
	if entityID != nil {
		id = *entityID
	}
	if meta, ok := operationMeta[op]; ok {
		entry := AuditEntry{
			Operation: op,
			Entity:    meta.entity,
			Action:    meta.action,
			EntityID:  id,
			Status:    AuditStatusSuccess,
			Duration:  elapsed,
			Timestamp: start,
		}
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = err.Error()
		}
		s.audit.Record(ctx, entry)
	}

	switch {
	case err == nil:
		s.logger.Debug("command completed", "operation", op, "id", id, "duration", elapsed)
	case domain.IsRecoverable(err):
		s.logger.Warn("command failed", "operation", op, "id", id, "error", err)
	default:
		s.logger.Error("integrity failure", "operation", op, "id", id, "error", err)
	}
	return err
}

func (s *Service) logWarnings(op string, res domain.Result) {
	for _, v := range res.Warnings() {
		s.logger.Info("rule warning", "operation", op, "rule", v.Rule, "entity_id", v.EntityID, "message", v.Message)
	}
}

// CreateMouse derives the id of n and inserts the mouse.
func (s *Service) CreateMouse(ctx context.Context, n domain.NewMouse) (domain.Mouse, domain.Result, error) {
	var (
		out domain.Mouse
		res domain.Result
		id  string
	)
	err := s.run(ctx, "create_mouse", &id, func(ctx context.Context) error {
		var err error
		out, res, err = s.store.CreateMouse(ctx, n)
		id = out.ID
		return err
	})
	s.logWarnings("create_mouse", res)
	return out, res, err
}

// EditMouse applies field updates to a mouse.
func (s *Service) EditMouse(ctx context.Context, id string, updates map[string]string) (domain.Mouse, domain.Result, error) {
	var (
		out domain.Mouse
		res domain.Result
	)
	err := s.run(ctx, "edit_mouse", &id, func(ctx context.Context) error {
		var err error
		out, res, err = s.store.EditMouse(ctx, id, updates)
		return err
	})
	s.logWarnings("edit_mouse", res)
	return out, res, err
}

// DeleteMouse tombstones a mouse.
func (s *Service) DeleteMouse(ctx context.Context, id string) (domain.Result, error) {
	var res domain.Result
	err := s.run(ctx, "delete_mouse", &id, func(ctx context.Context) error {
		var err error
		res, err = s.store.DeleteMouse(ctx, id)
		return err
	})
	return res, err
}

// TransferMouse moves a mouse to another cage.
func (s *Service) TransferMouse(ctx context.Context, id, target string) (domain.Mouse, domain.Result, error) {
	var (
		out domain.Mouse
		res domain.Result
	)
	err := s.run(ctx, "transfer_mouse", &id, func(ctx context.Context) error {
		var err error
		out, res, err = s.store.TransferMouse(ctx, id, target)
		return err
	})
	s.logWarnings("transfer_mouse", res)
	return out, res, err
}

// CreateCage registers a cage.
func (s *Service) CreateCage(ctx context.Context, c domain.Cage) (domain.Cage, domain.Result, error) {
	var (
		out domain.Cage
		res domain.Result
	)
	id := c.ID
	err := s.run(ctx, "create_cage", &id, func(ctx context.Context) error {
		var err error
		out, res, err = s.store.CreateCage(ctx, c)
		return err
	})
	return out, res, err
}

// DeleteCage removes a cage, optionally reassigning its members.
func (s *Service) DeleteCage(ctx context.Context, id string, opts DeleteCageOptions) (domain.Result, error) {
	var res domain.Result
	err := s.run(ctx, "delete_cage", &id, func(ctx context.Context) error {
		var err error
		res, err = s.store.DeleteCage(ctx, id, opts)
		return err
	})
	s.logWarnings("delete_cage", res)
	return res, err
}

// EnsureHoldingCages creates the Waiting Room and Death Row cages when they
// are missing and returns the cages it created.
func (s *Service) EnsureHoldingCages(ctx context.Context) ([]domain.Cage, error) {
	var created []domain.Cage
	err := s.run(ctx, "ensure_holding_cages", nil, func(ctx context.Context) error {
		_, err := s.store.RunInTransaction(ctx, func(tx *Transaction) error {
			created = nil
			for _, id := range []string{domain.CageWaitingRoom, domain.CageDeathRow} {
				if _, ok := tx.state.Cages[id]; ok {
					continue
				}
				c, err := tx.CreateCage(domain.Cage{ID: id, Note: "holding"})
				if err != nil {
					return err
				}
				created = append(created, c)
			}
			return nil
		})
		return err
	})
	return created, err
}

// QueryPopulation counts live mice per category of the named grouping.
func (s *Service) QueryPopulation(groupBy string) (map[domain.CategoryKey]int, error) {
	g, err := domain.ParseGroupBy(groupBy)
	if err != nil {
		return nil, err
	}
	return s.store.QueryPopulation(g), nil
}

// QueryCage returns the roster of a cage.
func (s *Service) QueryCage(cageID string) ([]domain.MouseSummary, error) {
	return s.store.QueryCage(cageID)
}

// AgeReport classifies live mice per genotype into young males, young
// females and seniors (older than SeniorAgeDays). Mice without a usable birth
// date count as young. Genotypes appear in schema order; genotypes without
// live mice are omitted.
func (s *Service) AgeReport(now time.Time) []domain.AgeClassCounts {
	byGenotype := make(map[string]*domain.AgeClassCounts)
	for _, m := range s.store.ListMice() {
		row, ok := byGenotype[m.Genotype]
		if !ok {
			row = &domain.AgeClassCounts{Genotype: m.Genotype}
			byGenotype[m.Genotype] = row
		}
		if age, ok := m.AgeDays(now); ok && age > SeniorAgeDays {
			row.Seniors++
			continue
		}
		switch m.Sex {
		case "M":
			row.Males++
		case "F":
			row.Females++
		}
	}
	out := make([]domain.AgeClassCounts, 0, len(byGenotype))
	for _, g := range s.store.Schema().Genotypes() {
		if row, ok := byGenotype[g]; ok {
			out = append(out, *row)
		}
	}
	return out
}

// Peek returns the pending change records.
func (s *Service) Peek() []domain.ChangeRecord { return s.store.Peek() }

// Flush returns and clears the pending change records.
func (s *Service) Flush() []domain.ChangeRecord { return s.store.Flush() }

// History returns the change records flushed at earlier save points.
func (s *Service) History() []domain.ChangeRecord { return s.store.History() }

// Summary renders the pending changes as a human-readable changelog.
func (s *Service) Summary() string { return s.store.Summary() }

// Compact drops flushed history; pending records are kept.
func (s *Service) Compact(ctx context.Context) (int, error) {
	var n int
	err := s.run(ctx, "compact", nil, func(context.Context) error {
		n = s.store.Compact()
		return nil
	})
	return n, err
}

// ApplyChangelog replays exported change records onto the colony as one
// command. Each record's before image must match the current state.
func (s *Service) ApplyChangelog(ctx context.Context, records []domain.ChangeRecord) (domain.Result, error) {
	var res domain.Result
	err := s.run(ctx, "apply_changelog", nil, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx *Transaction) error { return tx.Apply(records) })
		return err
	})
	s.logWarnings("apply_changelog", res)
	return res, err
}

// Verify runs the store consistency checks.
func (s *Service) Verify(ctx context.Context) error {
	return s.run(ctx, "verify", nil, func(context.Context) error { return s.store.Verify() })
}

// Save writes the colony to backend and, once the backend has committed,
// flushes the pending changelog into history. A failed save leaves the
// pending records untouched.
func (s *Service) Save(ctx context.Context, backend SnapshotBackend) (snapshot.Document, error) {
	var doc snapshot.Document
	err := s.run(ctx, "save", nil, func(ctx context.Context) error {
		contents := s.store.Contents()
		doc = snapshot.Build(contents, s.clock.Now())
		if err := backend.Save(ctx, doc); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		flushed := s.store.FlushThrough(contents.LastSeq)
		s.logger.Info("colony saved", "save_id", doc.SaveID, "flushed", len(flushed), "clock", doc.Clock)
		return nil
	})
	return doc, err
}

// Load replaces the colony with the newest snapshot in backend. It returns
// snapshot.ErrNotExist untouched when nothing has been saved. Entities whose
// genotype or sex is outside the configured schema make the snapshot corrupt.
func (s *Service) Load(ctx context.Context, backend SnapshotBackend) (snapshot.Document, error) {
	var doc snapshot.Document
	err := s.run(ctx, "load", nil, func(ctx context.Context) error {
		var err error
		doc, err = backend.Load(ctx)
		if err != nil {
			if errors.Is(err, snapshot.ErrNotExist) {
				return err
			}
			return fmt.Errorf("load snapshot: %w", err)
		}
		contents, err := doc.Contents()
		if err != nil {
			return err
		}
		schema := s.store.Schema()
		for _, m := range contents.State.Mice {
			if !schema.Allows(domain.FieldGenotype, m.Genotype) || !schema.Allows(domain.FieldSex, m.Sex) {
				return domain.Corrupt("entity %q has %s/%s outside the configured schema", m.ID, m.Genotype, m.Sex)
			}
		}
		if err := s.store.Restore(contents.State, contents.DeadIDs, contents.History, contents.Pending, contents.LastSeq); err != nil {
			return err
		}
		if err := s.store.Verify(); err != nil {
			return err
		}
		s.logger.Info("colony loaded", "save_id", doc.SaveID, "entities", len(doc.Entities), "cages", len(doc.Cages))
		return nil
	})
	return doc, err
}
