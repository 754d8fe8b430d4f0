package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"mousedb/internal/config"
	"mousedb/internal/core"
	"mousedb/internal/identity"
	"mousedb/internal/persistence"
	"mousedb/internal/platform/logger"
	"mousedb/internal/snapshot"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	location   string
	jsonOut    bool
	trace      bool

	out    io.Writer
	errOut io.Writer

	cfg      *config.Config
	log      *slog.Logger
	svc      *core.Service
	backend  persistence.Backend
	registry *prometheus.Registry
	expvar   *core.ExpvarMetricsRecorder
	dirty    bool
}

// slogAudit writes audit entries to the structured log.
type slogAudit struct{ log *slog.Logger }

func (a slogAudit) Record(ctx context.Context, e core.AuditEntry) {
	a.log.LogAttrs(ctx, slog.LevelDebug, "audit",
		slog.String("operation", e.Operation),
		slog.String("entity", string(e.Entity)),
		slog.String("action", string(e.Action)),
		slog.String("entity_id", e.EntityID),
		slog.String("status", string(e.Status)),
		slog.Duration("duration", e.Duration),
	)
}

// open loads configuration, builds the service and loads the colony from the
// configured location. A location without a snapshot yields an empty colony.
func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return system("load config", err)
	}
	if a.location != "" {
		cfg.Storage.Location = a.location
	}
	a.cfg = cfg
	a.log = logger.New(cfg.Log, a.errOut)
	slog.SetDefault(a.log)

	schema, err := cfg.DomainSchema()
	if err != nil {
		return system("schema", err)
	}
	assigner, err := identity.NewAssigner(cfg.IdentityPolicy())
	if err != nil {
		return system("identity policy", err)
	}
	capacity, lineage := cfg.RuleSeverities()

	opts := []core.ServiceOption{
		core.WithLogger(a.log),
		core.WithAuditRecorder(slogAudit{log: a.log}),
		core.WithStoreOptions(
			core.WithSchema(schema),
			core.WithAssigner(assigner),
			core.WithRulesEngine(core.NewRulesEngine(capacity, lineage)),
		),
	}
	switch cfg.Metrics.Driver {
	case "prometheus":
		a.registry = prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(a.registry)
		if err != nil {
			return system("metrics", err)
		}
		opts = append(opts, core.WithMetricsRecorder(rec))
	case "expvar":
		a.expvar = core.NewExpvarMetricsRecorder("")
		opts = append(opts, core.WithMetricsRecorder(a.expvar))
	}
	if a.trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(a.errOut)))
	}
	a.svc = core.NewService(opts...)

	backend, err := persistence.Open(ctx, cfg.Storage.Location, persistence.Options{Blob: cfg.BlobStoreConfig()})
	if err != nil {
		return system("open storage", err)
	}
	a.backend = backend
	if _, err := a.svc.Load(ctx, backend); err != nil {
		if errors.Is(err, snapshot.ErrNotExist) {
			a.log.Debug("no snapshot yet, starting an empty colony", "location", cfg.Storage.Location)
			return nil
		}
		return system("load colony", err)
	}
	return nil
}

// commit saves the colony when a command changed it.
func (a *app) commit(ctx context.Context) error {
	if !a.dirty || a.svc == nil {
		return nil
	}
	doc, err := a.svc.Save(ctx, a.backend)
	if err != nil {
		return system("save colony", err)
	}
	a.dirty = false
	a.log.Debug("saved", "save_id", doc.SaveID, "location", a.cfg.Storage.Location)
	return nil
}

// close releases the backend and reports collected metrics at debug level.
func (a *app) close() {
	if a.registry != nil {
		if families, err := a.registry.Gather(); err == nil {
			for _, mf := range families {
				a.log.Debug("metric", "name", mf.GetName(), "series", len(mf.GetMetric()))
			}
		}
	}
	if a.expvar != nil {
		a.log.Debug("metrics", "name", a.expvar.Name(), "results", a.expvar.Snapshot().Results)
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			fmt.Fprintf(a.errOut, "warning: close storage: %v\n", err)
		}
	}
}

// mutated marks the colony for saving after the command.
func (a *app) mutated() { a.dirty = true }
