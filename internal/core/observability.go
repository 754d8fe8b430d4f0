package core

import (
	"context"
	"time"

	"mousedb/pkg/domain"
)

// Logger is the structured logging surface used by the service. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AuditStatus is the outcome recorded for an audited command.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one command executed by the service.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Operation
	EntityID  string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes command latency and outcome.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan is ended once per traced command.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service commands.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// operationMeta maps audited service operations to the record they touch.
var operationMeta = map[string]struct {
	entity domain.EntityType
	action domain.Operation
}{
	"create_mouse":   {domain.EntityMouse, domain.OpCreate},
	"edit_mouse":     {domain.EntityMouse, domain.OpEdit},
	"delete_mouse":   {domain.EntityMouse, domain.OpDelete},
	"transfer_mouse": {domain.EntityMouse, domain.OpTransfer},
	"create_cage":    {domain.EntityCage, domain.OpCreateCage},
	"delete_cage":    {domain.EntityCage, domain.OpDeleteCage},
}
