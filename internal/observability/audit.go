package observability

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditLog is the append-only JSONL record of privileged actions: turns,
// tool executions, delegations. Until InitAuditLog points it at a file,
// events go to stderr.
type AuditLog struct {
	mu     sync.Mutex
	logger zerolog.Logger
	file   *os.File
}

// AuditEvent is one recorded action
type AuditEvent struct {
	Kind    string                 `json:"kind"`
	At      time.Time              `json:"at"`
	Actor   string                 `json:"actor,omitempty"` // session key or agent id
	Action  string                 `json:"action"`
	Status  string                 `json:"status"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

var (
	auditMu sync.Mutex
	audit   *AuditLog
)

// ActiveAuditLog returns the process-wide audit log
func ActiveAuditLog() *AuditLog {
	auditMu.Lock()
	defer auditMu.Unlock()
	if audit == nil {
		audit = &AuditLog{logger: zerolog.New(os.Stderr).With().Timestamp().Logger()}
	}
	return audit
}

// InitAuditLog opens (or creates) the JSONL audit file and routes all
// subsequent events to it.
func InitAuditLog(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	auditMu.Lock()
	audit = &AuditLog{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}
	auditMu.Unlock()
	return nil
}

// CloseAuditLog flushes and closes the audit file, if one is open
func CloseAuditLog() error {
	return ActiveAuditLog().close()
}

// Record appends one event. When the context carries an active span the
// event is also attached to it, so traces and the audit trail cross-link
// through the trace id.
func (a *AuditLog) Record(ctx context.Context, event AuditEvent) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.kind", event.Kind),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("kind", event.Kind).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)
	if len(event.Detail) > 0 {
		entry = entry.Interface("detail", event.Detail)
	}
	entry.Msg("")
}

func (a *AuditLog) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

func auditStatus(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// AuditTool records one tool execution outcome
func AuditTool(ctx context.Context, actor, toolName string, ok bool) {
	ActiveAuditLog().Record(ctx, AuditEvent{
		Kind:   "tool",
		Actor:  actor,
		Action: "execute:" + toolName,
		Status: auditStatus(ok),
	})
}

// AuditToolDenied records a tool call refused by policy
func AuditToolDenied(ctx context.Context, actor, toolName string) {
	ActiveAuditLog().Record(ctx, AuditEvent{
		Kind:   "tool",
		Actor:  actor,
		Action: "execute:" + toolName,
		Status: "denied",
	})
}

// AuditTurn records one completed or failed turn
func AuditTurn(ctx context.Context, actor, agentID string, ok bool) {
	ActiveAuditLog().Record(ctx, AuditEvent{
		Kind:   "turn",
		Actor:  actor,
		Action: "run:" + agentID,
		Status: auditStatus(ok),
	})
}

// AuditDelegation records one delegation outcome
func AuditDelegation(ctx context.Context, actor, specialistID string, ok bool) {
	ActiveAuditLog().Record(ctx, AuditEvent{
		Kind:   "delegation",
		Actor:  actor,
		Action: "delegate:" + specialistID,
		Status: auditStatus(ok),
	})
}
