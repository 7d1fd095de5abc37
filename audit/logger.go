// Package audit records operational audit events for vault operations.
// Custody chains prove who touched an artifact; audit events additionally
// capture failures and integrity incidents across the whole process.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

const (
	// Event types
	EventTypeEvidenceStore      = "evidence.store"
	EventTypeEvidenceRetrieve   = "evidence.retrieve"
	EventTypeEvidenceMetadata   = "evidence.metadata"
	EventTypeCustodyAppend      = "custody.append"
	EventTypeCustodyVerify      = "custody.verify"
	EventTypeEvidenceSearch     = "evidence.search"
	EventTypeIntegrityViolation = "evidence.integrity_violation"
	EventTypeSweep              = "custody.sweep"

	// Operations
	OperationStore         = "store"
	OperationRetrieve      = "retrieve"
	OperationGetMetadata   = "get_metadata"
	OperationGetCustody    = "get_chain_of_custody"
	OperationAddCustody    = "add_custody_event"
	OperationSearch        = "search"
	OperationVerifyCustody = "verify_custody"
	OperationSweep         = "sweep"

	// Statuses
	StatusSuccess = "success"
	StatusFailed  = "failed"
	// StatusDegraded marks an operation that succeeded without recording custody
	StatusDegraded = "degraded"
)

// ZerologLogger implements interfaces.AuditLogger by writing events through zerolog
type ZerologLogger struct {
	logger zerolog.Logger
}

var _ interfaces.AuditLogger = (*ZerologLogger)(nil)

// NewZerologLogger creates an audit logger on the global zerolog logger
func NewZerologLogger() *ZerologLogger {
	return &ZerologLogger{logger: log.With().Str("component", "audit").Logger()}
}

// NewZerologLoggerWith creates an audit logger writing to logger
func NewZerologLoggerWith(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

// Printf implements the required Printf method from the interfaces.AuditLogger interface
func (l *ZerologLogger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

// LogEvent writes an audit event. Failed events and integrity incidents are
// logged at error level, everything else at info.
func (l *ZerologLogger) LogEvent(ctx context.Context, event *types.AuditEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	Complete(ctx, event)

	logEvent := l.logger.Info()
	if event.Status == StatusFailed || event.EventType == EventTypeIntegrityViolation {
		logEvent = l.logger.Error()
	} else if event.Status == StatusDegraded {
		logEvent = l.logger.Warn()
	}

	logEvent = logEvent.
		Str("auditId", event.ID).
		Time("timestamp", event.Timestamp).
		Str("eventType", event.EventType).
		Str("operation", event.Operation).
		Str("status", event.Status)
	if event.EvidenceID != "" {
		logEvent = logEvent.Str("evidenceId", event.EvidenceID)
	}
	if event.User != "" {
		logEvent = logEvent.Str("user", event.User)
	}
	if len(event.Context) > 0 {
		logEvent = logEvent.Interface("context", event.Context)
	}

	logEvent.Msg("Audit event")
	return nil
}

// GetEvents returns events matching the filter (not implemented for the log sink)
func (l *ZerologLogger) GetEvents(ctx context.Context, filter map[string]interface{}) ([]*types.AuditEvent, error) {
	return nil, fmt.Errorf("getting events not supported for zerolog audit logger")
}

// MultiLogger fans events out to several sinks. Queries go to the first sink
// that supports them.
type MultiLogger struct {
	sinks []interfaces.AuditLogger
}

var _ interfaces.AuditLogger = (*MultiLogger)(nil)

// NewMultiLogger combines sinks; nil sinks are ignored
func NewMultiLogger(sinks ...interfaces.AuditLogger) *MultiLogger {
	m := &MultiLogger{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Printf forwards to every sink
func (m *MultiLogger) Printf(format string, v ...interface{}) {
	for _, s := range m.sinks {
		s.Printf(format, v...)
	}
}

// LogEvent forwards to every sink and returns the first error
func (m *MultiLogger) LogEvent(ctx context.Context, event *types.AuditEvent) error {
	var first error
	for _, s := range m.sinks {
		if err := s.LogEvent(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// GetEvents queries sinks in order until one succeeds
func (m *MultiLogger) GetEvents(ctx context.Context, filters map[string]interface{}) ([]*types.AuditEvent, error) {
	var lastErr error = fmt.Errorf("no audit sink configured")
	for _, s := range m.sinks {
		events, err := s.GetEvents(ctx, filters)
		if err == nil {
			return events, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// WithEvidence adds artifact information to the context
func WithEvidence(ctx context.Context, evidenceID string, artifactType types.ArtifactType) context.Context {
	if evidenceID != "" {
		ctx = context.WithValue(ctx, KeyEvidenceID, evidenceID)
	}
	if artifactType != "" {
		ctx = context.WithValue(ctx, KeyArtifactType, string(artifactType))
	}
	return ctx
}

// WithCase adds a case reference to the context
func WithCase(ctx context.Context, caseID string) context.Context {
	if caseID == "" {
		return ctx
	}
	return context.WithValue(ctx, KeyCaseID, caseID)
}

// WithUser adds the acting user to the context
func WithUser(ctx context.Context, user string) context.Context {
	if user == "" {
		return ctx
	}
	return context.WithValue(ctx, KeyUser, user)
}

// WithRequestID adds a caller correlation id to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, KeyRequestID, requestID)
}

// WithOperation adds operation information to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, KeyOperation, operation)
}

// NewAuditEvent creates a new audit event with essential fields
func NewAuditEvent(eventType, operation string) *types.AuditEvent {
	return &types.AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Operation: operation,
		Status:    StatusSuccess,
		Context:   make(map[string]string),
	}
}

// Failed marks event as failed and records err
func Failed(event *types.AuditEvent, err error) *types.AuditEvent {
	event.Status = StatusFailed
	if err != nil {
		if event.Context == nil {
			event.Context = make(map[string]string)
		}
		event.Context[string(KeyError)] = err.Error()
	}
	return event
}

// Complete fills required fields and copies known context values into event
func Complete(ctx context.Context, event *types.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Context == nil {
		event.Context = make(map[string]string)
	}
	if ctx == nil {
		return
	}
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			if _, set := event.Context[string(key)]; !set {
				event.Context[string(key)] = v
			}
		}
	}
	if event.EvidenceID == "" {
		event.EvidenceID = event.Context[string(KeyEvidenceID)]
	}
	if event.User == "" {
		event.User = event.Context[string(KeyUser)]
	}
}
