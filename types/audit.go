package types

import (
	"time"
)

// AuditEvent represents an operational audit event emitted by the vault.
// It complements the per-artifact custody chain with a process-wide trail
// that includes failures and integrity incidents.
type AuditEvent struct {
	ID         string            `json:"id" bson:"_id"`
	Timestamp  time.Time         `json:"timestamp" bson:"timestamp"`
	EventType  string            `json:"event_type" bson:"event_type"`
	Operation  string            `json:"operation" bson:"operation"`
	Status     string            `json:"status" bson:"status"`
	EvidenceID string            `json:"evidence_id,omitempty" bson:"evidence_id,omitempty"`
	User       string            `json:"user,omitempty" bson:"user,omitempty"`
	Context    map[string]string `json:"context" bson:"context"`
}
