package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit action constants.
const (
	AuditActionSubmitted = "submitted"
	AuditActionApproved  = "approved"
	AuditActionRejected  = "rejected"
	AuditActionCancelled = "cancelled"
	AuditActionStarted   = "started"
	AuditActionCompleted = "completed"
	AuditActionFailed    = "failed"
)

// ActorSystem marks transitions performed by the engine itself rather than a person.
const ActorSystem = "system"

// AuditLogEntry records one request lifecycle transition in dsr_audit_log.
type AuditLogEntry struct {
	ID        uuid.UUID      `json:"id"`
	RequestID uuid.UUID      `json:"request_id"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	OldStatus *string        `json:"old_status,omitempty"`
	NewStatus *string        `json:"new_status,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
