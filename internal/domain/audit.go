package domain

import "time"

// AuditAction names an order lifecycle event.
type AuditAction string

const (
	AuditCreated   AuditAction = "CREATED"
	AuditModified  AuditAction = "MODIFIED"
	AuditCancelled AuditAction = "CANCELLED"
	AuditTriggered AuditAction = "TRIGGERED"
	AuditExecuted  AuditAction = "EXECUTED"
)

// AuditEntry is one append-only audit record. Entries are never mutated.
// Writing the audit log is best-effort: a failed write is logged and never
// rolls back the trade it describes.
type AuditEntry struct {
	ID          string         `json:"id"`
	OrderID     string         `json:"order_id"`
	Action      AuditAction    `json:"action"`
	PerformedBy string         `json:"performed_by,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
}
