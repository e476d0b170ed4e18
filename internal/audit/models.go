package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Capture is best-effort; do not block call flows on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: partition by time for retention.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// Target identifiers (optional, depending on the event type).
	CallSessionID  string `json:"call_session_id,omitempty" db:"call_session_id"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`
	AgentID        string `json:"agent_id,omitempty" db:"agent_id"`
	TaskID         string `json:"task_id,omitempty" db:"task_id"`
	QueueID        string `json:"queue_id,omitempty" db:"queue_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details (e.g. the raw webhook
	// payload of a dropped event).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeDuplicateEvent  EventType = "webhook_duplicate"
	EventTypeStaleEvent      EventType = "webhook_stale"
	EventTypeDroppedEvent    EventType = "webhook_dropped"
	EventTypeUnknownEvent    EventType = "webhook_unknown"
	EventTypeReservation     EventType = "routing_reservation"
	EventTypeRoutingFailed   EventType = "routing_failed"
	EventTypeRoutingCanceled EventType = "routing_canceled"
)
