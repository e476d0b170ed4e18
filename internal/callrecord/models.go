package callrecord

import "time"

// CallSession is the durable record of one phone call's lifecycle.
//
// Invariants:
// - ProviderCallID is the external correlation key; unique per session.
// - A session is immutable once Status is terminal (completed/failed/canceled).
// - LastEventAt is the high-water mark of applied provider events; the
//   reconciler uses it to drop status regressions from late deliveries.
//
// Provider-specific payloads do not belong here; they are kept in the audit
// trail when worth retaining.
type CallSession struct {
	ID             string    `json:"id" db:"id"`
	ProviderCallID string    `json:"provider_call_id" db:"provider_call_id"`
	Direction      Direction `json:"direction" db:"direction"`

	// AgentID is empty until routing assigns an agent.
	AgentID string `json:"agent_id,omitempty" db:"agent_id"`

	// Counterparty is the far-end number (E.164 where possible).
	Counterparty string `json:"counterparty" db:"counterparty"`

	Status Status `json:"status" db:"status"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds = ended_at - answered_at; 0 if never answered.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	// ContactID links the counterparty to a CRM contact when known.
	ContactID string `json:"contact_id,omitempty" db:"contact_id"`

	LastEventAt time.Time `json:"last_event_at" db:"last_event_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Duration derives the billable duration in whole seconds.
// A call that was never answered has duration 0 regardless of ring time.
func Duration(answeredAt, endedAt *time.Time) int {
	if answeredAt == nil || endedAt == nil {
		return 0
	}
	d := endedAt.Sub(*answeredAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
