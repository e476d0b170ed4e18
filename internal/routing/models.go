package routing

import (
	"strings"
	"time"
)

// Queue is a named pool of eligible agents.
//
// Long-lived configuration created by an administrator; read-only at
// call-routing time. Membership is the concrete form of the queue's target
// predicate ("agents assigned to customer X").
type Queue struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// Members are the agent ids eligible to take calls from this queue.
	// A queue may legitimately start empty and be staffed later.
	Members []string `json:"members"`
}

// Eligible reports whether agentID may take calls from this queue.
func (q Queue) Eligible(agentID string) bool {
	for _, m := range q.Members {
		if m == agentID {
			return true
		}
	}
	return false
}

// RuleFilter matches a call's attributes. Empty fields are wildcards; all
// non-empty fields must match.
type RuleFilter struct {
	// ContactID matches the CRM contact linked to the counterparty.
	ContactID string `json:"contact_id,omitempty" db:"contact_id"`

	// To matches the dialed number exactly.
	To string `json:"to,omitempty" db:"to_number"`

	// FromPrefix matches a caller-number prefix (e.g. "+49").
	FromPrefix string `json:"from_prefix,omitempty" db:"from_prefix"`
}

func (f RuleFilter) Matches(a CallAttributes) bool {
	if f.ContactID != "" && f.ContactID != a.ContactID {
		return false
	}
	if f.To != "" && f.To != a.To {
		return false
	}
	if f.FromPrefix != "" && !strings.HasPrefix(a.From, f.FromPrefix) {
		return false
	}
	return true
}

// WorkflowRule maps matching calls to a target queue.
//
// Rules are evaluated in ascending Priority order; the first match wins.
// Exactly one rule must be marked Default. The default catches everything,
// and its presence is validated at workspace load time, not discovered at
// call time.
type WorkflowRule struct {
	ID       string     `json:"id" db:"id"`
	Priority int        `json:"priority" db:"priority"`
	Filter   RuleFilter `json:"filter"`
	QueueID  string     `json:"queue_id" db:"queue_id"`
	Default  bool       `json:"default" db:"is_default"`
}

// CallAttributes are the routable facts about one call, extracted once when
// the routing task is submitted.
type CallAttributes struct {
	CallSessionID  string `json:"call_session_id"`
	ProviderCallID string `json:"provider_call_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	ContactID      string `json:"contact_id,omitempty"`
}

// Assignment is the outcome of a successful reservation: one agent is now
// being rung for one call.
type Assignment struct {
	TaskID        string    `json:"task_id"`
	CallSessionID string    `json:"call_session_id"`
	QueueID       string    `json:"queue_id"`
	AgentID       string    `json:"agent_id"`
	ReservationID string    `json:"reservation_id"`
	ReservedAt    time.Time `json:"reserved_at"`
}
