package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
type CallsSummaryRequest struct {
	Range   TimeRange `json:"range"`
	AgentID string    `json:"agent_id,omitempty"`
}

type CallsSummary struct {
	AgentID string `json:"agent_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	WaitingCalls    int `json:"waiting_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	PerAgent []AgentActivity `json:"per_agent,omitempty"`
}

// AgentActivity is the per-agent slice of a summary. Handled counts only
// calls that were actually answered.
type AgentActivity struct {
	AgentID              string `json:"agent_id"`
	HandledCalls         int    `json:"handled_calls"`
	TotalDurationSeconds int    `json:"total_duration_seconds"`
}

// PresenceOverview is the supervisor wallboard: who is in which state now.
type PresenceOverview struct {
	Available int `json:"available"`
	Busy      int `json:"busy"`
	OnBreak   int `json:"on_break"`
	Offline   int `json:"offline"`

	Agents []AgentStatus `json:"agents"`
}

type AgentStatus struct {
	AgentID    string    `json:"agent_id"`
	State      string    `json:"state"`
	StateSince time.Time `json:"state_since"`
}
