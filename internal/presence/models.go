package presence

import "time"

// AgentPresence is the current reachability of one agent.
//
// Invariants:
// - Exactly one row per agent; upserted on every state change.
// - StateSince only advances when the state actually changes, so it can be
//   used as a longest-idle tiebreaker by routing.
// - Single writer per agent: only that agent's console session (or the
//   reconciler acting on its behalf) writes the row. Routing only reads.
type AgentPresence struct {
	AgentID    string    `json:"agent_id" db:"agent_id"`
	State      State     `json:"state" db:"state"`
	StateSince time.Time `json:"state_since" db:"state_since"`
}

type State string

const (
	StateAvailable State = "available"
	StateBusy      State = "busy"
	StateOnBreak   State = "on_break"
	StateOffline   State = "offline"
)

// Valid reports whether s is a known presence state.
func (s State) Valid() bool {
	switch s {
	case StateAvailable, StateBusy, StateOnBreak, StateOffline:
		return true
	default:
		return false
	}
}
