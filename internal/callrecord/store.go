package callrecord

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("callrecord: session not found")

	// ErrTerminal is returned when a mutation targets a session whose
	// status is already completed/failed/canceled.
	ErrTerminal = errors.New("callrecord: session already terminal")
)

// Mutation describes a partial, status-transition-safe update of a session.
// Zero-valued fields are left untouched.
type Mutation struct {
	Status      Status
	AgentID     string
	ContactID   string
	AnsweredAt  *time.Time
	EndedAt     *time.Time
	LastEventAt time.Time

	// SetDuration recomputes duration_seconds from answered_at/ended_at.
	SetDuration bool
}

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	From    time.Time
	To      time.Time
	AgentID string
	Status  Status
	Limit   int
}

// Store is the persistence contract for call sessions.
//
// Implementations must enforce terminal immutability inside the store
// (conditional update, not read-then-write) so that a concurrent webhook
// cannot resurrect a finished call.
type Store interface {
	Create(ctx context.Context, s CallSession) error
	Get(ctx context.Context, id string) (CallSession, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (CallSession, error)

	// Apply mutates a non-terminal session and returns the updated row.
	// Returns ErrTerminal if the session already reached a terminal status.
	Apply(ctx context.Context, id string, m Mutation) (CallSession, error)

	List(ctx context.Context, f ListFilter) ([]CallSession, error)
}
