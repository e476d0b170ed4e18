package provider

import (
	"context"
	"fmt"
	"time"
)

// Commander is the provider-agnostic command surface used by business logic.
//
// Rules:
// - No provider HTTP calls outside this package.
// - Every command is synchronous and bounded by the configured timeout;
//   callers treat a timeout as a failed call, never as "maybe".
// - Call-placing commands are never retried (double-dial risk). Status
//   fetches are idempotent and may be retried once.
type Commander interface {
	Name() string
	HealthCheck(ctx context.Context) error

	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
	HangUp(ctx context.Context, providerCallID string) error
	SendDigit(ctx context.Context, providerCallID string, digit rune) error

	AcceptReservation(ctx context.Context, reservationID string) error
	RejectReservation(ctx context.Context, reservationID string) error

	CallStatus(ctx context.Context, providerCallID string) (CallStatusResult, error)
}

// PlaceCallRequest asks the provider to originate an outbound leg.
type PlaceCallRequest struct {
	// To is the destination number, E.164.
	To string `json:"to"`
	// From is the caller id presented to the destination.
	From string `json:"from"`
	// AgentID is attached so provider events can be correlated back.
	AgentID string `json:"agent_id,omitempty"`
}

type PlaceCallResult struct {
	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string    `json:"provider_call_id"`
	StartedAt      time.Time `json:"started_at"`
}

type CallStatusResult struct {
	ProviderCallID string    `json:"provider_call_id"`
	Status         string    `json:"status"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Error is a classified provider API failure.
type Error struct {
	// Op is the command that failed ("place_call", "hang_up", ...).
	Op string
	// StatusCode is the provider HTTP status, 0 on transport errors.
	StatusCode int
	// Timeout marks deadline-exceeded failures.
	Timeout bool

	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider: %s failed: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider: %s failed (status %d)", e.Op, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }
