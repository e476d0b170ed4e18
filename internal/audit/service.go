package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only; records are not exposed to agents.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogWebhookDrop records a webhook event that was received but attributed no
// effect (duplicate, stale, invalid transition, or unknown type). The raw
// payload is retained as metadata for later audit.
func (s *Service) LogWebhookDrop(ctx context.Context, typ EventType, providerCallID, sessionID, message, rawPayload string) error {
	return s.Append(ctx, Event{
		Type:           typ,
		ProviderCallID: providerCallID,
		CallSessionID:  sessionID,
		Message:        message,
		Metadata:       rawPayload,
	})
}

// LogReservation records a reservation outcome for one routing task.
func (s *Service) LogReservation(ctx context.Context, taskID, queueID, agentID, sessionID, message string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeReservation,
		TaskID:        taskID,
		QueueID:       queueID,
		AgentID:       agentID,
		CallSessionID: sessionID,
		Message:       message,
	})
}

// LogRoutingFailure records a task that ended without an assignment.
func (s *Service) LogRoutingFailure(ctx context.Context, typ EventType, taskID, queueID, sessionID, message string) error {
	return s.Append(ctx, Event{
		Type:          typ,
		TaskID:        taskID,
		QueueID:       queueID,
		CallSessionID: sessionID,
		Message:       message,
	})
}
