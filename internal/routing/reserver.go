package routing

import (
	"context"
	"sync"
	"time"
)

// Reserver provides the exclusive "reserve worker W for task T" primitive.
//
// Reserve must be atomic: of two concurrent tasks targeting the same agent,
// exactly one wins. Release with a non-matching task id is a no-op, so a
// slow rollback can never free a competitor's reservation.
type Reserver interface {
	Reserve(ctx context.Context, agentID, taskID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, agentID, taskID string) error
}

// MemoryReserver is a process-local Reserver for tests and single-node runs.
type MemoryReserver struct {
	mu    sync.Mutex
	held  map[string]string // agentID -> taskID
	until map[string]time.Time
	now   func() time.Time
}

func NewMemoryReserver() *MemoryReserver {
	return &MemoryReserver{
		held:  make(map[string]string),
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (r *MemoryReserver) Reserve(ctx context.Context, agentID, taskID string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.held[agentID]; ok {
		if r.now().Before(r.until[agentID]) && holder != taskID {
			return false, nil
		}
	}
	r.held[agentID] = taskID
	r.until[agentID] = r.now().Add(ttl)
	return true, nil
}

func (r *MemoryReserver) Release(ctx context.Context, agentID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.held[agentID] == taskID {
		delete(r.held, agentID)
		delete(r.until, agentID)
	}
	return nil
}
