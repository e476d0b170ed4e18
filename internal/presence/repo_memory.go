package presence

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory presence Store for unit tests and local runs.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]AgentPresence
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]AgentPresence)}
}

func (r *MemoryStore) Upsert(ctx context.Context, p AgentPresence) (AgentPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.rows[p.AgentID]; ok && prev.State == p.State {
		// Same state: keep the original state_since.
		p.StateSince = prev.StateSince
	}
	r.rows[p.AgentID] = p
	return p, nil
}

func (r *MemoryStore) Get(ctx context.Context, agentID string) (AgentPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[agentID]
	if !ok {
		return AgentPresence{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryStore) ListByState(ctx context.Context, state State) ([]AgentPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AgentPresence
	for _, p := range r.rows {
		if p.State == state {
			out = append(out, p)
		}
	}
	return out, nil
}
