package callrecord

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for unit tests and local runs.
// It enforces the same terminal-immutability contract as the Postgres store.
type MemoryStore struct {
	mu         sync.Mutex
	byID       map[string]CallSession
	byProvider map[string]string
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]CallSession),
		byProvider: make(map[string]string),
		now:        time.Now,
	}
}

// SetClock overrides the store clock; tests only.
func (r *MemoryStore) SetClock(now func() time.Time) { r.now = now }

func (r *MemoryStore) Create(ctx context.Context, s CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[s.ID]; ok {
		return errors.New("callrecord: duplicate session id")
	}
	if s.ProviderCallID != "" {
		if _, ok := r.byProvider[s.ProviderCallID]; ok {
			return errors.New("callrecord: duplicate provider call id")
		}
	}
	now := r.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	r.byID[s.ID] = s
	if s.ProviderCallID != "" {
		r.byProvider[s.ProviderCallID] = s.ID
	}
	return nil
}

func (r *MemoryStore) Get(ctx context.Context, id string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryStore) GetByProviderCallID(ctx context.Context, providerCallID string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byProvider[providerCallID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryStore) Apply(ctx context.Context, id string, m Mutation) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	if s.Status.Terminal() {
		return CallSession{}, ErrTerminal
	}

	if m.Status != "" {
		s.Status = m.Status
	}
	if m.AgentID != "" {
		s.AgentID = m.AgentID
	}
	if m.ContactID != "" {
		s.ContactID = m.ContactID
	}
	if m.AnsweredAt != nil {
		s.AnsweredAt = m.AnsweredAt
	}
	if m.EndedAt != nil {
		s.EndedAt = m.EndedAt
	}
	if !m.LastEventAt.IsZero() && m.LastEventAt.After(s.LastEventAt) {
		s.LastEventAt = m.LastEventAt
	}
	if m.SetDuration {
		s.DurationSeconds = Duration(s.AnsweredAt, s.EndedAt)
	}
	s.UpdatedAt = r.now().UTC()

	r.byID[id] = s
	return s, nil
}

func (r *MemoryStore) List(ctx context.Context, f ListFilter) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []CallSession
	for _, s := range r.byID {
		if !f.From.IsZero() && s.StartedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !s.StartedAt.Before(f.To) {
			continue
		}
		if f.AgentID != "" && s.AgentID != f.AgentID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
