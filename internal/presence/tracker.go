package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound     = errors.New("presence: agent not found")
	ErrInvalidState = errors.New("presence: invalid state")
)

// Store is the persistence contract for presence rows.
type Store interface {
	Upsert(ctx context.Context, p AgentPresence) (AgentPresence, error)
	Get(ctx context.Context, agentID string) (AgentPresence, error)
	ListByState(ctx context.Context, state State) ([]AgentPresence, error)
}

// Tracker is the read/write surface for agent presence.
//
// Writers go through Set; readers (routing) use Get/Available and never
// mutate. Watchers are notified after a successful state change so the
// dispatcher can re-evaluate pending routing tasks without polling.
type Tracker struct {
	store Store
	now   func() time.Time

	mu       sync.Mutex
	watchers []func(AgentPresence)
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// SetClock overrides the tracker clock; tests only.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Set records the agent's new state. StateSince is bumped only when the
// state differs from the stored one; repeating the same state is a no-op
// for idle ordering.
func (t *Tracker) Set(ctx context.Context, agentID string, state State) (AgentPresence, error) {
	if agentID == "" {
		return AgentPresence{}, ErrNotFound
	}
	if !state.Valid() {
		return AgentPresence{}, ErrInvalidState
	}

	p, err := t.store.Upsert(ctx, AgentPresence{
		AgentID:    agentID,
		State:      state,
		StateSince: t.now().UTC(),
	})
	if err != nil {
		return AgentPresence{}, err
	}
	t.notify(p)
	return p, nil
}

func (t *Tracker) Get(ctx context.Context, agentID string) (AgentPresence, error) {
	return t.store.Get(ctx, agentID)
}

// Available lists available agents ordered longest-idle first
// (smallest state_since).
func (t *Tracker) Available(ctx context.Context) ([]AgentPresence, error) {
	out, err := t.store.ListByState(ctx, StateAvailable)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StateSince.Before(out[j].StateSince) })
	return out, nil
}

// Watch registers fn to run after every successful presence change.
// fn must not block; it is invoked synchronously from Set.
func (t *Tracker) Watch(fn func(AgentPresence)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watchers = append(t.watchers, fn)
}

func (t *Tracker) notify(p AgentPresence) {
	t.mu.Lock()
	watchers := make([]func(AgentPresence), len(t.watchers))
	copy(watchers, t.watchers)
	t.mu.Unlock()
	for _, fn := range watchers {
		fn(p)
	}
}
