package console

import (
	"context"
	"sync"

	"callcenter-core/internal/callstate"
)

// Registry holds one call state machine per signed-in agent, created
// lazily on first use.
type Registry struct {
	mu       sync.Mutex
	machines map[string]*callstate.Machine
	factory  func(agentID string) *callstate.Machine
}

func NewRegistry(factory func(agentID string) *callstate.Machine) *Registry {
	return &Registry{
		machines: make(map[string]*callstate.Machine),
		factory:  factory,
	}
}

func (r *Registry) ForAgent(agentID string) *callstate.Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[agentID]
	if !ok {
		m = r.factory(agentID)
		r.machines[agentID] = m
	}
	return m
}

// Watch routes state changes from the broker to the owning agent's
// machine, so webhook-confirmed transitions (outbound answered, far-end
// hang-up) reach the agent's view without re-fetching.
func (r *Registry) Watch(ctx context.Context, broker *callstate.Broker) {
	ch, cancel := broker.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.AgentID == "" {
				continue
			}
			r.mu.Lock()
			m := r.machines[ev.AgentID]
			r.mu.Unlock()
			if m != nil {
				m.Observe(ev)
			}
		}
	}
}
