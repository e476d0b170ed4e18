package callstate

import (
	"sync"
	"time"

	"callcenter-core/internal/callrecord"
)

// StateChange is published whenever a call session moves to a new status,
// whether driven by an agent command or by a provider webhook.
type StateChange struct {
	SessionID      string
	ProviderCallID string
	AgentID        string
	Status         callrecord.Status
	At             time.Time
}

// Broker fans StateChange events out to subscribers. Publishing never
// blocks: a subscriber that falls behind loses events rather than stalling
// the call path.
type Broker struct {
	mu   sync.Mutex
	subs map[int]chan StateChange
	next int
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan StateChange)}
}

// Subscribe returns a channel of state changes and a cancel function that
// must be called to release the subscription.
func (b *Broker) Subscribe() (<-chan StateChange, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan StateChange, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (b *Broker) Publish(ev StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
