package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"callcenter-core/internal/audit"
	"callcenter-core/internal/callrecord"
	"callcenter-core/internal/callstate"
	"callcenter-core/internal/routing"
)

type fakeTasks struct {
	mu        sync.Mutex
	submitted []routing.CallAttributes
	canceled  []string
}

func (f *fakeTasks) Submit(_ context.Context, attrs routing.CallAttributes) (*routing.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, attrs)
	return nil, nil
}

func (f *fakeTasks) Cancel(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, sessionID)
	return nil
}

type reconcilerFixture struct {
	r      *Reconciler
	store  *callrecord.MemoryStore
	audits *audit.MemoryRepo
	tasks  *fakeTasks
}

func newFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	store := callrecord.NewMemoryStore()
	audits := audit.NewMemoryRepo()
	tasks := &fakeTasks{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(store, NewMemoryDeduper(time.Hour), audit.NewService(audits), callstate.NewBroker(), tasks, log, Options{Workers: 2, QueueDepth: 8})
	return &reconcilerFixture{r: r, store: store, audits: audits, tasks: tasks}
}

func event(typ EventType, providerCallID string, ts time.Time) Event {
	return Event{
		Type:           typ,
		RawType:        string(typ),
		ProviderCallID: providerCallID,
		From:           "+15550100009",
		To:             "+15550100001",
		Timestamp:      ts,
		Raw:            []byte(`{}`),
	}
}

func auditCount(repo *audit.MemoryRepo, typ audit.EventType) int {
	n := 0
	for _, e := range repo.Events() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestReconciler_InboundInitiatedCreatesSessionAndRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	f.r.apply(ctx, event(EventInitiated, "PC-1", t0))

	s, err := f.store.GetByProviderCallID(ctx, "PC-1")
	if err != nil {
		t.Fatalf("session not created: %v", err)
	}
	if s.Status != callrecord.StatusQueued || s.Direction != callrecord.DirectionInbound {
		t.Fatalf("session = %+v", s)
	}
	if s.Counterparty != "+15550100009" {
		t.Fatalf("counterparty = %q", s.Counterparty)
	}
	if len(f.tasks.submitted) != 1 || f.tasks.submitted[0].CallSessionID != s.ID {
		t.Fatalf("routing submissions = %+v", f.tasks.submitted)
	}
}

func TestReconciler_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	ev := event(EventInitiated, "PC-1", t0)
	f.r.apply(ctx, ev)
	f.r.apply(ctx, ev)

	sessions, _ := f.store.List(ctx, callrecord.ListFilter{})
	if len(sessions) != 1 {
		t.Fatalf("duplicate created %d sessions", len(sessions))
	}
	if len(f.tasks.submitted) != 1 {
		t.Fatalf("duplicate re-submitted routing: %d", len(f.tasks.submitted))
	}
	if got := auditCount(f.audits, audit.EventTypeDuplicateEvent); got != 1 {
		t.Fatalf("duplicate audit events = %d, want 1", got)
	}
}

func TestReconciler_LateEventDoesNotRegress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	f.r.apply(ctx, event(EventInitiated, "PC-1", t0))
	f.r.apply(ctx, event(EventAnswered, "PC-1", t0.Add(10*time.Second)))

	// "ringing" from before the answer arrives late; it must not roll the
	// call back, but it is still recorded for audit.
	f.r.apply(ctx, event(EventRinging, "PC-1", t0.Add(3*time.Second)))

	s, _ := f.store.GetByProviderCallID(ctx, "PC-1")
	if s.Status != callrecord.StatusInProgress {
		t.Fatalf("status regressed to %q", s.Status)
	}
	if s.AnsweredAt == nil || !s.AnsweredAt.Equal(t0.Add(10*time.Second)) {
		t.Fatalf("answered_at = %v", s.AnsweredAt)
	}
	if got := auditCount(f.audits, audit.EventTypeStaleEvent); got != 1 {
		t.Fatalf("stale audit events = %d, want 1", got)
	}
}

func TestReconciler_InvalidTransitionDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	f.r.apply(ctx, event(EventInitiated, "PC-1", t0))
	// "completed" without ever ringing or answering has no legal transition.
	f.r.apply(ctx, event(EventCompleted, "PC-1", t0.Add(time.Second)))

	s, _ := f.store.GetByProviderCallID(ctx, "PC-1")
	if s.Status != callrecord.StatusQueued {
		t.Fatalf("status = %q, want queued", s.Status)
	}
	if got := auditCount(f.audits, audit.EventTypeDroppedEvent); got != 1 {
		t.Fatalf("dropped audit events = %d, want 1", got)
	}
}

func TestReconciler_FullLifecycleComputesDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	f.r.apply(ctx, event(EventInitiated, "PC-1", t0))
	f.r.apply(ctx, event(EventRinging, "PC-1", t0.Add(2*time.Second)))
	f.r.apply(ctx, event(EventAnswered, "PC-1", t0.Add(10*time.Second)))
	f.r.apply(ctx, event(EventCompleted, "PC-1", t0.Add(70*time.Second)))

	s, _ := f.store.GetByProviderCallID(ctx, "PC-1")
	if s.Status != callrecord.StatusCompleted {
		t.Fatalf("status = %q", s.Status)
	}
	if s.DurationSeconds != 60 {
		t.Fatalf("duration = %d, want 60", s.DurationSeconds)
	}
	if s.EndedAt == nil || !s.EndedAt.Equal(t0.Add(70*time.Second)) {
		t.Fatalf("ended_at = %v", s.EndedAt)
	}

	// Terminal sessions absorb any further events.
	f.r.apply(ctx, event(EventAnswered, "PC-1", t0.Add(80*time.Second)))
	s, _ = f.store.GetByProviderCallID(ctx, "PC-1")
	if s.Status != callrecord.StatusCompleted {
		t.Fatalf("terminal session mutated to %q", s.Status)
	}
}

func TestReconciler_TaskCanceledCancelsRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	f.r.apply(ctx, event(EventInitiated, "PC-1", t0))
	f.r.apply(ctx, event(EventTaskCanceled, "PC-1", t0.Add(5*time.Second)))

	s, _ := f.store.GetByProviderCallID(ctx, "PC-1")
	if s.Status != callrecord.StatusCanceled {
		t.Fatalf("status = %q, want canceled", s.Status)
	}
	if len(f.tasks.canceled) != 1 || f.tasks.canceled[0] != s.ID {
		t.Fatalf("canceled tasks = %v", f.tasks.canceled)
	}
	if s.DurationSeconds != 0 {
		t.Fatalf("never-answered call has duration %d", s.DurationSeconds)
	}
}

// flakyStore fails a configurable number of Apply calls before recovering,
// like a database connection blip.
type flakyStore struct {
	*callrecord.MemoryStore
	mu       sync.Mutex
	failNext int
}

func (s *flakyStore) Apply(ctx context.Context, id string, m callrecord.Mutation) (callrecord.CallSession, error) {
	s.mu.Lock()
	if s.failNext > 0 {
		s.failNext--
		s.mu.Unlock()
		return callrecord.CallSession{}, errors.New("connection reset")
	}
	s.mu.Unlock()
	return s.MemoryStore.Apply(ctx, id, m)
}

func TestReconciler_RedeliveryAfterApplyFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: callrecord.NewMemoryStore()}
	audits := audit.NewMemoryRepo()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(store, NewMemoryDeduper(time.Hour), audit.NewService(audits), callstate.NewBroker(), &fakeTasks{}, log, Options{Workers: 2, QueueDepth: 8})

	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.apply(ctx, event(EventInitiated, "PC-1", t0))

	// The first delivery dies mid-apply; it must not be remembered as
	// processed, or the provider's redelivery would be dropped as a
	// duplicate and the ringing transition lost for good.
	ev := event(EventRinging, "PC-1", t0.Add(2*time.Second))
	store.mu.Lock()
	store.failNext = 1
	store.mu.Unlock()
	r.apply(ctx, ev)

	s, _ := store.GetByProviderCallID(ctx, "PC-1")
	if s.Status != callrecord.StatusQueued {
		t.Fatalf("status after failed apply = %q, want queued", s.Status)
	}

	r.apply(ctx, ev)
	s, _ = store.GetByProviderCallID(ctx, "PC-1")
	if s.Status != callrecord.StatusRinging {
		t.Fatalf("redelivery not applied, status = %q", s.Status)
	}
	if got := auditCount(audits, audit.EventTypeDuplicateEvent); got != 0 {
		t.Fatalf("redelivery after failure audited as duplicate %d times", got)
	}

	// A third delivery of the now-applied event is a plain duplicate.
	r.apply(ctx, ev)
	if got := auditCount(audits, audit.EventTypeDuplicateEvent); got != 1 {
		t.Fatalf("duplicate audit events = %d, want 1", got)
	}
}

func TestReconciler_UnknownEventAuditedAndIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := Event{Type: EventUnknown, RawType: "call.recording_ready", ProviderCallID: "PC-1", Timestamp: time.Now(), Raw: []byte(`{"event_type":"call.recording_ready"}`)}
	f.r.apply(ctx, ev)

	if sessions, _ := f.store.List(ctx, callrecord.ListFilter{}); len(sessions) != 0 {
		t.Fatalf("unknown event created %d sessions", len(sessions))
	}
	if got := auditCount(f.audits, audit.EventTypeUnknownEvent); got != 1 {
		t.Fatalf("unknown audit events = %d, want 1", got)
	}
}

func TestReconciler_EnqueueProcessesAsynchronously(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.r.Start(ctx)

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := f.r.Enqueue(event(EventInitiated, "PC-9", t0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, err := f.store.GetByProviderCallID(context.Background(), "PC-9"); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("event was not processed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
