package callrecord

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	answered := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	ended := answered.Add(95 * time.Second)

	if got := Duration(&answered, &ended); got != 95 {
		t.Fatalf("expected 95, got %d", got)
	}
	if got := Duration(nil, &ended); got != 0 {
		t.Fatalf("unanswered call must have duration 0, got %d", got)
	}
	if got := Duration(&ended, &answered); got != 0 {
		t.Fatalf("inverted timestamps must clamp to 0, got %d", got)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCanceled} {
		if !s.Terminal() {
			t.Fatalf("expected %q terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRinging, StatusInProgress} {
		if s.Terminal() {
			t.Fatalf("expected %q non-terminal", s)
		}
	}
}

func TestMemoryStore_ApplyRejectsTerminalMutation(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	if err := st.Create(ctx, CallSession{ID: "c1", ProviderCallID: "PC1", Direction: DirectionInbound, Status: StatusRinging, StartedAt: time.Now()}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ended := time.Now()
	if _, err := st.Apply(ctx, "c1", Mutation{Status: StatusCompleted, EndedAt: &ended, SetDuration: true}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := st.Apply(ctx, "c1", Mutation{Status: StatusInProgress})
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}

	_, err = st.Apply(ctx, "missing", Mutation{Status: StatusRinging})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_LastEventAtNeverRegresses(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	t1 := time.Date(2026, 2, 1, 10, 0, 10, 0, time.UTC)
	t0 := t1.Add(-5 * time.Second)

	if err := st.Create(ctx, CallSession{ID: "c1", ProviderCallID: "PC1", Status: StatusRinging, StartedAt: t0}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.Apply(ctx, "c1", Mutation{Status: StatusInProgress, LastEventAt: t1}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// A late, older event timestamp must not move the high-water mark back.
	s, err := st.Apply(ctx, "c1", Mutation{LastEventAt: t0})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !s.LastEventAt.Equal(t1) {
		t.Fatalf("last_event_at regressed: %v", s.LastEventAt)
	}
}

func TestMemoryStore_SetDurationComputesFromTimestamps(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	started := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	answered := started.Add(8 * time.Second)
	ended := answered.Add(120 * time.Second)

	if err := st.Create(ctx, CallSession{ID: "c1", ProviderCallID: "PC1", Status: StatusRinging, StartedAt: started}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.Apply(ctx, "c1", Mutation{Status: StatusInProgress, AnsweredAt: &answered}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	s, err := st.Apply(ctx, "c1", Mutation{Status: StatusCompleted, EndedAt: &ended, SetDuration: true})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.DurationSeconds != 120 {
		t.Fatalf("expected 120s duration, got %d", s.DurationSeconds)
	}
}

func TestMemoryStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	sessions := []CallSession{
		{ID: "a", ProviderCallID: "P1", AgentID: "agent-1", Status: StatusCompleted, StartedAt: base},
		{ID: "b", ProviderCallID: "P2", AgentID: "agent-2", Status: StatusFailed, StartedAt: base.Add(time.Hour)},
		{ID: "c", ProviderCallID: "P3", AgentID: "agent-1", Status: StatusCompleted, StartedAt: base.Add(2 * time.Hour)},
	}
	for _, s := range sessions {
		if err := st.Create(ctx, s); err != nil {
			t.Fatalf("create %s: %v", s.ID, err)
		}
	}

	got, err := st.List(ctx, ListFilter{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].ID != "c" {
		t.Fatalf("expected newest first, got %q", got[0].ID)
	}

	got, err = st.List(ctx, ListFilter{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected window result: %+v", got)
	}
}
