package callstate

import (
	"testing"

	"callcenter-core/internal/callrecord"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		from, to callrecord.Status
		want     bool
	}{
		{callrecord.StatusQueued, callrecord.StatusRinging, true},
		{callrecord.StatusQueued, callrecord.StatusInProgress, true},
		{callrecord.StatusQueued, callrecord.StatusCanceled, true},
		{callrecord.StatusRinging, callrecord.StatusInProgress, true},
		{callrecord.StatusRinging, callrecord.StatusCompleted, true},
		{callrecord.StatusInProgress, callrecord.StatusCompleted, true},
		{callrecord.StatusInProgress, callrecord.StatusFailed, true},

		// No self-loops, no regressions.
		{callrecord.StatusRinging, callrecord.StatusRinging, false},
		{callrecord.StatusInProgress, callrecord.StatusRinging, false},
		{callrecord.StatusRinging, callrecord.StatusQueued, false},

		// Terminal statuses admit nothing.
		{callrecord.StatusCompleted, callrecord.StatusFailed, false},
		{callrecord.StatusFailed, callrecord.StatusInProgress, false},
		{callrecord.StatusCanceled, callrecord.StatusRinging, false},

		// A never-answered queued call cannot complete, only fail or cancel.
		{callrecord.StatusQueued, callrecord.StatusCompleted, false},
	}
	for _, tc := range tests {
		if got := Allowed(tc.from, tc.to); got != tc.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRankOrdering(t *testing.T) {
	order := []callrecord.Status{
		callrecord.StatusQueued,
		callrecord.StatusRinging,
		callrecord.StatusInProgress,
		callrecord.StatusCompleted,
	}
	for i := 1; i < len(order); i++ {
		if Rank(order[i]) <= Rank(order[i-1]) {
			t.Fatalf("Rank(%s) <= Rank(%s)", order[i], order[i-1])
		}
	}
	if Rank(callrecord.StatusFailed) != Rank(callrecord.StatusCompleted) {
		t.Fatal("terminal statuses should share a rank")
	}
}
