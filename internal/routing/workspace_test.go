package routing

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func testQueues() []Queue {
	return []Queue{
		{ID: "q-vip", Name: "VIP", Members: []string{"agent-1"}},
		{ID: "q-default", Name: "General", Members: []string{"agent-1", "agent-2"}},
	}
}

func TestNewWorkspace_RequiresExactlyOneDefault(t *testing.T) {
	cases := []struct {
		name  string
		rules []WorkflowRule
	}{
		{"none", []WorkflowRule{
			{ID: "r1", Priority: 10, Filter: RuleFilter{ContactID: "cust-x"}, QueueID: "q-vip"},
		}},
		{"two", []WorkflowRule{
			{ID: "r1", Priority: 10, QueueID: "q-vip", Default: true},
			{ID: "r2", Priority: 20, QueueID: "q-default", Default: true},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewWorkspace(testQueues(), tc.rules, slog.Default())
			if !errors.Is(err, ErrNoDefaultRule) {
				t.Fatalf("expected ErrNoDefaultRule, got %v", err)
			}
		})
	}
}

func TestNewWorkspace_RejectsUnknownQueue(t *testing.T) {
	rules := []WorkflowRule{
		{ID: "r1", Priority: 10, QueueID: "q-missing"},
		{ID: "r2", Priority: 99, QueueID: "q-default", Default: true},
	}
	_, err := NewWorkspace(testQueues(), rules, slog.Default())
	if !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("expected ErrUnknownQueue, got %v", err)
	}
}

func TestWorkspace_SelectQueue_FirstMatchWins(t *testing.T) {
	rules := []WorkflowRule{
		{ID: "r-vip", Priority: 10, Filter: RuleFilter{ContactID: "cust-x"}, QueueID: "q-vip"},
		{ID: "r-de", Priority: 20, Filter: RuleFilter{FromPrefix: "+49"}, QueueID: "q-default"},
		{ID: "r-default", Priority: 99, QueueID: "q-default", Default: true},
	}
	ws, err := NewWorkspace(testQueues(), rules, slog.Default())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}

	// Contact rule outranks the prefix rule even when both match.
	q, r := ws.SelectQueue(CallAttributes{ContactID: "cust-x", From: "+4930123"})
	if q.ID != "q-vip" || r.ID != "r-vip" {
		t.Fatalf("expected vip rule, got queue %q rule %q", q.ID, r.ID)
	}

	q, r = ws.SelectQueue(CallAttributes{From: "+4930123"})
	if q.ID != "q-default" || r.ID != "r-de" {
		t.Fatalf("expected prefix rule, got queue %q rule %q", q.ID, r.ID)
	}
}

func TestWorkspace_SelectQueue_FallsBackToDefault(t *testing.T) {
	rules := []WorkflowRule{
		{ID: "r-vip", Priority: 10, Filter: RuleFilter{ContactID: "cust-x"}, QueueID: "q-vip"},
		{ID: "r-default", Priority: 99, QueueID: "q-default", Default: true},
	}
	ws, err := NewWorkspace(testQueues(), rules, slog.Default())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}

	q, r := ws.SelectQueue(CallAttributes{From: "+15550001111", To: "+15552223333"})
	if q.ID != "q-default" || !r.Default {
		t.Fatalf("expected default queue, got %q via rule %q", q.ID, r.ID)
	}
}

func TestLoadWorkspace_UsesConfigStore(t *testing.T) {
	store := StaticConfigStore{
		QueueList: testQueues(),
		RuleList: []WorkflowRule{
			{ID: "r-default", Priority: 99, QueueID: "q-default", Default: true},
		},
	}
	ws, err := LoadWorkspace(context.Background(), store, slog.Default())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := ws.Queue("q-vip"); !ok {
		t.Fatalf("expected q-vip present")
	}
}

func TestRuleFilter_Matches(t *testing.T) {
	cases := []struct {
		name   string
		filter RuleFilter
		attrs  CallAttributes
		want   bool
	}{
		{"wildcard", RuleFilter{}, CallAttributes{From: "+1"}, true},
		{"contact match", RuleFilter{ContactID: "c1"}, CallAttributes{ContactID: "c1"}, true},
		{"contact mismatch", RuleFilter{ContactID: "c1"}, CallAttributes{ContactID: "c2"}, false},
		{"to match", RuleFilter{To: "+15550009999"}, CallAttributes{To: "+15550009999"}, true},
		{"prefix match", RuleFilter{FromPrefix: "+49"}, CallAttributes{From: "+4930555"}, true},
		{"prefix mismatch", RuleFilter{FromPrefix: "+49"}, CallAttributes{From: "+15550001"}, false},
		{"all fields must match", RuleFilter{ContactID: "c1", FromPrefix: "+49"}, CallAttributes{ContactID: "c1", From: "+1555"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(tc.attrs); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}
