package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

var (
	// ErrNoDefaultRule means the workflow has zero or multiple default
	// rules. This is a configuration error raised at load time, never a
	// per-call failure.
	ErrNoDefaultRule = errors.New("routing: workflow must have exactly one default rule")

	ErrUnknownQueue = errors.New("routing: rule references unknown queue")
)

// ConfigStore loads routing configuration.
type ConfigStore interface {
	Queues(ctx context.Context) ([]Queue, error)
	Rules(ctx context.Context) ([]WorkflowRule, error)
}

// Workspace is the validated, immutable routing configuration: queues plus
// an ordered workflow. Rebuilt wholesale on config reload; routing holds a
// snapshot and never mutates it.
type Workspace struct {
	queues      map[string]Queue
	rules       []WorkflowRule // sorted by priority, default excluded
	defaultRule WorkflowRule
}

// LoadWorkspace reads and validates routing configuration.
//
// Validation policy (mirrors startup-vs-runtime split):
// - missing/duplicate default rule: fatal error
// - rule referencing an unknown queue: fatal error
// - queue with no members: warning only; it can be staffed later
func LoadWorkspace(ctx context.Context, store ConfigStore, log *slog.Logger) (*Workspace, error) {
	queues, err := store.Queues(ctx)
	if err != nil {
		return nil, fmt.Errorf("routing: load queues: %w", err)
	}
	rules, err := store.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("routing: load rules: %w", err)
	}
	return NewWorkspace(queues, rules, log)
}

// NewWorkspace validates an in-memory configuration.
func NewWorkspace(queues []Queue, rules []WorkflowRule, log *slog.Logger) (*Workspace, error) {
	if log == nil {
		log = slog.Default()
	}

	w := &Workspace{queues: make(map[string]Queue, len(queues))}
	for _, q := range queues {
		w.queues[q.ID] = q
		if len(q.Members) == 0 {
			log.Warn("queue has no members configured", "queue_id", q.ID, "queue_name", q.Name)
		}
	}

	defaults := 0
	for _, r := range rules {
		if _, ok := w.queues[r.QueueID]; !ok {
			return nil, fmt.Errorf("%w: rule %s -> queue %s", ErrUnknownQueue, r.ID, r.QueueID)
		}
		if r.Default {
			defaults++
			w.defaultRule = r
			continue
		}
		w.rules = append(w.rules, r)
	}
	if defaults != 1 {
		return nil, fmt.Errorf("%w: found %d", ErrNoDefaultRule, defaults)
	}

	sort.SliceStable(w.rules, func(i, j int) bool { return w.rules[i].Priority < w.rules[j].Priority })
	return w, nil
}

// SelectQueue evaluates the workflow for a call: rules in ascending priority,
// first matching filter wins, default queue otherwise.
func (w *Workspace) SelectQueue(a CallAttributes) (Queue, WorkflowRule) {
	for _, r := range w.rules {
		if r.Filter.Matches(a) {
			return w.queues[r.QueueID], r
		}
	}
	return w.queues[w.defaultRule.QueueID], w.defaultRule
}

// Queue returns a queue by id.
func (w *Workspace) Queue(id string) (Queue, bool) {
	q, ok := w.queues[id]
	return q, ok
}
