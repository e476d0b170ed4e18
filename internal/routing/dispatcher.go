package routing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"callcenter-core/internal/audit"
	"callcenter-core/internal/callrecord"
	"callcenter-core/internal/callstate"
	"callcenter-core/internal/presence"
)

var (
	// ErrNoAgentAvailable means no eligible agent could be reserved within
	// the reservation timeout. Surfaced to the caller, never swallowed.
	ErrNoAgentAvailable = errors.New("routing: no agent available")

	ErrTaskCanceled = errors.New("routing: task canceled")

	// ErrTaskExists guards the one-active-task-per-session invariant.
	ErrTaskExists = errors.New("routing: session already has an active task")

	ErrNoActiveTask = errors.New("routing: no active task for session")
)

type decision int

const (
	decisionConfirm decision = iota + 1
	decisionDecline
)

// Task is one call waiting for an agent. It is terminal once assigned and
// confirmed, timed out, or canceled.
type Task struct {
	id        string
	attrs     CallAttributes
	queue     Queue
	rule      WorkflowRule
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	wake      chan struct{}
	decisions chan decision

	mu       sync.Mutex
	excluded map[string]bool
	current  Assignment

	done   chan struct{}
	result Assignment
	err    error
}

func (t *Task) ID() string            { return t.id }
func (t *Task) QueueID() string       { return t.queue.ID }
func (t *Task) Done() <-chan struct{} { return t.done }

// Result is valid once Done is closed.
func (t *Task) Result() (Assignment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

func (t *Task) exclude(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.excluded[agentID] = true
}

func (t *Task) clearCurrent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = Assignment{}
}

func (t *Task) isExcluded(agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.excluded[agentID]
}

func (t *Task) finish(a Assignment, err error) {
	t.mu.Lock()
	t.result = a
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// AssignFunc rings the chosen agent (provider reservation, console push).
// An error means the agent could not be rung; the dispatcher releases the
// reservation and tries the next candidate.
type AssignFunc func(ctx context.Context, a Assignment) error

// Options tunes dispatcher behavior.
type Options struct {
	// ReservationTimeout bounds how long a task may stay pending overall.
	ReservationTimeout time.Duration

	// ReservationTTL is the crash-safety TTL on the exclusive worker lock;
	// must be >= ReservationTimeout.
	ReservationTTL time.Duration

	OnAssign AssignFunc

	// OnStateChange publishes session status changes the dispatcher makes
	// itself (a timeout failing the call) so a rung agent's machine and
	// other broker subscribers see them.
	OnStateChange func(callstate.StateChange)
}

// Dispatcher matches routing tasks to agents.
//
// Pipeline per task: workflow rules pick the queue, presence supplies
// available agents longest-idle first, the queue predicate filters them, and
// the Reserver makes the pick exclusive. Reservation does not flip presence
// to busy; that happens only when the call goes in-progress, so "ringing,
// not yet answered" never hides an agent who will decline.
type Dispatcher struct {
	workspace *Workspace
	presence  *presence.Tracker
	reserver  Reserver
	records   callrecord.Store
	audit     *audit.Service
	log       *slog.Logger
	opts      Options
	now       func() time.Time

	mu    sync.Mutex
	tasks map[string]*Task // keyed by call session id
}

func NewDispatcher(ws *Workspace, tracker *presence.Tracker, reserver Reserver, records callrecord.Store, auditSvc *audit.Service, log *slog.Logger, opts Options) *Dispatcher {
	if opts.ReservationTimeout <= 0 {
		opts.ReservationTimeout = 30 * time.Second
	}
	if opts.ReservationTTL < opts.ReservationTimeout {
		opts.ReservationTTL = 2 * opts.ReservationTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	d := &Dispatcher{
		workspace: ws,
		presence:  tracker,
		reserver:  reserver,
		records:   records,
		audit:     auditSvc,
		log:       log,
		opts:      opts,
		now:       time.Now,
		tasks:     make(map[string]*Task),
	}
	// Re-evaluate pending tasks whenever an agent becomes available.
	tracker.Watch(func(p presence.AgentPresence) {
		if p.State == presence.StateAvailable {
			d.wakeAll()
		}
	})
	return d
}

// Submit creates the routing task for one call and starts matching.
// At most one active task may exist per call session.
func (d *Dispatcher) Submit(ctx context.Context, attrs CallAttributes) (*Task, error) {
	if attrs.CallSessionID == "" {
		return nil, errors.New("routing: call_session_id required")
	}

	queue, rule := d.workspace.SelectQueue(attrs)

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &Task{
		id:        uuid.NewString(),
		attrs:     attrs,
		queue:     queue,
		rule:      rule,
		createdAt: d.now().UTC(),
		ctx:       taskCtx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		decisions: make(chan decision, 1),
		excluded:  make(map[string]bool),
		done:      make(chan struct{}),
	}

	d.mu.Lock()
	if _, ok := d.tasks[attrs.CallSessionID]; ok {
		d.mu.Unlock()
		cancel()
		return nil, ErrTaskExists
	}
	d.tasks[attrs.CallSessionID] = t
	d.mu.Unlock()

	d.log.Info("routing task submitted",
		"task_id", t.id,
		"call_session_id", attrs.CallSessionID,
		"queue_id", queue.ID,
		"rule_id", rule.ID,
	)

	go d.run(t)
	return t, nil
}

// Cancel aborts a pending task (caller hung up before assignment). Safe to
// race an in-flight reservation: a reservation that completes after
// cancellation is rolled back, not leaked.
func (d *Dispatcher) Cancel(sessionID string) error {
	t := d.get(sessionID)
	if t == nil {
		return ErrNoActiveTask
	}
	t.cancel()
	return nil
}

// Confirm finalizes the task after the reserved agent answered: the call is
// in-progress and presence (now busy) takes over guarding the agent.
func (d *Dispatcher) Confirm(sessionID string) error {
	return d.decide(sessionID, decisionConfirm)
}

// Decline returns the task to matching with the declining agent excluded.
func (d *Dispatcher) Decline(sessionID string) error {
	return d.decide(sessionID, decisionDecline)
}

// ReservationCurrent reports whether reservationID is still the live
// assignment of task taskID for agentID. The provider's assignment callback
// is answered from this: a reservation that was declined, superseded, timed
// out, or canceled is no longer current.
func (d *Dispatcher) ReservationCurrent(taskID, agentID, reservationID string) bool {
	d.mu.Lock()
	var t *Task
	for _, cand := range d.tasks {
		if cand.id == taskID {
			t = cand
			break
		}
	}
	d.mu.Unlock()
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
	}

	t.mu.Lock()
	cur := t.current
	t.mu.Unlock()
	return cur.ReservationID == reservationID && cur.AgentID == agentID
}

func (d *Dispatcher) decide(sessionID string, dec decision) error {
	t := d.get(sessionID)
	if t == nil {
		return ErrNoActiveTask
	}
	select {
	case t.decisions <- dec:
		return nil
	case <-t.done:
		return ErrNoActiveTask
	}
}

func (d *Dispatcher) get(sessionID string) *Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tasks[sessionID]
}

func (d *Dispatcher) remove(t *Task) {
	d.mu.Lock()
	delete(d.tasks, t.attrs.CallSessionID)
	d.mu.Unlock()
}

func (d *Dispatcher) wakeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tasks {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}

func (d *Dispatcher) run(t *Task) {
	defer d.remove(t)
	defer t.cancel()

	deadline := time.NewTimer(d.opts.ReservationTimeout)
	defer deadline.Stop()

	for {
		agentID, err := d.reserveCandidate(t)
		if err != nil {
			d.log.Error("candidate selection failed", "task_id", t.id, "err", err)
			t.finish(Assignment{}, err)
			return
		}

		if agentID == "" {
			select {
			case <-t.wake:
				continue
			case <-t.ctx.Done():
				d.finishCanceled(t)
				return
			case <-deadline.C:
				d.finishTimeout(t)
				return
			}
		}

		// Cancellation may have raced the reservation; roll it back
		// instead of leaving the agent falsely held.
		select {
		case <-t.ctx.Done():
			d.release(t, agentID)
			d.finishCanceled(t)
			return
		default:
		}

		a := Assignment{
			TaskID:        t.id,
			CallSessionID: t.attrs.CallSessionID,
			QueueID:       t.queue.ID,
			AgentID:       agentID,
			ReservationID: uuid.NewString(),
			ReservedAt:    d.now().UTC(),
		}
		t.mu.Lock()
		t.current = a
		t.mu.Unlock()

		d.auditLogReservation(t, a)

		if d.opts.OnAssign != nil {
			if err := d.opts.OnAssign(t.ctx, a); err != nil {
				d.log.Warn("assignment delivery failed, excluding agent for task",
					"task_id", t.id, "agent_id", agentID, "err", err)
				d.release(t, agentID)
				t.clearCurrent()
				t.exclude(agentID)
				continue
			}
		}

		select {
		case dec := <-t.decisions:
			d.release(t, agentID)
			if dec == decisionConfirm {
				t.finish(a, nil)
				return
			}
			t.clearCurrent()
			t.exclude(agentID)
			d.log.Info("reservation declined", "task_id", t.id, "agent_id", agentID)
		case <-t.ctx.Done():
			d.release(t, agentID)
			d.finishCanceled(t)
			return
		case <-deadline.C:
			d.release(t, agentID)
			d.finishTimeout(t)
			return
		}
	}
}

// reserveCandidate walks available agents longest-idle first and returns the
// first one it can exclusively reserve; "" if none.
func (d *Dispatcher) reserveCandidate(t *Task) (string, error) {
	avail, err := d.presence.Available(t.ctx)
	if err != nil {
		return "", err
	}
	for _, p := range avail {
		if !t.queue.Eligible(p.AgentID) || t.isExcluded(p.AgentID) {
			continue
		}
		ok, err := d.reserver.Reserve(context.Background(), p.AgentID, t.id, d.opts.ReservationTTL)
		if err != nil {
			return "", err
		}
		if ok {
			return p.AgentID, nil
		}
	}
	return "", nil
}

func (d *Dispatcher) release(t *Task, agentID string) {
	// Lock ops use a fresh context: a canceled task must still roll back.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.reserver.Release(ctx, agentID, t.id); err != nil {
		d.log.Error("reservation release failed", "task_id", t.id, "agent_id", agentID, "err", err)
	}
}

func (d *Dispatcher) finishTimeout(t *Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The call is failed, not abandoned: the caller waited and nobody came.
	now := d.now().UTC()
	updated, err := d.records.Apply(ctx, t.attrs.CallSessionID, callrecord.Mutation{
		Status:      callrecord.StatusFailed,
		EndedAt:     &now,
		LastEventAt: now,
		SetDuration: true,
	})
	switch {
	case errors.Is(err, callrecord.ErrTerminal):
	case err != nil:
		d.log.Error("marking session failed after routing timeout", "call_session_id", t.attrs.CallSessionID, "err", err)
	default:
		// An agent may have been rung when the deadline fired; the failure
		// must reach that agent's machine, not just the record.
		if d.opts.OnStateChange != nil {
			d.opts.OnStateChange(callstate.StateChange{
				SessionID:      updated.ID,
				ProviderCallID: updated.ProviderCallID,
				AgentID:        updated.AgentID,
				Status:         updated.Status,
				At:             now,
			})
		}
	}
	if d.audit != nil {
		_ = d.audit.LogRoutingFailure(ctx, audit.EventTypeRoutingFailed, t.id, t.queue.ID, t.attrs.CallSessionID, "no agent available within reservation timeout")
	}
	d.log.Warn("routing task timed out", "task_id", t.id, "queue_id", t.queue.ID, "call_session_id", t.attrs.CallSessionID)
	t.finish(Assignment{}, ErrNoAgentAvailable)
}

func (d *Dispatcher) finishCanceled(t *Task) {
	if d.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.audit.LogRoutingFailure(ctx, audit.EventTypeRoutingCanceled, t.id, t.queue.ID, t.attrs.CallSessionID, "task canceled before assignment")
	}
	t.finish(Assignment{}, ErrTaskCanceled)
}

func (d *Dispatcher) auditLogReservation(t *Task, a Assignment) {
	if d.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = d.audit.LogReservation(ctx, a.TaskID, a.QueueID, a.AgentID, a.CallSessionID, "agent reserved")
}
