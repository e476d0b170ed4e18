package reconciler

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"callcenter-core/internal/audit"
	"callcenter-core/internal/callrecord"
	"callcenter-core/internal/callstate"
	"callcenter-core/internal/routing"
)

// ErrQueueFull is returned by Enqueue under sustained overload. The webhook
// handler still answers 200; the provider retries and the drop is audited.
var ErrQueueFull = errors.New("reconciler: event queue full")

// TaskController is the slice of the routing dispatcher the reconciler
// drives: start routing for a fresh inbound call, cancel it when the caller
// hangs up before assignment.
type TaskController interface {
	Submit(ctx context.Context, attrs routing.CallAttributes) (*routing.Task, error)
	Cancel(sessionID string) error
}

// Options tunes the worker pool.
type Options struct {
	// Workers is the number of parallel event handlers.
	Workers int
	// QueueDepth is the per-worker buffer size.
	QueueDepth int
}

// Reconciler applies provider lifecycle events to call session state.
//
// Delivery is at-least-once and unordered, so every apply is guarded three
// ways: a dedup mark per (provider_call_id, event_type, timestamp), the
// session's last-event high-water mark against stale timestamps, and the
// transition graph against impossible status jumps. Events for the same
// provider call id always hash to the same worker, which serializes them;
// different calls process in parallel.
type Reconciler struct {
	records callrecord.Store
	dedup   Deduper
	audits  *audit.Service
	broker  *callstate.Broker
	tasks   TaskController
	log     *slog.Logger
	now     func() time.Time

	opts   Options
	queues []chan Event
	wg     sync.WaitGroup
}

func New(records callrecord.Store, dedup Deduper, audits *audit.Service, broker *callstate.Broker, tasks TaskController, log *slog.Logger, opts Options) *Reconciler {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 256
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Reconciler{
		records: records,
		dedup:   dedup,
		audits:  audits,
		broker:  broker,
		tasks:   tasks,
		log:     log,
		now:     time.Now,
		opts:    opts,
	}
	r.queues = make([]chan Event, opts.Workers)
	for i := range r.queues {
		r.queues[i] = make(chan Event, opts.QueueDepth)
	}
	return r
}

// Start launches the worker pool. Workers stop when ctx is canceled.
func (r *Reconciler) Start(ctx context.Context) {
	for i := range r.queues {
		r.wg.Add(1)
		go func(q <-chan Event) {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-q:
					r.apply(ctx, ev)
				}
			}
		}(r.queues[i])
	}
}

// Wait blocks until all workers exited.
func (r *Reconciler) Wait() { r.wg.Wait() }

// Enqueue hands a decoded event to the pool without blocking the caller.
func (r *Reconciler) Enqueue(ev Event) error {
	q := r.queues[shardIndex(ev.ProviderCallID, len(r.queues))]
	select {
	case q <- ev:
		return nil
	default:
		r.log.Error("event queue full, dropping delivery", "provider_call_id", ev.ProviderCallID, "event_type", ev.RawType)
		_ = r.audits.LogWebhookDrop(context.Background(), audit.EventTypeDroppedEvent, ev.ProviderCallID, "", "queue full", string(ev.Raw))
		return ErrQueueFull
	}
}

// shardIndex pins a provider call id to one worker so its events serialize.
func shardIndex(providerCallID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(providerCallID))
	return int(h.Sum32() % uint32(n))
}

func (r *Reconciler) apply(ctx context.Context, ev Event) {
	log := r.log.With("provider_call_id", ev.ProviderCallID, "event_type", ev.RawType, "event_ts", ev.Timestamp)

	if ev.Type == EventUnknown {
		log.Info("ignoring unknown event type")
		_ = r.audits.LogWebhookDrop(ctx, audit.EventTypeUnknownEvent, ev.ProviderCallID, "", "unknown event type "+ev.RawType, string(ev.Raw))
		return
	}

	seen, err := r.dedup.Seen(ctx, ev.Key())
	if err != nil {
		// Dedup backend trouble must not stall the stream; the stale and
		// transition guards below keep a re-applied event harmless.
		log.Warn("dedup check failed, processing anyway", "error", err)
	} else if seen {
		log.Debug("duplicate delivery dropped")
		_ = r.audits.LogWebhookDrop(ctx, audit.EventTypeDuplicateEvent, ev.ProviderCallID, "", "duplicate delivery", string(ev.Raw))
		return
	}

	session, err := r.records.GetByProviderCallID(ctx, ev.ProviderCallID)
	switch {
	case errors.Is(err, callrecord.ErrNotFound):
		if ev.Type == EventInitiated {
			if r.admitCall(ctx, ev, log) {
				r.markProcessed(ctx, ev, log)
			}
			return
		}
		// The session may still show up (a dial recording it, an initiated
		// event in flight on another worker), so the delivery stays
		// unmarked and a redelivery can land.
		log.Warn("event for unknown call session dropped")
		_ = r.audits.LogWebhookDrop(ctx, audit.EventTypeDroppedEvent, ev.ProviderCallID, "", "no session for event", string(ev.Raw))
		return
	case err != nil:
		log.Error("session lookup failed", "error", err)
		return
	}

	if !ev.Timestamp.After(session.LastEventAt) {
		log.Info("stale event, status unchanged", "last_event_at", session.LastEventAt)
		_ = r.audits.LogWebhookDrop(ctx, audit.EventTypeStaleEvent, ev.ProviderCallID, session.ID, "timestamp at or before high-water mark", string(ev.Raw))
		r.markProcessed(ctx, ev, log)
		return
	}

	target := statusFor(ev.Type)
	if target == session.Status || ev.Type == EventInitiated {
		// Nothing to change; just advance the high-water mark.
		if _, err := r.records.Apply(ctx, session.ID, callrecord.Mutation{LastEventAt: ev.Timestamp}); err == nil || errors.Is(err, callrecord.ErrTerminal) {
			r.markProcessed(ctx, ev, log)
		}
		return
	}
	if !callstate.Allowed(session.Status, target) {
		log.Warn("invalid transition dropped", "from", session.Status, "to", target)
		_ = r.audits.LogWebhookDrop(ctx, audit.EventTypeDroppedEvent, ev.ProviderCallID, session.ID, "invalid transition "+string(session.Status)+" -> "+string(target), string(ev.Raw))
		r.markProcessed(ctx, ev, log)
		return
	}

	if ev.Type == EventTaskCanceled && r.tasks != nil {
		if err := r.tasks.Cancel(session.ID); err != nil && !errors.Is(err, routing.ErrNoActiveTask) {
			log.Warn("task cancel failed", "error", err)
		}
	}

	ts := ev.Timestamp
	m := callrecord.Mutation{Status: target, LastEventAt: ts}
	switch target {
	case callrecord.StatusInProgress:
		m.AnsweredAt = &ts
	case callrecord.StatusCompleted, callrecord.StatusFailed, callrecord.StatusCanceled:
		m.EndedAt = &ts
		m.SetDuration = true
	}
	if ev.AgentID != "" {
		m.AgentID = ev.AgentID
	}

	updated, err := r.records.Apply(ctx, session.ID, m)
	switch {
	case errors.Is(err, callrecord.ErrTerminal):
		log.Info("event arrived after call reached a terminal status")
		_ = r.audits.LogWebhookDrop(ctx, audit.EventTypeStaleEvent, ev.ProviderCallID, session.ID, "session already terminal", string(ev.Raw))
		r.markProcessed(ctx, ev, log)
		return
	case err != nil:
		// Unmarked on purpose: the redelivery must retry the apply.
		log.Error("applying event failed", "error", err)
		return
	}
	r.markProcessed(ctx, ev, log)

	r.broker.Publish(callstate.StateChange{
		SessionID:      updated.ID,
		ProviderCallID: updated.ProviderCallID,
		AgentID:        updated.AgentID,
		Status:         updated.Status,
		At:             ts,
	})
	log.Info("event applied", "session_id", updated.ID, "status", updated.Status)
}

// markProcessed records the delivery in the dedup backend. Called only once
// an event's outcome is settled; a failed mark just means the redelivery is
// re-screened by the stale and transition guards.
func (r *Reconciler) markProcessed(ctx context.Context, ev Event, log *slog.Logger) {
	if err := r.dedup.MarkProcessed(ctx, ev.Key()); err != nil {
		log.Warn("dedup mark failed", "error", err)
	}
}

// admitCall creates the session for a call first seen via its "initiated"
// event and, for inbound calls, hands it to routing. Returns whether the
// session was recorded.
func (r *Reconciler) admitCall(ctx context.Context, ev Event, log *slog.Logger) bool {
	direction := callrecord.DirectionInbound
	counterparty := ev.From
	if ev.Direction == string(callrecord.DirectionOutbound) {
		direction = callrecord.DirectionOutbound
		counterparty = ev.To
	}

	session := callrecord.CallSession{
		ID:             uuid.NewString(),
		ProviderCallID: ev.ProviderCallID,
		Direction:      direction,
		AgentID:        ev.AgentID,
		Counterparty:   counterparty,
		ContactID:      ev.ContactID,
		Status:         callrecord.StatusQueued,
		StartedAt:      ev.Timestamp,
		LastEventAt:    ev.Timestamp,
	}
	if err := r.records.Create(ctx, session); err != nil {
		// An agent dial may have recorded the call concurrently.
		log.Debug("session already recorded", "error", err)
		return false
	}
	log.Info("call admitted", "session_id", session.ID, "direction", direction)

	r.broker.Publish(callstate.StateChange{
		SessionID:      session.ID,
		ProviderCallID: session.ProviderCallID,
		AgentID:        session.AgentID,
		Status:         session.Status,
		At:             ev.Timestamp,
	})

	if direction == callrecord.DirectionInbound && r.tasks != nil {
		_, err := r.tasks.Submit(ctx, routing.CallAttributes{
			CallSessionID:  session.ID,
			ProviderCallID: session.ProviderCallID,
			From:           ev.From,
			To:             ev.To,
			ContactID:      ev.ContactID,
		})
		if err != nil && !errors.Is(err, routing.ErrTaskExists) {
			log.Error("routing submit failed", "session_id", session.ID, "error", err)
		}
	}
	return true
}

func statusFor(t EventType) callrecord.Status {
	switch t {
	case EventInitiated:
		return callrecord.StatusQueued
	case EventRinging:
		return callrecord.StatusRinging
	case EventAnswered:
		return callrecord.StatusInProgress
	case EventCompleted:
		return callrecord.StatusCompleted
	case EventFailed:
		return callrecord.StatusFailed
	case EventTaskCanceled:
		return callrecord.StatusCanceled
	default:
		return ""
	}
}
