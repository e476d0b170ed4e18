package callstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"callcenter-core/internal/callrecord"
	"callcenter-core/internal/provider"
)

// State is the agent-facing view of the active call. It is finer-grained
// than the session status: "connecting" covers the window between placing
// an outbound call and the provider confirming it is ringing.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateRinging    State = "ringing"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

var (
	ErrInvalidStateTransition = errors.New("callstate: invalid state transition")

	// ErrInvalidNumber rejects dial targets that are not E.164.
	ErrInvalidNumber = errors.New("callstate: invalid phone number")

	// ErrAlreadyOnCall rejects a dial while a call is in flight.
	ErrAlreadyOnCall = errors.New("callstate: agent already on a call")

	// ErrDialCanceled means the agent hung up while the outbound placement
	// was still in flight; the placed provider call has been torn down.
	ErrDialCanceled = errors.New("callstate: dial canceled by hang-up")
)

var validate = validator.New()

// Snapshot is the machine's current view, returned to the console.
type Snapshot struct {
	State          State  `json:"state"`
	Muted          bool   `json:"muted"`
	SessionID      string `json:"session_id,omitempty"`
	ProviderCallID string `json:"provider_call_id,omitempty"`
	Direction      string `json:"direction,omitempty"`
	Counterparty   string `json:"counterparty,omitempty"`
}

// Machine drives one agent's active call. It owns the in-flight state,
// mirrors every change into the call record store, and publishes state
// changes on the broker so dashboards and the agent UI stay current.
//
// One Machine per signed-in agent; all methods are safe for concurrent use
// but commands are serialized under the machine lock.
type Machine struct {
	agentID  string
	callerID string

	records   callrecord.Store
	commander provider.Commander
	broker    *Broker
	log       *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	state        State
	muted        bool
	sessionID    string
	providerID   string
	direction    callrecord.Direction
	counterparty string

	// abortDial is set by a hang-up that lands while PlaceCall is still in
	// flight; the dial path consumes it and tears down the placed call.
	abortDial bool
}

// NewMachine builds a machine for one agent. callerID is the number
// presented on outbound calls.
func NewMachine(agentID, callerID string, records callrecord.Store, cmd provider.Commander, broker *Broker, log *slog.Logger) *Machine {
	return &Machine{
		agentID:   agentID,
		callerID:  callerID,
		records:   records,
		commander: cmd,
		broker:    broker,
		log:       log.With("agent_id", agentID),
		now:       time.Now,
		state:     StateIdle,
	}
}

// SetClock overrides the time source, for tests.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:          m.state,
		Muted:          m.muted,
		SessionID:      m.sessionID,
		ProviderCallID: m.providerID,
		Direction:      string(m.direction),
		Counterparty:   m.counterparty,
	}
}

// Dial places an outbound call. Valid only when no call is in flight; a
// machine left in a terminal state by its previous call starts over.
func (m *Machine) Dial(ctx context.Context, number string) (string, error) {
	number = strings.TrimSpace(number)
	if err := validate.Var(number, "e164"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}

	m.mu.Lock()
	switch m.state {
	case StateIdle, StateCompleted, StateFailed:
	default:
		m.mu.Unlock()
		return "", ErrAlreadyOnCall
	}
	// Hold "connecting" before releasing the lock so a concurrent dial is
	// rejected while the provider call is outstanding.
	m.state = StateConnecting
	m.muted = false
	m.sessionID = ""
	m.providerID = ""
	m.direction = callrecord.DirectionOutbound
	m.counterparty = number
	m.mu.Unlock()

	res, err := m.commander.PlaceCall(ctx, provider.PlaceCallRequest{
		To:      number,
		From:    m.callerID,
		AgentID: m.agentID,
	})
	if err != nil {
		m.mu.Lock()
		m.abortDial = false
		if m.state == StateConnecting {
			m.state = StateFailed
		}
		m.mu.Unlock()
		m.log.Error("outbound call placement failed", "to", number, "error", err)
		return "", err
	}

	// The agent may have hung up while placement was in flight; the placed
	// call must not leak as a live leg with no one on it.
	m.mu.Lock()
	if m.abortDial {
		m.abortDial = false
		m.mu.Unlock()
		return "", m.abortPlacedCall(ctx, res.ProviderCallID, number)
	}
	m.providerID = res.ProviderCallID
	m.mu.Unlock()

	now := m.now()
	session := callrecord.CallSession{
		ID:             uuid.NewString(),
		ProviderCallID: res.ProviderCallID,
		Direction:      callrecord.DirectionOutbound,
		AgentID:        m.agentID,
		Counterparty:   number,
		Status:         callrecord.StatusQueued,
		StartedAt:      now,
		LastEventAt:    now,
	}
	if err := m.records.Create(ctx, session); err != nil {
		// The webhook reconciler may have created the record off the
		// provider's "initiated" event first; adopt that row.
		existing, getErr := m.records.GetByProviderCallID(ctx, res.ProviderCallID)
		if getErr != nil {
			m.mu.Lock()
			m.state = StateFailed
			m.mu.Unlock()
			return "", fmt.Errorf("record outbound call: %w", err)
		}
		session = existing
		if session.AgentID == "" {
			if updated, applyErr := m.records.Apply(ctx, session.ID, callrecord.Mutation{AgentID: m.agentID}); applyErr == nil {
				session = updated
			}
		}
	}

	m.mu.Lock()
	m.sessionID = session.ID
	m.providerID = session.ProviderCallID
	m.mu.Unlock()

	m.broker.Publish(StateChange{
		SessionID:      session.ID,
		ProviderCallID: session.ProviderCallID,
		AgentID:        m.agentID,
		Status:         session.Status,
		At:             now,
	})
	m.log.Info("outbound call placed", "session_id", session.ID, "provider_call_id", session.ProviderCallID, "to", number)
	return session.ID, nil
}

// abortPlacedCall hangs up a provider call whose dial was canceled before
// placement returned, and records the session as canceled so the call does
// not linger queued.
func (m *Machine) abortPlacedCall(ctx context.Context, providerCallID, number string) error {
	if err := m.commander.HangUp(ctx, providerCallID); err != nil {
		m.log.Warn("tear-down of canceled dial failed", "provider_call_id", providerCallID, "error", err)
	}

	now := m.now()
	session := callrecord.CallSession{
		ID:             uuid.NewString(),
		ProviderCallID: providerCallID,
		Direction:      callrecord.DirectionOutbound,
		AgentID:        m.agentID,
		Counterparty:   number,
		Status:         callrecord.StatusCanceled,
		StartedAt:      now,
		EndedAt:        &now,
		LastEventAt:    now,
	}
	if err := m.records.Create(ctx, session); err != nil {
		// The reconciler may have admitted the call off its "initiated"
		// event already; cancel that row instead.
		if existing, getErr := m.records.GetByProviderCallID(ctx, providerCallID); getErr == nil {
			if updated, applyErr := m.records.Apply(ctx, existing.ID, callrecord.Mutation{
				Status:      callrecord.StatusCanceled,
				AgentID:     m.agentID,
				EndedAt:     &now,
				LastEventAt: now,
				SetDuration: true,
			}); applyErr == nil {
				session = updated
			} else {
				session = existing
			}
		}
	}

	m.broker.Publish(StateChange{
		SessionID:      session.ID,
		ProviderCallID: providerCallID,
		AgentID:        m.agentID,
		Status:         callrecord.StatusCanceled,
		At:             now,
	})
	m.log.Info("dial canceled by hang-up", "session_id", session.ID, "provider_call_id", providerCallID)
	return ErrDialCanceled
}

// RingInbound offers a routed inbound call to this agent. The dispatcher
// treats an error here as a decline and moves to the next candidate.
func (m *Machine) RingInbound(ctx context.Context, session callrecord.CallSession) error {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateCompleted, StateFailed:
	default:
		m.mu.Unlock()
		return ErrAlreadyOnCall
	}
	m.state = StateRinging
	m.muted = false
	m.sessionID = session.ID
	m.providerID = session.ProviderCallID
	m.direction = callrecord.DirectionInbound
	m.counterparty = session.Counterparty
	m.mu.Unlock()

	now := m.now()
	updated, err := m.records.Apply(ctx, session.ID, callrecord.Mutation{
		Status:      callrecord.StatusRinging,
		AgentID:     m.agentID,
		LastEventAt: now,
	})
	if err != nil {
		// Caller hung up while the call was queued; back to idle.
		m.mu.Lock()
		m.state = StateIdle
		m.sessionID = ""
		m.providerID = ""
		m.mu.Unlock()
		return fmt.Errorf("ring inbound: %w", err)
	}

	m.broker.Publish(StateChange{
		SessionID:      updated.ID,
		ProviderCallID: updated.ProviderCallID,
		AgentID:        m.agentID,
		Status:         updated.Status,
		At:             now,
	})
	m.log.Info("inbound call ringing", "session_id", updated.ID, "from", updated.Counterparty)
	return nil
}

// AcceptIncoming answers the ringing inbound call.
func (m *Machine) AcceptIncoming(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateRinging || m.direction != callrecord.DirectionInbound {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: accept from %q", ErrInvalidStateTransition, state)
	}
	sessionID := m.sessionID
	m.state = StateInProgress
	m.mu.Unlock()

	now := m.now()
	updated, err := m.records.Apply(ctx, sessionID, callrecord.Mutation{
		Status:      callrecord.StatusInProgress,
		AnsweredAt:  &now,
		LastEventAt: now,
	})
	if err != nil {
		return fmt.Errorf("accept incoming: %w", err)
	}

	m.broker.Publish(StateChange{
		SessionID:      updated.ID,
		ProviderCallID: updated.ProviderCallID,
		AgentID:        m.agentID,
		Status:         updated.Status,
		At:             now,
	})
	m.log.Info("inbound call answered", "session_id", updated.ID)
	return nil
}

// RejectIncoming declines the ringing inbound call. The session ends with
// duration 0; routing may still offer the call to another agent, in which
// case the dispatcher re-rings before the record is closed, so rejection
// here only applies when this agent was the call's last candidate.
func (m *Machine) RejectIncoming(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateRinging || m.direction != callrecord.DirectionInbound {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: reject from %q", ErrInvalidStateTransition, state)
	}
	sessionID := m.sessionID
	providerID := m.providerID
	m.state = StateIdle
	m.sessionID = ""
	m.providerID = ""
	m.mu.Unlock()

	m.log.Info("inbound call rejected", "session_id", sessionID, "provider_call_id", providerID)
	return nil
}

// HangUp ends the current call. Valid while connecting, ringing, or in
// progress; a repeat hang-up after the call completed is a no-op.
func (m *Machine) HangUp(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateRinging, StateInProgress:
	case StateCompleted, StateFailed:
		m.mu.Unlock()
		return nil
	default:
		m.mu.Unlock()
		return fmt.Errorf("%w: hang up from %q", ErrInvalidStateTransition, StateIdle)
	}
	if m.state == StateConnecting && m.providerID == "" {
		// PlaceCall has not returned yet, so there is nothing to hang up
		// here; flag the dial path to tear down the call it receives.
		m.abortDial = true
		m.state = StateCompleted
		m.muted = false
		m.mu.Unlock()
		m.log.Info("hang-up during dial, placement will be torn down")
		return nil
	}
	sessionID := m.sessionID
	providerID := m.providerID
	m.mu.Unlock()

	if providerID != "" {
		if err := m.commander.HangUp(ctx, providerID); err != nil {
			// The far end may have already dropped; the reconciler will
			// settle the record either way. Log and finish locally.
			m.log.Warn("provider hang-up failed", "provider_call_id", providerID, "error", err)
		}
	}

	now := m.now()
	if sessionID != "" {
		if _, err := m.records.Apply(ctx, sessionID, callrecord.Mutation{
			Status:      callrecord.StatusCompleted,
			EndedAt:     &now,
			LastEventAt: now,
			SetDuration: true,
		}); err != nil && !errors.Is(err, callrecord.ErrTerminal) {
			return fmt.Errorf("hang up: %w", err)
		}
	}

	m.mu.Lock()
	m.state = StateCompleted
	m.muted = false
	m.mu.Unlock()

	m.broker.Publish(StateChange{
		SessionID:      sessionID,
		ProviderCallID: providerID,
		AgentID:        m.agentID,
		Status:         callrecord.StatusCompleted,
		At:             now,
	})
	m.log.Info("call hung up", "session_id", sessionID)
	return nil
}

// ToggleMute flips the local mute flag. Only meaningful mid-call.
func (m *Machine) ToggleMute() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInProgress {
		return false, fmt.Errorf("%w: mute from %q", ErrInvalidStateTransition, m.state)
	}
	m.muted = !m.muted
	return m.muted, nil
}

// SendDigit relays a DTMF digit into the active call.
func (m *Machine) SendDigit(ctx context.Context, digit rune) error {
	if !validDigit(digit) {
		return fmt.Errorf("%w: digit %q", ErrInvalidStateTransition, digit)
	}
	m.mu.Lock()
	if m.state != StateInProgress {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: send digit from %q", ErrInvalidStateTransition, state)
	}
	providerID := m.providerID
	m.mu.Unlock()

	if err := m.commander.SendDigit(ctx, providerID, digit); err != nil {
		return err
	}
	return nil
}

func validDigit(d rune) bool {
	return (d >= '0' && d <= '9') || d == '*' || d == '#'
}

// Observe feeds a provider-driven state change into the machine. The
// console wires the broker subscription to this method so the agent's view
// follows webhook-confirmed transitions (outbound answered, far-end
// hang-up, provider failure).
func (m *Machine) Observe(ev StateChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.SessionID == "" || ev.SessionID != m.sessionID {
		return
	}
	switch m.state {
	case StateCompleted, StateFailed, StateIdle:
		return
	}

	switch ev.Status {
	case callrecord.StatusRinging:
		if m.state == StateConnecting {
			m.state = StateRinging
		}
	case callrecord.StatusInProgress:
		m.state = StateInProgress
	case callrecord.StatusCompleted, callrecord.StatusCanceled:
		m.state = StateCompleted
		m.muted = false
	case callrecord.StatusFailed:
		m.state = StateFailed
		m.muted = false
	}
}
