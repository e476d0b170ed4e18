package reconciler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType enumerates the provider lifecycle events this service acts on.
// Anything else decodes as EventUnknown and is accepted-then-ignored so new
// provider event types never break the webhook.
type EventType string

const (
	EventInitiated    EventType = "call.initiated"
	EventRinging      EventType = "call.ringing"
	EventAnswered     EventType = "call.answered"
	EventCompleted    EventType = "call.completed"
	EventFailed       EventType = "call.failed"
	EventTaskCanceled EventType = "task.canceled"

	EventUnknown EventType = "unknown"
)

var knownTypes = map[string]EventType{
	string(EventInitiated):    EventInitiated,
	string(EventRinging):      EventRinging,
	string(EventAnswered):     EventAnswered,
	string(EventCompleted):    EventCompleted,
	string(EventFailed):       EventFailed,
	string(EventTaskCanceled): EventTaskCanceled,
}

// ErrMalformed marks payloads the webhook must reject with 4xx: broken
// JSON or required fields missing. Everything else gets a 200.
var ErrMalformed = errors.New("reconciler: malformed event payload")

// Event is one decoded provider webhook delivery.
//
// Extra holds fields the schema does not know; they are retained for the
// audit trail but never drive state transitions.
type Event struct {
	Type    EventType
	RawType string

	ProviderCallID string
	Timestamp      time.Time

	From      string
	To        string
	AgentID   string
	ContactID string
	Direction string
	Status    string

	Extra map[string]json.RawMessage
	Raw   []byte
}

// Key identifies one delivery for dedup purposes. Two deliveries with the
// same provider call id, event type, and timestamp are the same event.
func (e Event) Key() string {
	return e.ProviderCallID + "|" + e.RawType + "|" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Decode parses a raw webhook body. The schema is strict about the fields
// it needs (provider_call_id, event_type, timestamp) and tolerant about
// everything else.
func Decode(raw []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	str := func(key string) string {
		rawVal, ok := fields[key]
		if !ok {
			return ""
		}
		var s string
		if err := json.Unmarshal(rawVal, &s); err != nil {
			return ""
		}
		delete(fields, key)
		return s
	}

	ev := Event{
		Raw:            append([]byte(nil), raw...),
		ProviderCallID: str("provider_call_id"),
		RawType:        str("event_type"),
		From:           str("from"),
		To:             str("to"),
		AgentID:        str("agent_id"),
		ContactID:      str("contact_id"),
		Direction:      str("direction"),
		Status:         str("status"),
	}
	if ev.ProviderCallID == "" {
		return Event{}, fmt.Errorf("%w: provider_call_id missing", ErrMalformed)
	}
	if ev.RawType == "" {
		return Event{}, fmt.Errorf("%w: event_type missing", ErrMalformed)
	}

	tsRaw := str("timestamp")
	if tsRaw == "" {
		return Event{}, fmt.Errorf("%w: timestamp missing", ErrMalformed)
	}
	ts, err := time.Parse(time.RFC3339, tsRaw)
	if err != nil {
		return Event{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, tsRaw)
	}
	ev.Timestamp = ts.UTC()

	typ, ok := knownTypes[ev.RawType]
	if !ok {
		typ = EventUnknown
	}
	ev.Type = typ
	ev.Extra = fields
	return ev, nil
}
