package reconciler

import (
	"errors"
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	raw := []byte(`{
		"provider_call_id": "PC-1",
		"event_type": "call.answered",
		"from": "+15550100001",
		"to": "+15550100002",
		"timestamp": "2026-03-01T09:00:05Z",
		"status": "answered",
		"carrier_hint": "t1"
	}`)

	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Type != EventAnswered || ev.ProviderCallID != "PC-1" {
		t.Fatalf("event = %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Date(2026, 3, 1, 9, 0, 5, 0, time.UTC)) {
		t.Fatalf("timestamp = %v", ev.Timestamp)
	}
	if ev.From != "+15550100001" || ev.To != "+15550100002" {
		t.Fatalf("numbers = %q -> %q", ev.From, ev.To)
	}
	// Fields outside the schema are preserved, not dropped.
	if _, ok := ev.Extra["carrier_hint"]; !ok {
		t.Fatalf("unknown field lost, extra = %v", ev.Extra)
	}
}

func TestDecode_UnknownTypeAccepted(t *testing.T) {
	ev, err := Decode([]byte(`{"provider_call_id":"PC-1","event_type":"call.recording_ready","timestamp":"2026-03-01T09:00:00Z"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Type != EventUnknown || ev.RawType != "call.recording_ready" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"broken json":       `{"provider_call_id":`,
		"missing call id":   `{"event_type":"call.ringing","timestamp":"2026-03-01T09:00:00Z"}`,
		"missing type":      `{"provider_call_id":"PC-1","timestamp":"2026-03-01T09:00:00Z"}`,
		"missing timestamp": `{"provider_call_id":"PC-1","event_type":"call.ringing"}`,
		"bad timestamp":     `{"provider_call_id":"PC-1","event_type":"call.ringing","timestamp":"yesterday"}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: error = %v, want ErrMalformed", name, err)
		}
	}
}

func TestEventKey_DistinguishesDeliveries(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := Event{ProviderCallID: "PC-1", RawType: "call.ringing", Timestamp: ts}
	b := Event{ProviderCallID: "PC-1", RawType: "call.ringing", Timestamp: ts}
	if a.Key() != b.Key() {
		t.Fatal("identical deliveries produced different keys")
	}
	c := Event{ProviderCallID: "PC-1", RawType: "call.ringing", Timestamp: ts.Add(time.Second)}
	if a.Key() == c.Key() {
		t.Fatal("distinct timestamps produced the same key")
	}
}

func TestShardIndex_StablePerCall(t *testing.T) {
	for _, id := range []string{"PC-1", "PC-2", "a", ""} {
		first := shardIndex(id, 8)
		if first < 0 || first >= 8 {
			t.Fatalf("shardIndex(%q) = %d out of range", id, first)
		}
		if again := shardIndex(id, 8); again != first {
			t.Fatalf("shardIndex(%q) not stable: %d then %d", id, first, again)
		}
	}
}
