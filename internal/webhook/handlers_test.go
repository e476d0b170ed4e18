package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"callcenter-core/internal/reconciler"
)

type fakeEnqueuer struct {
	mu     sync.Mutex
	events []reconciler.Event
	err    error
}

func (f *fakeEnqueuer) Enqueue(ev reconciler.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

type fakeReservations struct {
	current bool

	gotTask        string
	gotAgent       string
	gotReservation string
}

func (f *fakeReservations) ReservationCurrent(taskID, agentID, reservationID string) bool {
	f.gotTask = taskID
	f.gotAgent = agentID
	f.gotReservation = reservationID
	return f.current
}

func newRouter(h Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/voice-webhook", h.HandleVoiceEvent)
	r.POST("/task-assignment", h.HandleTaskAssignment)
	return r
}

func post(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestHandleVoiceEvent_AcceptsAndEnqueues(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := newRouter(Handler{Events: enq, Reservations: &fakeReservations{}})

	w := post(r, "/voice-webhook", `{"provider_call_id":"PC-1","event_type":"call.ringing","timestamp":"2026-03-01T09:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(enq.events) != 1 || enq.events[0].Type != reconciler.EventRinging {
		t.Fatalf("enqueued = %+v", enq.events)
	}
}

func TestHandleVoiceEvent_UnknownTypeStillAccepted(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := newRouter(Handler{Events: enq, Reservations: &fakeReservations{}})

	w := post(r, "/voice-webhook", `{"provider_call_id":"PC-1","event_type":"call.recording_ready","timestamp":"2026-03-01T09:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for unknown event type", w.Code)
	}
	if len(enq.events) != 1 || enq.events[0].Type != reconciler.EventUnknown {
		t.Fatalf("enqueued = %+v", enq.events)
	}
}

func TestHandleVoiceEvent_MalformedRejected(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := newRouter(Handler{Events: enq, Reservations: &fakeReservations{}})

	for _, body := range []string{
		`{`,
		`{"event_type":"call.ringing","timestamp":"2026-03-01T09:00:00Z"}`,
		`{"provider_call_id":"PC-1","event_type":"call.ringing","timestamp":"not-a-time"}`,
	} {
		if w := post(r, "/voice-webhook", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
	if len(enq.events) != 0 {
		t.Fatalf("malformed payloads were enqueued: %+v", enq.events)
	}
}

func TestHandleVoiceEvent_QueueFullStillAnswers200(t *testing.T) {
	enq := &fakeEnqueuer{err: reconciler.ErrQueueFull}
	r := newRouter(Handler{Events: enq, Reservations: &fakeReservations{}})

	w := post(r, "/voice-webhook", `{"provider_call_id":"PC-1","event_type":"call.ringing","timestamp":"2026-03-01T09:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 under overload", w.Code)
	}
}

func disposition(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Disposition string `json:"disposition"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response %q: %v", w.Body.String(), err)
	}
	return body.Disposition
}

func TestHandleTaskAssignment_AcceptsCurrentReservation(t *testing.T) {
	res := &fakeReservations{current: true}
	r := newRouter(Handler{Events: &fakeEnqueuer{}, Reservations: res})

	w := post(r, "/task-assignment", `{"task_sid":"WT-1","worker_sid":"agent-1","reservation_sid":"WR-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := disposition(t, w); got != "accept" {
		t.Fatalf("disposition = %q, want accept", got)
	}
	if res.gotTask != "WT-1" || res.gotAgent != "agent-1" || res.gotReservation != "WR-1" {
		t.Fatalf("reservation lookup got (%q, %q, %q)", res.gotTask, res.gotAgent, res.gotReservation)
	}
}

func TestHandleTaskAssignment_RejectsStaleReservation(t *testing.T) {
	r := newRouter(Handler{Events: &fakeEnqueuer{}, Reservations: &fakeReservations{current: false}})

	// The task declined, timed out, or was canceled in the meantime; the
	// provider must drop the reservation, not ring a dead leg.
	w := post(r, "/task-assignment", `{"task_sid":"WT-1","worker_sid":"agent-1","reservation_sid":"WR-stale"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := disposition(t, w); got != "reject" {
		t.Fatalf("disposition = %q, want reject", got)
	}
}

func TestHandleTaskAssignment_Validation(t *testing.T) {
	r := newRouter(Handler{Events: &fakeEnqueuer{}, Reservations: &fakeReservations{}})

	for _, body := range []string{
		`{`,
		`{"worker_sid":"agent-1","reservation_sid":"WR-1"}`,
		`{"task_sid":"WT-1","reservation_sid":"WR-1"}`,
		`{"task_sid":"WT-1","worker_sid":"agent-1"}`,
	} {
		if w := post(r, "/task-assignment", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}
