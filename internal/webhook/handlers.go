package webhook

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"callcenter-core/internal/reconciler"
	"callcenter-core/pkg/logger"
)

// maxBodyBytes caps webhook payload size; provider events are small.
const maxBodyBytes = 64 << 10

// Enqueuer hands decoded events to the reconciler pool.
type Enqueuer interface {
	Enqueue(ev reconciler.Event) error
}

// ReservationChecker answers whether a reservation is still the live
// assignment of its task.
type ReservationChecker interface {
	ReservationCurrent(taskID, agentID, reservationID string) bool
}

// Handler terminates provider HTTP callbacks. It validates the payload at
// the boundary and answers fast; all state changes happen asynchronously in
// the reconciler, so a slow database never backs up into provider retries.
type Handler struct {
	Events       Enqueuer
	Reservations ReservationChecker
}

// HandleVoiceEvent accepts POST /voice-webhook. Only malformed payloads are
// rejected; well-formed events of unknown type still get a 200 so new
// provider event types never cause retry storms.
func (h Handler) HandleVoiceEvent(c *gin.Context) {
	log := logger.FromGin(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ev, err := reconciler.Decode(body)
	if err != nil {
		log.Warn("malformed voice webhook", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	// Queue overflow is audited inside Enqueue; the provider will redeliver
	// and the dedup mark is not yet set, so answering 200 is safe.
	if err := h.Events.Enqueue(ev); err != nil {
		log.Error("voice event not enqueued", "provider_call_id", ev.ProviderCallID, "err", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

type taskAssignmentRequest struct {
	TaskSID        string `json:"task_sid" binding:"required"`
	WorkerSID      string `json:"worker_sid" binding:"required"`
	ReservationSID string `json:"reservation_sid" binding:"required"`
}

// HandleTaskAssignment accepts POST /task-assignment: the provider's task
// router asks what to do with a reservation, and the response body carries
// the disposition. "accept" while the reservation is still current; "reject"
// once the task moved on (agent declined, timeout, caller hung up), so the
// provider abandons the stale reservation instead of ringing a dead leg.
func (h Handler) HandleTaskAssignment(c *gin.Context) {
	log := logger.FromGin(c)

	var req taskAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	disposition := "reject"
	if h.Reservations.ReservationCurrent(req.TaskSID, req.WorkerSID, req.ReservationSID) {
		disposition = "accept"
	}

	log.Info("assignment callback answered",
		"task_sid", req.TaskSID,
		"worker_sid", req.WorkerSID,
		"reservation_sid", req.ReservationSID,
		"disposition", disposition,
	)
	c.JSON(http.StatusOK, gin.H{"disposition": disposition})
}
