package console

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"callcenter-core/internal/auth"
	"callcenter-core/internal/callrecord"
	"callcenter-core/internal/callstate"
	"callcenter-core/internal/presence"
	"callcenter-core/internal/provider"
	"callcenter-core/internal/routing"
	"callcenter-core/pkg/logger"
)

// TaskDecider is the dispatcher surface the console drives when an agent
// answers or declines a routed call.
type TaskDecider interface {
	Confirm(sessionID string) error
	Decline(sessionID string) error
}

// Handler exposes agent commands. Every route requires an access token;
// the agent identity always comes from claims, never from the request body,
// so one agent cannot act on another's call.
type Handler struct {
	Machines *Registry
	Presence *presence.Tracker
	Records  callrecord.Store
	Tasks    TaskDecider
}

type dialRequest struct {
	Number string `json:"number" binding:"required"`
}

func (h Handler) Dial(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}

	sessionID, err := h.Machines.ForAgent(agentID).Dial(c.Request.Context(), req.Number)
	if err != nil {
		respondCallError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call_session_id": sessionID})
}

func (h Handler) Accept(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	log := logger.FromGin(c)

	m := h.Machines.ForAgent(agentID)
	snap := m.Snapshot()
	if err := m.AcceptIncoming(c.Request.Context()); err != nil {
		respondCallError(c, err)
		return
	}

	// The call is live: presence flips to busy, which is what actually
	// guards the agent against further routing.
	if _, err := h.Presence.Set(c.Request.Context(), agentID, presence.StateBusy); err != nil {
		log.Error("presence update after accept failed", "agent_id", agentID, "err", err)
	}
	if err := h.Tasks.Confirm(snap.SessionID); err != nil && !errors.Is(err, routing.ErrNoActiveTask) {
		log.Warn("task confirm failed", "call_session_id", snap.SessionID, "err", err)
	}

	c.JSON(http.StatusOK, m.Snapshot())
}

func (h Handler) Reject(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	log := logger.FromGin(c)

	m := h.Machines.ForAgent(agentID)
	snap := m.Snapshot()
	if err := m.RejectIncoming(c.Request.Context()); err != nil {
		respondCallError(c, err)
		return
	}
	if err := h.Tasks.Decline(snap.SessionID); err != nil && !errors.Is(err, routing.ErrNoActiveTask) {
		log.Warn("task decline failed", "call_session_id", snap.SessionID, "err", err)
	}

	c.JSON(http.StatusOK, m.Snapshot())
}

func (h Handler) HangUp(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	log := logger.FromGin(c)

	m := h.Machines.ForAgent(agentID)
	if err := m.HangUp(c.Request.Context()); err != nil {
		respondCallError(c, err)
		return
	}

	// Off the call; hand the agent back to routing.
	if _, err := h.Presence.Set(c.Request.Context(), agentID, presence.StateAvailable); err != nil {
		log.Error("presence update after hang-up failed", "agent_id", agentID, "err", err)
	}

	c.JSON(http.StatusOK, m.Snapshot())
}

func (h Handler) ToggleMute(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	muted, err := h.Machines.ForAgent(agentID).ToggleMute()
	if err != nil {
		respondCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted})
}

type digitRequest struct {
	Digit string `json:"digit" binding:"required,len=1"`
}

func (h Handler) SendDigit(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req digitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "digit required"})
		return
	}

	if err := h.Machines.ForAgent(agentID).SendDigit(c.Request.Context(), rune(req.Digit[0])); err != nil {
		respondCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

type presenceRequest struct {
	State string `json:"state" binding:"required"`
}

func (h Handler) SetPresence(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "state required"})
		return
	}

	p, err := h.Presence.Set(c.Request.Context(), agentID, presence.State(req.State))
	if err != nil {
		if errors.Is(err, presence.ErrInvalidState) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid presence state"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// ActiveCall returns the machine snapshot together with the durable record
// of the call it refers to.
func (h Handler) ActiveCall(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	snap := h.Machines.ForAgent(agentID).Snapshot()
	resp := gin.H{"call": snap}
	if snap.SessionID != "" {
		if s, err := h.Records.Get(c.Request.Context(), snap.SessionID); err == nil {
			resp["session"] = s
		}
	}
	c.JSON(http.StatusOK, resp)
}

// CallHistory lists the agent's own past calls, newest first.
func (h Handler) CallHistory(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	sessions, err := h.Records.List(c.Request.Context(), callrecord.ListFilter{AgentID: agentID, Limit: 50})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// respondCallError maps call-flow errors onto HTTP statuses. Validation and
// state-contract violations are the caller's problem (4xx); provider
// failures are upstream trouble (502).
func respondCallError(c *gin.Context, err error) {
	var provErr *provider.Error
	switch {
	case errors.Is(err, callstate.ErrInvalidNumber):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_number"})
	case errors.Is(err, callstate.ErrAlreadyOnCall):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "already_on_call"})
	case errors.Is(err, callstate.ErrInvalidStateTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid_state_transition"})
	case errors.Is(err, callstate.ErrDialCanceled):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "dial_canceled"})
	case errors.As(err, &provErr):
		logger.FromGin(c).Error("provider command failed", "op", provErr.Op, "err", provErr)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider_error"})
	default:
		logger.FromGin(c).Error("call command failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
