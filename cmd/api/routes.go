package main

import (
	"database/sql"
	"net/http"
	"time"

	"callcenter-core/internal/auth"
	"callcenter-core/internal/config"
	"callcenter-core/internal/console"
	"callcenter-core/internal/rbac"
	"callcenter-core/internal/reporting"
	"callcenter-core/internal/webhook"
	"callcenter-core/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg       config.Config
	auth      *auth.Manager
	db        *sql.DB
	webhooks  webhook.Handler
	console   console.Handler
	reporting reporting.Handler
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by provider signature
	// validation in production.
	r.POST("/voice-webhook", d.webhooks.HandleVoiceEvent)
	r.POST("/task-assignment", d.webhooks.HandleTaskAssignment)

	// Dev-only token minting; real deployments issue tokens from the
	// identity provider that owns the agent directory.
	if !d.cfg.IsProduction() {
		r.POST("/auth/dev-token", func(c *gin.Context) {
			var req struct {
				AgentID     string `json:"agent_id" binding:"required"`
				WorkspaceID string `json:"workspace_id" binding:"required"`
				Role        string `json:"role" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id, workspace_id, role required"})
				return
			}
			if !rbac.Valid(req.Role) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
				return
			}
			tok, err := d.auth.IssueAccessToken(time.Now(), req.AgentID, req.WorkspaceID, req.Role)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"access_token": tok})
		})
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	v1.Use(rbac.RequireWorkspace())
	{
		v1.GET("/me", func(c *gin.Context) {
			aid, _ := auth.AgentID(c.Request.Context())
			wid, _ := auth.WorkspaceID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"agent_id": aid, "workspace_id": wid, "role": role})
		})

		// CONSOLE routes: agent call commands.
		cons := v1.Group("/console")
		cons.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			cons.POST("/dial", d.console.Dial)
			cons.POST("/accept", d.console.Accept)
			cons.POST("/reject", d.console.Reject)
			cons.POST("/hangup", d.console.HangUp)
			cons.POST("/mute", d.console.ToggleMute)
			cons.POST("/digit", d.console.SendDigit)
			cons.PUT("/presence", d.console.SetPresence)
			cons.GET("/call", d.console.ActiveCall)
			cons.GET("/calls", d.console.CallHistory)
		}

		// REPORTING routes: supervisor reads.
		rep := v1.Group("/reporting")
		rep.Use(rbac.RequireAnyRole(rbac.RoleSupervisor))
		{
			rep.GET("/calls", d.reporting.CallsSummary)
			rep.GET("/presence", d.reporting.Presence)
		}
	}
}
