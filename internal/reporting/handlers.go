package reporting

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler exposes supervisor reporting reads. RBAC (supervisor/admin) is
// applied by the route group, not here.
type Handler struct {
	Service *Service
}

// CallsSummary handles GET /reporting/calls?from=&to=&agent_id=.
// Timestamps are RFC3339.
func (h Handler) CallsSummary(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return
	}

	summary, err := h.Service.CallsSummary(c.Request.Context(), CallsSummaryRequest{
		Range:   TimeRange{From: from, To: to},
		AgentID: c.Query("agent_id"),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Presence handles GET /reporting/presence.
func (h Handler) Presence(c *gin.Context) {
	overview, err := h.Service.Presence(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, overview)
}
