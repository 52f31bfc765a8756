package rest

import (
	"net/http"
	"time"

	"github.com/KevinKickass/factoryctrl/internal/controlloop"
	"github.com/gin-gonic/gin"
)

// GET /health
func (s *Server) healthCheck(c *gin.Context) {
	state := s.status.Status().State
	if state == controlloop.StateTerminated.String() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "terminated", "state": state})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": state})
}

// GET /api/v1/status
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"loop":           s.status.Status(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"timestamp":      time.Now().Unix(),
	})
}
