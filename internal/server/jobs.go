package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/flyerscan/internal/session"
)

// handleJob is the polling fallback for clients without a socket.
func (s *Server) handleJob(c *gin.Context) {
	job, ok := s.sessions.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("ws.upgrade.failed", "error", err)
		return
	}
	s.logger.Debug("ws.connected", "remote", c.Request.RemoteAddr)
	session.Serve(s.sessions, ws, s.sendQueue)
	s.logger.Debug("ws.disconnected", "remote", c.Request.RemoteAddr)
}
