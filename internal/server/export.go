package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleExport(c *gin.Context) {
	sid := c.Param("id")
	jobs, ok := s.sessions.SessionJobs(sid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	xlsx, err := s.exporter.EventsXLSX(sid, jobs)
	if err != nil {
		s.logger.Error("export.xlsx.failed", "session_id", sid, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="flyers-%s.xlsx"`, sid))
	c.Data(http.StatusOK, xlsxContentType, xlsx)
}
