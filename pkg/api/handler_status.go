package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finnetrolle/nergal-sub000/pkg/memory"
	"github.com/finnetrolle/nergal-sub000/pkg/version"
)

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Status         string        `json:"status"`
	Version        string        `json:"version"`
	UptimeSeconds  int64         `json:"uptime_seconds"`
	Memory         *memory.Stats `json:"memory,omitempty"`
	DialogContexts *int          `json:"dialog_contexts,omitempty"`
}

// statusHandler handles GET /status. A failed stats query degrades the
// response instead of failing it: uptime and context counts are still worth
// reporting when the database is down.
func (s *Server) statusHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := StatusResponse{
		Status:        healthStatusHealthy,
		Version:       version.GitCommit,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	if s.memory != nil {
		stats, err := s.memory.Stats(reqCtx)
		if err != nil {
			s.logger.Warn("Failed to collect memory stats", "error", err)
			resp.Status = healthStatusDegraded
		} else {
			resp.Memory = stats
		}
	}

	if s.dialogs != nil {
		count := s.dialogs.ContextCount()
		resp.DialogContexts = &count
	}

	c.JSON(http.StatusOK, &resp)
}
