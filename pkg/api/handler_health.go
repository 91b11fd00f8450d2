package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finnetrolle/nergal-sub000/pkg/database"
	"github.com/finnetrolle/nergal-sub000/pkg/reliability"
	"github.com/finnetrolle/nergal-sub000/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthTimeout bounds the database ping so a stuck pool cannot hang the probe.
const healthTimeout = 5 * time.Second

// HealthCheck describes one component in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// BreakerStatus describes one circuit breaker in the health response.
// Code is 0 closed, 1 open, 2 half-open.
type BreakerStatus struct {
	State string `json:"state"`
	Code  int    `json:"code"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                   `json:"status"`
	Version  string                   `json:"version"`
	Database *database.HealthStatus   `json:"database"`
	Breakers map[string]BreakerStatus `json:"breakers,omitempty"`
	Checks   map[string]HealthCheck   `json:"checks"`
}

// healthHandler handles GET /health.
// Only the database makes the response unhealthy (503): an open breaker means
// an external provider is failing, and restarting this process would not fix
// it, so breakers merely degrade the status.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	dbHealth, err := s.db.Health(reqCtx)
	if err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	var breakers map[string]BreakerStatus
	if len(s.breakers) > 0 {
		breakers = make(map[string]BreakerStatus, len(s.breakers))
		for name, breaker := range s.breakers {
			state := breaker.State()
			breakers[name] = BreakerStatus{State: state.String(), Code: state.Code()}
			checks[name] = HealthCheck{Status: breakerCheckStatus(state)}
			if state != reliability.StateClosed && status == healthStatusHealthy {
				status = healthStatusDegraded
			}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, &HealthResponse{
		Status:   status,
		Version:  version.GitCommit,
		Database: dbHealth,
		Breakers: breakers,
		Checks:   checks,
	})
}

func breakerCheckStatus(state reliability.CircuitState) string {
	switch state {
	case reliability.StateOpen:
		return healthStatusUnhealthy
	case reliability.StateHalfOpen:
		return healthStatusDegraded
	default:
		return healthStatusHealthy
	}
}
