// Package api exposes the operational HTTP surface: a health probe and a
// status endpoint served on the admin port. Both are safe for
// unauthenticated access — they reveal component states and row counts, never
// user data.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finnetrolle/nergal-sub000/pkg/database"
	"github.com/finnetrolle/nergal-sub000/pkg/memory"
	"github.com/finnetrolle/nergal-sub000/pkg/reliability"
)

// databaseChecker reports database connectivity and pool statistics.
type databaseChecker interface {
	Health(ctx context.Context) (*database.HealthStatus, error)
}

// statsSource reports memory row counts for the status endpoint.
type statsSource interface {
	Stats(ctx context.Context) (*memory.Stats, error)
}

// contextCounter reports the number of live in-memory dialog contexts.
type contextCounter interface {
	ContextCount() int
}

// Server is the admin HTTP server. Memory, dialogs and breakers are
// optional; nil values drop the corresponding sections from the responses.
type Server struct {
	db        databaseChecker
	memory    statsSource
	dialogs   contextCounter
	breakers  map[string]*reliability.CircuitBreaker
	logger    *slog.Logger
	startedAt time.Time
	http      *http.Server
}

// NewServer wires the operational endpoints over the given components and
// prepares a server listening on addr. Panics if db is nil: a health probe
// that cannot reach the database has nothing to report.
func NewServer(addr string, db databaseChecker, mem statsSource, dialogs contextCounter, breakers map[string]*reliability.CircuitBreaker, logger *slog.Logger) *Server {
	if db == nil {
		panic("api: database checker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		db:        db,
		memory:    mem,
		dialogs:   dialogs,
		breakers:  breakers,
		logger:    logger,
		startedAt: time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestLogger(logger), securityHeaders(), gin.Recovery())
	engine.GET("/health", s.healthHandler)
	engine.GET("/status", s.statusHandler)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving and blocks until the listener stops. Returns
// http.ErrServerClosed after a graceful Shutdown.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown stops accepting new requests and waits for in-flight ones until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
