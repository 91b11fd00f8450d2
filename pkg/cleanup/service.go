// Package cleanup enforces the memory retention policy on a cron schedule.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/finnetrolle/nergal-sub000/pkg/config"
)

// firstSweepDelay schedules an early sweep after startup so a long cron gap
// cannot defer retention for a whole day after a deploy.
const firstSweepDelay = 30 * time.Second

// sweepTimeout bounds one full sweep; cron jobs carry no caller context.
const sweepTimeout = 5 * time.Minute

// retentionStore is the slice of the memory service the sweeps run against.
type retentionStore interface {
	CleanupOldMessages(ctx context.Context) (int64, error)
	CleanupExpiredFacts(ctx context.Context) (int64, error)
	CloseStaleSessions(ctx context.Context) (int64, error)
}

// Service periodically enforces retention:
//   - deletes conversation messages older than the configured horizon
//   - deletes long-term facts whose expiry has passed
//   - closes sessions idle past the short-term timeout
//
// All sweeps are idempotent and safe to run from multiple instances.
type Service struct {
	cfg    config.MemoryConfig
	store  retentionStore
	logger *slog.Logger

	cron *cron.Cron
	done chan struct{}
	wg   sync.WaitGroup
}

// NewService creates the retention service. Panics if store is nil.
func NewService(cfg config.MemoryConfig, store retentionStore) *Service {
	if store == nil {
		panic("cleanup: retention store is required")
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: slog.Default(),
	}
}

// Start registers the sweep on the configured cron schedule and launches the
// early first sweep. Returns an error when the schedule does not parse.
func (s *Service) Start() error {
	if s.cron != nil {
		return nil
	}

	engine := cron.New()
	if _, err := engine.AddFunc(s.cfg.CleanupSchedule, s.sweep); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.cfg.CleanupSchedule, err)
	}

	s.cron = engine
	s.done = make(chan struct{})
	engine.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.done:
		case <-time.After(firstSweepDelay):
			s.sweep()
		}
	}()

	s.logger.Info("Cleanup service started",
		"schedule", s.cfg.CleanupSchedule,
		"retention_days", s.cfg.CleanupDays)
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	close(s.done)
	cronCtx := s.cron.Stop()
	s.wg.Wait()
	<-cronCtx.Done()
	s.cron = nil
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce executes one retention sweep. A failed task is logged and the
// remaining tasks still run.
func (s *Service) RunOnce(ctx context.Context) {
	start := time.Now()
	s.cleanupMessages(ctx)
	s.cleanupFacts(ctx)
	s.closeSessions(ctx)
	s.logger.Debug("Retention sweep finished", "duration_ms", time.Since(start).Milliseconds())
}

func (s *Service) cleanupMessages(ctx context.Context) {
	count, err := s.store.CleanupOldMessages(ctx)
	if err != nil {
		s.logger.Error("Retention: message cleanup failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: deleted old messages",
			"count", count,
			"retention_days", s.cfg.CleanupDays)
	}
}

func (s *Service) cleanupFacts(ctx context.Context) {
	count, err := s.store.CleanupExpiredFacts(ctx)
	if err != nil {
		s.logger.Error("Retention: fact cleanup failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: deleted expired facts", "count", count)
	}
}

func (s *Service) closeSessions(ctx context.Context) {
	count, err := s.store.CloseStaleSessions(ctx)
	if err != nil {
		s.logger.Error("Retention: stale session close failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: closed stale sessions", "count", count)
	}
}
