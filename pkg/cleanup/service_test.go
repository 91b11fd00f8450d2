package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finnetrolle/nergal-sub000/pkg/config"
)

type fakeStore struct {
	mu       sync.Mutex
	messages int64
	facts    int64
	sessions int64
	calls    []string
	fail     map[string]error
}

func (f *fakeStore) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.fail != nil {
		return f.fail[name]
	}
	return nil
}

func (f *fakeStore) CleanupOldMessages(ctx context.Context) (int64, error) {
	if err := f.record("messages"); err != nil {
		return 0, err
	}
	return f.messages, nil
}

func (f *fakeStore) CleanupExpiredFacts(ctx context.Context) (int64, error) {
	if err := f.record("facts"); err != nil {
		return 0, err
	}
	return f.facts, nil
}

func (f *fakeStore) CloseStaleSessions(ctx context.Context) (int64, error) {
	if err := f.record("sessions"); err != nil {
		return 0, err
	}
	return f.sessions, nil
}

func (f *fakeStore) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testService(store *fakeStore, schedule string) *Service {
	s := NewService(config.MemoryConfig{CleanupDays: 90, CleanupSchedule: schedule}, store)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return s
}

func TestNewService(t *testing.T) {
	assert.Panics(t, func() {
		NewService(config.MemoryConfig{}, nil)
	})
}

func TestRunOnce(t *testing.T) {
	t.Run("runs all sweeps in order", func(t *testing.T) {
		store := &fakeStore{messages: 10, facts: 3, sessions: 1}
		svc := testService(store, "0 4 * * *")

		svc.RunOnce(context.Background())

		assert.Equal(t, []string{"messages", "facts", "sessions"}, store.recorded())
	})

	t.Run("failed sweep does not stop the rest", func(t *testing.T) {
		store := &fakeStore{fail: map[string]error{"messages": errors.New("deadlock")}}
		svc := testService(store, "0 4 * * *")

		svc.RunOnce(context.Background())

		assert.Equal(t, []string{"messages", "facts", "sessions"}, store.recorded())
	})
}

func TestStartStop(t *testing.T) {
	t.Run("rejects an invalid schedule", func(t *testing.T) {
		svc := testService(&fakeStore{}, "not a cron expression")

		err := svc.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cleanup schedule")
	})

	t.Run("start and stop are clean", func(t *testing.T) {
		store := &fakeStore{}
		svc := testService(store, "0 4 * * *")

		require.NoError(t, svc.Start())
		// Idempotent: a second Start must not double-register the job.
		require.NoError(t, svc.Start())
		svc.Stop()

		// The early sweep is still pending at stop time.
		assert.Empty(t, store.recorded())
	})

	t.Run("stop before start is a no-op", func(t *testing.T) {
		svc := testService(&fakeStore{}, "0 4 * * *")
		svc.Stop()
	})
}
