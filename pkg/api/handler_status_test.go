package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finnetrolle/nergal-sub000/pkg/memory"
)

func doStatus(t *testing.T, s *Server) (int, StatusResponse, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/status", nil)

	s.statusHandler(c)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	return rec.Code, resp, raw
}

func TestStatusHandler(t *testing.T) {
	t.Run("reports stats contexts and uptime", func(t *testing.T) {
		stats := &memory.Stats{Users: 3, Facts: 12, Messages: 40, Sessions: 5, ActiveSessions: 1}
		s := &Server{
			db:        healthyDB(),
			memory:    &fakeStats{stats: stats},
			dialogs:   &fakeDialogs{count: 7},
			logger:    testLogger(),
			startedAt: time.Now().Add(-90 * time.Second),
		}

		code, resp, _ := doStatus(t, s)

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, healthStatusHealthy, resp.Status)
		assert.NotEmpty(t, resp.Version)
		assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(90))
		require.NotNil(t, resp.Memory)
		assert.Equal(t, *stats, *resp.Memory)
		require.NotNil(t, resp.DialogContexts)
		assert.Equal(t, 7, *resp.DialogContexts)
	})

	t.Run("stats failure degrades instead of failing", func(t *testing.T) {
		s := &Server{
			db:        healthyDB(),
			memory:    &fakeStats{err: errors.New("connection refused")},
			dialogs:   &fakeDialogs{count: 2},
			logger:    testLogger(),
			startedAt: time.Now(),
		}

		code, resp, raw := doStatus(t, s)

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, healthStatusDegraded, resp.Status)
		assert.NotContains(t, raw, "memory")
		require.NotNil(t, resp.DialogContexts)
		assert.Equal(t, 2, *resp.DialogContexts)
	})

	t.Run("optional sections omitted when absent", func(t *testing.T) {
		s := &Server{
			db:        healthyDB(),
			logger:    testLogger(),
			startedAt: time.Now(),
		}

		code, _, raw := doStatus(t, s)

		assert.Equal(t, http.StatusOK, code)
		assert.NotContains(t, raw, "memory")
		assert.NotContains(t, raw, "dialog_contexts")
	})

	t.Run("zero contexts still reported", func(t *testing.T) {
		s := &Server{
			db:        healthyDB(),
			dialogs:   &fakeDialogs{count: 0},
			logger:    testLogger(),
			startedAt: time.Now(),
		}

		_, resp, raw := doStatus(t, s)

		assert.Contains(t, raw, "dialog_contexts")
		require.NotNil(t, resp.DialogContexts)
		assert.Equal(t, 0, *resp.DialogContexts)
	})
}
