package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finnetrolle/nergal-sub000/pkg/config"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
	"github.com/finnetrolle/nergal-sub000/pkg/reliability"
)

func testClient(baseURL string) *OpenAIClient {
	return NewOpenAIClient(config.LLMConfig{
		Provider:    "openai",
		APIKey:      "test-key",
		Model:       "gpt-4o-mini",
		BaseURL:     baseURL,
		Temperature: 0.7,
		MaxTokens:   1000,
	})
}

func conversation() []models.Message {
	return []models.Message{
		models.SystemMessage("Ты ассистент."),
		models.UserMessage("Привет!"),
	}
}

func TestGenerateReturnsContentAndUsage(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		fmt.Fprint(w, `{
			"model": "gpt-4o-mini-2024",
			"choices": [{"message": {"role": "assistant", "content": "Привет! Чем помочь?"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
		}`)
	}))
	defer server.Close()

	response, err := testClient(server.URL).Generate(context.Background(), conversation())
	require.NoError(t, err)

	assert.Equal(t, "Привет! Чем помочь?", response.Content)
	assert.Equal(t, "gpt-4o-mini-2024", response.Model)
	assert.Equal(t, "stop", response.FinishReason)
	require.NotNil(t, response.Usage)
	assert.Equal(t, 20, response.Usage.TotalTokens)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Equal(t, "gpt-4o-mini", captured.Model)
	assert.InDelta(t, 0.7, captured.Temperature, 0.001)
	assert.False(t, captured.Stream)
}

func TestGenerateFallsBackToConfiguredModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"content": "ok"}, "finish_reason": "stop"}]}`)
	}))
	defer server.Close()

	response, err := testClient(server.URL).Generate(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", response.Model)
	assert.Nil(t, response.Usage)
}

func TestGenerateAppliesCallOptions(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, `{"choices": [{"message": {"content": "ok"}}]}`)
	}))
	defer server.Close()

	_, err := testClient(server.URL).Generate(context.Background(), conversation(),
		WithTemperature(0.1), WithMaxTokens(42))
	require.NoError(t, err)

	assert.InDelta(t, 0.1, captured.Temperature, 0.001)
	assert.Equal(t, 42, captured.MaxTokens)
}

func TestGenerateClassifiesHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected reliability.ErrorCategory
	}{
		{"unauthorized", http.StatusUnauthorized, reliability.CategoryAuthentication},
		{"forbidden", http.StatusForbidden, reliability.CategoryAuthentication},
		{"rate limited", http.StatusTooManyRequests, reliability.CategoryQuota},
		{"bad request", http.StatusBadRequest, reliability.CategoryInvalidRequest},
		{"server error", http.StatusServiceUnavailable, reliability.CategoryServiceError},
		{"teapot", http.StatusTeapot, reliability.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			_, err := testClient(server.URL).Generate(context.Background(), conversation())
			require.Error(t, err)

			var providerErr *ProviderError
			require.ErrorAs(t, err, &providerErr)
			assert.Equal(t, tt.status, providerErr.StatusCode)
			assert.Equal(t, tt.expected, providerErr.Category)
			assert.Equal(t, tt.expected, reliability.Classify(err).Category)
		})
	}
}

func TestGenerateRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	}))
	defer server.Close()

	_, err := testClient(server.URL).Generate(context.Background(), conversation())
	require.Error(t, err)
	assert.Equal(t, reliability.CategoryInvalidResponse, reliability.Classify(err).Category)
}

func TestGenerateSurfacesEmbeddedAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"message": "model is overloaded", "type": "server_error"}}`)
	}))
	defer server.Close()

	_, err := testClient(server.URL).Generate(context.Background(), conversation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is overloaded")
	assert.Equal(t, reliability.CategoryServiceError, reliability.Classify(err).Category)
}

func TestGenerateStreamAssemblesDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var captured chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		assert.True(t, captured.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"Пер\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"вый\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {}, \"finish_reason\": \"stop\"}], \"usage\": {\"prompt_tokens\": 5, \"completion_tokens\": 2, \"total_tokens\": 7}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"ignored\"}}]}\n\n")
	}))
	defer server.Close()

	var chunks []string
	response, err := testClient(server.URL).GenerateStream(context.Background(), conversation(), func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Первый", response.Content)
	assert.Equal(t, []string{"Пер", "вый"}, chunks)
	assert.Equal(t, "stop", response.FinishReason)
	require.NotNil(t, response.Usage)
	assert.Equal(t, 7, response.Usage.TotalTokens)
}

func TestGenerateStreamConsumerAbort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"b\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	abort := errors.New("enough")
	_, err := testClient(server.URL).GenerateStream(context.Background(), conversation(), func(chunk string) error {
		return abort
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, abort)
}

func TestGenerateStreamRejectsMalformedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json\n\n")
	}))
	defer server.Close()

	_, err := testClient(server.URL).GenerateStream(context.Background(), conversation(), nil)
	require.Error(t, err)
	assert.Equal(t, reliability.CategoryInvalidResponse, reliability.Classify(err).Category)
}

func TestGenerateHonorsContextCancellation(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the client disconnects; otherwise Close hangs.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := testClient(server.URL).Generate(ctx, conversation())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
