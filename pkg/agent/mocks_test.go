package agent

import (
	"context"
	"sync"

	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// fakeLLM is a scriptable llm.Provider. Every call is recorded; fn decides
// the reply, defaulting to a fixed response when nil.
type fakeLLM struct {
	mu    sync.Mutex
	calls [][]models.Message
	fn    func(messages []models.Message) (*models.LLMResponse, error)
}

func (f *fakeLLM) Generate(_ context.Context, messages []models.Message, _ ...llm.GenerateOption) (*models.LLMResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(messages)
	}
	return &models.LLMResponse{
		Content: "ответ модели",
		Model:   "fake-model",
		Usage:   &models.TokenUsage{TotalTokens: 10},
	}, nil
}

func (f *fakeLLM) Model() string { return "fake-model" }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// lastCall returns the messages of the most recent Generate invocation.
func (f *fakeLLM) lastCall() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

// replyWith builds a fakeLLM that always answers with the given content.
func replyWith(content string) *fakeLLM {
	return &fakeLLM{fn: func([]models.Message) (*models.LLMResponse, error) {
		return &models.LLMResponse{
			Content: content,
			Model:   "fake-model",
			Usage:   &models.TokenUsage{TotalTokens: 10},
		}, nil
	}}
}

// fakeSearch is a scriptable search.Provider.
type fakeSearch struct {
	mu       sync.Mutex
	requests []*models.SearchRequest
	fn       func(request *models.SearchRequest) (*models.SearchResults, error)
}

func (f *fakeSearch) Search(_ context.Context, request *models.SearchRequest) (*models.SearchResults, error) {
	f.mu.Lock()
	f.requests = append(f.requests, request)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(request)
	}
	return &models.SearchResults{
		Query: request.Query,
		Results: []models.SearchResult{
			{Title: "Заголовок", Content: "Содержимое", Link: "https://example.com/1"},
		},
		Total: 1,
	}, nil
}

func (f *fakeSearch) Close() error { return nil }

func (f *fakeSearch) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// stubAgent is a fully scriptable Agent for registry and executor tests.
type stubAgent struct {
	agentType models.AgentType
	score     float64
	process   func(ctx context.Context, message string, turnCtx map[string]any, history []models.Message) (*models.AgentResult, error)
}

func (s *stubAgent) Type() models.AgentType { return s.agentType }

func (s *stubAgent) SystemPrompt() string { return "stub" }

func (s *stubAgent) CanHandle(string, map[string]any) float64 { return s.score }

func (s *stubAgent) Process(ctx context.Context, message string, turnCtx map[string]any, history []models.Message) (*models.AgentResult, error) {
	if s.process != nil {
		return s.process(ctx, message, turnCtx, history)
	}
	return &models.AgentResult{
		Response:  "stub: " + message,
		AgentType: s.agentType,
	}, nil
}

// echoAgent builds a stub that answers with a fixed response and token count.
func echoAgent(agentType models.AgentType, response string, tokens int) *stubAgent {
	return &stubAgent{
		agentType: agentType,
		score:     0.5,
		process: func(_ context.Context, _ string, _ map[string]any, _ []models.Message) (*models.AgentResult, error) {
			return &models.AgentResult{
				Response:   response,
				AgentType:  agentType,
				TokensUsed: tokens,
			}, nil
		},
	}
}

func intPtr(v int) *int { return &v }
