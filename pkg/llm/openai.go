package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/finnetrolle/nergal-sub000/pkg/config"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
	"github.com/finnetrolle/nergal-sub000/pkg/reliability"
	"github.com/finnetrolle/nergal-sub000/pkg/version"
)

// OpenAIClient talks to any OpenAI-compatible chat/completions endpoint.
type OpenAIClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewOpenAIClient creates a client from the resolved LLM configuration.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	return &OpenAIClient{
		cfg: cfg,
		// Per-call deadlines come from the request context; the transport
		// timeout is a backstop for the whole exchange.
		client: &http.Client{Timeout: cfg.Timeout()},
	}
}

// chatRequest is the request payload for the chat/completions API.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the non-streaming response shape.
type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// streamResponse is one SSE chunk of a streaming response.
type streamResponse struct {
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
	Usage   *chatUsage     `json:"usage"`
	Error   *apiError      `json:"error,omitempty"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type streamDelta struct {
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string { return c.cfg.Model }

// Generate sends the conversation and returns the complete response.
func (c *OpenAIClient) Generate(ctx context.Context, messages []models.Message, opts ...GenerateOption) (*models.LLMResponse, error) {
	body, err := c.do(ctx, c.buildRequest(messages, applyOptions(opts), false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var response chatResponse
	if err := json.NewDecoder(body).Decode(&response); err != nil {
		return nil, reliability.NewCategorizedError(reliability.CategoryInvalidResponse,
			fmt.Errorf("failed to decode response: %w", err))
	}
	if response.Error != nil {
		return nil, reliability.NewCategorizedError(reliability.CategoryServiceError,
			fmt.Errorf("provider error: %s", response.Error.Message))
	}
	if len(response.Choices) == 0 {
		return nil, reliability.NewCategorizedError(reliability.CategoryInvalidResponse,
			fmt.Errorf("no response choices returned"))
	}

	return &models.LLMResponse{
		Content:      response.Choices[0].Message.Content,
		Model:        firstNonEmpty(response.Model, c.cfg.Model),
		Usage:        response.Usage.toModel(),
		FinishReason: response.Choices[0].FinishReason,
	}, nil
}

// GenerateStream reads the SSE response line by line, invoking onChunk for
// every content delta, and returns the assembled response.
func (c *OpenAIClient) GenerateStream(ctx context.Context, messages []models.Message, onChunk func(chunk string) error, opts ...GenerateOption) (*models.LLMResponse, error) {
	body, err := c.do(ctx, c.buildRequest(messages, applyOptions(opts), true))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var content strings.Builder
	result := &models.LLMResponse{Model: c.cfg.Model}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk streamResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, reliability.NewCategorizedError(reliability.CategoryInvalidResponse,
				fmt.Errorf("failed to decode stream chunk: %w", err))
		}
		if chunk.Error != nil {
			return nil, reliability.NewCategorizedError(reliability.CategoryServiceError,
				fmt.Errorf("provider error: %s", chunk.Error.Message))
		}
		if chunk.Usage != nil {
			result.Usage = chunk.Usage.toModel()
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if onChunk != nil {
				if err := onChunk(choice.Delta.Content); err != nil {
					return nil, fmt.Errorf("stream consumer aborted: %w", err)
				}
			}
		}
		if choice.FinishReason != "" {
			result.FinishReason = choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	result.Content = content.String()
	return result, nil
}

func (c *OpenAIClient) buildRequest(messages []models.Message, options GenerateOptions, stream bool) chatRequest {
	request := chatRequest{
		Model:       c.cfg.Model,
		Messages:    make([]chatMessage, len(messages)),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      stream,
	}
	for i, m := range messages {
		request.Messages[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	if options.Temperature != nil {
		request.Temperature = *options.Temperature
	}
	if options.MaxTokens != nil {
		request.MaxTokens = *options.MaxTokens
	}
	return request
}

// do executes the HTTP exchange and returns the response body on 200, or a
// categorized error otherwise. The caller owns closing the body.
func (c *OpenAIClient) do(ctx context.Context, request chatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Warn("LLM provider returned non-OK status",
			"status", resp.StatusCode,
			"model", c.cfg.Model,
			"body", string(body))
		return nil, newProviderError(resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (u *chatUsage) toModel() *models.TokenUsage {
	if u == nil {
		return nil
	}
	return &models.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
