package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finnetrolle/nergal-sub000/pkg/config"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
	"github.com/finnetrolle/nergal-sub000/pkg/reliability"
	"github.com/finnetrolle/nergal-sub000/pkg/version"
)

// connectTimeout bounds the MCP initialize handshake.
const connectTimeout = 30 * time.Second

// toolPriority lists the tool names search servers are known to publish,
// most preferred first. The first one the server offers wins.
var toolPriority = []string{"webSearchPrime", "web_search", "search", "web_search_prime"}

// MCPProvider runs searches through an MCP server over streamable HTTP.
// The session is established lazily on first use and re-established after
// transport failures. Safe for concurrent use.
type MCPProvider struct {
	cfg       config.SearchConfig
	transport func() mcpsdk.Transport
	logger    *slog.Logger

	mu       sync.Mutex
	session  *mcpsdk.ClientSession
	toolName string
}

// NewMCPProvider creates a provider for the configured endpoint. The API key,
// when set, is attached to every request as a bearer token.
func NewMCPProvider(cfg config.SearchConfig) *MCPProvider {
	httpClient := &http.Client{
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}
	if cfg.APIKey != "" {
		httpClient.Transport = &bearerTokenTransport{
			base:  httpClient.Transport,
			token: cfg.APIKey,
		}
	}
	return &MCPProvider{
		cfg: cfg,
		transport: func() mcpsdk.Transport {
			return &mcpsdk.StreamableClientTransport{
				Endpoint:   cfg.Endpoint,
				HTTPClient: httpClient,
			}
		},
		logger: slog.Default(),
	}
}

// Search runs one query against the server's search tool.
func (p *MCPProvider) Search(ctx context.Context, request *models.SearchRequest) (*models.SearchResults, error) {
	if request == nil || strings.TrimSpace(request.Query) == "" {
		return nil, fmt.Errorf("search request must carry a query")
	}

	session, err := p.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	toolName, err := p.resolveTool(ctx, session)
	if err != nil {
		return nil, err
	}

	args := map[string]any{
		"query": request.Query,
		"count": request.Count,
	}
	if request.RecencyFilter != "" {
		args["recency_filter"] = request.RecencyFilter
	}
	if request.DomainFilter != "" {
		args["domain_filter"] = request.DomainFilter
	}

	opCtx, cancel := p.withOperationTimeout(ctx)
	defer cancel()

	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		// A dead session poisons every later call; drop it so the next
		// attempt reconnects.
		p.dropSession(session)
		return nil, fmt.Errorf("search tool call failed: %w", err)
	}
	payload := contentText(result.Content)
	if result.IsError {
		return nil, fmt.Errorf("search tool reported failure: %s", payload)
	}

	results, err := parseSearchPayload(request.Query, payload)
	if err != nil {
		p.logger.Warn("Failed to parse search payload",
			"tool", toolName,
			"query", request.Query,
			"error", err,
			"payload", truncatePayload(payload))
		return nil, reliability.NewCategorizedError(reliability.CategoryInvalidResponse,
			fmt.Errorf("failed to parse search payload: %w", err))
	}
	return results, nil
}

// Close shuts down the session if one is open.
func (p *MCPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

// ensureSession returns the live session, connecting on first use.
func (p *MCPProvider) ensureSession(ctx context.Context) (*mcpsdk.ClientSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return p.session, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)
	session, err := client.Connect(connectCtx, p.transport(), nil)
	if err != nil {
		return nil, reliability.NewCategorizedError(reliability.CategoryTransient,
			fmt.Errorf("failed to connect to search server: %w", err))
	}

	p.session = session
	p.logger.Info("Search server connected", "endpoint", p.cfg.Endpoint)
	return session, nil
}

// resolveTool picks the search tool by priority and caches the choice.
func (p *MCPProvider) resolveTool(ctx context.Context, session *mcpsdk.ClientSession) (string, error) {
	p.mu.Lock()
	if p.toolName != "" {
		name := p.toolName
		p.mu.Unlock()
		return name, nil
	}
	p.mu.Unlock()

	opCtx, cancel := p.withOperationTimeout(ctx)
	defer cancel()

	listed, err := session.ListTools(opCtx, nil)
	if err != nil {
		p.dropSession(session)
		return "", fmt.Errorf("failed to list search tools: %w", err)
	}

	available := make(map[string]bool, len(listed.Tools))
	names := make([]string, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		available[tool.Name] = true
		names = append(names, tool.Name)
	}
	for _, candidate := range toolPriority {
		if !available[candidate] {
			continue
		}
		p.mu.Lock()
		p.toolName = candidate
		p.mu.Unlock()
		p.logger.Info("Search tool selected", "tool", candidate)
		return candidate, nil
	}
	return "", fmt.Errorf("server offers no search tool, only %v", names)
}

// dropSession closes the session that failed so the next call reconnects.
// A newer session established concurrently is left alone.
func (p *MCPProvider) dropSession(session *mcpsdk.ClientSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == session && p.session != nil {
		_ = p.session.Close()
		p.session = nil
	}
}

func (p *MCPProvider) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := p.cfg.Timeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// contentText concatenates the text blocks of a tool result.
func contentText(content []mcpsdk.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// searchEnvelope is the aggregate a search tool returns in its text block.
type searchEnvelope struct {
	Results   []searchItem `json:"results"`
	RequestID string       `json:"request_id"`
}

type searchItem struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	Link        string `json:"link"`
	Media       string `json:"media"`
	Icon        string `json:"icon"`
	Refer       string `json:"refer"`
	PublishDate string `json:"publish_date"`
}

// parseSearchPayload decodes the envelope, tolerating double encoding: some
// servers return a JSON string whose value is the envelope itself.
func parseSearchPayload(query, payload string) (*models.SearchResults, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return nil, fmt.Errorf("empty payload")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
			trimmed = strings.TrimSpace(inner)
		}
	}

	var envelope searchEnvelope
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	results := make([]models.SearchResult, 0, len(envelope.Results))
	for _, item := range envelope.Results {
		if item.Title == "" && item.Content == "" && item.Link == "" {
			continue
		}
		results = append(results, models.SearchResult{
			Title:       item.Title,
			Content:     item.Content,
			Link:        item.Link,
			Media:       item.Media,
			Icon:        item.Icon,
			Refer:       item.Refer,
			PublishDate: item.PublishDate,
		})
	}

	return &models.SearchResults{
		Query:     query,
		Results:   results,
		Total:     len(results),
		RequestID: envelope.RequestID,
		Timestamp: time.Now().UTC(),
	}, nil
}

func truncatePayload(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// bearerTokenTransport wraps an http.RoundTripper to add Authorization headers.
type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
