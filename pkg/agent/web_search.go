package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
	"github.com/finnetrolle/nergal-sub000/pkg/reliability"
	"github.com/finnetrolle/nergal-sub000/pkg/search"
)

// recencyWeek limits hits to the last week, in the provider's wire convention.
const recencyWeek = "oneWeek"

// Searcher funnels every provider call through the shared retry policy and
// circuit breaker, so all search-backed agents degrade together when the
// provider misbehaves.
type Searcher struct {
	provider   search.Provider
	breaker    *reliability.CircuitBreaker
	retry      reliability.RetryConfig
	maxResults int
}

// NewSearcher wires a search provider with the reliability layer shared by
// the search-backed agents. maxResults outside the provider's accepted range
// falls back to a small default.
func NewSearcher(provider search.Provider, breaker *reliability.CircuitBreaker, retry reliability.RetryConfig, maxResults int) *Searcher {
	if maxResults < models.MinSearchResults || maxResults > models.MaxSearchResults {
		maxResults = 5
	}
	return &Searcher{
		provider:   provider,
		breaker:    breaker,
		retry:      retry,
		maxResults: maxResults,
	}
}

// run executes one query. recency may be empty when any age is acceptable.
func (s *Searcher) run(ctx context.Context, query, recency string) (*models.SearchResults, error) {
	request, err := models.NewSearchRequest(query, s.maxResults)
	if err != nil {
		return nil, err
	}
	request.RecencyFilter = recency

	var results *models.SearchResults
	err = reliability.Retry(ctx, s.retry, "web_search", func(ctx context.Context) error {
		return s.breaker.Execute(func() error {
			found, searchErr := s.provider.Search(ctx, request)
			if searchErr != nil {
				return searchErr
			}
			results = found
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

const webSearchSynthesisPrompt = "Ты — поисковый ассистент. Тебе даны результаты " +
	"веб-поиска. Составь по ним связный ответ на вопрос пользователя: только " +
	"факты из найденных материалов, с указанием источников в конце. Если " +
	"материалы противоречат друг другу — покажи расхождение. Ничего не " +
	"придумывай сверх найденного."

const webSearchApologyPrompt = "Ты — поисковый ассистент. Веб-поиск не дал " +
	"результатов. Извинись за отсутствие свежих данных и ответь на вопрос по " +
	"общим знаниям, явно предупредив, что сведения могут быть неполными или " +
	"устаревшими."

// WebSearchAgent answers questions that need fresh material from the web. One
// invocation fans the message out into search queries, deduplicates them,
// runs each through the reliability layer and synthesizes a cited answer from
// whatever came back.
type WebSearchAgent struct {
	*BaseAgent
	search *Searcher
}

// NewWebSearchAgent creates the web-search agent.
func NewWebSearchAgent(provider llm.Provider, search *Searcher) *WebSearchAgent {
	base := NewBaseAgent(models.AgentTypeWebSearch, webSearchSynthesisPrompt, provider,
		"найди", "поищи", "погугли", "загугли", "в интернете", "поиск",
		"актуальн", "свежую информацию", "search", "look up", "google")
	return &WebSearchAgent{BaseAgent: base, search: search}
}

// Process runs the full pipeline: query generation, dedup, execution,
// synthesis. Per-query failures are logged and skipped; only a dead LLM makes
// the whole turn fail.
func (a *WebSearchAgent) Process(ctx context.Context, message string, turnCtx map[string]any, history []models.Message) (*models.AgentResult, error) {
	telemetry := make(map[string]any)

	genStart := time.Now()
	queries, err := generateQueries(ctx, a.provider, message)
	telemetry["query_generation_ms"] = time.Since(genStart).Milliseconds()
	if err != nil {
		slog.Warn("Query generation failed, using heuristic query", "error", err)
		telemetry["query_generation_error"] = err.Error()
		queries = []string{heuristicQuery(message)}
	}
	queries = dedupeQueries(queries)
	if len(queries) == 0 {
		queries = []string{heuristicQuery(message)}
	}

	searchStart := time.Now()
	var (
		bundles []models.SearchResults
		failed  []string
	)
	if a.search != nil {
		for _, query := range queries {
			results, searchErr := a.search.run(ctx, query, "")
			if searchErr != nil {
				slog.Warn("Search query failed", "query", query, "error", searchErr)
				failed = append(failed, query)
				continue
			}
			bundles = append(bundles, *results)
		}
	}
	telemetry["search_ms"] = time.Since(searchStart).Milliseconds()
	if len(failed) > 0 {
		telemetry["failed_queries"] = failed
	}

	hasHits := false
	for _, bundle := range bundles {
		if len(bundle.Results) > 0 {
			hasHits = true
			break
		}
	}

	synthStart := time.Now()
	var result *models.AgentResult
	if hasHits {
		content := "Результаты поиска:\n" + formatSearchResults(bundles) +
			"\n\nВопрос пользователя: " + message
		result, err = a.respond(ctx, webSearchSynthesisPrompt, content, turnCtx, history)
		if err != nil {
			return nil, err
		}
		// respond scored the composite block; rescore on the user's message.
		result.Confidence = a.CanHandle(message, turnCtx)
		result.SetMeta(models.MetaSearchResults, bundles)
		result.SetMeta(models.MetaSources, collectSources(bundles))
	} else {
		telemetry["no_results"] = true
		result, err = a.respond(ctx, webSearchApologyPrompt, message, turnCtx, history)
		if err != nil {
			return nil, err
		}
		result.Confidence = 0.5
	}
	telemetry["synthesis_ms"] = time.Since(synthStart).Milliseconds()

	result.SetMeta(models.MetaSearchQueries, queries)
	for key, value := range telemetry {
		result.SetMeta(key, value)
	}
	return result, nil
}
