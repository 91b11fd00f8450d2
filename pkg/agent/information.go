package agent

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// System prompts of the information-gathering agents. All user-facing agents
// answer in the user's language; the prompts are written in Russian to match
// the primary audience.
const (
	knowledgeBasePrompt = "Ты — справочный ассистент с широкой эрудицией. " +
		"Отвечай на вопросы по существу, опираясь на проверенные знания. " +
		"Структурируй длинные ответы, выделяй главное. Если чего-то не знаешь " +
		"или данные могли устареть — скажи об этом прямо."

	techDocsPrompt = "Ты — ассистент по технической документации. Объясняй API, " +
		"библиотеки и инструменты точно и без воды: сигнатуры, параметры, " +
		"типичные ошибки использования. Приводи короткие примеры кода, где это " +
		"уместно. Если вопрос зависит от версии — уточни, для какой версии верен ответ."

	codeAnalysisPrompt = "Ты — опытный ревьюер кода. Разбирай присланный код: " +
		"что он делает, где ошибки, какие есть граничные случаи и как его " +
		"улучшить. Указывай конкретные строки и причины, предлагай исправления " +
		"минимальными правками. Не переписывай код целиком без необходимости."

	metricsPrompt = "Ты — аналитик данных. Интерпретируй числа, статистику и " +
		"измерения: что значат величины, корректны ли сравнения, какие выводы " +
		"обоснованы, а какие — нет. Всегда отмечай ограничения данных и " +
		"возможные искажения."

	newsPrompt = "Ты — новостной ассистент. Излагай события нейтрально и " +
		"фактологично: что произошло, когда, по данным каких источников. " +
		"Разделяй подтверждённые факты и предположения. Если свежих данных " +
		"нет — честно скажи, что сведения могут быть неполными."
)

// NewKnowledgeBaseAgent answers from the model's general knowledge.
func NewKnowledgeBaseAgent(provider llm.Provider) *BaseAgent {
	return NewBaseAgent(models.AgentTypeKnowledgeBase, knowledgeBasePrompt, provider,
		"что такое", "кто такой", "кто такая", "объясни", "расскажи про",
		"определение", "как работает", "почему", "в чём разница", "история",
		"what is", "who is", "explain", "how does")
}

// NewTechDocsAgent answers questions about APIs, libraries and tooling.
func NewTechDocsAgent(provider llm.Provider) *BaseAgent {
	a := NewBaseAgent(models.AgentTypeTechDocs, techDocsPrompt, provider,
		"документация", "библиотека", "фреймворк", "api", "sdk", "синтаксис",
		"сигнатура", "метод", "параметр", "конфигурация", "docs", "reference",
		"deprecated", "endpoint")
	a.Patterns = []*regexp.Regexp{
		// Qualified identifiers like http.Client or numpy.array read as API talk.
		regexp.MustCompile(`\b[a-z_][a-z0-9_]*\.[A-Za-z_][A-Za-z0-9_]*\(`),
	}
	return a
}

// NewCodeAnalysisAgent reviews and explains source code.
func NewCodeAnalysisAgent(provider llm.Provider) *BaseAgent {
	a := NewBaseAgent(models.AgentTypeCodeAnalysis, codeAnalysisPrompt, provider,
		"код", "кода", "функци", "ошибк", "баг", "исключение", "рефакторинг",
		"компилир", "скрипт", "code", "bug", "stack trace", "refactor", "panic")
	a.Patterns = []*regexp.Regexp{
		regexp.MustCompile("```"),
		regexp.MustCompile(`\b(func|def|class|import|return|var|const)\b`),
	}
	return a
}

// NewMetricsAgent interprets numbers, statistics and measurements.
func NewMetricsAgent(provider llm.Provider) *BaseAgent {
	a := NewBaseAgent(models.AgentTypeMetrics, metricsPrompt, provider,
		"статистик", "метрик", "процент", "сколько", "насколько", "динамика",
		"среднее", "медиана", "график", "рост", "упал", "выросл", "statistics",
		"average", "percentile")
	a.Patterns = []*regexp.Regexp{
		regexp.MustCompile(`\d+\s*%`),
		regexp.MustCompile(`\d+[.,]\d+`),
	}
	return a
}

// NewsAgent reports on current events. When a searcher is available it pulls
// fresh material with a recency filter before answering; otherwise it answers
// from the model with an explicit staleness caveat.
type NewsAgent struct {
	*BaseAgent
	search *Searcher
}

// NewNewsAgent creates the news agent. search may be nil when web search is
// disabled.
func NewNewsAgent(provider llm.Provider, search *Searcher) *NewsAgent {
	base := NewBaseAgent(models.AgentTypeNews, newsPrompt, provider,
		"новост", "последни", "свежи", "сегодня", "вчера", "на этой неделе",
		"произошло", "случилось", "сейчас", "news", "latest", "recent", "today")
	return &NewsAgent{BaseAgent: base, search: search}
}

// Process gathers recent coverage and reports on it.
func (a *NewsAgent) Process(ctx context.Context, message string, turnCtx map[string]any, history []models.Message) (*models.AgentResult, error) {
	if a.search == nil {
		content := message + "\n\nПоиск недоступен: отвечай по общим знаниям и предупреди, что сведения могут быть устаревшими."
		return a.respond(ctx, a.systemPrompt, content, turnCtx, history)
	}

	searchStart := time.Now()
	results, err := a.search.run(ctx, heuristicQuery(message), recencyWeek)
	searchMS := time.Since(searchStart).Milliseconds()
	if err != nil {
		slog.Warn("News search failed, answering from general knowledge",
			"error", err)
		content := message + "\n\nПоиск свежих новостей не удался: ответь по общим знаниям и предупреди, что сведения могут быть устаревшими."
		result, respondErr := a.respond(ctx, a.systemPrompt, content, turnCtx, history)
		if respondErr != nil {
			return nil, respondErr
		}
		result.SetMeta("search_error", err.Error())
		result.SetMeta("search_ms", searchMS)
		return result, nil
	}

	bundles := []models.SearchResults{*results}
	content := "Свежие материалы по теме:\n" + formatSearchResults(bundles) +
		"\n\nВопрос пользователя: " + message +
		"\n\nСоставь новостную сводку по материалам выше, с датами и источниками."

	result, err := a.respond(ctx, a.systemPrompt, content, turnCtx, history)
	if err != nil {
		return nil, err
	}
	result.SetMeta(models.MetaSearchResults, bundles)
	result.SetMeta(models.MetaSearchQueries, []string{results.Query})
	result.SetMeta(models.MetaSources, collectSources(bundles))
	result.SetMeta("search_ms", searchMS)
	return result, nil
}

// collectSources flattens result links for citation metadata.
func collectSources(bundles []models.SearchResults) []string {
	var sources []string
	seen := make(map[string]bool)
	for _, bundle := range bundles {
		for _, hit := range bundle.Results {
			if hit.Link == "" || seen[hit.Link] {
				continue
			}
			seen[hit.Link] = true
			sources = append(sources, hit.Link)
		}
	}
	return sources
}
