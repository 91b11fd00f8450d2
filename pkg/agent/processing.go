package agent

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// System prompts of the processing agents. They transform material gathered
// by earlier plan steps instead of reaching for external sources.
const (
	analysisPrompt = "Ты — аналитик. Тебе дают собранные материалы и вопрос. " +
		"Разбери материалы по существу: ключевые факты, связи между ними, " +
		"противоречия, обоснованные выводы. Отделяй факты от интерпретаций. " +
		"Не придумывай того, чего в материалах нет."

	factCheckPrompt = "Ты — проверяющий факты. Сопоставь утверждение с " +
		"собранными материалами: что подтверждается, что опровергается, что " +
		"проверить нельзя. Для каждого вывода указывай, на какой материал он " +
		"опирается. Вердикт: подтверждено / опровергнуто / недостаточно данных."

	comparisonPrompt = "Ты — ассистент для сравнений. Выдели сравниваемые " +
		"варианты, задай понятные критерии и сопоставь варианты по ним. " +
		"Заверши коротким выводом: что выбрать в каких обстоятельствах. " +
		"Не выдумывай характеристики, которых нет в материалах или общих знаниях."

	summaryPrompt = "Ты — ассистент для кратких выжимок. Сожми собранные " +
		"материалы до главного: 3–7 пунктов, без потери ключевых фактов и " +
		"цифр. Никаких вступлений и выводов от себя — только суть исходного текста."

	clarificationPrompt = "Ты — ассистент, уточняющий запрос. Вопрос " +
		"пользователя неоднозначен: задай один короткий уточняющий вопрос, " +
		"который сильнее всего сузит задачу. Только один вопрос, без " +
		"предположений и вариантов ответа."
)

// processingAgent consumes the accumulated turn context: it folds the
// previous step output and gathered search material into its generation.
// Agents that require upstream data inherit the zero short-circuit from the
// base template.
type processingAgent struct {
	*BaseAgent
	// task is appended after the material block and states what to do with it.
	task string
}

// Process feeds the accumulated material plus the step input to the model.
func (a *processingAgent) Process(ctx context.Context, message string, turnCtx map[string]any, history []models.Message) (*models.AgentResult, error) {
	var sb strings.Builder
	if block := accumulatedBlock(turnCtx); block != "" {
		sb.WriteString(block)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Запрос: ")
	sb.WriteString(message)
	if a.task != "" {
		sb.WriteString("\n\n")
		sb.WriteString(a.task)
	}
	// Processing steps work on the material block, not the dialog, so the
	// history is dropped to keep the prompt focused.
	return a.respond(ctx, a.systemPrompt, sb.String(), turnCtx, nil)
}

// NewAnalysisAgent performs deep analysis over gathered material.
// Scores zero when no upstream data exists to analyze.
func NewAnalysisAgent(provider llm.Provider) Agent {
	base := NewBaseAgent(models.AgentTypeAnalysis, analysisPrompt, provider,
		"проанализируй", "анализ", "разбери", "оцени", "вывод", "закономерност",
		"analyze", "analysis", "insight")
	base.RequireUpstream = true
	base.ContextBoost = 0.25
	return &processingAgent{
		BaseAgent: base,
		task:      "Проанализируй материалы выше применительно к запросу.",
	}
}

// NewFactCheckAgent verifies claims against gathered material.
// Scores zero when there is nothing to check against.
func NewFactCheckAgent(provider llm.Provider) Agent {
	base := NewBaseAgent(models.AgentTypeFactCheck, factCheckPrompt, provider,
		"проверь", "правда ли", "так ли", "достоверно", "факт", "опроверг",
		"fact", "verify", "true that")
	base.RequireUpstream = true
	base.ContextBoost = 0.25
	return &processingAgent{
		BaseAgent: base,
		task:      "Проверь утверждение из запроса по материалам выше.",
	}
}

// NewComparisonAgent contrasts options. It can work from the message alone,
// so it does not require upstream material.
func NewComparisonAgent(provider llm.Provider) Agent {
	base := NewBaseAgent(models.AgentTypeComparison, comparisonPrompt, provider,
		"сравни", "сравнен", "лучше", "хуже", "против", " vs ", "отличи",
		"разница", "выбрать", "compare", "versus", "difference")
	return &processingAgent{
		BaseAgent: base,
		task:      "Сравни варианты из запроса, опираясь на материалы выше, если они есть.",
	}
}

// NewSummaryAgent condenses gathered material.
// Scores zero when there is nothing to summarize.
func NewSummaryAgent(provider llm.Provider) Agent {
	base := NewBaseAgent(models.AgentTypeSummary, summaryPrompt, provider,
		"суммируй", "кратко", "резюме", "выжимк", "итог", "своими словами",
		"tl;dr", "summarize", "summary")
	base.RequireUpstream = true
	base.ContextBoost = 0.25
	return &processingAgent{
		BaseAgent: base,
		task:      "Сделай краткую выжимку материалов выше.",
	}
}

// clarificationMaxRunes is the length under which a message starts looking
// too thin to act on.
const clarificationMaxRunes = 12

// NewClarificationAgent asks the user to disambiguate. It scores on explicit
// confusion markers plus a cue for very short messages; the planner schedules
// it when a request cannot be acted on as-is.
func NewClarificationAgent(provider llm.Provider) Agent {
	base := NewBaseAgent(models.AgentTypeClarification, clarificationPrompt, provider,
		"не понимаю", "не понял", "что ты имеешь в виду", "уточни", "поясни",
		"в смысле", "clarify", "what do you mean")
	base.BaseConfidence = 0.1
	base.CustomConfidence = func(message string, _ map[string]any) float64 {
		if utf8.RuneCountInString(strings.TrimSpace(message)) <= clarificationMaxRunes {
			return 0.15
		}
		return 0
	}
	return &processingAgent{BaseAgent: base}
}
