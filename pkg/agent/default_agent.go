package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// DefaultAgent is the terminal responder and the always-available fallback.
// It folds whatever the turn accumulated — search results, previous step
// output, sources — into one generation so the user-visible reply can cite
// the material gathered before it.
type DefaultAgent struct {
	*BaseAgent
}

// NewDefaultAgent creates the terminal responder. stylePrompt comes from the
// style catalog and sets the assistant's voice.
func NewDefaultAgent(provider llm.Provider, stylePrompt string) *DefaultAgent {
	base := NewBaseAgent(models.AgentTypeDefault, stylePrompt, provider)
	// The default agent must win ties against silence: a floor above zero
	// keeps it selectable for any message while specialized agents outscore
	// it on their own turf.
	base.BaseConfidence = 0.3
	base.ContextBoost = 0.1
	return &DefaultAgent{BaseAgent: base}
}

// Process generates the user-visible reply over the accumulated context.
func (a *DefaultAgent) Process(ctx context.Context, message string, turnCtx map[string]any, history []models.Message) (*models.AgentResult, error) {
	content := message
	if block := accumulatedBlock(turnCtx); block != "" {
		content = block + "\n\nВопрос пользователя: " + message +
			"\n\nОтветь, опираясь на собранные материалы. Если они содержат источники — укажи их в конце ответа."
	}

	result, err := a.respond(ctx, a.systemPrompt, content, turnCtx, history)
	if err != nil {
		return nil, err
	}
	result.Response = restoreFinalText(result.Response)
	// Carry the sources forward so the turn result can render citations.
	if sources, ok := turnCtx[models.MetaSources]; ok && sources != nil {
		result.SetMeta(models.MetaSources, sources)
	}
	return result, nil
}

// accumulatedBlock renders the turn's gathered material as one labeled block
// for the final generation. Empty when nothing was gathered.
func accumulatedBlock(turnCtx map[string]any) string {
	var sections []string

	if output := contextString(turnCtx, models.ContextPreviousOutput); output != "" {
		label := "Результат предыдущего шага"
		if prev := contextString(turnCtx, models.ContextPreviousAgent); prev != "" {
			label = fmt.Sprintf("Результат шага «%s»", prev)
		}
		sections = append(sections, label+":\n"+output)
	}

	if results, ok := turnCtx[models.MetaSearchResults].([]models.SearchResults); ok {
		if block := formatSearchResults(results); block != "" {
			sections = append(sections, "Найденные материалы:\n"+block)
		}
	}

	if sources, ok := turnCtx[models.MetaSources].([]string); ok && len(sources) > 0 {
		sections = append(sections, "Источники:\n- "+strings.Join(sources, "\n- "))
	}

	return strings.Join(sections, "\n\n")
}

// formatSearchResults renders per-query search hits as numbered snippets.
func formatSearchResults(bundles []models.SearchResults) string {
	var sb strings.Builder
	n := 0
	for _, bundle := range bundles {
		for _, hit := range bundle.Results {
			n++
			fmt.Fprintf(&sb, "%d. %s\n", n, hit.Title)
			if hit.Content != "" {
				sb.WriteString(hit.Content + "\n")
			}
			if hit.Link != "" {
				sb.WriteString(hit.Link + "\n")
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// restoreFinalText strips a trailing unterminated code fence some models
// leave behind when the completion budget runs out.
func restoreFinalText(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.Count(trimmed, "```")%2 == 1 && strings.HasSuffix(trimmed, "```") {
		return strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))
	}
	return trimmed
}
