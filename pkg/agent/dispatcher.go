package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// maxPlanSteps caps how many steps one turn may be decomposed into.
const maxPlanSteps = 5

// agentDescriptions are the one-line capability summaries shown to the
// planning model for each registered agent.
var agentDescriptions = map[models.AgentType]string{
	models.AgentTypeDefault:       "формулирует итоговый ответ пользователю по собранным материалам",
	models.AgentTypeWebSearch:     "ищет свежую информацию в интернете",
	models.AgentTypeKnowledgeBase: "отвечает на справочные вопросы по общим знаниям",
	models.AgentTypeTechDocs:      "объясняет API, библиотеки и техническую документацию",
	models.AgentTypeCodeAnalysis:  "разбирает и ревьюит присланный код",
	models.AgentTypeMetrics:       "интерпретирует числа, статистику и измерения",
	models.AgentTypeNews:          "делает сводку текущих событий",
	models.AgentTypeAnalysis:      "глубоко анализирует собранные материалы",
	models.AgentTypeFactCheck:     "проверяет утверждения по собранным материалам",
	models.AgentTypeComparison:    "сравнивает варианты и показывает различия",
	models.AgentTypeSummary:       "сжимает собранные материалы в краткую выжимку",
	models.AgentTypeClarification: "задаёт уточняющий вопрос при неясном запросе",
	models.AgentTypeExpertise:     "отвечает как профильный эксперт",
}

// agentAliases maps shorthand the planning model tends to emit onto the
// canonical capability tags.
var agentAliases = map[string]models.AgentType{
	"summarize":  models.AgentTypeSummary,
	"kb":         models.AgentTypeKnowledgeBase,
	"knowledge":  models.AgentTypeKnowledgeBase,
	"search":     models.AgentTypeWebSearch,
	"websearch":  models.AgentTypeWebSearch,
	"web":        models.AgentTypeWebSearch,
	"docs":       models.AgentTypeTechDocs,
	"code":       models.AgentTypeCodeAnalysis,
	"compare":    models.AgentTypeComparison,
	"facts":      models.AgentTypeFactCheck,
	"factcheck":  models.AgentTypeFactCheck,
	"expert":     models.AgentTypeExpertise,
	"respond":    models.AgentTypeDefault,
	"answer":     models.AgentTypeDefault,
	"chat":       models.AgentTypeDefault,
	"clarify":    models.AgentTypeClarification,
	"news_feed":  models.AgentTypeNews,
	"статистика": models.AgentTypeMetrics,
}

// planEnvelope mirrors the JSON object the planning model is asked to emit.
type planEnvelope struct {
	Steps         []planStepEnvelope     `json:"steps"`
	Reasoning     string                 `json:"reasoning"`
	MissingAgents []missingAgentEnvelope `json:"missing_agents"`
}

type planStepEnvelope struct {
	Agent          string `json:"agent"`
	Description    string `json:"description"`
	IsOptional     bool   `json:"is_optional"`
	DependsOn      *int   `json:"depends_on"`
	InputTransform string `json:"input_transform"`
}

type missingAgentEnvelope struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason"`
}

// Dispatcher is the planner: it decomposes a user message into an execution
// plan over the currently registered agents. It never plans itself and never
// executes anything.
type Dispatcher struct {
	provider llm.Provider
	registry *Registry
}

// NewDispatcher creates the planner over the given registry.
func NewDispatcher(provider llm.Provider, registry *Registry) *Dispatcher {
	return &Dispatcher{provider: provider, registry: registry}
}

// Plan asks the model to decompose the message. Planning never fails the
// turn: any LLM or parse error collapses into a single-step default plan with
// the error recorded in the reasoning.
func (d *Dispatcher) Plan(ctx context.Context, message string, turnCtx map[string]any) *models.ExecutionPlan {
	prompt := d.buildPlanningPrompt(turnCtx)
	messages := []models.Message{
		models.SystemMessage(prompt),
		models.UserMessage(message),
	}

	response, err := d.provider.Generate(ctx, messages, llm.WithTemperature(0.1))
	if err != nil {
		slog.Warn("Planning LLM call failed, falling back to single-step plan", "error", err)
		return models.SingleStepPlan(models.AgentTypeDefault,
			fmt.Sprintf("planning failed: %v", err))
	}

	plan, err := d.parsePlan(response.Content)
	if err != nil {
		slog.Warn("Planner reply unparsable, falling back to single-step plan", "error", err)
		return models.SingleStepPlan(models.AgentTypeDefault,
			fmt.Sprintf("plan parse failed: %v", err))
	}

	slog.Debug("Plan built",
		"steps", len(plan.Steps),
		"missing_agents", len(plan.MissingAgents))
	return plan
}

// buildPlanningPrompt enumerates the live registry (minus the planner itself)
// and states the JSON contract.
func (d *Dispatcher) buildPlanningPrompt(turnCtx map[string]any) string {
	var sb strings.Builder
	sb.WriteString("Ты — диспетчер мультиагентного ассистента. Разложи запрос пользователя " +
		"на шаги для доступных агентов.\n\nДоступные агенты:\n")

	for _, a := range d.registry.GetAll() {
		if a.Type() == models.AgentTypeDispatcher {
			continue
		}
		description, ok := agentDescriptions[a.Type()]
		if !ok {
			description = "специализированный агент"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", a.Type(), description)
	}

	fmt.Fprintf(&sb, `
Ответь СТРОГО JSON-объектом без пояснений вокруг:
{
  "steps": [{"agent": "...", "description": "...", "is_optional": false, "depends_on": null, "input_transform": ""}],
  "reasoning": "...",
  "missing_agents": [{"agent": "...", "reason": "..."}]
}

Правила:
- Обычно достаточно одного шага. Несколько шагов — только когда ответ требует сначала собрать материал, а потом обработать его.
- Не больше %d шагов. Последний шаг формирует ответ пользователю (обычно default).
- depends_on — индекс шага (с нуля), чей результат нужен этому шагу как вход; null, если вход — сообщение пользователя.
- input_transform: "" — исходное сообщение, "previous" — результат предыдущего шага.
- is_optional: true, если без этого шага ответ всё же возможен.
- Если для запроса нужна способность, которой нет в списке, добавь её в missing_agents с причиной.`,
		maxPlanSteps)

	if profile := contextString(turnCtx, models.ContextProfileSummary); profile != "" {
		sb.WriteString("\n\nЧто известно о пользователе:\n" + profile)
	}
	return sb.String()
}

// parsePlan recovers the JSON object from the model's reply and builds a
// validated execution plan out of it.
func (d *Dispatcher) parsePlan(content string) (*models.ExecutionPlan, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in planner reply")
	}

	var envelope planEnvelope
	if err := json.Unmarshal([]byte(content[start:end+1]), &envelope); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	steps := d.buildSteps(envelope.Steps)
	if len(steps) == 0 {
		return nil, fmt.Errorf("planner produced no usable steps")
	}
	autoChain(steps)

	plan := &models.ExecutionPlan{
		Steps:         steps,
		Reasoning:     strings.TrimSpace(envelope.Reasoning),
		MissingAgents: d.filterMissing(envelope.MissingAgents),
	}
	if !plan.Validate() {
		return nil, fmt.Errorf("planner produced an invalid dependency graph")
	}
	return plan, nil
}

// buildSteps maps envelope steps onto plan steps: canonical agent names,
// dropped self-references, dependencies remapped around dropped steps.
func (d *Dispatcher) buildSteps(envelopes []planStepEnvelope) []models.PlanStep {
	if len(envelopes) > maxPlanSteps {
		envelopes = envelopes[:maxPlanSteps]
	}

	indexMap := make(map[int]int, len(envelopes))
	steps := make([]models.PlanStep, 0, len(envelopes))
	for i, es := range envelopes {
		agentType := resolveAgentType(es.Agent)
		if agentType == models.AgentTypeDispatcher {
			slog.Warn("Planner planned itself, dropping step", "index", i)
			continue
		}

		step := models.PlanStep{
			AgentType:      agentType,
			Description:    strings.TrimSpace(es.Description),
			InputTransform: strings.TrimSpace(es.InputTransform),
			IsOptional:     es.IsOptional,
		}
		if es.DependsOn != nil {
			// Only dependencies on earlier, kept steps survive; anything
			// else (forward reference, dropped step, cycle) is cleared.
			if mapped, ok := indexMap[*es.DependsOn]; ok {
				dep := mapped
				step.DependsOn = &dep
			}
		}

		indexMap[i] = len(steps)
		steps = append(steps, step)
	}
	return steps
}

// autoChain threads sequential dependencies through a multi-step plan that
// declared none, so a gather step's output actually reaches the steps after
// it instead of every step racing on the original message.
func autoChain(steps []models.PlanStep) {
	if len(steps) < 2 {
		return
	}
	for _, step := range steps {
		if step.DependsOn != nil {
			return
		}
	}
	for i := 1; i < len(steps); i++ {
		dep := i - 1
		steps[i].DependsOn = &dep
	}
}

// filterMissing drops claimed-missing agents that are in fact registered.
func (d *Dispatcher) filterMissing(envelopes []missingAgentEnvelope) []models.MissingAgent {
	var missing []models.MissingAgent
	for _, me := range envelopes {
		name := strings.TrimSpace(me.Agent)
		if name == "" {
			continue
		}
		if agentType, known := lookupAgentType(name); known {
			if _, registered := d.registry.Get(agentType); registered {
				continue
			}
		}
		missing = append(missing, models.MissingAgent{
			AgentType: strings.ToLower(name),
			Reason:    strings.TrimSpace(me.Reason),
		})
	}
	return missing
}

// lookupAgentType resolves a planner-emitted name to a canonical type.
// Matching is case-insensitive and tolerates dashes and spaces.
func lookupAgentType(name string) (models.AgentType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	if t := models.AgentType(normalized); t.IsValid() {
		return t, true
	}
	t, ok := agentAliases[normalized]
	return t, ok
}

// resolveAgentType is lookupAgentType with the unknown-name policy applied:
// anything unresolvable collapses to the default responder.
func resolveAgentType(name string) models.AgentType {
	if t, ok := lookupAgentType(name); ok {
		return t
	}
	slog.Warn("Planner named an unknown agent, using default", "agent", name)
	return models.AgentTypeDefault
}
