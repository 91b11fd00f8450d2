package agent

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// Default tuning of the confidence template. Individual agents adjust the
// exported fields after construction when their domain calls for it.
const (
	defaultBaseConfidence = 0.25
	defaultKeywordBoost   = 0.15
	defaultKeywordCeiling = 0.45
	defaultPatternBoost   = 0.2
	defaultContextBoost   = 0.15
)

// BaseAgent carries the shared confidence computation and the LLM reply path
// the specialized agents build on.
//
// The confidence template: base confidence, plus a capped boost per keyword
// hit, plus a boost per regex pattern match, plus a boost when upstream data
// is present, plus whatever the CustomConfidence hook adds. The sum is
// clamped to [0, 1]. Agents that require upstream material short-circuit to
// zero when none is present.
type BaseAgent struct {
	agentType    models.AgentType
	systemPrompt string
	provider     llm.Provider

	// Confidence tuning knobs. Constant per agent; never mutated at runtime.
	BaseConfidence  float64
	Keywords        []string
	KeywordBoost    float64
	KeywordCeiling  float64
	Patterns        []*regexp.Regexp
	PatternBoost    float64
	ContextBoost    float64
	RequireUpstream bool

	// CustomConfidence adds domain cues on top of the template. May be nil.
	CustomConfidence func(message string, turnCtx map[string]any) float64
}

// NewBaseAgent builds the template with default tuning. The keyword table
// must hold lowercase entries; matching lowercases the message once.
func NewBaseAgent(agentType models.AgentType, systemPrompt string, provider llm.Provider, keywords ...string) *BaseAgent {
	return &BaseAgent{
		agentType:      agentType,
		systemPrompt:   systemPrompt,
		provider:       provider,
		BaseConfidence: defaultBaseConfidence,
		Keywords:       keywords,
		KeywordBoost:   defaultKeywordBoost,
		KeywordCeiling: defaultKeywordCeiling,
		PatternBoost:   defaultPatternBoost,
		ContextBoost:   defaultContextBoost,
	}
}

// Type returns the agent's capability tag.
func (a *BaseAgent) Type() models.AgentType { return a.agentType }

// SystemPrompt returns the agent's system prompt.
func (a *BaseAgent) SystemPrompt() string { return a.systemPrompt }

// CanHandle scores the message with the confidence template.
func (a *BaseAgent) CanHandle(message string, turnCtx map[string]any) float64 {
	if a.RequireUpstream && !hasUpstreamData(turnCtx) {
		return 0
	}

	confidence := a.BaseConfidence
	lower := strings.ToLower(message)

	var keywordTotal float64
	for _, keyword := range a.Keywords {
		if strings.Contains(lower, keyword) {
			keywordTotal += a.KeywordBoost
		}
	}
	if a.KeywordCeiling > 0 && keywordTotal > a.KeywordCeiling {
		keywordTotal = a.KeywordCeiling
	}
	confidence += keywordTotal

	for _, pattern := range a.Patterns {
		if pattern.MatchString(lower) {
			confidence += a.PatternBoost
		}
	}

	if hasUpstreamData(turnCtx) {
		confidence += a.ContextBoost
	}
	if a.CustomConfidence != nil {
		confidence += a.CustomConfidence(message, turnCtx)
	}

	return clamp01(confidence)
}

// Process answers with a plain generation over the agent's system prompt.
// Specialized agents with richer pipelines shadow this method.
func (a *BaseAgent) Process(ctx context.Context, message string, turnCtx map[string]any, history []models.Message) (*models.AgentResult, error) {
	return a.respond(ctx, a.systemPrompt, message, turnCtx, history)
}

// respond runs one generation: system prompt (with the user's profile block
// woven in), trimmed history, then the user content. Shared by every
// LLM-backed agent in the package.
func (a *BaseAgent) respond(ctx context.Context, systemPrompt, userContent string, turnCtx map[string]any, history []models.Message) (*models.AgentResult, error) {
	started := time.Now()

	messages := buildMessages(systemPrompt, userContent, turnCtx, history)
	response, err := a.provider.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}

	result := &models.AgentResult{
		Response:   response.Content,
		AgentType:  a.agentType,
		Confidence: a.CanHandle(userContent, turnCtx),
		Metadata: map[string]any{
			"model":         response.Model,
			"processing_ms": time.Since(started).Milliseconds(),
		},
	}
	if response.Usage != nil {
		result.TokensUsed = response.Usage.TotalTokens
	}
	return result, nil
}

// buildMessages assembles the conversation sent to the provider. The profile
// summary from memory, when present, is appended to the system prompt so the
// model addresses the user in terms of what is known about them.
func buildMessages(systemPrompt, userContent string, turnCtx map[string]any, history []models.Message) []models.Message {
	if profile := contextString(turnCtx, models.ContextProfileSummary); profile != "" {
		systemPrompt += "\n\nЧто известно о собеседнике:\n" + profile
	}

	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.SystemMessage(systemPrompt))
	for _, m := range history {
		if m.Role == models.RoleUser || m.Role == models.RoleAssistant {
			messages = append(messages, m)
		}
	}
	return append(messages, models.UserMessage(userContent))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
