// Package agent implements the orchestration core: the capability contract
// all agents satisfy, the registry that routes messages to them, the
// LLM-driven dispatcher that plans a turn and the executor that runs the
// plan with dependency-levelled parallelism.
package agent

import (
	"context"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// Agent is one named unit of capability.
//
// CanHandle scores how well the agent can serve the message given the
// accumulated turn context. It must be side-effect-free and cheap: the
// registry calls it on every registered agent during fallback routing.
//
// Process produces the agent's answer. Agent-level failures (provider down,
// unusable payload) come back as an error; the executor decides whether the
// step was optional. Process must honor ctx on every blocking call.
type Agent interface {
	Type() models.AgentType
	SystemPrompt() string
	CanHandle(message string, turnCtx map[string]any) float64
	Process(ctx context.Context, message string, turnCtx map[string]any, history []models.Message) (*models.AgentResult, error)
}

// hasUpstreamData reports whether an earlier step left material to work on:
// gathered search results or any previous step output.
func hasUpstreamData(turnCtx map[string]any) bool {
	if turnCtx == nil {
		return false
	}
	if results, ok := turnCtx[models.MetaSearchResults]; ok && results != nil {
		return true
	}
	if output, ok := turnCtx[models.ContextPreviousOutput].(string); ok && output != "" {
		return true
	}
	return false
}

// contextString returns a string value from the turn context, or "".
func contextString(turnCtx map[string]any, key string) string {
	if turnCtx == nil {
		return ""
	}
	s, _ := turnCtx[key].(string)
	return s
}
