package agent

import (
	"log/slog"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// Registry maps agent types to implementations. It is populated once during
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	agents map[models.AgentType]Agent
	order  []models.AgentType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[models.AgentType]Agent)}
}

// Register adds the agent under its type tag. Registering the same type twice
// replaces the earlier agent; registration order is kept for iteration.
func (r *Registry) Register(a Agent) {
	if a == nil {
		return
	}
	if _, exists := r.agents[a.Type()]; !exists {
		r.order = append(r.order, a.Type())
	}
	r.agents[a.Type()] = a
}

// Get returns the agent registered under the type, or (nil, false).
func (r *Registry) Get(agentType models.AgentType) (Agent, bool) {
	a, ok := r.agents[agentType]
	return a, ok
}

// GetAll returns the registered agents in registration order.
func (r *Registry) GetAll() []Agent {
	all := make([]Agent, 0, len(r.order))
	for _, t := range r.order {
		all = append(all, r.agents[t])
	}
	return all
}

// Default returns the terminal responder, or nil when none is registered.
func (r *Registry) Default() Agent {
	return r.agents[models.AgentTypeDefault]
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.agents)
}

// DetermineAgent picks the agent with the highest CanHandle score for the
// message, falling back to the default agent when every score is zero.
// Ties keep the earlier-registered agent. The dispatcher is never routed to
// directly; it only plans.
func (r *Registry) DetermineAgent(message string, turnCtx map[string]any) Agent {
	var (
		best      Agent
		bestScore float64
	)
	for _, t := range r.order {
		if t == models.AgentTypeDispatcher {
			continue
		}
		a := r.agents[t]
		score := a.CanHandle(message, turnCtx)
		if score > bestScore {
			best, bestScore = a, score
		}
	}

	if best == nil {
		best = r.Default()
		slog.Debug("No agent scored the message, using default",
			"message_length", len(message))
	} else {
		slog.Debug("Agent determined by score",
			"agent", best.Type(),
			"confidence", bestScore)
	}
	return best
}
