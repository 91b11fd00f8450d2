package models

// InputTransform selects what a plan step receives as its input text.
// The empty value means the original user message. "previous" means the most
// recently completed step's response. Any other value is passed through as a
// literal instruction prefix.
const (
	InputTransformOriginal = ""
	InputTransformPrevious = "previous"
)

// PlanStep is one unit of work inside an execution plan.
type PlanStep struct {
	AgentType      AgentType `json:"agent_type"`
	Description    string    `json:"description"`
	InputTransform string    `json:"input_transform,omitempty"`
	IsOptional     bool      `json:"is_optional,omitempty"`
	// DependsOn references an earlier step by index. Nil means the step has no
	// dependency and runs in the first level.
	DependsOn *int `json:"depends_on,omitempty"`
}

// MissingAgent records a capability the planner wanted but the registry lacks.
type MissingAgent struct {
	AgentType string `json:"agent_type"`
	Reason    string `json:"reason,omitempty"`
}

// ExecutionPlan is the planner's artifact for one turn: an ordered list of
// steps plus the reasoning that produced them. Steps only ever depend on
// strictly earlier steps.
type ExecutionPlan struct {
	Steps         []PlanStep     `json:"steps"`
	Reasoning     string         `json:"reasoning,omitempty"`
	MissingAgents []MissingAgent `json:"missing_agents,omitempty"`
}

// SingleStepPlan builds a one-step plan for the given agent. Used as the
// fallback whenever planning fails.
func SingleStepPlan(agentType AgentType, reasoning string) *ExecutionPlan {
	return &ExecutionPlan{
		Steps: []PlanStep{
			{AgentType: agentType, Description: "respond to the user"},
		},
		Reasoning: reasoning,
	}
}

// Validate reports whether every dependency references a strictly earlier step.
func (p *ExecutionPlan) Validate() bool {
	for i, step := range p.Steps {
		if step.DependsOn != nil && (*step.DependsOn < 0 || *step.DependsOn >= i) {
			return false
		}
	}
	return true
}

// StepStatus is the per-step outcome recorded by the executor.
type StepStatus string

const (
	// StepStatusCompleted means the step produced a result.
	StepStatusCompleted StepStatus = "completed"
	// StepStatusSkipped means an optional step ran nowhere (agent missing).
	StepStatusSkipped StepStatus = "skipped"
	// StepStatusFailed means the agent returned an error.
	StepStatusFailed StepStatus = "failed"
)

// StepExecution is the record of one executed plan step.
type StepExecution struct {
	Index     int          `json:"index"`
	AgentType AgentType    `json:"agent_type"`
	Status    StepStatus   `json:"status"`
	Result    *AgentResult `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	Fallback  bool         `json:"fallback,omitempty"`
}

// PlanResult is the executor's outcome for a whole plan.
type PlanResult struct {
	FinalResponse string          `json:"final_response"`
	FinalAgent    AgentType       `json:"final_agent"`
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
	Steps         []StepExecution `json:"steps"`
	TokensUsed    int             `json:"tokens_used"`
	Context       map[string]any  `json:"-"`
}
