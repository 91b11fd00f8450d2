package models

// AgentType is the stable tag of a registered capability.
type AgentType string

const (
	// AgentTypeDefault is the terminal responder and always-available fallback.
	AgentTypeDefault AgentType = "default"
	// AgentTypeDispatcher is the planner; it is never planned or executed itself.
	AgentTypeDispatcher AgentType = "dispatcher"

	// AgentTypeWebSearch answers from live web search results.
	AgentTypeWebSearch AgentType = "web_search"
	// AgentTypeKnowledgeBase answers from the model's general knowledge.
	AgentTypeKnowledgeBase AgentType = "knowledge_base"
	// AgentTypeTechDocs answers questions about technical documentation and APIs.
	AgentTypeTechDocs AgentType = "tech_docs"
	// AgentTypeCodeAnalysis reviews and explains source code.
	AgentTypeCodeAnalysis AgentType = "code_analysis"
	// AgentTypeMetrics interprets numbers, statistics and measurements.
	AgentTypeMetrics AgentType = "metrics"
	// AgentTypeNews reports on current events.
	AgentTypeNews AgentType = "news"

	// AgentTypeAnalysis performs deep analysis over gathered material.
	AgentTypeAnalysis AgentType = "analysis"
	// AgentTypeFactCheck verifies claims against gathered material.
	AgentTypeFactCheck AgentType = "fact_check"
	// AgentTypeComparison contrasts options found in gathered material.
	AgentTypeComparison AgentType = "comparison"
	// AgentTypeSummary condenses gathered material.
	AgentTypeSummary AgentType = "summary"
	// AgentTypeClarification asks the user to disambiguate the request.
	AgentTypeClarification AgentType = "clarification"

	// AgentTypeExpertise answers with a domain-expert persona.
	AgentTypeExpertise AgentType = "expertise"
)

// AgentCategory groups agent types by how they obtain their answer.
type AgentCategory string

const (
	// CategoryCore agents drive the conversation (default, dispatcher).
	CategoryCore AgentCategory = "core"
	// CategoryInformation agents gather data from external sources.
	CategoryInformation AgentCategory = "information"
	// CategoryProcessing agents transform previously gathered context.
	CategoryProcessing AgentCategory = "processing"
	// CategorySpecialized agents carry domain-flavored personas.
	CategorySpecialized AgentCategory = "specialized"
)

var agentCategories = map[AgentType]AgentCategory{
	AgentTypeDefault:       CategoryCore,
	AgentTypeDispatcher:    CategoryCore,
	AgentTypeWebSearch:     CategoryInformation,
	AgentTypeKnowledgeBase: CategoryInformation,
	AgentTypeTechDocs:      CategoryInformation,
	AgentTypeCodeAnalysis:  CategoryInformation,
	AgentTypeMetrics:       CategoryInformation,
	AgentTypeNews:          CategoryInformation,
	AgentTypeAnalysis:      CategoryProcessing,
	AgentTypeFactCheck:     CategoryProcessing,
	AgentTypeComparison:    CategoryProcessing,
	AgentTypeSummary:       CategoryProcessing,
	AgentTypeClarification: CategoryProcessing,
	AgentTypeExpertise:     CategorySpecialized,
}

// Category returns the category of the agent type, or CategoryCore for unknown tags.
func (t AgentType) Category() AgentCategory {
	if c, ok := agentCategories[t]; ok {
		return c
	}
	return CategoryCore
}

// IsValid checks if the agent type is one of the known capability tags
func (t AgentType) IsValid() bool {
	_, ok := agentCategories[t]
	return ok
}

// AllAgentTypes returns every known capability tag.
func AllAgentTypes() []AgentType {
	types := make([]AgentType, 0, len(agentCategories))
	for t := range agentCategories {
		types = append(types, t)
	}
	return types
}

// Well-known accumulated-context and metadata keys read by the executor and
// downstream agents. Information-gathering agents populate the first three.
const (
	MetaSearchResults = "search_results"
	MetaSearchQueries = "search_queries"
	MetaSources       = "sources"

	ContextPreviousOutput   = "previous_step_output"
	ContextPreviousAgent    = "previous_agent"
	ContextPreviousMetadata = "previous_step_metadata"
	ContextMemory           = "memory"
	ContextUserProfile      = "user_profile"
	ContextProfileSummary   = "profile_summary"
)

// AgentResult is the outcome of one agent invocation.
type AgentResult struct {
	Response      string         `json:"response"`
	AgentType     AgentType      `json:"agent_type"`
	Confidence    float64        `json:"confidence"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	TokensUsed    int            `json:"tokens_used,omitempty"`
	ShouldHandoff bool           `json:"should_handoff,omitempty"`
	HandoffAgent  AgentType      `json:"handoff_agent,omitempty"`
}

// Meta returns a metadata value, or nil when absent.
func (r *AgentResult) Meta(key string) any {
	if r == nil || r.Metadata == nil {
		return nil
	}
	return r.Metadata[key]
}

// SetMeta stores a metadata value, allocating the map on first use.
func (r *AgentResult) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}
