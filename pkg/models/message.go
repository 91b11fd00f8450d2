package models

import "encoding/json"

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	// RoleSystem is an instruction message invisible to the user.
	RoleSystem MessageRole = "system"
	// RoleUser is a message authored by the user.
	RoleUser MessageRole = "user"
	// RoleAssistant is a message authored by the assistant.
	RoleAssistant MessageRole = "assistant"
)

// IsValid checks if the message role is valid
func (r MessageRole) IsValid() bool {
	return r == RoleSystem || r == RoleUser || r == RoleAssistant
}

// Message is one immutable entry of an LLM conversation.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// TokenUsage reports token consumption for one LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is the provider-agnostic result of a generation call.
type LLMResponse struct {
	Content      string          `json:"content"`
	Model        string          `json:"model,omitempty"`
	Usage        *TokenUsage     `json:"usage,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Raw          json.RawMessage `json:"-"`
}
