package models

import "time"

// User is the persistent identity keyed by the chat transport's numeric id.
type User struct {
	TelegramID int64     `json:"telegram_id"`
	Username   string    `json:"username,omitempty"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	Language   string    `json:"language,omitempty"`
	IsAllowed  bool      `json:"is_allowed"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DisplayName returns the best human-readable name for the user.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	default:
		return "unknown"
	}
}

// UserProfile is the long-term structured view of a user. At most one per user.
type UserProfile struct {
	UserID             int64          `json:"user_id"`
	PreferredName      string         `json:"preferred_name,omitempty"`
	Age                *int           `json:"age,omitempty"`
	Location           string         `json:"location,omitempty"`
	Timezone           string         `json:"timezone,omitempty"`
	Occupation         string         `json:"occupation,omitempty"`
	Languages          []string       `json:"languages,omitempty"`
	Interests          []string       `json:"interests,omitempty"`
	ExpertiseAreas     []string       `json:"expertise_areas,omitempty"`
	CommunicationStyle string         `json:"communication_style,omitempty"`
	CustomAttributes   map[string]any `json:"custom_attributes,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// ProfileFact is one durable extracted fact about a user.
// Uniqueness key: (user_id, fact_type, fact_key); upserts replace the value,
// confidence, source and expiry.
type ProfileFact struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	FactType   string     `json:"fact_type"`
	FactKey    string     `json:"fact_key"`
	FactValue  string     `json:"fact_value"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// FactSourceExtraction tags facts written by the LLM extraction pipeline.
const FactSourceExtraction = "llm_extraction"

// ConversationMessage is one persisted turn fragment. Append-only.
type ConversationMessage struct {
	ID               int64       `json:"id"`
	UserID           int64       `json:"user_id"`
	SessionID        string      `json:"session_id"`
	Role             MessageRole `json:"role"`
	Content          string      `json:"content"`
	AgentType        string      `json:"agent_type,omitempty"`
	TokensUsed       *int        `json:"tokens_used,omitempty"`
	ProcessingTimeMS *int        `json:"processing_time_ms,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// ConversationSession is a contiguous span of conversation.
// A user has at most one session with EndedAt == nil at any time.
type ConversationSession struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
	// LastActivityAt moves forward with every persisted message and drives
	// the stale-session timeout.
	LastActivityAt time.Time      `json:"last_activity_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	MessageCount   int            `json:"message_count"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// IsActive reports whether the session is still open.
func (s *ConversationSession) IsActive() bool {
	return s != nil && s.EndedAt == nil
}

// MemoryExtractionEvent is an audit record of one extraction attempt.
// These rows are written best-effort and sit off the turn's critical path.
type MemoryExtractionEvent struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"user_id"`
	MessageID      *int64    `json:"message_id,omitempty"`
	FactsExtracted int       `json:"facts_extracted"`
	Model          string    `json:"model,omitempty"`
	RawResponse    string    `json:"raw_response,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
