package models

import (
	"fmt"
	"strings"
)

// summaryLineLimit caps each quoted history line inside a conversation summary.
const summaryLineLimit = 200

// UserMemoryContext is the immutable per-turn snapshot of everything the
// system remembers about a user. Agents read it; nothing writes it back.
type UserMemoryContext struct {
	User           *User                  `json:"user"`
	Profile        *UserProfile           `json:"profile,omitempty"`
	Facts          []*ProfileFact         `json:"facts,omitempty"`
	RecentMessages []*ConversationMessage `json:"recent_messages,omitempty"`
	CurrentSession *ConversationSession   `json:"current_session,omitempty"`
}

// ProfileSummary renders the profile and facts as human-readable labeled
// lines for inclusion in LLM prompts. Returns "" when nothing is known.
func (c *UserMemoryContext) ProfileSummary() string {
	if c == nil {
		return ""
	}
	var lines []string

	if p := c.Profile; p != nil {
		if p.PreferredName != "" {
			lines = append(lines, "Имя: "+p.PreferredName)
		}
		if p.Age != nil {
			lines = append(lines, fmt.Sprintf("Возраст: %d", *p.Age))
		}
		if p.Location != "" {
			lines = append(lines, "Местоположение: "+p.Location)
		}
		if p.Timezone != "" {
			lines = append(lines, "Часовой пояс: "+p.Timezone)
		}
		if p.Occupation != "" {
			lines = append(lines, "Род занятий: "+p.Occupation)
		}
		if len(p.Languages) > 0 {
			lines = append(lines, "Языки: "+strings.Join(p.Languages, ", "))
		}
		if len(p.Interests) > 0 {
			lines = append(lines, "Интересы: "+strings.Join(p.Interests, ", "))
		}
		if len(p.ExpertiseAreas) > 0 {
			lines = append(lines, "Экспертиза: "+strings.Join(p.ExpertiseAreas, ", "))
		}
		if p.CommunicationStyle != "" {
			lines = append(lines, "Стиль общения: "+p.CommunicationStyle)
		}
	}

	if len(c.Facts) > 0 {
		lines = append(lines, "Известные факты:")
		for _, f := range c.Facts {
			lines = append(lines, fmt.Sprintf("- %s/%s: %s", f.FactType, f.FactKey, f.FactValue))
		}
	}

	return strings.Join(lines, "\n")
}

// ConversationSummary renders the last n recent messages as labeled lines,
// each truncated to 200 characters. Returns "" with no history.
func (c *UserMemoryContext) ConversationSummary(n int) string {
	if c == nil || len(c.RecentMessages) == 0 || n <= 0 {
		return ""
	}
	msgs := c.RecentMessages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		label := "Пользователь"
		if m.Role == RoleAssistant {
			label = "Ассистент"
		}
		lines = append(lines, label+": "+truncateRunes(m.Content, summaryLineLimit))
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
