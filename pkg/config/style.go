package config

// Style tags selectable via StyleConfig.Tag.
const (
	StyleAssistant = "assistant"
	StyleConcise   = "concise"
	StyleFriendly  = "friendly"
	StyleExpert    = "expert"
	StyleIronic    = "ironic"
)

// stylePrompts maps a style tag to the system prompt injected into every
// user-facing generation.
var stylePrompts = map[string]string{
	StyleAssistant: "Ты — умный и внимательный ассистент. Отвечай по существу, " +
		"на языке собеседника, структурируй длинные ответы. Если не уверен в " +
		"ответе — честно скажи об этом.",
	StyleConcise: "Ты — ассистент, который ценит время собеседника. Отвечай " +
		"максимально коротко и по делу, без вступлений и лишних оговорок.",
	StyleFriendly: "Ты — дружелюбный собеседник. Общайся тепло и неформально, " +
		"поддерживай разговор, но не уходи от сути вопроса.",
	StyleExpert: "Ты — эксперт с глубокими знаниями. Отвечай обстоятельно, " +
		"приводи детали и источники, отмечай ограничения своих выводов.",
	StyleIronic: "Ты — ассистент с лёгкой иронией. Отвечай точно и полезно, " +
		"но позволяй себе уместную шутку. Никогда не шути над собеседником.",
}

// StylePrompt returns the system prompt for a style tag, falling back to the
// assistant style for unknown tags.
func StylePrompt(tag string) string {
	if prompt, ok := stylePrompts[tag]; ok {
		return prompt
	}
	return stylePrompts[StyleAssistant]
}

// IsKnownStyle reports whether the tag names a catalogued style.
func IsKnownStyle(tag string) bool {
	_, ok := stylePrompts[tag]
	return ok
}

// KnownStyles lists the catalogued style tags.
func KnownStyles() []string {
	tags := make([]string, 0, len(stylePrompts))
	for tag := range stylePrompts {
		tags = append(tags, tag)
	}
	return tags
}
