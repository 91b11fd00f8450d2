package richtext

import (
	"strings"
	"unicode/utf8"
)

// TelegramMessageLimit is Telegram's hard cap on message length.
const TelegramMessageLimit = 4096

// fenceReserve keeps room to close and reopen a code fence around a forced
// split inside one.
const fenceReserve = 8

var sentenceEnds = []string{". ", "! ", "? "}

// SplitMessage cuts text into chunks of at most limit runes, preferring
// paragraph, then line, then sentence, then word boundaries. A chunk that
// would end inside a code fence gets the fence closed and reopened across
// the cut so each chunk renders on its own.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = TelegramMessageLimit
	}
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	window := limit
	if strings.Contains(text, "```") && limit > fenceReserve {
		window = limit - fenceReserve
	}

	var chunks []string
	rest := text
	for utf8.RuneCountInString(rest) > limit {
		head, tail := splitOnce(rest, window)
		if head == "" || utf8.RuneCountInString(tail) >= utf8.RuneCountInString(rest) {
			// The boundary plus fence reopening made no forward progress;
			// cut the window hard instead.
			runes := []rune(rest)
			head, tail = string(runes[:window]), string(runes[window:])
		}
		chunks = append(chunks, head)
		rest = tail
	}
	if strings.TrimSpace(rest) != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// splitOnce cuts one chunk of at most window runes off the front of text,
// choosing the best available boundary and balancing code fences.
func splitOnce(text string, window int) (string, string) {
	runes := []rune(text)
	prefix := string(runes[:window])

	head, skip := prefix, 0
	if idx := strings.LastIndex(prefix, "\n\n"); idx > 0 {
		head, skip = prefix[:idx], 2
	} else if idx := strings.LastIndex(prefix, "\n"); idx > 0 {
		head, skip = prefix[:idx], 1
	} else if idx := lastSentenceEnd(prefix); idx > 0 {
		head, skip = prefix[:idx], 1
	} else if idx := strings.LastIndex(prefix, " "); idx > 0 {
		head, skip = prefix[:idx], 1
	}

	tail := text[len(head)+skip:]
	if strings.Count(head, "```")%2 == 1 {
		head += "\n```"
		tail = "```\n" + tail
	}
	return head, tail
}

// lastSentenceEnd returns the byte index just past the punctuation of the
// last sentence boundary, or -1.
func lastSentenceEnd(s string) int {
	best := -1
	for _, end := range sentenceEnds {
		if idx := strings.LastIndex(s, end); idx >= 0 && idx+1 > best {
			best = idx + 1
		}
	}
	return best
}
