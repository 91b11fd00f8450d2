package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// maxGeneratedQueries caps how many queries one turn may fan out into.
const maxGeneratedQueries = 3

// errNoQueryArray marks a model reply with no parsable JSON array in it.
var errNoQueryArray = errors.New("no JSON array of queries in model reply")

const queryGenPrompt = `Ты формулируешь поисковые запросы по вопросу пользователя.

Правила:
- Верни СТРОГО JSON-массив строк и ничего больше. Пример: ["запрос один", "запрос два"]
- Обычно достаточно одного запроса. Несколько — только если вопрос явно требует разнородных сведений.
- Не больше %d запросов.
- Запросы короткие и конкретные, на языке вопроса, без вопросительных слов.`

// jsonArrayPattern grabs the outermost bracketed span so prose around the
// model's answer does not break parsing.
var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// generateQueries asks the LLM to decompose the message into search queries.
// Any failure falls back to the deterministic heuristic so a search turn
// never dies on query generation.
func generateQueries(ctx context.Context, provider llm.Provider, message string) ([]string, error) {
	prompt := fmt.Sprintf(queryGenPrompt, maxGeneratedQueries)
	messages := []models.Message{
		models.SystemMessage(prompt),
		models.UserMessage(message),
	}

	response, err := provider.Generate(ctx, messages, llm.WithTemperature(0.2))
	if err != nil {
		return nil, err
	}

	queries, err := parseQueryArray(response.Content)
	if err != nil {
		return nil, err
	}
	if len(queries) > maxGeneratedQueries {
		queries = queries[:maxGeneratedQueries]
	}
	return queries, nil
}

// parseQueryArray extracts the JSON array from the model's reply.
func parseQueryArray(content string) ([]string, error) {
	match := jsonArrayPattern.FindString(content)
	if match == "" {
		return nil, errNoQueryArray
	}

	var raw []string
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil, err
	}

	queries := make([]string, 0, len(raw))
	for _, q := range raw {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return nil, errNoQueryArray
	}
	return queries, nil
}

// dedupeQueries drops near-duplicate queries: a candidate with Jaccard
// similarity above 0.7 against any kept query is discarded. The first
// occurrence's casing survives. Running the function over its own output
// changes nothing.
func dedupeQueries(queries []string) []string {
	const threshold = 0.7

	kept := make([]string, 0, len(queries))
	keptTokens := make([]map[string]bool, 0, len(queries))

	for _, query := range queries {
		tokens := tokenSet(query)
		if len(tokens) == 0 {
			continue
		}
		duplicate := false
		for _, existing := range keptTokens {
			if jaccard(tokens, existing) > threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, strings.Join(strings.Fields(query), " "))
		keptTokens = append(keptTokens, tokens)
	}

	if len(kept) == 0 && len(queries) > 0 {
		if first := strings.Join(strings.Fields(queries[0]), " "); first != "" {
			kept = append(kept, first)
		}
	}
	return kept
}

// tokenSet lowercases and whitespace-splits a query into its token set.
func tokenSet(query string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(query)) {
		tokens[field] = true
	}
	return tokens
}

// jaccard computes |a∩b| / |a∪b| over two token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// queryStopWords are interrogative and filler words the heuristic fallback
// strips before using the utterance itself as the query.
var queryStopWords = map[string]bool{
	// Russian
	"что": true, "кто": true, "как": true, "какой": true, "какая": true,
	"какие": true, "каких": true, "где": true, "когда": true, "почему": true,
	"зачем": true, "сколько": true, "ли": true, "же": true, "бы": true,
	"это": true, "такое": true, "такой": true, "есть": true, "мне": true,
	"меня": true, "можешь": true, "пожалуйста": true, "расскажи": true,
	"скажи": true, "найди": true, "поищи": true, "покажи": true,
	"узнай": true, "про": true, "насчёт": true, "насчет": true,
	// English
	"what": true, "who": true, "how": true, "where": true, "when": true,
	"why": true, "which": true, "is": true, "are": true, "was": true,
	"were": true, "the": true, "a": true, "an": true, "do": true,
	"does": true, "did": true, "can": true, "could": true, "please": true,
	"tell": true, "me": true, "find": true, "search": true, "about": true,
}

// heuristicQuery builds a single search query from the raw message by
// stripping interrogative filler. Returns the trimmed message when stripping
// would leave nothing.
func heuristicQuery(message string) string {
	const punctuation = ".,!?;:()\"'«»„“”"

	fields := strings.Fields(message)
	kept := make([]string, 0, len(fields))
	for _, field := range fields {
		word := strings.Trim(field, punctuation)
		if word == "" || queryStopWords[strings.ToLower(word)] {
			continue
		}
		kept = append(kept, word)
	}
	if len(kept) == 0 {
		return strings.TrimSpace(message)
	}
	return strings.Join(kept, " ")
}
