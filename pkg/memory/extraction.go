package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/finnetrolle/nergal-sub000/pkg/config"
	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// defaultConfidenceThreshold guards fact writes when the config carries no
// usable threshold.
const defaultConfidenceThreshold = 0.7

// rawResponseLimit bounds what lands in the extraction event log.
const rawResponseLimit = 4000

// extractionHistoryWindow is how many trailing dialog messages the extraction
// prompt sees for context.
const extractionHistoryWindow = 6

const extractionPrompt = `Ты извлекаешь долговременные факты о пользователе из его сообщения.

Верни СТРОГО JSON-объект без текста вокруг:
{
  "facts": [{"fact_type": "personal|preference|professional|contextual", "fact_key": "...", "fact_value": "...", "confidence": 0.0, "reasoning": "..."}],
  "should_update_profile": false,
  "profile_updates": {"preferred_name": null, "age": null, "location": null, "timezone": null, "occupation": null, "languages": [], "interests": [], "expertise_areas": [], "communication_style": null}
}

Правила:
- Извлекай только то, что пользователь сообщил о себе сам: имя, возраст, город, профессию, языки, интересы, предпочтения.
- fact_key — короткий идентификатор на английском в snake_case: name, location, occupation, favorite_language.
- confidence — твоя уверенность в том, что факт верен и долговременен, от 0 до 1.
- should_update_profile: true только при новых значениях для полей профиля; заполняй в profile_updates лишь изменившиеся поля.
- Если фактов нет — верни пустой список facts и should_update_profile: false.
- Не выводи факты из вежливых оборотов, вопросов и гипотетических рассуждений.`

// factWriter is the slice of FactRepository the extraction pipeline needs.
type factWriter interface {
	Upsert(ctx context.Context, fact *models.ProfileFact) (*models.ProfileFact, error)
}

// profileStore is the slice of ProfileRepository the extraction pipeline needs.
type profileStore interface {
	Get(ctx context.Context, userID int64) (*models.UserProfile, error)
	Upsert(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error)
}

// eventWriter is the slice of ExtractionEventRepository the extraction
// pipeline needs.
type eventWriter interface {
	Insert(ctx context.Context, event *models.MemoryExtractionEvent) (*models.MemoryExtractionEvent, error)
}

// ExtractionService mines durable user facts out of dialog turns. The whole
// pipeline is best-effort: it runs after the reply is already sent, and every
// failure is logged instead of surfacing to the user.
type ExtractionService struct {
	cfg      config.MemoryConfig
	provider llm.Provider
	facts    factWriter
	profiles profileStore
	events   eventWriter
	logger   *slog.Logger
}

// NewExtractionService creates the extraction pipeline over the memory service.
func NewExtractionService(cfg config.MemoryConfig, provider llm.Provider, memory *Service) *ExtractionService {
	return &ExtractionService{
		cfg:      cfg,
		provider: provider,
		facts:    memory.facts,
		profiles: memory.profiles,
		events:   memory.events,
		logger:   slog.Default(),
	}
}

// ExtractAndStore runs one extraction pass over the user's latest message:
// ask the model for the fact envelope, keep facts above the confidence
// threshold, merge profile updates non-null-wins, record the attempt as an
// extraction event. Returns the parsed envelope for observability.
func (s *ExtractionService) ExtractAndStore(ctx context.Context, userID int64, userMessage string, history []models.Message) (*models.ExtractionResult, error) {
	if !s.cfg.ExtractionEnabled {
		return nil, nil
	}

	response, err := s.provider.Generate(ctx,
		[]models.Message{
			models.SystemMessage(extractionPrompt),
			models.UserMessage(extractionInput(userMessage, history)),
		},
		llm.WithTemperature(0.1),
	)
	if err != nil {
		return nil, fmt.Errorf("extraction generate: %w", err)
	}

	result, err := parseExtraction(response.Content)
	if err != nil {
		s.recordEvent(ctx, userID, 0, response.Content)
		return nil, err
	}

	stored := s.storeFacts(ctx, userID, result.Facts)
	if result.ShouldUpdateProfile && !result.ProfileUpdates.IsEmpty() {
		if err := s.updateProfile(ctx, userID, result.ProfileUpdates); err != nil {
			s.logger.Warn("Profile update from extraction failed",
				"user_id", userID, "error", err)
		}
	}
	s.recordEvent(ctx, userID, stored, response.Content)

	s.logger.Debug("Extraction finished",
		"user_id", userID,
		"facts_seen", len(result.Facts),
		"facts_stored", stored,
		"profile_updated", result.ShouldUpdateProfile)
	return result, nil
}

// storeFacts upserts facts above the confidence threshold. Per-fact failures
// are logged and skipped; the count of stored facts is returned.
func (s *ExtractionService) storeFacts(ctx context.Context, userID int64, facts []models.ExtractedFact) int {
	threshold := s.cfg.ConfidenceThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultConfidenceThreshold
	}

	stored := 0
	for _, fact := range facts {
		if fact.Confidence < threshold {
			continue
		}
		if fact.FactType == "" || fact.FactKey == "" || strings.TrimSpace(fact.FactValue) == "" {
			continue
		}
		_, err := s.facts.Upsert(ctx, &models.ProfileFact{
			UserID:     userID,
			FactType:   fact.FactType,
			FactKey:    fact.FactKey,
			FactValue:  fact.FactValue,
			Confidence: fact.Confidence,
			Source:     models.FactSourceExtraction,
		})
		if err != nil {
			s.logger.Warn("Fact upsert failed",
				"user_id", userID,
				"fact_key", fact.FactKey,
				"error", err)
			continue
		}
		stored++
	}
	return stored
}

// updateProfile merges the extracted updates into the stored profile.
// Non-null incoming fields win; list fields accumulate as sets.
func (s *ExtractionService) updateProfile(ctx context.Context, userID int64, updates *models.ProfileUpdates) error {
	existing, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return err
	}
	merged := mergeProfile(existing, updates, userID)
	_, err = s.profiles.Upsert(ctx, merged)
	return err
}

// recordEvent logs the extraction attempt for audit. Failures here are only
// logged: the event trail is not part of the critical path.
func (s *ExtractionService) recordEvent(ctx context.Context, userID int64, factsStored int, raw string) {
	if len(raw) > rawResponseLimit {
		cut := rawResponseLimit
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		raw = raw[:cut]
	}
	_, err := s.events.Insert(ctx, &models.MemoryExtractionEvent{
		UserID:         userID,
		FactsExtracted: factsStored,
		Model:          s.provider.Model(),
		RawResponse:    raw,
	})
	if err != nil {
		s.logger.Warn("Extraction event insert failed",
			"user_id", userID, "error", err)
	}
}

// extractionInput renders the trailing dialog plus the message under
// extraction.
func extractionInput(userMessage string, history []models.Message) string {
	var sb strings.Builder
	if len(history) > 0 {
		start := len(history) - extractionHistoryWindow
		if start < 0 {
			start = 0
		}
		sb.WriteString("Недавний диалог:\n")
		for _, m := range history[start:] {
			switch m.Role {
			case models.RoleUser:
				sb.WriteString("Пользователь: " + m.Content + "\n")
			case models.RoleAssistant:
				sb.WriteString("Ассистент: " + m.Content + "\n")
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Сообщение пользователя: " + userMessage)
	return sb.String()
}

// parseExtraction recovers the JSON envelope from the model reply.
func parseExtraction(content string) (*models.ExtractionResult, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in extraction reply")
	}

	var result models.ExtractionResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("decode extraction result: %w", err)
	}
	return &result, nil
}

// mergeProfile folds updates into the stored profile. A missing profile
// starts from an empty row for the user.
func mergeProfile(existing *models.UserProfile, updates *models.ProfileUpdates, userID int64) *models.UserProfile {
	profile := existing
	if profile == nil {
		profile = &models.UserProfile{UserID: userID}
	}

	if updates.PreferredName != nil {
		profile.PreferredName = *updates.PreferredName
	}
	if updates.Age != nil {
		profile.Age = updates.Age
	}
	if updates.Location != nil {
		profile.Location = *updates.Location
	}
	if updates.Timezone != nil {
		profile.Timezone = *updates.Timezone
	}
	if updates.Occupation != nil {
		profile.Occupation = *updates.Occupation
	}
	if updates.CommunicationStyle != nil {
		profile.CommunicationStyle = *updates.CommunicationStyle
	}
	profile.Languages = mergeUnique(profile.Languages, updates.Languages)
	profile.Interests = mergeUnique(profile.Interests, updates.Interests)
	profile.ExpertiseAreas = mergeUnique(profile.ExpertiseAreas, updates.ExpertiseAreas)
	return profile
}

// mergeUnique unions two string lists preserving first-seen order.
func mergeUnique(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, value := range list {
			value = strings.TrimSpace(value)
			if value == "" || seen[strings.ToLower(value)] {
				continue
			}
			seen[strings.ToLower(value)] = true
			merged = append(merged, value)
		}
	}
	return merged
}
