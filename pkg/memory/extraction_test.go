package memory

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finnetrolle/nergal-sub000/pkg/config"
	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// testLogger keeps extraction noise out of test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLLM is a scriptable llm.Provider for extraction tests.
type fakeLLM struct {
	mu    sync.Mutex
	calls [][]models.Message
	fn    func(messages []models.Message) (*models.LLMResponse, error)
}

func (f *fakeLLM) Generate(_ context.Context, messages []models.Message, _ ...llm.GenerateOption) (*models.LLMResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(messages)
	}
	return &models.LLMResponse{Content: `{"facts": [], "should_update_profile": false}`, Model: "fake-model"}, nil
}

func (f *fakeLLM) Model() string { return "fake-model" }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// extractReply builds a fakeLLM that always answers with the given content.
func extractReply(content string) *fakeLLM {
	return &fakeLLM{fn: func([]models.Message) (*models.LLMResponse, error) {
		return &models.LLMResponse{Content: content, Model: "fake-model"}, nil
	}}
}

// fakeFactStore records upserted facts; fn can fail individual writes.
type fakeFactStore struct {
	mu    sync.Mutex
	facts []*models.ProfileFact
	fn    func(fact *models.ProfileFact) error
}

func (f *fakeFactStore) Upsert(_ context.Context, fact *models.ProfileFact) (*models.ProfileFact, error) {
	if f.fn != nil {
		if err := f.fn(fact); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.facts = append(f.facts, fact)
	f.mu.Unlock()
	return fact, nil
}

func (f *fakeFactStore) stored() []*models.ProfileFact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.ProfileFact(nil), f.facts...)
}

// fakeProfileStore holds one profile per user in memory.
type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[int64]*models.UserProfile
	getErr   error
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[int64]*models.UserProfile)}
}

func (f *fakeProfileStore) Get(_ context.Context, userID int64) (*models.UserProfile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[userID], nil
}

func (f *fakeProfileStore) Upsert(_ context.Context, profile *models.UserProfile) (*models.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[profile.UserID] = profile
	return profile, nil
}

// fakeEventStore records extraction events.
type fakeEventStore struct {
	mu     sync.Mutex
	events []*models.MemoryExtractionEvent
}

func (f *fakeEventStore) Insert(_ context.Context, event *models.MemoryExtractionEvent) (*models.MemoryExtractionEvent, error) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return event, nil
}

func (f *fakeEventStore) recorded() []*models.MemoryExtractionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.MemoryExtractionEvent(nil), f.events...)
}

type extractionFixture struct {
	service  *ExtractionService
	provider *fakeLLM
	facts    *fakeFactStore
	profiles *fakeProfileStore
	events   *fakeEventStore
}

func newExtractionFixture(provider *fakeLLM) *extractionFixture {
	facts := &fakeFactStore{}
	profiles := newFakeProfileStore()
	events := &fakeEventStore{}
	svc := &ExtractionService{
		cfg: config.MemoryConfig{
			ExtractionEnabled:   true,
			ConfidenceThreshold: 0.7,
		},
		provider: provider,
		facts:    facts,
		profiles: profiles,
		events:   events,
		logger:   testLogger(),
	}
	return &extractionFixture{service: svc, provider: provider, facts: facts, profiles: profiles, events: events}
}

const introductionEnvelope = `{
  "facts": [
    {"fact_type": "personal", "fact_key": "name", "fact_value": "Иван", "confidence": 0.95, "reasoning": "пользователь представился"},
    {"fact_type": "personal", "fact_key": "location", "fact_value": "Москва", "confidence": 0.9, "reasoning": "назвал свой город"}
  ],
  "should_update_profile": true,
  "profile_updates": {"preferred_name": "Иван", "location": "Москва"}
}`

func TestExtractionServiceExtractAndStore(t *testing.T) {
	ctx := context.Background()

	t.Run("stores facts and merges profile updates", func(t *testing.T) {
		fx := newExtractionFixture(extractReply(introductionEnvelope))

		result, err := fx.service.ExtractAndStore(ctx, 42, "Меня зовут Иван, я из Москвы", nil)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Len(t, result.Facts, 2)

		stored := fx.facts.stored()
		require.Len(t, stored, 2)
		assert.Equal(t, int64(42), stored[0].UserID)
		assert.Equal(t, "name", stored[0].FactKey)
		assert.Equal(t, "Иван", stored[0].FactValue)
		assert.Equal(t, models.FactSourceExtraction, stored[0].Source)
		assert.Equal(t, "location", stored[1].FactKey)

		profile, err := fx.profiles.Get(ctx, 42)
		require.NoError(t, err)
		require.NotNil(t, profile)
		assert.Equal(t, "Иван", profile.PreferredName)
		assert.Equal(t, "Москва", profile.Location)

		events := fx.events.recorded()
		require.Len(t, events, 1)
		assert.Equal(t, int64(42), events[0].UserID)
		assert.Equal(t, 2, events[0].FactsExtracted)
		assert.Equal(t, "fake-model", events[0].Model)
		assert.Contains(t, events[0].RawResponse, "Иван")
	})

	t.Run("drops facts below the confidence threshold", func(t *testing.T) {
		fx := newExtractionFixture(extractReply(`{
			"facts": [
				{"fact_type": "contextual", "fact_key": "mood", "fact_value": "устал", "confidence": 0.4},
				{"fact_type": "personal", "fact_key": "occupation", "fact_value": "врач", "confidence": 0.85}
			],
			"should_update_profile": false
		}`))

		result, err := fx.service.ExtractAndStore(ctx, 7, "я врач, устал сегодня", nil)
		require.NoError(t, err)
		assert.Len(t, result.Facts, 2)

		stored := fx.facts.stored()
		require.Len(t, stored, 1)
		assert.Equal(t, "occupation", stored[0].FactKey)

		events := fx.events.recorded()
		require.Len(t, events, 1)
		assert.Equal(t, 1, events[0].FactsExtracted)
	})

	t.Run("skips facts with empty fields", func(t *testing.T) {
		fx := newExtractionFixture(extractReply(`{
			"facts": [
				{"fact_type": "", "fact_key": "name", "fact_value": "Иван", "confidence": 0.9},
				{"fact_type": "personal", "fact_key": "", "fact_value": "Иван", "confidence": 0.9},
				{"fact_type": "personal", "fact_key": "name", "fact_value": "   ", "confidence": 0.9}
			],
			"should_update_profile": false
		}`))

		_, err := fx.service.ExtractAndStore(ctx, 7, "привет", nil)
		require.NoError(t, err)
		assert.Empty(t, fx.facts.stored())
	})

	t.Run("disabled extraction is a no-op", func(t *testing.T) {
		fx := newExtractionFixture(extractReply(introductionEnvelope))
		fx.service.cfg.ExtractionEnabled = false

		result, err := fx.service.ExtractAndStore(ctx, 42, "Меня зовут Иван", nil)
		require.NoError(t, err)
		assert.Nil(t, result)
		assert.Zero(t, fx.provider.callCount())
		assert.Empty(t, fx.facts.stored())
	})

	t.Run("provider failure is returned without an event", func(t *testing.T) {
		fx := newExtractionFixture(&fakeLLM{fn: func([]models.Message) (*models.LLMResponse, error) {
			return nil, assert.AnError
		}})

		result, err := fx.service.ExtractAndStore(ctx, 42, "привет", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Nil(t, result)
		assert.Empty(t, fx.events.recorded())
	})

	t.Run("unparsable reply still records the attempt", func(t *testing.T) {
		fx := newExtractionFixture(extractReply("не могу выделить факты"))

		result, err := fx.service.ExtractAndStore(ctx, 42, "привет", nil)
		require.Error(t, err)
		assert.Nil(t, result)

		events := fx.events.recorded()
		require.Len(t, events, 1)
		assert.Zero(t, events[0].FactsExtracted)
		assert.Equal(t, "не могу выделить факты", events[0].RawResponse)
	})

	t.Run("merge preserves existing profile fields", func(t *testing.T) {
		fx := newExtractionFixture(extractReply(`{
			"facts": [],
			"should_update_profile": true,
			"profile_updates": {"location": "Казань", "interests": ["го"]}
		}`))
		_, err := fx.profiles.Upsert(ctx, &models.UserProfile{
			UserID:        42,
			PreferredName: "Ваня",
			Occupation:    "инженер",
			Interests:     []string{"шахматы"},
		})
		require.NoError(t, err)

		_, err = fx.service.ExtractAndStore(ctx, 42, "переехал в Казань, начал играть в го", nil)
		require.NoError(t, err)

		profile, err := fx.profiles.Get(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, "Ваня", profile.PreferredName)
		assert.Equal(t, "инженер", profile.Occupation)
		assert.Equal(t, "Казань", profile.Location)
		assert.Equal(t, []string{"шахматы", "го"}, profile.Interests)
	})

	t.Run("fact write failure does not stop the batch", func(t *testing.T) {
		fx := newExtractionFixture(extractReply(introductionEnvelope))
		failed := false
		fx.facts.fn = func(*models.ProfileFact) error {
			if !failed {
				failed = true
				return assert.AnError
			}
			return nil
		}

		_, err := fx.service.ExtractAndStore(ctx, 42, "Меня зовут Иван, я из Москвы", nil)
		require.NoError(t, err)

		stored := fx.facts.stored()
		require.Len(t, stored, 1)
		assert.Equal(t, "location", stored[0].FactKey)

		events := fx.events.recorded()
		require.Len(t, events, 1)
		assert.Equal(t, 1, events[0].FactsExtracted)
	})

	t.Run("profile read failure does not fail the pass", func(t *testing.T) {
		fx := newExtractionFixture(extractReply(introductionEnvelope))
		fx.profiles.getErr = assert.AnError

		result, err := fx.service.ExtractAndStore(ctx, 42, "Меня зовут Иван, я из Москвы", nil)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Len(t, fx.facts.stored(), 2)
	})

	t.Run("long raw responses are truncated in the event", func(t *testing.T) {
		padded := `{"facts": [], "should_update_profile": false}` + strings.Repeat(" ", rawResponseLimit)
		fx := newExtractionFixture(extractReply(padded))

		_, err := fx.service.ExtractAndStore(ctx, 42, "привет", nil)
		require.NoError(t, err)

		events := fx.events.recorded()
		require.Len(t, events, 1)
		assert.Len(t, events[0].RawResponse, rawResponseLimit)
	})
}

func TestMergeProfile(t *testing.T) {
	name := "Иван"
	age := 30

	t.Run("builds a fresh profile when none exists", func(t *testing.T) {
		merged := mergeProfile(nil, &models.ProfileUpdates{PreferredName: &name, Age: &age}, 42)
		assert.Equal(t, int64(42), merged.UserID)
		assert.Equal(t, "Иван", merged.PreferredName)
		require.NotNil(t, merged.Age)
		assert.Equal(t, 30, *merged.Age)
	})

	t.Run("null fields keep existing values", func(t *testing.T) {
		location := "Казань"
		existing := &models.UserProfile{UserID: 42, PreferredName: "Ваня", Timezone: "Europe/Moscow"}

		merged := mergeProfile(existing, &models.ProfileUpdates{Location: &location}, 42)
		assert.Equal(t, "Ваня", merged.PreferredName)
		assert.Equal(t, "Europe/Moscow", merged.Timezone)
		assert.Equal(t, "Казань", merged.Location)
	})

	t.Run("list fields union without duplicates", func(t *testing.T) {
		existing := &models.UserProfile{UserID: 42, Languages: []string{"русский", "English"}}

		merged := mergeProfile(existing, &models.ProfileUpdates{Languages: []string{"english", "немецкий"}}, 42)
		assert.Equal(t, []string{"русский", "English", "немецкий"}, merged.Languages)
	})
}

func TestParseExtraction(t *testing.T) {
	t.Run("recovers the envelope from surrounding prose", func(t *testing.T) {
		result, err := parseExtraction("Вот результат:\n```json\n" + introductionEnvelope + "\n```\nГотово.")
		require.NoError(t, err)
		assert.Len(t, result.Facts, 2)
		assert.True(t, result.ShouldUpdateProfile)
		require.NotNil(t, result.ProfileUpdates)
		require.NotNil(t, result.ProfileUpdates.PreferredName)
		assert.Equal(t, "Иван", *result.ProfileUpdates.PreferredName)
	})

	t.Run("reply without JSON is an error", func(t *testing.T) {
		_, err := parseExtraction("фактов нет")
		require.Error(t, err)
	})
}

func TestExtractionInput(t *testing.T) {
	t.Run("includes trailing history without system messages", func(t *testing.T) {
		history := []models.Message{
			models.SystemMessage("служебное"),
			models.UserMessage("привет"),
			models.AssistantMessage("здравствуйте"),
		}

		input := extractionInput("меня зовут Иван", history)
		assert.Contains(t, input, "Пользователь: привет")
		assert.Contains(t, input, "Ассистент: здравствуйте")
		assert.NotContains(t, input, "служебное")
		assert.Contains(t, input, "Сообщение пользователя: меня зовут Иван")
	})

	t.Run("history window is bounded", func(t *testing.T) {
		var history []models.Message
		for i := 0; i < 10; i++ {
			history = append(history, models.UserMessage("сообщение-"+string(rune('a'+i))))
		}

		input := extractionInput("вопрос", history)
		assert.NotContains(t, input, "сообщение-a")
		assert.Contains(t, input, "сообщение-j")
		assert.Equal(t, extractionHistoryWindow, strings.Count(input, "Пользователь: "))
	})
}
