package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

func TestGroupLevels(t *testing.T) {
	t.Run("no dependencies is one level", func(t *testing.T) {
		steps := []models.PlanStep{
			{AgentType: models.AgentTypeWebSearch},
			{AgentType: models.AgentTypeKnowledgeBase},
		}
		assert.Equal(t, [][]int{{0, 1}}, groupLevels(steps))
	})

	t.Run("diamond shape", func(t *testing.T) {
		steps := []models.PlanStep{
			{AgentType: models.AgentTypeWebSearch},
			{AgentType: models.AgentTypeKnowledgeBase},
			{AgentType: models.AgentTypeAnalysis, DependsOn: intPtr(0)},
			{AgentType: models.AgentTypeDefault, DependsOn: intPtr(2)},
		}
		assert.Equal(t, [][]int{{0, 1}, {2}, {3}}, groupLevels(steps))
	})

	t.Run("chain does not collapse into one level", func(t *testing.T) {
		steps := []models.PlanStep{
			{AgentType: models.AgentTypeWebSearch},
			{AgentType: models.AgentTypeSummary, DependsOn: intPtr(0)},
			{AgentType: models.AgentTypeDefault, DependsOn: intPtr(1)},
		}
		assert.Equal(t, [][]int{{0}, {1}, {2}}, groupLevels(steps))
	})

	t.Run("dangling dependency becomes singleton level", func(t *testing.T) {
		steps := []models.PlanStep{
			{AgentType: models.AgentTypeDefault},
			{AgentType: models.AgentTypeSummary, DependsOn: intPtr(7)},
		}
		assert.Equal(t, [][]int{{0}, {1}}, groupLevels(steps))
	})

	t.Run("all-residual steps keep declaration order", func(t *testing.T) {
		steps := []models.PlanStep{
			{AgentType: models.AgentTypeSummary, DependsOn: intPtr(9)},
			{AgentType: models.AgentTypeAnalysis, DependsOn: intPtr(9)},
		}
		assert.Equal(t, [][]int{{0}, {1}}, groupLevels(steps))
	})
}

func TestExecutor_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("single step plan", func(t *testing.T) {
		r := NewRegistry()
		r.Register(echoAgent(models.AgentTypeDefault, "Привет, чем помочь?", 5))
		e := NewExecutor(r)

		plan := models.SingleStepPlan(models.AgentTypeDefault, "greeting")
		result, err := e.Execute(ctx, plan, "Привет!", nil, nil)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, "Привет, чем помочь?", result.FinalResponse)
		assert.Equal(t, models.AgentTypeDefault, result.FinalAgent)
		assert.Equal(t, 5, result.TokensUsed)
		require.Len(t, result.Steps, 1)
		assert.Equal(t, models.StepStatusCompleted, result.Steps[0].Status)
	})

	t.Run("sequential chain passes dependency output and context", func(t *testing.T) {
		r := NewRegistry()
		search := &stubAgent{
			agentType: models.AgentTypeWebSearch,
			process: func(_ context.Context, _ string, _ map[string]any, _ []models.Message) (*models.AgentResult, error) {
				result := &models.AgentResult{
					Response:   "нашёл: солнечно",
					AgentType:  models.AgentTypeWebSearch,
					TokensUsed: 7,
				}
				result.SetMeta(models.MetaSearchResults, []models.SearchResults{{Query: "погода"}})
				result.SetMeta(models.MetaSources, []string{"https://example.com/w"})
				return result, nil
			},
		}
		var defaultInput string
		var defaultCtx map[string]any
		def := &stubAgent{
			agentType: models.AgentTypeDefault,
			process: func(_ context.Context, message string, turnCtx map[string]any, _ []models.Message) (*models.AgentResult, error) {
				defaultInput = message
				defaultCtx = turnCtx
				return &models.AgentResult{
					Response:   "Завтра солнечно.",
					AgentType:  models.AgentTypeDefault,
					TokensUsed: 11,
				}, nil
			},
		}
		r.Register(search)
		r.Register(def)
		e := NewExecutor(r)

		plan := &models.ExecutionPlan{Steps: []models.PlanStep{
			{AgentType: models.AgentTypeWebSearch, Description: "поиск"},
			{AgentType: models.AgentTypeDefault, Description: "ответ", DependsOn: intPtr(0)},
		}}
		result, err := e.Execute(ctx, plan, "что за погода завтра?", nil, nil)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, "Завтра солнечно.", result.FinalResponse)
		assert.Equal(t, 18, result.TokensUsed)
		// The dependent step receives the dependency's response, and the
		// accumulated context carries the gathered material.
		assert.Equal(t, "нашёл: солнечно", defaultInput)
		assert.Equal(t, "нашёл: солнечно", defaultCtx[models.ContextPreviousOutput])
		assert.Equal(t, "web_search", defaultCtx[models.ContextPreviousAgent])
		assert.NotNil(t, defaultCtx[models.MetaSearchResults])
		assert.Equal(t, []string{"https://example.com/w"}, defaultCtx[models.MetaSources])
	})

	t.Run("parallel gather then analyze then respond", func(t *testing.T) {
		r := NewRegistry()
		var mu sync.Mutex
		inputs := make(map[models.AgentType]string)
		record := func(agentType models.AgentType, response string) *stubAgent {
			return &stubAgent{
				agentType: agentType,
				process: func(_ context.Context, message string, _ map[string]any, _ []models.Message) (*models.AgentResult, error) {
					mu.Lock()
					inputs[agentType] = message
					mu.Unlock()
					return &models.AgentResult{Response: response, AgentType: agentType}, nil
				},
			}
		}
		r.Register(record(models.AgentTypeWebSearch, "из сети"))
		r.Register(record(models.AgentTypeKnowledgeBase, "из головы"))
		r.Register(record(models.AgentTypeAnalysis, "анализ готов"))
		r.Register(record(models.AgentTypeDefault, "итог"))
		e := NewExecutor(r)

		plan := &models.ExecutionPlan{Steps: []models.PlanStep{
			{AgentType: models.AgentTypeWebSearch},
			{AgentType: models.AgentTypeKnowledgeBase},
			{AgentType: models.AgentTypeAnalysis, DependsOn: intPtr(0)},
			{AgentType: models.AgentTypeDefault, DependsOn: intPtr(2)},
		}}
		result, err := e.Execute(ctx, plan, "сложный вопрос", nil, nil)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, "итог", result.FinalResponse)
		assert.Equal(t, "из сети", inputs[models.AgentTypeAnalysis])
		assert.Equal(t, "анализ готов", inputs[models.AgentTypeDefault])
		for _, step := range result.Steps {
			assert.Equal(t, models.StepStatusCompleted, step.Status)
		}
	})

	t.Run("parallel steps see the level-start snapshot", func(t *testing.T) {
		r := NewRegistry()
		var mu sync.Mutex
		sawPrevious := make(map[models.AgentType]any)
		observe := func(agentType models.AgentType) *stubAgent {
			return &stubAgent{
				agentType: agentType,
				process: func(_ context.Context, _ string, turnCtx map[string]any, _ []models.Message) (*models.AgentResult, error) {
					mu.Lock()
					sawPrevious[agentType] = turnCtx[models.ContextPreviousOutput]
					mu.Unlock()
					return &models.AgentResult{Response: string(agentType), AgentType: agentType}, nil
				},
			}
		}
		r.Register(observe(models.AgentTypeWebSearch))
		r.Register(observe(models.AgentTypeKnowledgeBase))
		e := NewExecutor(r)

		plan := &models.ExecutionPlan{Steps: []models.PlanStep{
			{AgentType: models.AgentTypeWebSearch},
			{AgentType: models.AgentTypeKnowledgeBase},
		}}
		_, err := e.Execute(ctx, plan, "вопрос", nil, nil)
		require.NoError(t, err)

		assert.Nil(t, sawPrevious[models.AgentTypeWebSearch])
		assert.Nil(t, sawPrevious[models.AgentTypeKnowledgeBase])
	})

	t.Run("optional step skipped when agent missing", func(t *testing.T) {
		r := NewRegistry()
		r.Register(echoAgent(models.AgentTypeDefault, "ответ", 3))
		e := NewExecutor(r)

		plan := &models.ExecutionPlan{Steps: []models.PlanStep{
			{AgentType: models.AgentTypeFactCheck, IsOptional: true},
			{AgentType: models.AgentTypeDefault, DependsOn: intPtr(0)},
		}}
		result, err := e.Execute(ctx, plan, "вопрос", nil, nil)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, "ответ", result.FinalResponse)
		assert.Equal(t, models.StepStatusSkipped, result.Steps[0].Status)
		assert.Equal(t, models.StepStatusCompleted, result.Steps[1].Status)
	})

	t.Run("required step without agent substitutes default", func(t *testing.T) {
		r := NewRegistry()
		r.Register(echoAgent(models.AgentTypeDefault, "замена", 1))
		e := NewExecutor(r)

		plan := &models.ExecutionPlan{Steps: []models.PlanStep{
			{AgentType: models.AgentTypeExpertise},
		}}
		result, err := e.Execute(ctx, plan, "вопрос", nil, nil)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, "замена", result.FinalResponse)
		require.Len(t, result.Steps, 1)
		assert.True(t, result.Steps[0].Fallback)
		assert.Equal(t, models.StepStatusCompleted, result.Steps[0].Status)
	})

	t.Run("required step without agent and no default aborts", func(t *testing.T) {
		r := NewRegistry()
		r.Register(echoAgent(models.AgentTypeSummary, "выжимка", 1))
		e := NewExecutor(r)

		plan := &models.ExecutionPlan{Steps: []models.PlanStep{
			{AgentType: models.AgentTypeExpertise},
		}}
		result, err := e.Execute(ctx, plan, "вопрос", nil, nil)
		require.NoError(t, err)

		assert.False(t, result.Success)
		assert.Equal(t, ApologyResponse, result.FinalResponse)
		assert.NotEmpty(t, result.Error)
	})

	t.Run("optional step error does not fail the plan", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&stubAgent{
			agentType: models.AgentTypeFactCheck,
			process: func(context.Context, string, map[string]any, []models.Message) (*models.AgentResult, error) {
				return nil, errors.New("провайдер лёг")
			},
		})
		r.Register(echoAgent(models.AgentTypeDefault, "всё равно ответ", 2))
		e := NewExecutor(r)

		plan := &models.ExecutionPlan{Steps: []models.PlanStep{
			{AgentType: models.AgentTypeFactCheck, IsOptional: true},
			{AgentType: models.AgentTypeDefault, DependsOn: intPtr(0)},
		}}
		result, err := e.Execute(ctx, plan, "вопрос", nil, nil)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, "всё равно ответ", result.FinalResponse)
		assert.Equal(t, models.StepStatusFailed, result.Steps[0].Status)
		assert.Contains(t, result.Steps[0].Error, "провайдер лёг")
	})

	t.Run("required step error ends in apology", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&stubAgent{
			agentType: models.AgentTypeWebSearch,
			process: func(context.Context, string, map[string]any, []models.Message) (*models.AgentResult, error) {
				return nil, errors.New("поиск недоступен")
			},
		})
		r.Register(echoAgent(models.AgentTypeDefault, "не дойдёт", 2))
		e := NewExecutor(r)

		plan := &models.ExecutionPlan{Steps: []models.PlanStep{
			{AgentType: models.AgentTypeWebSearch},
			{AgentType: models.AgentTypeDefault, DependsOn: intPtr(0)},
		}}
		result, err := e.Execute(ctx, plan, "вопрос", nil, nil)
		require.NoError(t, err)

		assert.False(t, result.Success)
		assert.Equal(t, ApologyResponse, result.FinalResponse)
		assert.Contains(t, result.Error, "поиск недоступен")
		assert.Equal(t, models.StepStatusFailed, result.Steps[0].Status)
		// The dependent step never ran.
		assert.Equal(t, models.StepStatusSkipped, result.Steps[1].Status)
	})

	t.Run("required failure discards parallel sibling outputs", func(t *testing.T) {
		r := NewRegistry()
		r.Register(echoAgent(models.AgentTypeKnowledgeBase, "успел ответить", 4))
		r.Register(&stubAgent{
			agentType: models.AgentTypeWebSearch,
			process: func(context.Context, string, map[string]any, []models.Message) (*models.AgentResult, error) {
				return nil, errors.New("обрыв")
			},
		})
		e := NewExecutor(r)

		plan := &models.ExecutionPlan{Steps: []models.PlanStep{
			{AgentType: models.AgentTypeWebSearch},
			{AgentType: models.AgentTypeKnowledgeBase},
		}}
		result, err := e.Execute(ctx, plan, "вопрос", nil, nil)
		require.NoError(t, err)

		assert.False(t, result.Success)
		assert.Equal(t, ApologyResponse, result.FinalResponse)
		// The sibling completed but its output must not leak into the context.
		assert.Equal(t, models.StepStatusCompleted, result.Steps[1].Status)
		assert.NotContains(t, result.Context, models.ContextPreviousOutput)
	})

	t.Run("final response is highest-indexed completed step", func(t *testing.T) {
		r := NewRegistry()
		r.Register(echoAgent(models.AgentTypeDefault, "основной ответ", 2))
		r.Register(&stubAgent{
			agentType: models.AgentTypeSummary,
			process: func(context.Context, string, map[string]any, []models.Message) (*models.AgentResult, error) {
				return nil, errors.New("не вышло")
			},
		})
		e := NewExecutor(r)

		plan := &models.ExecutionPlan{Steps: []models.PlanStep{
			{AgentType: models.AgentTypeDefault},
			{AgentType: models.AgentTypeSummary, IsOptional: true, DependsOn: intPtr(0)},
		}}
		result, err := e.Execute(ctx, plan, "вопрос", nil, nil)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, "основной ответ", result.FinalResponse)
		assert.Equal(t, models.AgentTypeDefault, result.FinalAgent)
	})

	t.Run("seed context keys survive untouched", func(t *testing.T) {
		r := NewRegistry()
		r.Register(echoAgent(models.AgentTypeDefault, "ответ", 1))
		e := NewExecutor(r)

		seed := map[string]any{
			models.ContextProfileSummary: "Имя: Иван",
			models.ContextMemory:         "снимок памяти",
		}
		plan := models.SingleStepPlan(models.AgentTypeDefault, "")
		result, err := e.Execute(ctx, plan, "вопрос", nil, seed)
		require.NoError(t, err)

		assert.Equal(t, "Имя: Иван", result.Context[models.ContextProfileSummary])
		assert.Equal(t, "снимок памяти", result.Context[models.ContextMemory])
		// The caller's map itself is never mutated.
		assert.NotContains(t, seed, models.ContextPreviousOutput)
	})

	t.Run("custom input transform prefixes the message", func(t *testing.T) {
		r := NewRegistry()
		var got string
		r.Register(&stubAgent{
			agentType: models.AgentTypeDefault,
			process: func(_ context.Context, message string, _ map[string]any, _ []models.Message) (*models.AgentResult, error) {
				got = message
				return &models.AgentResult{Response: "ок", AgentType: models.AgentTypeDefault}, nil
			},
		})
		e := NewExecutor(r)

		plan := &models.ExecutionPlan{Steps: []models.PlanStep{
			{AgentType: models.AgentTypeDefault, InputTransform: "Ответь одним словом."},
		}}
		_, err := e.Execute(ctx, plan, "сложный вопрос", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "Ответь одним словом.\n\nсложный вопрос", got)
	})

	t.Run("empty plan yields apology", func(t *testing.T) {
		e := NewExecutor(NewRegistry())

		result, err := e.Execute(ctx, &models.ExecutionPlan{}, "вопрос", nil, nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, ApologyResponse, result.FinalResponse)
	})

	t.Run("cancelled context surfaces as error", func(t *testing.T) {
		r := NewRegistry()
		r.Register(echoAgent(models.AgentTypeDefault, "ответ", 1))
		e := NewExecutor(r)

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		plan := models.SingleStepPlan(models.AgentTypeDefault, "")
		result, err := e.Execute(cancelled, plan, "вопрос", nil, nil)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStepInput(t *testing.T) {
	completed := []models.StepExecution{
		{
			Index:  0,
			Status: models.StepStatusCompleted,
			Result: &models.AgentResult{Response: "вывод нулевого"},
		},
	}

	t.Run("dependency response wins", func(t *testing.T) {
		step := models.PlanStep{DependsOn: intPtr(0), InputTransform: models.InputTransformPrevious}
		assert.Equal(t, "вывод нулевого", stepInput(step, "исходное", completed, nil))
	})

	t.Run("failed dependency falls through to original", func(t *testing.T) {
		failed := []models.StepExecution{{Status: models.StepStatusFailed}}
		step := models.PlanStep{DependsOn: intPtr(0)}
		assert.Equal(t, "исходное", stepInput(step, "исходное", failed, nil))
	})

	t.Run("previous transform uses last completion", func(t *testing.T) {
		last := &models.StepExecution{Result: &models.AgentResult{Response: "недавний"}}
		step := models.PlanStep{InputTransform: models.InputTransformPrevious}
		assert.Equal(t, "недавний", stepInput(step, "исходное", nil, last))
	})

	t.Run("previous transform without completions falls back", func(t *testing.T) {
		step := models.PlanStep{InputTransform: models.InputTransformPrevious}
		assert.Equal(t, "исходное", stepInput(step, "исходное", nil, nil))
	})
}
