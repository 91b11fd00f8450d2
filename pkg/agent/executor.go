package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// ApologyResponse is the canonical user-facing reply when a turn cannot be
// served. Every failure path ends here instead of leaking an error upstream.
const ApologyResponse = "Извините, при обработке вашего запроса произошла ошибка. " +
	"Попробуйте переформулировать вопрос или повторить попытку позже."

// Executor runs execution plans: steps are grouped into dependency levels,
// levels run in sequence, steps inside a level run concurrently. The
// accumulated context is only mutated between levels, so parallel steps see
// an immutable snapshot.
type Executor struct {
	registry *Registry
}

// NewExecutor creates a plan executor over the registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// stepJob is one step scheduled to run in the current level.
type stepJob struct {
	index    int
	step     models.PlanStep
	agent    Agent
	fallback bool
	input    string
	snapshot map[string]any
}

// Execute runs the plan over the message. turnCtx seeds the accumulated
// context (memory snapshot, profile summary); the executor never overwrites
// those seed keys. The returned error is non-nil only for context
// cancellation — every domain failure is reported inside the PlanResult.
func (e *Executor) Execute(ctx context.Context, plan *models.ExecutionPlan, message string, history []models.Message, turnCtx map[string]any) (*models.PlanResult, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return &models.PlanResult{
			FinalResponse: ApologyResponse,
			FinalAgent:    models.AgentTypeDefault,
			Error:         "empty plan",
			Context:       cloneContext(turnCtx),
		}, nil
	}

	started := time.Now()
	accumulated := cloneContext(turnCtx)
	executions := newExecutions(plan.Steps)
	var lastCompleted *models.StepExecution

	for _, level := range groupLevels(plan.Steps) {
		jobs, abort := e.scheduleLevel(plan.Steps, level, message, executions, lastCompleted, accumulated)
		if abort != "" {
			return e.abortResult(plan, executions, accumulated, abort), nil
		}

		e.runLevel(ctx, jobs, history, executions)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Apply completions to the shared context in step-index order; a
		// required failure discards the whole level's outputs instead.
		for _, idx := range level {
			exec := &executions[idx]
			if exec.Status == models.StepStatusFailed && !plan.Steps[idx].IsOptional {
				slog.Warn("Required step failed, aborting plan",
					"step", idx,
					"agent", exec.AgentType,
					"error", exec.Error)
				return e.abortResult(plan, executions, accumulated,
					fmt.Sprintf("step %d (%s) failed: %s", idx, exec.AgentType, exec.Error)), nil
			}
		}
		for _, idx := range level {
			exec := &executions[idx]
			if exec.Status == models.StepStatusCompleted && exec.Result != nil {
				applyCompletion(accumulated, exec.Result)
				lastCompleted = exec
			}
		}
	}

	result := e.finalResult(executions, accumulated)
	slog.Debug("Plan executed",
		"steps", len(plan.Steps),
		"success", result.Success,
		"final_agent", result.FinalAgent,
		"duration_ms", time.Since(started).Milliseconds())
	return result, nil
}

// scheduleLevel resolves agents and inputs for every step of the level.
// Missing-agent policy: optional steps are recorded skipped; required steps
// fall back to the default agent; no default agent aborts the plan (returned
// as a non-empty abort reason).
func (e *Executor) scheduleLevel(steps []models.PlanStep, level []int, message string, executions []models.StepExecution, lastCompleted *models.StepExecution, accumulated map[string]any) ([]stepJob, string) {
	jobs := make([]stepJob, 0, len(level))
	for _, idx := range level {
		step := steps[idx]

		a, ok := e.registry.Get(step.AgentType)
		fallback := false
		if !ok {
			if step.IsOptional {
				executions[idx].Status = models.StepStatusSkipped
				executions[idx].Error = fmt.Sprintf("agent %q not registered", step.AgentType)
				slog.Debug("Optional step skipped, agent not registered",
					"step", idx, "agent", step.AgentType)
				continue
			}
			a = e.registry.Default()
			if a == nil {
				return nil, fmt.Sprintf("agent %q not registered and no default agent available", step.AgentType)
			}
			fallback = true
			slog.Warn("Agent not registered, substituting default",
				"step", idx, "agent", step.AgentType)
		}

		jobs = append(jobs, stepJob{
			index:    idx,
			step:     step,
			agent:    a,
			fallback: fallback,
			input:    stepInput(step, message, executions, lastCompleted),
			snapshot: cloneContext(accumulated),
		})
	}
	return jobs, ""
}

// runLevel executes the scheduled jobs, concurrently when there is more than
// one. Results land in the executions slice; runStep never panics the group.
func (e *Executor) runLevel(ctx context.Context, jobs []stepJob, history []models.Message, executions []models.StepExecution) {
	if len(jobs) == 0 {
		return
	}
	if len(jobs) == 1 {
		executions[jobs[0].index] = e.runStep(ctx, jobs[0], history)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			executions[job.index] = e.runStep(gctx, job, history)
			return nil
		})
	}
	// Workers only report through the executions slice.
	_ = g.Wait()
}

// runStep invokes one agent and records the outcome.
func (e *Executor) runStep(ctx context.Context, job stepJob, history []models.Message) models.StepExecution {
	exec := models.StepExecution{
		Index:     job.index,
		AgentType: job.agent.Type(),
		Fallback:  job.fallback,
	}

	result, err := job.agent.Process(ctx, job.input, job.snapshot, history)
	if err != nil {
		exec.Status = models.StepStatusFailed
		exec.Error = err.Error()
		slog.Warn("Step failed",
			"step", job.index,
			"agent", job.agent.Type(),
			"error", err)
		return exec
	}

	exec.Status = models.StepStatusCompleted
	exec.Result = result
	return exec
}

// abortResult closes out a plan that cannot continue: statuses so far are
// preserved, unreached steps are marked skipped, the user gets the apology.
func (e *Executor) abortResult(plan *models.ExecutionPlan, executions []models.StepExecution, accumulated map[string]any, reason string) *models.PlanResult {
	for i := range executions {
		if executions[i].Status == "" {
			executions[i].Status = models.StepStatusSkipped
			executions[i].Error = "plan aborted before this step"
		}
	}
	return &models.PlanResult{
		FinalResponse: ApologyResponse,
		FinalAgent:    models.AgentTypeDefault,
		Success:       false,
		Error:         reason,
		Steps:         executions,
		TokensUsed:    sumTokens(executions),
		Context:       accumulated,
	}
}

// finalResult selects the final response: the highest-indexed completed step
// wins, even when later optional steps failed or were skipped.
func (e *Executor) finalResult(executions []models.StepExecution, accumulated map[string]any) *models.PlanResult {
	result := &models.PlanResult{
		Steps:      executions,
		TokensUsed: sumTokens(executions),
		Context:    accumulated,
	}

	for i := len(executions) - 1; i >= 0; i-- {
		if executions[i].Status == models.StepStatusCompleted && executions[i].Result != nil {
			result.FinalResponse = executions[i].Result.Response
			result.FinalAgent = executions[i].Result.AgentType
			result.Success = true
			return result
		}
	}

	result.FinalResponse = ApologyResponse
	result.FinalAgent = models.AgentTypeDefault
	result.Error = "no step produced a result"
	return result
}

// groupLevels partitions steps into dependency levels. Level 0 holds every
// step without a dependency; each following level holds the steps whose
// dependency is already placed. Steps left over (dangling references or
// cycles) become singleton levels in declaration order so execution still
// terminates.
func groupLevels(steps []models.PlanStep) [][]int {
	placed := make([]bool, len(steps))
	var levels [][]int

	var first []int
	for i, step := range steps {
		if step.DependsOn == nil {
			first = append(first, i)
			placed[i] = true
		}
	}
	if len(first) > 0 {
		levels = append(levels, first)
	}

	for {
		var next []int
		for i, step := range steps {
			if placed[i] || step.DependsOn == nil {
				continue
			}
			dep := *step.DependsOn
			if dep >= 0 && dep < len(steps) && placed[dep] {
				next = append(next, i)
			}
		}
		if len(next) == 0 {
			break
		}
		// Placement happens after the scan so two dependent steps never
		// collapse into one level.
		for _, i := range next {
			placed[i] = true
		}
		levels = append(levels, next)
	}

	for i := range steps {
		if !placed[i] {
			levels = append(levels, []int{i})
		}
	}
	return levels
}

// stepInput picks what the step receives: its dependency's response when that
// step completed, else the most recent completion for the "previous"
// transform, else the original message. Any other transform value is treated
// as a literal instruction prefixed to the message.
func stepInput(step models.PlanStep, message string, executions []models.StepExecution, lastCompleted *models.StepExecution) string {
	if step.DependsOn != nil {
		dep := *step.DependsOn
		if dep >= 0 && dep < len(executions) {
			if ex := executions[dep]; ex.Status == models.StepStatusCompleted && ex.Result != nil {
				return ex.Result.Response
			}
		}
	}

	switch step.InputTransform {
	case models.InputTransformOriginal:
		return message
	case models.InputTransformPrevious:
		if lastCompleted != nil && lastCompleted.Result != nil {
			return lastCompleted.Result.Response
		}
		return message
	default:
		return step.InputTransform + "\n\n" + message
	}
}

// applyCompletion folds one completed step into the accumulated context.
// Search material is copied out of the step metadata so later steps can cite
// it without knowing which agent gathered it.
func applyCompletion(accumulated map[string]any, result *models.AgentResult) {
	accumulated[models.ContextPreviousOutput] = result.Response
	accumulated[models.ContextPreviousAgent] = string(result.AgentType)
	if result.Metadata != nil {
		accumulated[models.ContextPreviousMetadata] = result.Metadata
	}
	for _, key := range []string{models.MetaSearchResults, models.MetaSearchQueries, models.MetaSources} {
		if value := result.Meta(key); value != nil {
			accumulated[key] = value
		}
	}
}

// newExecutions pre-sizes the per-step records so parallel workers write
// disjoint slots.
func newExecutions(steps []models.PlanStep) []models.StepExecution {
	executions := make([]models.StepExecution, len(steps))
	for i, step := range steps {
		executions[i].Index = i
		executions[i].AgentType = step.AgentType
	}
	return executions
}

func sumTokens(executions []models.StepExecution) int {
	total := 0
	for _, exec := range executions {
		if exec.Result != nil {
			total += exec.Result.TokensUsed
		}
	}
	return total
}

func cloneContext(turnCtx map[string]any) map[string]any {
	cloned := make(map[string]any, len(turnCtx)+6)
	for key, value := range turnCtx {
		cloned[key] = value
	}
	return cloned
}
