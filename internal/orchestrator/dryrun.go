package orchestrator

import (
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/events"
	"github.com/shaiso/Cascade/internal/llm"
	"github.com/shaiso/Cascade/internal/steps"
)

// defaultEstimateTokens — оценка токенов ответа model_call шага,
// если max_tokens не задан.
const defaultEstimateTokens = 1024

// dryRun выполняет тестовый запуск: структура и оценка стоимости
// без вызова исполнителей.
//
// Выполнение сразу переводится в COMPLETED; итоговый output содержит
// оценку. События started и completed публикуются, как у обычного
// выполнения, чтобы подписчики работали одинаково.
func (e *Engine) dryRun(state *runState) {
	exec := state.Execution
	def := state.Definition

	estimate := e.estimate(state)

	state.mu.Lock()
	exec.MarkRunning()
	exec.MarkCompleted(estimate)
	state.mu.Unlock()

	e.emit(state, events.Event{
		Type:       events.TypeStarted,
		TotalSteps: state.DAG.Size(),
	})
	e.emit(state, events.Event{
		Type:        events.TypeCompleted,
		Cost:        0,
		TokensUsed:  0,
		FinalOutput: estimate,
	})

	e.persistExecution(exec)
	state.Stream.Close()
	state.MarkFinished()

	e.logger.Info("dry run finished",
		"execution_id", exec.ID,
		"pipeline_id", def.ID,
		"total_steps", state.DAG.Size(),
	)
}

// estimate строит оценку выполнения pipeline.
func (e *Engine) estimate(state *runState) map[string]any {
	def := state.Definition

	stepsByType := make(map[string]int)
	estimatedTokens := 0
	estimatedCost := 0.0

	for i := range def.Steps {
		step := &def.Steps[i]
		if !step.IsEnabled() {
			continue
		}
		stepsByType[string(step.Type)]++

		if step.Type != domain.StepTypeModelCall {
			continue
		}

		maxTokens := 0
		if v, ok := step.Config["max_tokens"]; ok {
			switch n := v.(type) {
			case int:
				maxTokens = n
			case float64:
				maxTokens = int(n)
			}
		}
		if maxTokens <= 0 {
			maxTokens = defaultEstimateTokens
		}

		model := ""
		if m, ok := step.Config["model"].(string); ok {
			model = m
		}
		if model == "" {
			model = steps.DefaultModel
		}

		estimatedTokens += maxTokens
		estimatedCost += llm.EstimateCost(model, 0, maxTokens)
	}

	executionOrder := make([]string, len(state.DAG.Order))
	for i, node := range state.DAG.Order {
		executionOrder[i] = node.ID
	}

	return map[string]any{
		"dry_run":              true,
		"total_steps":          state.DAG.Size(),
		"steps_by_type":        stepsByType,
		"execution_order":      executionOrder,
		"critical_path_length": state.DAG.CriticalPathLength(),
		"estimated_tokens":     estimatedTokens,
		"estimated_cost":       estimatedCost,
	}
}
