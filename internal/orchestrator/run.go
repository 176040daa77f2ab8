package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/engine"
	"github.com/shaiso/Cascade/internal/events"
	"github.com/shaiso/Cascade/internal/steps"
	"github.com/shaiso/Cascade/internal/telemetry"
)

// stepResult — результат выполнения одного шага, отправляемый
// горутиной шага в цикл выполнения.
type stepResult struct {
	node      *engine.Node
	result    *steps.Result
	err       error
	attempt   int
	cancelled bool
}

// run — цикл выполнения одного pipeline.
//
// Единственная горутина, мутирующая состояние выполнения: все события
// публикуются отсюда, поэтому их порядок строго соответствует порядку
// переходов состояний. Шаги выполняются в дочерних горутинах и
// возвращают результаты через канал.
func (e *Engine) run(state *runState) {
	defer func() {
		if r := recover(); r != nil {
			e.abortRun(state, r)
		}
	}()

	exec := state.Execution
	def := state.Definition

	concurrency := def.Settings.EffectiveConcurrency()
	backoff := e.retryBackoff
	if def.Settings.RetryBackoffMs > 0 {
		backoff = time.Duration(def.Settings.RetryBackoffMs) * time.Millisecond
	}

	state.mu.Lock()
	exec.MarkRunning()
	state.mu.Unlock()
	e.persistExecution(exec)
	telemetry.ExecutionsStarted.Inc()

	e.emit(state, events.Event{
		Type:       events.TypeStarted,
		TotalSteps: state.DAG.Size(),
	})

	// Отключённые шаги пропускаются до начала диспетчеризации
	for _, node := range state.DAG.Order {
		if !node.Step.IsEnabled() {
			e.skipStep(state, node)
		}
	}
	e.propagateSkips(state)

	resultCh := make(chan stepResult)
	running := 0
	failed := false
	fault := false
	timedOut := false
	var failure error

	// Глобальный таймаут pipeline ограничивает суммарное wall-clock
	// время выполнения, независимо от таймаутов отдельных попыток.
	var deadline <-chan time.Time
	if def.Settings.TimeoutSec > 0 {
		timer := time.NewTimer(time.Duration(def.Settings.TimeoutSec) * time.Second)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		// Диспетчеризация готовых шагов в объявленном порядке,
		// пока не исчерпан лимит параллелизма. Неуспех шага не
		// останавливает диспетчеризацию: он блокирует только шаги,
		// зависящие от него, через гейтинг ReadyNodes.
		if !fault && !state.IsCancelled() {
			for _, node := range state.DAG.ReadyNodes(state.Statuses()) {
				if running >= concurrency {
					break
				}
				e.dispatch(state, node, resultCh, backoff)
				running++
			}
		}

		if running == 0 {
			break
		}

		select {
		case res := <-resultCh:
			running--

			switch {
			case res.cancelled:
				state.SetStatus(res.node.ID, domain.StepCancelled)
				se := state.StepExec(res.node.ID)
				se.MarkCancelled()
				e.persistStep(se)

			case res.err != nil:
				e.failStep(state, res)
				if !failed {
					failed = true
					failure = fmt.Errorf("step %s failed: %w", res.node.Step.DisplayName(), res.err)
				}
				if errors.Is(res.err, ErrEngineFault) {
					// Внутренний сбой фатален для всего выполнения:
					// новые шаги не диспетчеризуются, retry в полёте
					// останавливаются.
					fault = true
					failure = fmt.Errorf("%w in step %s", ErrEngineFault, res.node.Step.DisplayName())
					state.Cancel()
				}

			default:
				e.completeStep(state, res)
				e.propagateSkips(state)
			}

		case <-deadline:
			// Шаги в полёте завершают текущую попытку, новые не стартуют.
			deadline = nil
			timedOut = true
			failed = true
			failure = fmt.Errorf("pipeline timeout of %ds exceeded", def.Settings.TimeoutSec)
			state.Cancel()
		}
	}

	// Отмена по таймауту или внутреннему сбою финализируется как FAILED,
	// а не CANCELLED: отмену запросил не вызывающий.
	cancelled := state.IsCancelled() && !timedOut && !fault
	e.finalize(state, cancelled, failed, failure)
}

// abortRun — аварийная финализация после panic в цикле выполнения.
// Нарушение внутреннего инварианта фатально для выполнения,
// но не для процесса.
func (e *Engine) abortRun(state *runState, cause any) {
	e.logger.Error("run loop panic",
		"execution_id", state.ExecutionID(),
		"panic", cause,
	)
	if state.Finished() {
		return
	}

	state.mu.Lock()
	state.Execution.MarkFailed("internal engine error")
	state.mu.Unlock()

	e.emit(state, events.Event{
		Type:  events.TypeFailed,
		Error: "internal engine error",
	})
	e.persistExecution(state.Execution)

	telemetry.ExecutionsFinished.WithLabelValues(string(domain.StatusFailed)).Inc()

	state.Stream.Close()
	state.MarkFinished()
}

// dispatch запускает шаг: публикует step_started и стартует горутину
// с retry циклом.
func (e *Engine) dispatch(state *runState, node *engine.Node, resultCh chan<- stepResult, backoff time.Duration) {
	inputs, inputOrder := e.buildInputs(state, node)

	state.SetStatus(node.ID, domain.StepRunning)
	se := state.StepExec(node.ID)
	se.MarkRunning(inputs)
	e.persistStep(se)

	started := events.Event{
		Type:      events.TypeStepStarted,
		StepID:    node.ID,
		StepName:  node.Step.DisplayName(),
		StepIndex: node.Pos + 1,
	}
	if state.Debug {
		started.Input = inputs
	}
	e.emit(state, started)

	step := node.Step
	timeout := e.stepTimeout
	if state.Definition.Settings.StepTimeoutSec > 0 {
		timeout = time.Duration(state.Definition.Settings.StepTimeoutSec) * time.Second
	}
	if step.TimeoutSec > 0 {
		timeout = time.Duration(step.TimeoutSec) * time.Second
	}

	go func() {
		resultCh <- e.runStep(state, node, inputs, inputOrder, timeout, backoff)
	}()
}

// runStep выполняет попытки шага с фиксированным backoff.
//
// Шаг выполняется не более retry_count+1 раз. Отмена выполнения
// не прерывает попытку в полёте, но запрещает последующие.
func (e *Engine) runStep(state *runState, node *engine.Node, inputs map[string]any, inputOrder []string, timeout, backoff time.Duration) stepResult {
	impl, err := e.registry.Get(node.Step.Type)
	if err != nil {
		return stepResult{node: node, err: err, attempt: 1}
	}

	req := &steps.Request{
		StepID:     node.ID,
		Name:       node.Step.DisplayName(),
		Config:     node.Step.Config,
		Inputs:     inputs,
		InputOrder: inputOrder,
		Context:    state.Context,
		Timeout:    timeout,
	}

	maxAttempts := node.Step.RetryCount + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempt := 0

	for attempt < maxAttempts {
		if attempt > 0 {
			telemetry.StepRetries.WithLabelValues(string(node.Step.Type)).Inc()
			select {
			case <-time.After(backoff):
			case <-state.cancelCh:
			}
		}
		if state.IsCancelled() && attempt > 0 {
			// Первая попытка всегда стартует: отмена между попытками
			// останавливает retry, шаг считается отменённым.
			return stepResult{node: node, attempt: attempt, cancelled: true}
		}
		attempt++

		started := time.Now()
		result, err := executeAttempt(impl, req)
		telemetry.StepDuration.WithLabelValues(string(node.Step.Type)).Observe(time.Since(started).Seconds())

		if err == nil {
			return stepResult{node: node, result: result, attempt: attempt}
		}
		lastErr = err

		// Ошибки привязки входов и конфигурации не лечатся повтором;
		// panic исполнителя фатален для всего выполнения.
		if errors.Is(err, engine.ErrUnresolvedPath) || errors.Is(err, steps.ErrInvalidConfig) || errors.Is(err, ErrEngineFault) {
			break
		}
	}

	return stepResult{node: node, err: lastErr, attempt: attempt}
}

// executeAttempt выполняет одну попытку шага, перехватывая panic
// исполнителя: авария внутри шага не должна ронять процесс.
func executeAttempt(impl steps.Step, req *steps.Request) (result *steps.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: step executor panic: %v", ErrEngineFault, r)
		}
	}()
	return impl.Execute(context.Background(), req)
}

// buildInputs собирает входы шага из connections и, для merge,
// из outputs завершённых зависимостей.
func (e *Engine) buildInputs(state *runState, node *engine.Node) (map[string]any, []string) {
	inputs := make(map[string]any)
	var inputOrder []string

	if node.Step.Type == domain.StepTypeMerge {
		deps := make([]*engine.Node, len(node.DependsOn))
		copy(deps, node.DependsOn)
		sort.Slice(deps, func(i, j int) bool { return deps[i].Pos < deps[j].Pos })

		for _, dep := range deps {
			inputOrder = append(inputOrder, dep.ID)
			if state.Status(dep.ID) != domain.StepCompleted {
				continue
			}
			if out, ok := state.Context.StepOutput(dep.ID); ok {
				inputs[dep.ID] = out
			}
		}
	}

	for _, conn := range state.Definition.ConnectionsTo(node.ID) {
		if state.Status(conn.SourceStep) != domain.StepCompleted {
			continue
		}
		out, ok := state.Context.StepOutput(conn.SourceStep)
		if !ok {
			continue
		}
		if v, exists := out[conn.Output]; exists {
			inputs[conn.Input] = v
		} else {
			inputs[conn.Input] = out
		}
	}

	return inputs, inputOrder
}

// completeStep фиксирует успешное завершение шага.
func (e *Engine) completeStep(state *runState, res stepResult) {
	node := res.node
	result := res.result

	state.SetStatus(node.ID, domain.StepCompleted)
	state.Context.SetStepOutput(node.ID, result.Output)

	se := state.StepExec(node.ID)
	se.Attempt = res.attempt
	se.MarkCompleted(result.Output, result.Cost, result.TokensUsed)
	e.persistStep(se)

	state.mu.Lock()
	state.Execution.AddUsage(result.Cost, result.TokensUsed)
	state.Execution.StepsCompleted++
	state.mu.Unlock()

	if result.TokensUsed > 0 {
		telemetry.TokensUsed.Add(float64(result.TokensUsed))
	}
	if result.Cost > 0 {
		telemetry.CostTotal.Add(result.Cost)
	}

	e.emit(state, events.Event{
		Type:            events.TypeStepCompleted,
		StepID:          node.ID,
		StepName:        node.Step.DisplayName(),
		StepIndex:       node.Pos + 1,
		Attempt:         res.attempt,
		Output:          result.Output,
		Cost:            result.Cost,
		TokensUsed:      result.TokensUsed,
		ExecutionTimeMs: se.Duration().Milliseconds(),
	})

	if node.Step.Type == domain.StepTypeCondition {
		e.applyBranching(state, node, result)
	}
}

// failStep фиксирует неуспех шага после всех попыток.
// На шаг публикуется ровно одно step_failed событие.
func (e *Engine) failStep(state *runState, res stepResult) {
	node := res.node

	state.SetStatus(node.ID, domain.StepFailed)

	se := state.StepExec(node.ID)
	se.Attempt = res.attempt
	se.MarkFailed(res.err.Error())
	e.persistStep(se)

	e.emit(state, events.Event{
		Type:            events.TypeStepFailed,
		StepID:          node.ID,
		StepName:        node.Step.DisplayName(),
		StepIndex:       node.Pos + 1,
		Attempt:         res.attempt,
		Error:           res.err.Error(),
		ExecutionTimeMs: se.Duration().Milliseconds(),
	})

	e.logger.Warn("step failed",
		"execution_id", state.ExecutionID(),
		"step_id", node.ID,
		"attempts", res.attempt,
		"error", res.err,
	)
}

// applyBranching пропускает шаги невыбранной ветки condition шага.
func (e *Engine) applyBranching(state *runState, node *engine.Node, result *steps.Result) {
	conditionResult, _ := result.Output["result"].(bool)

	// Пропускается невыбранная ветка
	toSkip := node.Step.TrueBranch
	if conditionResult {
		toSkip = node.Step.FalseBranch
	}

	for _, id := range toSkip {
		target := state.DAG.GetNode(id)
		if target == nil {
			continue
		}
		if state.Status(id) == domain.StepPending {
			e.skipStep(state, target)
		}
	}
	e.propagateSkips(state)
}

// skipStep помечает шаг пропущенным и публикует step_skipped.
func (e *Engine) skipStep(state *runState, node *engine.Node) {
	state.SetStatus(node.ID, domain.StepSkipped)

	se := state.StepExec(node.ID)
	se.MarkSkipped()
	e.persistStep(se)

	e.emit(state, events.Event{
		Type:      events.TypeStepSkipped,
		StepID:    node.ID,
		StepName:  node.Step.DisplayName(),
		StepIndex: node.Pos + 1,
	})
}

// propagateSkips пропускает шаги, все зависимости которых пропущены.
//
// Шаг с хотя бы одной завершённой зависимостью выполняется (merge
// после частично пропущенных веток); шаг, все пути к которому
// пропущены, не имеет входов и пропускается сам.
func (e *Engine) propagateSkips(state *runState) {
	for {
		changed := false
		statuses := state.Statuses()

		for _, node := range state.DAG.Order {
			if statuses[node.ID] != domain.StepPending || len(node.DependsOn) == 0 {
				continue
			}

			allSkipped := true
			for _, dep := range node.DependsOn {
				if statuses[dep.ID] != domain.StepSkipped {
					allSkipped = false
					break
				}
			}
			if allSkipped {
				e.skipStep(state, node)
				changed = true
			}
		}

		if !changed {
			return
		}
	}
}

// finalize переводит выполнение в терминальный статус и закрывает поток.
func (e *Engine) finalize(state *runState, cancelled, failed bool, failure error) {
	exec := state.Execution
	statuses := state.Statuses()

	switch {
	case cancelled:
		// Недиспетчеризованные шаги отменяются
		for _, node := range state.DAG.Order {
			if statuses[node.ID] == domain.StepPending {
				state.SetStatus(node.ID, domain.StepCancelled)
				se := state.StepExec(node.ID)
				se.MarkCancelled()
				e.persistStep(se)
			}
		}

		state.mu.Lock()
		exec.MarkCancelled()
		state.mu.Unlock()

		e.emit(state, events.Event{
			Type:           events.TypeCancelled,
			Cost:           exec.TotalCost,
			TokensUsed:     exec.TotalTokens,
			StepsCompleted: exec.StepsCompleted,
		})

	case failed:
		state.mu.Lock()
		exec.MarkFailed(failure.Error())
		state.mu.Unlock()

		e.emit(state, events.Event{
			Type:           events.TypeFailed,
			Error:          failure.Error(),
			Cost:           exec.TotalCost,
			TokensUsed:     exec.TotalTokens,
			StepsCompleted: exec.StepsCompleted,
		})

	default:
		finalOutput := e.collectFinalOutput(state, statuses)

		state.mu.Lock()
		exec.MarkCompleted(finalOutput)
		state.mu.Unlock()

		e.emit(state, events.Event{
			Type:           events.TypeCompleted,
			Cost:           exec.TotalCost,
			TokensUsed:     exec.TotalTokens,
			StepsCompleted: exec.StepsCompleted,
			FinalOutput:    finalOutput,
		})
	}

	e.persistExecution(exec)

	telemetry.ExecutionsFinished.WithLabelValues(string(exec.Status)).Inc()
	telemetry.ExecutionDuration.Observe(exec.Duration().Seconds())

	state.Stream.Close()
	state.MarkFinished()

	e.logger.Info("execution finished",
		"execution_id", exec.ID,
		"status", exec.Status,
		"steps_completed", exec.StepsCompleted,
		"total_cost", exec.TotalCost,
		"total_tokens", exec.TotalTokens,
		"duration", exec.Duration(),
	)
}

// collectFinalOutput собирает итоговый результат: outputs завершённых
// листовых шагов.
func (e *Engine) collectFinalOutput(state *runState, statuses map[string]domain.StepStatus) map[string]any {
	finalOutput := make(map[string]any)
	for _, leaf := range state.DAG.LeafNodes() {
		if statuses[leaf.ID] != domain.StepCompleted {
			continue
		}
		if out, ok := state.Context.StepOutput(leaf.ID); ok {
			finalOutput[leaf.ID] = out
		}
	}
	return finalOutput
}

// emit публикует событие в поток выполнения и глобальные sinks.
func (e *Engine) emit(state *runState, event events.Event) {
	event.ExecutionID = state.Execution.ID
	event.PipelineID = state.Execution.PipelineID

	published := state.Stream.Publish(event)

	for _, sink := range e.sinks {
		if err := sink.Deliver(published); err != nil {
			e.logger.Warn("event sink delivery failed",
				"execution_id", published.ExecutionID,
				"event_type", published.Type,
				"error", err,
			)
		}
	}
}

// persistExecution сохраняет запись выполнения в хранилище.
func (e *Engine) persistExecution(exec *domain.PipelineExecution) {
	if e.store == nil {
		return
	}
	if err := e.store.UpdateExecution(context.Background(), exec); err != nil {
		e.logger.Error("failed to persist execution", "execution_id", exec.ID, "error", err)
	}
}

// persistStep сохраняет запись шага в хранилище.
func (e *Engine) persistStep(se *domain.StepExecution) {
	if e.store == nil {
		return
	}
	if err := e.store.UpdateStepExecution(context.Background(), se); err != nil {
		e.logger.Error("failed to persist step execution", "step_id", se.StepID, "error", err)
	}
}
