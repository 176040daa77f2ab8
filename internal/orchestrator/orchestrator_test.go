package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/events"
	"github.com/shaiso/Cascade/internal/steps"
)

// fakeStep — управляемый шаг для тестов.
type fakeStep struct {
	typ domain.StepType
	fn  func(ctx context.Context, req *steps.Request) (*steps.Result, error)
}

func (f *fakeStep) Type() domain.StepType { return f.typ }

func (f *fakeStep) Execute(ctx context.Context, req *steps.Request) (*steps.Result, error) {
	return f.fn(ctx, req)
}

// testEngine создаёт Engine с управляемым http шагом и настоящими
// condition/merge/transform шагами.
func testEngine(httpFn func(ctx context.Context, req *steps.Request) (*steps.Result, error)) *Engine {
	registry := steps.NewRegistry()
	registry.Register(&fakeStep{typ: domain.StepTypeHTTP, fn: httpFn})
	registry.Register(steps.NewConditionStep())
	registry.Register(steps.NewMergeStep())
	registry.Register(steps.NewTransformStep())

	return New(Config{
		Registry:     registry,
		RetryBackoff: 5 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func echoStep(ctx context.Context, req *steps.Request) (*steps.Result, error) {
	return steps.NewResult(map[string]any{"step": req.StepID}), nil
}

func waitDone(t *testing.T, e *Engine, id uuid.UUID) *domain.PipelineExecution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exec, err := e.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	return exec
}

func drainEvents(e *Engine, id uuid.UUID) []events.Event {
	ch, err := e.Events(id)
	if err != nil {
		return nil
	}
	var collected []events.Event
	for event := range ch {
		collected = append(collected, event)
	}
	return collected
}

func TestExecute_LinearPipeline(t *testing.T) {
	e := testEngine(echoStep)

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
			{ID: "b", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"a"}},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	final := waitDone(t, e, exec.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (error: %s)", final.Status, final.Error)
	}
	if final.StepsCompleted != 2 {
		t.Errorf("expected 2 completed steps, got %d", final.StepsCompleted)
	}

	// Итоговый output — outputs листовых шагов
	if _, ok := final.FinalOutput["b"]; !ok {
		t.Errorf("final output should contain leaf step b, got %v", final.FinalOutput)
	}
	if _, ok := final.FinalOutput["a"]; ok {
		t.Error("final output should not contain non-leaf step a")
	}
}

func TestExecute_EventOrdering(t *testing.T) {
	e := testEngine(echoStep)

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
			{ID: "b", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"a"}},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	waitDone(t, e, exec.ID)

	collected := drainEvents(e, exec.ID)

	types := make([]events.Type, len(collected))
	for i, ev := range collected {
		types[i] = ev.Type
		if ev.Seq != int64(i+1) {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
	}

	want := []events.Type{
		events.TypeStarted,
		events.TypeStepStarted, events.TypeStepCompleted,
		events.TypeStepStarted, events.TypeStepCompleted,
		events.TypeCompleted,
	}
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(types), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestExecute_RetrySucceeds(t *testing.T) {
	var calls int32
	e := testEngine(func(ctx context.Context, req *steps.Request) (*steps.Result, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return nil, errors.New("transient failure")
		}
		return steps.NewResult(map[string]any{"ok": true}), nil
	})

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "flaky", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, RetryCount: 2},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	final := waitDone(t, e, exec.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}

	collected := drainEvents(e, exec.ID)
	var started, completed int
	for _, ev := range collected {
		switch ev.Type {
		case events.TypeStepStarted:
			started++
		case events.TypeStepCompleted:
			completed++
			if ev.Attempt != 3 {
				t.Errorf("step_completed should carry attempt 3, got %d", ev.Attempt)
			}
		}
	}
	// Ровно одно step_started на шаг, независимо от количества попыток
	if started != 1 || completed != 1 {
		t.Errorf("expected 1 step_started and 1 step_completed, got %d/%d", started, completed)
	}
}

func TestExecute_RetryExhausted(t *testing.T) {
	var calls int32
	e := testEngine(func(ctx context.Context, req *steps.Request) (*steps.Result, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("permanent failure")
	})

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "broken", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, RetryCount: 2},
			{ID: "after", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"broken"}},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	final := waitDone(t, e, exec.ID)
	if final.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", final.Status)
	}
	// retry_count+1 попыток
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}

	collected := drainEvents(e, exec.ID)
	var stepFailed int
	for _, ev := range collected {
		if ev.Type == events.TypeStepFailed {
			stepFailed++
		}
	}
	if stepFailed != 1 {
		t.Errorf("expected exactly one step_failed event, got %d", stepFailed)
	}

	// Зависимый шаг не должен был стартовать
	stepExecs, _ := e.StepExecutions(exec.ID)
	for _, se := range stepExecs {
		if se.StepID == "after" && se.Status != domain.StepPending {
			t.Errorf("dependent step should stay PENDING, got %s", se.Status)
		}
	}
}

func TestExecute_Cancellation(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	var bStarted atomic.Bool

	e := testEngine(func(ctx context.Context, req *steps.Request) (*steps.Result, error) {
		if req.StepID == "slow" {
			close(inFlight)
			<-release
			return steps.NewResult(map[string]any{"finished": true}), nil
		}
		bStarted.Store(true)
		return echoStep(ctx, req)
	})

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "slow", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
			{ID: "next", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"slow"}},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	<-inFlight
	if err := e.Cancel(exec.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	close(release)

	final := waitDone(t, e, exec.ID)
	if final.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", final.Status)
	}

	// Шаг в полёте должен был завершиться, следующий — не стартовать
	if bStarted.Load() {
		t.Error("next step should not start after cancellation")
	}

	stepExecs, _ := e.StepExecutions(exec.ID)
	for _, se := range stepExecs {
		switch se.StepID {
		case "slow":
			if se.Status != domain.StepCompleted {
				t.Errorf("in-flight step should finish, got %s", se.Status)
			}
		case "next":
			if se.Status != domain.StepCancelled {
				t.Errorf("pending step should be CANCELLED, got %s", se.Status)
			}
		}
	}
}

func TestExecute_ConditionBranching(t *testing.T) {
	e := testEngine(echoStep)

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Variables: []domain.VariableDef{
			{Name: "mode"},
		},
		Steps: []domain.StepDef{
			{ID: "check", Type: domain.StepTypeCondition,
				Config:      map[string]any{"operator": "eq", "value": "{{variables.mode}}", "operand": "full"},
				TrueBranch:  []string{"deep"},
				FalseBranch: []string{"shallow"}},
			{ID: "deep", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"check"}},
			{ID: "deep_post", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"deep"}},
			{ID: "shallow", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"check"}},
			{ID: "join", Type: domain.StepTypeMerge, Config: map[string]any{"strategy": "object"},
				DependsOn: []string{"deep_post", "shallow"}},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{
		Variables: map[string]any{"mode": "lite"},
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	final := waitDone(t, e, exec.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (error: %s)", final.Status, final.Error)
	}

	stepExecs, _ := e.StepExecutions(exec.ID)
	statuses := make(map[string]domain.StepStatus)
	for _, se := range stepExecs {
		statuses[se.StepID] = se.Status
	}

	// mode=lite → condition false → true_branch (deep) пропущена
	if statuses["deep"] != domain.StepSkipped {
		t.Errorf("deep should be SKIPPED, got %s", statuses["deep"])
	}
	// Шаг, зависящий только от пропущенного, тоже пропущен
	if statuses["deep_post"] != domain.StepSkipped {
		t.Errorf("deep_post should be SKIPPED, got %s", statuses["deep_post"])
	}
	if statuses["shallow"] != domain.StepCompleted {
		t.Errorf("shallow should be COMPLETED, got %s", statuses["shallow"])
	}
	// merge выполняется: SKIPPED удовлетворяет гейтинг
	if statuses["join"] != domain.StepCompleted {
		t.Errorf("join should be COMPLETED, got %s", statuses["join"])
	}

	// merge должен содержать только output завершённой ветки
	var joinOutput map[string]any
	for _, se := range stepExecs {
		if se.StepID == "join" {
			joinOutput = se.Output
		}
	}
	merged, ok := joinOutput["merged"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected merge output: %v", joinOutput)
	}
	if _, exists := merged["deep_post"]; exists {
		t.Error("merge should not include skipped branch output")
	}
	if _, exists := merged["shallow"]; !exists {
		t.Error("merge should include completed branch output")
	}
}

func TestExecute_CostAggregation(t *testing.T) {
	e := testEngine(func(ctx context.Context, req *steps.Request) (*steps.Result, error) {
		result := steps.NewResult(map[string]any{"step": req.StepID})
		result.Cost = 0.01
		result.TokensUsed = 100
		return result, nil
	})

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
			{ID: "b", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
			{ID: "c", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	final := waitDone(t, e, exec.ID)
	if final.TotalTokens != 300 {
		t.Errorf("expected 300 tokens, got %d", final.TotalTokens)
	}
	if final.TotalCost < 0.0299 || final.TotalCost > 0.0301 {
		t.Errorf("expected total cost 0.03, got %f", final.TotalCost)
	}
}

func TestExecute_ConcurrencyLimit(t *testing.T) {
	var current, peak int32
	var mu sync.Mutex

	e := testEngine(func(ctx context.Context, req *steps.Request) (*steps.Result, error) {
		n := atomic.AddInt32(&current, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return echoStep(ctx, req)
	})

	stepDefs := make([]domain.StepDef, 6)
	for i := range stepDefs {
		stepDefs[i] = domain.StepDef{
			ID:     fmt.Sprintf("s%d", i),
			Type:   domain.StepTypeHTTP,
			Config: map[string]any{"url": "x"},
		}
	}

	def := &domain.PipelineDefinition{
		ID:       uuid.New(),
		Steps:    stepDefs,
		Settings: domain.Settings{Concurrency: 2},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	waitDone(t, e, exec.ID)

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("concurrency limit exceeded: peak %d", peak)
	}
}

func TestExecute_DisabledStepSkipped(t *testing.T) {
	disabled := false
	e := testEngine(echoStep)

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "off", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, Enabled: &disabled},
			{ID: "on", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	final := waitDone(t, e, exec.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}

	stepExecs, _ := e.StepExecutions(exec.ID)
	for _, se := range stepExecs {
		if se.StepID == "off" && se.Status != domain.StepSkipped {
			t.Errorf("disabled step should be SKIPPED, got %s", se.Status)
		}
	}
}

func TestExecute_InvalidPipeline(t *testing.T) {
	e := testEngine(echoStep)

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"b"}},
			{ID: "b", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"a"}},
		},
	}

	_, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if !errors.Is(err, ErrInvalidPipeline) {
		t.Errorf("expected ErrInvalidPipeline, got %v", err)
	}
}

func TestExecute_DryRun(t *testing.T) {
	e := testEngine(func(ctx context.Context, req *steps.Request) (*steps.Result, error) {
		t.Error("dry run must not execute steps")
		return nil, errors.New("must not run")
	})

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
			{ID: "m", Type: domain.StepTypeModelCall,
				Config:    map[string]any{"prompt": "hi", "model": "gpt-4o-mini", "max_tokens": float64(500)},
				DependsOn: []string{"a"}},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{DryRun: true})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	final := waitDone(t, e, exec.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}
	if !final.DryRun {
		t.Error("execution should be marked dry_run")
	}
	if final.FinalOutput["total_steps"] != 2 {
		t.Errorf("unexpected total_steps: %v", final.FinalOutput["total_steps"])
	}
	if final.FinalOutput["critical_path_length"] != 2 {
		t.Errorf("unexpected critical path: %v", final.FinalOutput["critical_path_length"])
	}
	if final.FinalOutput["estimated_tokens"] != 500 {
		t.Errorf("unexpected estimated tokens: %v", final.FinalOutput["estimated_tokens"])
	}
}

func TestExecute_RequiredVariable(t *testing.T) {
	e := testEngine(echoStep)

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Variables: []domain.VariableDef{
			{Name: "topic", Required: true},
			{Name: "limit", Default: float64(10)},
		},
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
		},
	}

	// Обязательная переменная не передана
	_, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if !errors.Is(err, ErrInvalidPipeline) {
		t.Errorf("expected ErrInvalidPipeline, got %v", err)
	}

	// С переменной — default применяется
	exec, err := e.Execute(context.Background(), def, ExecuteOptions{
		Variables: map[string]any{"topic": "go"},
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	final := waitDone(t, e, exec.ID)
	if final.Variables["limit"] != float64(10) {
		t.Errorf("default variable not applied: %v", final.Variables)
	}
}

func TestCancel_NotFound(t *testing.T) {
	e := testEngine(echoStep)
	if err := e.Cancel(uuid.New()); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestCancel_AlreadyFinished(t *testing.T) {
	e := testEngine(echoStep)

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
		},
	}

	exec, _ := e.Execute(context.Background(), def, ExecuteOptions{})
	waitDone(t, e, exec.ID)

	if err := e.Cancel(exec.ID); !errors.Is(err, ErrExecutionFinished) {
		t.Errorf("expected ErrExecutionFinished, got %v", err)
	}
}

func TestSinkReceivesEvents(t *testing.T) {
	var mu sync.Mutex
	var delivered []events.Event

	sink := events.SinkFunc(func(ev events.Event) error {
		mu.Lock()
		delivered = append(delivered, ev)
		mu.Unlock()
		return nil
	})

	registry := steps.NewRegistry()
	registry.Register(&fakeStep{typ: domain.StepTypeHTTP, fn: echoStep})

	e := New(Config{
		Registry: registry,
		Sinks:    []events.Sink{sink},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
		},
	}

	exec, _ := e.Execute(context.Background(), def, ExecuteOptions{})
	waitDone(t, e, exec.ID)

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 4 {
		t.Errorf("expected 4 events in sink, got %d", len(delivered))
	}
	if delivered[len(delivered)-1].Type != events.TypeCompleted {
		t.Errorf("last sink event should be completed, got %s", delivered[len(delivered)-1].Type)
	}
}

func TestExecute_DebugModeEventPayloads(t *testing.T) {
	e := testEngine(echoStep)

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
			{ID: "b", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"a"}},
		},
		Connections: []domain.Connection{
			{SourceStep: "a", Output: "step", TargetStep: "b", Input: "prev"},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{DebugMode: true})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	waitDone(t, e, exec.ID)

	collected := drainEvents(e, exec.ID)

	for _, ev := range collected {
		switch ev.Type {
		case events.TypeStarted:
			if ev.TotalSteps != 2 {
				t.Errorf("started event total_steps = %d, want 2", ev.TotalSteps)
			}
		case events.TypeStepStarted:
			if ev.StepName == "" {
				t.Errorf("step_started for %s has no step_name", ev.StepID)
			}
			// В debug режиме событие несёт разрешённые входы
			if ev.StepID == "b" {
				if ev.Input == nil {
					t.Error("debug mode should include resolved inputs for step b")
				} else if ev.Input["prev"] != "a" {
					t.Errorf("step b input prev = %v, want a", ev.Input["prev"])
				}
			}
		case events.TypeCompleted:
			if ev.StepsCompleted != 2 {
				t.Errorf("completed event steps_completed = %d, want 2", ev.StepsCompleted)
			}
			if _, ok := ev.FinalOutput["b"]; !ok {
				t.Errorf("completed event should carry final output, got %v", ev.FinalOutput)
			}
		}
	}
}

func TestExecute_EventsOmitInputsWithoutDebug(t *testing.T) {
	e := testEngine(echoStep)

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
		},
	}

	exec, _ := e.Execute(context.Background(), def, ExecuteOptions{})
	waitDone(t, e, exec.ID)

	for _, ev := range drainEvents(e, exec.ID) {
		if ev.Type == events.TypeStepStarted && ev.Input != nil {
			t.Errorf("step_started should not carry inputs without debug mode: %v", ev.Input)
		}
	}
}

func TestExecute_FailureDoesNotBlockIndependentSteps(t *testing.T) {
	e := testEngine(func(ctx context.Context, req *steps.Request) (*steps.Result, error) {
		if req.StepID == "doomed" {
			return nil, errors.New("boom")
		}
		return echoStep(ctx, req)
	})

	// doomed и solo независимы; after зависит от doomed.
	// Неуспех doomed блокирует только after: solo выполняется,
	// даже при лимите конкурентности 1.
	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "doomed", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
			{ID: "solo", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
			{ID: "after", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"doomed"}},
		},
		Settings: domain.Settings{Concurrency: 1},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	final := waitDone(t, e, exec.ID)
	if final.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", final.Status)
	}
	if final.StepsCompleted != 1 {
		t.Errorf("expected 1 completed step, got %d", final.StepsCompleted)
	}

	stepExecs, _ := e.StepExecutions(exec.ID)
	statuses := make(map[string]domain.StepStatus)
	for _, se := range stepExecs {
		statuses[se.StepID] = se.Status
	}
	if statuses["doomed"] != domain.StepFailed {
		t.Errorf("doomed should be FAILED, got %s", statuses["doomed"])
	}
	if statuses["solo"] != domain.StepCompleted {
		t.Errorf("independent step should still run, got %s", statuses["solo"])
	}
	if statuses["after"] != domain.StepPending {
		t.Errorf("dependent step should stay PENDING, got %s", statuses["after"])
	}
}

func TestExecute_PanickingExecutorContained(t *testing.T) {
	var calls int32
	e := testEngine(func(ctx context.Context, req *steps.Request) (*steps.Result, error) {
		if req.StepID == "boom" {
			atomic.AddInt32(&calls, 1)
			panic("executor bug")
		}
		return echoStep(ctx, req)
	})

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "boom", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, RetryCount: 2},
			{ID: "solo", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
		},
		Settings: domain.Settings{Concurrency: 1},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	final := waitDone(t, e, exec.ID)
	if final.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", final.Status)
	}
	if !strings.Contains(final.Error, "internal engine fault") {
		t.Errorf("unexpected failure message: %q", final.Error)
	}

	// Panic исполнителя не лечится повтором
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}

	// Внутренний сбой останавливает диспетчеризацию целиком
	stepExecs, _ := e.StepExecutions(exec.ID)
	for _, se := range stepExecs {
		switch se.StepID {
		case "boom":
			if se.Status != domain.StepFailed {
				t.Errorf("boom should be FAILED, got %s", se.Status)
			}
		case "solo":
			if se.Status == domain.StepCompleted || se.Status == domain.StepRunning {
				t.Errorf("solo should not run after engine fault, got %s", se.Status)
			}
		}
	}

	var stepFailed int
	for _, ev := range drainEvents(e, exec.ID) {
		if ev.Type == events.TypeStepFailed {
			stepFailed++
		}
	}
	if stepFailed != 1 {
		t.Errorf("expected exactly one step_failed event, got %d", stepFailed)
	}
}

func TestExecute_GlobalTimeout(t *testing.T) {
	e := testEngine(func(ctx context.Context, req *steps.Request) (*steps.Result, error) {
		time.Sleep(800 * time.Millisecond)
		return echoStep(ctx, req)
	})

	// Три последовательных шага по 800ms при глобальном таймауте 1s:
	// шаг в полёте завершает попытку, третий не стартует.
	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
			{ID: "b", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"a"}},
			{ID: "c", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}, DependsOn: []string{"b"}},
		},
		Settings: domain.Settings{TimeoutSec: 1},
	}

	start := time.Now()
	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	final := waitDone(t, e, exec.ID)
	elapsed := time.Since(start)

	if final.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", final.Status)
	}
	if !strings.Contains(final.Error, "timeout") {
		t.Errorf("failure message should mention timeout, got %q", final.Error)
	}
	if elapsed >= 2200*time.Millisecond {
		t.Errorf("execution should stop at the deadline, took %s", elapsed)
	}

	stepExecs, _ := e.StepExecutions(exec.ID)
	for _, se := range stepExecs {
		if se.StepID == "c" && se.Status != domain.StepPending {
			t.Errorf("step past the deadline should stay PENDING, got %s", se.Status)
		}
	}
}

func TestActiveCount(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})

	e := testEngine(func(ctx context.Context, req *steps.Request) (*steps.Result, error) {
		close(inFlight)
		<-release
		return echoStep(ctx, req)
	})

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	<-inFlight
	if n := e.ActiveCount(); n != 1 {
		t.Errorf("expected 1 active execution, got %d", n)
	}

	close(release)
	waitDone(t, e, exec.ID)

	if n := e.ActiveCount(); n != 0 {
		t.Errorf("expected 0 active executions, got %d", n)
	}
}

func TestExecute_BranchTargetWaitsForCondition(t *testing.T) {
	var fRuns int32
	e := testEngine(func(ctx context.Context, req *steps.Request) (*steps.Result, error) {
		if req.StepID == "f" {
			atomic.AddInt32(&fRuns, 1)
		}
		return echoStep(ctx, req)
	})

	// Цели веток не объявляют depends_on: гейтинг обеспечивают
	// неявные рёбра condition → цель, иначе невыбранная ветка
	// стартовала бы в первом слое до вычисления условия.
	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Variables: []domain.VariableDef{
			{Name: "mode"},
		},
		Steps: []domain.StepDef{
			{ID: "check", Type: domain.StepTypeCondition,
				Config:      map[string]any{"operator": "eq", "value": "{{variables.mode}}", "operand": "full"},
				TrueBranch:  []string{"t"},
				FalseBranch: []string{"f"}},
			{ID: "t", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
			{ID: "f", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
		},
	}

	exec, err := e.Execute(context.Background(), def, ExecuteOptions{
		Variables: map[string]any{"mode": "full"},
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	final := waitDone(t, e, exec.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (error: %s)", final.Status, final.Error)
	}

	stepExecs, _ := e.StepExecutions(exec.ID)
	statuses := make(map[string]domain.StepStatus)
	for _, se := range stepExecs {
		statuses[se.StepID] = se.Status
	}
	if statuses["t"] != domain.StepCompleted {
		t.Errorf("selected branch should be COMPLETED, got %s", statuses["t"])
	}
	if statuses["f"] != domain.StepSkipped {
		t.Errorf("unselected branch should be SKIPPED, got %s", statuses["f"])
	}
	if atomic.LoadInt32(&fRuns) != 0 {
		t.Error("unselected branch step must never execute")
	}
}

func TestSweep_EvictsExpired(t *testing.T) {
	e := testEngine(echoStep)
	e.retentionTTL = 10 * time.Millisecond

	def := &domain.PipelineDefinition{
		ID: uuid.New(),
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "x"}},
		},
	}

	exec, _ := e.Execute(context.Background(), def, ExecuteOptions{})
	waitDone(t, e, exec.ID)

	e.sweep(time.Now().Add(time.Hour))

	if _, err := e.Lookup(exec.ID); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("expired execution should be evicted, got %v", err)
	}
}
