package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/engine"
	"github.com/shaiso/Cascade/internal/events"
	"github.com/shaiso/Cascade/internal/steps"
)

// Значения конфигурации по умолчанию.
const (
	defaultStepTimeout   = 60 * time.Second
	defaultRetryBackoff  = 1 * time.Second
	defaultRetentionTTL  = 1 * time.Hour
	defaultSweepInterval = 1 * time.Minute
)

// ExecutionStore — персистентное хранилище выполнений.
//
// Реализуется repo.ExecutionRepo. Движок работает и без хранилища:
// тогда состояние живёт только в памяти до истечения retention TTL.
type ExecutionStore interface {
	// SaveExecution сохраняет новую запись выполнения.
	SaveExecution(ctx context.Context, exec *domain.PipelineExecution) error

	// UpdateExecution обновляет запись выполнения.
	UpdateExecution(ctx context.Context, exec *domain.PipelineExecution) error

	// SaveStepExecution сохраняет запись шага.
	SaveStepExecution(ctx context.Context, se *domain.StepExecution) error

	// UpdateStepExecution обновляет запись шага.
	UpdateStepExecution(ctx context.Context, se *domain.StepExecution) error
}

// Engine выполняет pipelines.
//
// Engine — центральный компонент системы, который:
//   - Валидирует определения pipeline
//   - Строит DAG и выполняет шаги с учётом зависимостей
//   - Ограничивает параллелизм согласно настройкам pipeline
//   - Выполняет retry с фиксированным backoff
//   - Агрегирует стоимость и токены
//   - Публикует упорядоченный поток событий каждого выполнения
type Engine struct {
	registry *steps.Registry
	store    ExecutionStore
	sinks    []events.Sink

	// Реестр активных и недавно завершённых выполнений.
	states map[uuid.UUID]*runState
	mu     sync.RWMutex

	stepTimeout  time.Duration
	retryBackoff time.Duration
	retentionTTL time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Engine.
type Config struct {
	// Registry — реестр типов шагов.
	Registry *steps.Registry

	// Store — персистентное хранилище выполнений (опционально).
	Store ExecutionStore

	// Sinks — глобальные получатели событий (опционально).
	Sinks []events.Sink

	// StepTimeout — таймаут одной попытки шага по умолчанию (default: 60s).
	StepTimeout time.Duration

	// RetryBackoff — фиксированная пауза между попытками (default: 1s).
	RetryBackoff time.Duration

	// RetentionTTL — сколько держать завершённое выполнение
	// в памяти (default: 1h).
	RetentionTTL time.Duration

	// Logger — структурированный логгер.
	Logger *slog.Logger
}

// New создаёт новый Engine.
func New(cfg Config) *Engine {
	stepTimeout := cfg.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}

	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}

	retentionTTL := cfg.RetentionTTL
	if retentionTTL <= 0 {
		retentionTTL = defaultRetentionTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		registry:     cfg.Registry,
		store:        cfg.Store,
		sinks:        cfg.Sinks,
		states:       make(map[uuid.UUID]*runState),
		stepTimeout:  stepTimeout,
		retryBackoff: retryBackoff,
		retentionTTL: retentionTTL,
		logger:       logger,
	}
}

// Start запускает фоновую уборку завершённых выполнений.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sweepLoop(ctx)
	}()

	e.logger.Info("engine started",
		"step_timeout", e.stepTimeout,
		"retention_ttl", e.retentionTTL,
	)
}

// Stop останавливает Engine: отменяет активные выполнения и ждёт
// завершения их горутин.
func (e *Engine) Stop() {
	e.stoppedMu.Lock()
	e.stopped = true
	e.stoppedMu.Unlock()

	e.logger.Info("stopping engine...")

	e.mu.RLock()
	for _, state := range e.states {
		state.Cancel()
	}
	e.mu.RUnlock()

	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.wg.Wait()

	e.logger.Info("engine stopped")
}

// IsStopped проверяет, остановлен ли Engine.
func (e *Engine) IsStopped() bool {
	e.stoppedMu.RLock()
	defer e.stoppedMu.RUnlock()
	return e.stopped
}

// Validate валидирует определение pipeline без выполнения.
func (e *Engine) Validate(def *domain.PipelineDefinition) *engine.ValidationResult {
	return engine.Validate(def)
}

// ExecuteOptions — параметры запуска выполнения.
type ExecuteOptions struct {
	// Variables — начальные переменные выполнения.
	Variables map[string]any

	// DryRun — не выполнять шаги, вернуть оценку структуры и стоимости.
	DryRun bool

	// DebugMode — включать разрешённые входы шагов в step_started события.
	DebugMode bool
}

// Execute запускает выполнение pipeline.
//
// Валидирует определение, строит DAG и запускает цикл выполнения
// в отдельной горутине. Возвращает запись выполнения сразу;
// прогресс доступен через Events и Lookup.
func (e *Engine) Execute(ctx context.Context, def *domain.PipelineDefinition, opts ExecuteOptions) (*domain.PipelineExecution, error) {
	if e.IsStopped() {
		return nil, ErrEngineStopped
	}

	validation := engine.Validate(def)
	if !validation.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPipeline, validation.Errors[0])
	}

	dag, err := engine.BuildDAG(def)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPipeline, err)
	}

	variables, err := resolveVariables(def, opts.Variables)
	if err != nil {
		return nil, err
	}

	exec := domain.NewPipelineExecution(def.ID, variables, dag.Size())
	exec.DryRun = opts.DryRun

	state := newRunState(exec, def, dag)
	state.Debug = opts.DebugMode

	e.mu.Lock()
	e.states[exec.ID] = state
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveExecution(ctx, exec); err != nil {
			e.logger.Error("failed to persist execution", "execution_id", exec.ID, "error", err)
		}
	}

	if opts.DryRun {
		e.dryRun(state)
		snapshot := state.ExecutionSnapshot()
		return &snapshot, nil
	}

	// Снимок берётся до старта горутины: цикл выполнения изменяет
	// запись конкурентно с чтением вызывающей стороной.
	snapshot := state.ExecutionSnapshot()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(state)
	}()

	e.logger.Info("execution started",
		"execution_id", exec.ID,
		"pipeline_id", def.ID,
		"total_steps", dag.Size(),
	)

	return &snapshot, nil
}

// Cancel запрашивает отмену выполнения.
//
// Шаг в полёте завершает текущую попытку; новые шаги и попытки
// не запускаются. Итоговый статус — CANCELLED.
func (e *Engine) Cancel(executionID uuid.UUID) error {
	state, err := e.state(executionID)
	if err != nil {
		return err
	}

	if !state.Cancel() {
		return ErrExecutionFinished
	}

	e.logger.Info("execution cancellation requested", "execution_id", executionID)
	return nil
}

// Lookup возвращает снимок записи выполнения.
func (e *Engine) Lookup(executionID uuid.UUID) (*domain.PipelineExecution, error) {
	state, err := e.state(executionID)
	if err != nil {
		return nil, err
	}
	snapshot := state.ExecutionSnapshot()
	return &snapshot, nil
}

// StepExecutions возвращает записи шагов выполнения в объявленном порядке.
func (e *Engine) StepExecutions(executionID uuid.UUID) ([]*domain.StepExecution, error) {
	state, err := e.state(executionID)
	if err != nil {
		return nil, err
	}
	return state.StepExecutions(), nil
}

// Events возвращает упорядоченный поток событий выполнения.
// Канал закрывается после терминального события.
func (e *Engine) Events(executionID uuid.UUID) (<-chan events.Event, error) {
	state, err := e.state(executionID)
	if err != nil {
		return nil, err
	}
	return state.Stream.Events(), nil
}

// Wait блокируется до финализации выполнения или отмены контекста.
func (e *Engine) Wait(ctx context.Context, executionID uuid.UUID) (*domain.PipelineExecution, error) {
	state, err := e.state(executionID)
	if err != nil {
		return nil, err
	}

	select {
	case <-state.Done():
		snapshot := state.ExecutionSnapshot()
		return &snapshot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveCount возвращает количество незавершённых выполнений.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count := 0
	for _, state := range e.states {
		if !state.Finished() {
			count++
		}
	}
	return count
}

// resolveVariables применяет значения по умолчанию и проверяет
// обязательные переменные pipeline.
func resolveVariables(def *domain.PipelineDefinition, provided map[string]any) (map[string]any, error) {
	variables := make(map[string]any, len(provided))
	for k, v := range provided {
		variables[k] = v
	}

	for _, decl := range def.Variables {
		if _, ok := variables[decl.Name]; ok {
			continue
		}
		if decl.Default != nil {
			variables[decl.Name] = decl.Default
			continue
		}
		if decl.Required {
			return nil, fmt.Errorf("%w: required variable %q not provided", ErrInvalidPipeline, decl.Name)
		}
	}

	return variables, nil
}

// state возвращает состояние выполнения из реестра.
func (e *Engine) state(executionID uuid.UUID) (*runState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, exists := e.states[executionID]
	if !exists {
		return nil, ErrExecutionNotFound
	}
	return state, nil
}

// sweepLoop периодически удаляет завершённые выполнения старше TTL.
func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(time.Now())
		}
	}
}

// sweep удаляет из реестра состояния, истёкшие по TTL.
func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, state := range e.states {
		if state.Expired(e.retentionTTL, now) {
			delete(e.states, id)
			e.logger.Debug("evicted finished execution", "execution_id", id)
		}
	}
}
