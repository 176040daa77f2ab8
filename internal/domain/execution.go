package domain

import (
	"time"

	"github.com/google/uuid"
)

// PipelineExecution — запись одного выполнения pipeline.
//
// Создаётся когда запускается выполнение, изменяется только
// оркестратором и становится неизменяемой после достижения
// терминального статуса (COMPLETED/FAILED/CANCELLED).
type PipelineExecution struct {
	// ID — уникальный идентификатор выполнения.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на выполняемый pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Status — текущий статус выполнения.
	Status ExecutionStatus `json:"status"`

	// Variables — начальные переменные, переданные при запуске.
	Variables map[string]any `json:"variables,omitempty"`

	// DryRun — флаг тестового запуска: валидация + оценка структуры
	// и стоимости, без вызова внешних исполнителей.
	DryRun bool `json:"dry_run,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// TotalCost — суммарная стоимость всех терминальных шагов.
	TotalCost float64 `json:"total_cost"`

	// TotalTokens — суммарное количество токенов всех терминальных шагов.
	TotalTokens int `json:"total_tokens"`

	// StepsCompleted — количество успешно завершённых шагов.
	StepsCompleted int `json:"steps_completed"`

	// TotalSteps — общее количество шагов в pipeline.
	TotalSteps int `json:"total_steps"`

	// FinalOutput — итоговый результат: outputs листовых шагов.
	// Отсутствует у неуспешного выполнения.
	FinalOutput map[string]any `json:"final_output,omitempty"`

	// Error — человекочитаемое описание ошибки при FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// NewPipelineExecution создаёт запись выполнения в статусе PENDING.
func NewPipelineExecution(pipelineID uuid.UUID, variables map[string]any, totalSteps int) *PipelineExecution {
	return &PipelineExecution{
		ID:         uuid.New(),
		PipelineID: pipelineID,
		Status:     StatusPending,
		Variables:  variables,
		TotalSteps: totalSteps,
		CreatedAt:  time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если выполнение ещё не завершено.
func (e *PipelineExecution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(*e.StartedAt)
}

// IsFinished возвращает true, если выполнение завершено.
func (e *PipelineExecution) IsFinished() bool {
	return e.Status.IsTerminal()
}

// AddUsage добавляет стоимость и токены терминального шага к агрегатам.
func (e *PipelineExecution) AddUsage(cost float64, tokens int) {
	e.TotalCost += cost
	e.TotalTokens += tokens
}

// MarkRunning переводит выполнение в статус RUNNING.
func (e *PipelineExecution) MarkRunning() {
	now := time.Now()
	e.Status = StatusRunning
	e.StartedAt = &now
}

// MarkCompleted переводит выполнение в статус COMPLETED с итоговым результатом.
func (e *PipelineExecution) MarkCompleted(finalOutput map[string]any) {
	now := time.Now()
	e.Status = StatusCompleted
	e.FinishedAt = &now
	e.FinalOutput = finalOutput
}

// MarkFailed переводит выполнение в статус FAILED с ошибкой.
func (e *PipelineExecution) MarkFailed(errMsg string) {
	now := time.Now()
	e.Status = StatusFailed
	e.FinishedAt = &now
	e.Error = errMsg
}

// MarkCancelled переводит выполнение в статус CANCELLED.
func (e *PipelineExecution) MarkCancelled() {
	now := time.Now()
	e.Status = StatusCancelled
	e.FinishedAt = &now
}

// StepExecution — запись выполнения одного шага.
//
// Создаётся при диспетчеризации шага, финализируется при достижении
// терминального статуса. Одна запись на пару (выполнение, шаг).
type StepExecution struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// ExecutionID — ссылка на родительское выполнение.
	ExecutionID uuid.UUID `json:"execution_id"`

	// StepID — ID шага из PipelineDefinition.
	StepID string `json:"step_id"`

	// Name — имя шага (копия StepDef.Name для удобства).
	Name string `json:"name,omitempty"`

	// Type — тип шага.
	Type StepType `json:"type"`

	// Index — порядковый номер шага в объявленном порядке.
	Index int `json:"index"`

	// Status — текущий статус шага.
	Status StepStatus `json:"status"`

	// Attempt — номер последней попытки (начиная с 1).
	Attempt int `json:"attempt"`

	// Input — снимок разрешённых входов шага.
	Input map[string]any `json:"input,omitempty"`

	// Output — выходные данные шага.
	Output map[string]any `json:"output,omitempty"`

	// Cost — стоимость выполнения шага.
	Cost float64 `json:"cost"`

	// TokensUsed — количество использованных токенов.
	TokensUsed int `json:"tokens_used"`

	// StartedAt — время начала первой попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — ошибка последней попытки при FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// NewStepExecution создаёт запись шага в статусе PENDING.
func NewStepExecution(executionID uuid.UUID, step *StepDef, index int) *StepExecution {
	return &StepExecution{
		ID:          uuid.New(),
		ExecutionID: executionID,
		StepID:      step.ID,
		Name:        step.Name,
		Type:        step.Type,
		Index:       index,
		Status:      StepPending,
		CreatedAt:   time.Now(),
	}
}

// Duration возвращает продолжительность выполнения шага.
func (s *StepExecution) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

// MarkRunning переводит шаг в статус RUNNING.
func (s *StepExecution) MarkRunning(input map[string]any) {
	now := time.Now()
	s.Status = StepRunning
	s.StartedAt = &now
	s.Input = input
}

// MarkCompleted переводит шаг в статус COMPLETED с результатами.
func (s *StepExecution) MarkCompleted(output map[string]any, cost float64, tokens int) {
	now := time.Now()
	s.Status = StepCompleted
	s.FinishedAt = &now
	s.Output = output
	s.Cost = cost
	s.TokensUsed = tokens
}

// MarkFailed переводит шаг в статус FAILED с ошибкой последней попытки.
func (s *StepExecution) MarkFailed(errMsg string) {
	now := time.Now()
	s.Status = StepFailed
	s.FinishedAt = &now
	s.Error = errMsg
}

// MarkSkipped переводит шаг в статус SKIPPED.
func (s *StepExecution) MarkSkipped() {
	now := time.Now()
	s.Status = StepSkipped
	s.FinishedAt = &now
}

// MarkCancelled переводит шаг в статус CANCELLED.
func (s *StepExecution) MarkCancelled() {
	now := time.Now()
	s.Status = StepCancelled
	s.FinishedAt = &now
}
