package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
)

// Pipeline DTOs

// PipelineResponse — ответ с pipeline.
// Определение возвращается целиком: редактору нужен весь граф.
type PipelineResponse struct {
	ID          uuid.UUID            `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Steps       []domain.StepDef     `json:"steps"`
	Connections []domain.Connection  `json:"connections,omitempty"`
	Variables   []domain.VariableDef `json:"variables,omitempty"`
	Settings    domain.Settings      `json:"settings"`
	CreatedAt   time.Time            `json:"created_at"`
}

// PipelineFromDomain конвертирует domain.PipelineDefinition в PipelineResponse.
func PipelineFromDomain(d domain.PipelineDefinition) PipelineResponse {
	return PipelineResponse{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Steps:       d.Steps,
		Connections: d.Connections,
		Variables:   d.Variables,
		Settings:    d.Settings,
		CreatedAt:   d.CreatedAt,
	}
}

// Execution DTOs

// ExecuteRequest — запрос на запуск выполнения.
type ExecuteRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
	DryRun    bool           `json:"dry_run,omitempty"`
	DebugMode bool           `json:"debug_mode,omitempty"`
}

// ExecuteInlineRequest — запрос на запуск выполнения с inline определением.
// Pipeline не сохраняется: используется редактором для тестовых прогонов.
type ExecuteInlineRequest struct {
	Pipeline  *domain.PipelineDefinition `json:"pipeline"`
	Variables map[string]any             `json:"variables,omitempty"`
	DryRun    bool                       `json:"dry_run,omitempty"`
	DebugMode bool                       `json:"debug_mode,omitempty"`
}

// ExecutionResponse — ответ с выполнением.
type ExecutionResponse struct {
	ID             uuid.UUID      `json:"id"`
	PipelineID     uuid.UUID      `json:"pipeline_id"`
	Status         string         `json:"status"`
	Variables      map[string]any `json:"variables,omitempty"`
	DryRun         bool           `json:"dry_run,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	TotalCost      float64        `json:"total_cost"`
	TotalTokens    int            `json:"total_tokens"`
	StepsCompleted int            `json:"steps_completed"`
	TotalSteps     int            `json:"total_steps"`
	FinalOutput    map[string]any `json:"final_output,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ExecutionFromDomain конвертирует domain.PipelineExecution в ExecutionResponse.
func ExecutionFromDomain(e domain.PipelineExecution) ExecutionResponse {
	return ExecutionResponse{
		ID:             e.ID,
		PipelineID:     e.PipelineID,
		Status:         string(e.Status),
		Variables:      e.Variables,
		DryRun:         e.DryRun,
		StartedAt:      e.StartedAt,
		FinishedAt:     e.FinishedAt,
		TotalCost:      e.TotalCost,
		TotalTokens:    e.TotalTokens,
		StepsCompleted: e.StepsCompleted,
		TotalSteps:     e.TotalSteps,
		FinalOutput:    e.FinalOutput,
		Error:          e.Error,
		CreatedAt:      e.CreatedAt,
	}
}

// StepExecutionResponse — ответ с записью шага.
type StepExecutionResponse struct {
	ID          uuid.UUID      `json:"id"`
	ExecutionID uuid.UUID      `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Name        string         `json:"name,omitempty"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Attempt     int            `json:"attempt"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Cost        float64        `json:"cost"`
	TokensUsed  int            `json:"tokens_used"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// StepExecutionFromDomain конвертирует domain.StepExecution в StepExecutionResponse.
func StepExecutionFromDomain(s domain.StepExecution) StepExecutionResponse {
	return StepExecutionResponse{
		ID:          s.ID,
		ExecutionID: s.ExecutionID,
		StepID:      s.StepID,
		Name:        s.Name,
		Type:        string(s.Type),
		Status:      string(s.Status),
		Attempt:     s.Attempt,
		Input:       s.Input,
		Output:      s.Output,
		Cost:        s.Cost,
		TokensUsed:  s.TokensUsed,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		Error:       s.Error,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string         `json:"name,omitempty"`
	CronExpr    *string         `json:"cron_expr,omitempty"`
	IntervalSec *int            `json:"interval_sec,omitempty"`
	Timezone    *string         `json:"timezone,omitempty"`
	Variables   *map[string]any `json:"variables,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID              uuid.UUID      `json:"id"`
	PipelineID      uuid.UUID      `json:"pipeline_id"`
	Name            string         `json:"name"`
	CronExpr        string         `json:"cron_expr,omitempty"`
	IntervalSec     int            `json:"interval_sec,omitempty"`
	Timezone        string         `json:"timezone"`
	Enabled         bool           `json:"enabled"`
	NextDueAt       *time.Time     `json:"next_due_at,omitempty"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	LastExecutionID *uuid.UUID     `json:"last_execution_id,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:              s.ID,
		PipelineID:      s.PipelineID,
		Name:            s.Name,
		CronExpr:        s.CronExpr,
		IntervalSec:     s.IntervalSec,
		Timezone:        s.Timezone,
		Enabled:         s.Enabled,
		NextDueAt:       s.NextDueAt,
		LastRunAt:       s.LastRunAt,
		LastExecutionID: s.LastExecutionID,
		Variables:       s.Variables,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
