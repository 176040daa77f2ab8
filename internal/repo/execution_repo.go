package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Cascade/internal/domain"
)

// ExecutionRepo — репозиторий для работы с executions и step_executions.
//
// Реализует orchestrator.ExecutionStore: оркестратор пишет сюда снимки
// состояния по ходу выполнения, API читает историю после того, как
// запись выполнения вытеснена из памяти движка.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// --- Executions ---

// SaveExecution сохраняет новую запись выполнения.
func (r *ExecutionRepo) SaveExecution(ctx context.Context, exec *domain.PipelineExecution) error {
	variablesJSON, err := json.Marshal(exec.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	query := `
		INSERT INTO executions (id, pipeline_id, status, variables, dry_run,
		                        started_at, finished_at, total_cost, total_tokens,
		                        steps_completed, total_steps, final_output, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, NULL, $12)
	`
	_, err = r.pool.Exec(ctx, query,
		exec.ID,
		exec.PipelineID,
		exec.Status,
		variablesJSON,
		exec.DryRun,
		exec.StartedAt,
		exec.FinishedAt,
		exec.TotalCost,
		exec.TotalTokens,
		exec.StepsCompleted,
		exec.TotalSteps,
		exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// UpdateExecution обновляет запись выполнения.
func (r *ExecutionRepo) UpdateExecution(ctx context.Context, exec *domain.PipelineExecution) error {
	finalOutputJSON, err := marshalNullable(exec.FinalOutput)
	if err != nil {
		return fmt.Errorf("marshal final output: %w", err)
	}

	query := `
		UPDATE executions
		SET status = $2, started_at = $3, finished_at = $4, total_cost = $5,
		    total_tokens = $6, steps_completed = $7, final_output = $8, error = $9
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		exec.ID,
		exec.Status,
		exec.StartedAt,
		exec.FinishedAt,
		exec.TotalCost,
		exec.TotalTokens,
		exec.StepsCompleted,
		finalOutputJSON,
		nullString(exec.Error),
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExecution возвращает запись выполнения по ID.
func (r *ExecutionRepo) GetExecution(ctx context.Context, id uuid.UUID) (*domain.PipelineExecution, error) {
	query := `
		SELECT id, pipeline_id, status, variables, dry_run, started_at, finished_at,
		       total_cost, total_tokens, steps_completed, total_steps,
		       final_output, error, created_at
		FROM executions
		WHERE id = $1
	`
	return r.scanExecution(r.pool.QueryRow(ctx, query, id))
}

// ListExecutions возвращает список выполнений с фильтрацией.
func (r *ExecutionRepo) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]domain.PipelineExecution, error) {
	query := `
		SELECT id, pipeline_id, status, variables, dry_run, started_at, finished_at,
		       total_cost, total_tokens, steps_completed, total_steps,
		       final_output, error, created_at
		FROM executions
		WHERE ($1::uuid IS NULL OR pipeline_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		filter.PipelineID,
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []domain.PipelineExecution
	for rows.Next() {
		exec, err := r.scanExecutionFromRows(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}
	return execs, rows.Err()
}

// --- Step executions ---

// SaveStepExecution сохраняет запись шага.
func (r *ExecutionRepo) SaveStepExecution(ctx context.Context, se *domain.StepExecution) error {
	return r.upsertStepExecution(ctx, se)
}

// UpdateStepExecution обновляет запись шага.
//
// Реализован как upsert: пропущенные ветвлением шаги финализируются,
// не проходя через диспетчеризацию, и их записи впервые попадают
// в БД именно здесь.
func (r *ExecutionRepo) UpdateStepExecution(ctx context.Context, se *domain.StepExecution) error {
	return r.upsertStepExecution(ctx, se)
}

func (r *ExecutionRepo) upsertStepExecution(ctx context.Context, se *domain.StepExecution) error {
	inputJSON, err := marshalNullable(se.Input)
	if err != nil {
		return fmt.Errorf("marshal step input: %w", err)
	}
	outputJSON, err := marshalNullable(se.Output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}

	query := `
		INSERT INTO step_executions (id, execution_id, step_id, name, type, step_index,
		                             status, attempt, input, output, cost, tokens_used,
		                             started_at, finished_at, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, attempt = EXCLUDED.attempt,
		    input = EXCLUDED.input, output = EXCLUDED.output,
		    cost = EXCLUDED.cost, tokens_used = EXCLUDED.tokens_used,
		    started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at,
		    error = EXCLUDED.error
	`
	_, err = r.pool.Exec(ctx, query,
		se.ID,
		se.ExecutionID,
		se.StepID,
		nullString(se.Name),
		se.Type,
		se.Index,
		se.Status,
		se.Attempt,
		inputJSON,
		outputJSON,
		se.Cost,
		se.TokensUsed,
		se.StartedAt,
		se.FinishedAt,
		nullString(se.Error),
	)
	if err != nil {
		return fmt.Errorf("upsert step execution: %w", err)
	}
	return nil
}

// ListStepExecutions возвращает записи шагов выполнения
// в объявленном порядке.
func (r *ExecutionRepo) ListStepExecutions(ctx context.Context, executionID uuid.UUID) ([]domain.StepExecution, error) {
	query := `
		SELECT id, execution_id, step_id, name, type, step_index, status, attempt,
		       input, output, cost, tokens_used, started_at, finished_at,
		       error, created_at
		FROM step_executions
		WHERE execution_id = $1
		ORDER BY step_index ASC
	`
	rows, err := r.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list step executions: %w", err)
	}
	defer rows.Close()

	var steps []domain.StepExecution
	for rows.Next() {
		se, err := r.scanStepExecution(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *se)
	}
	return steps, rows.Err()
}

// --- Helpers ---

// ExecutionFilter — параметры фильтрации executions.
type ExecutionFilter struct {
	PipelineID *uuid.UUID
	Status     domain.ExecutionStatus
	Limit      int
	Offset     int
}

func (r *ExecutionRepo) scanExecution(row pgx.Row) (*domain.PipelineExecution, error) {
	exec, err := scanExecutionRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return exec, err
}

func (r *ExecutionRepo) scanExecutionFromRows(rows pgx.Rows) (*domain.PipelineExecution, error) {
	return scanExecutionRow(rows)
}

func scanExecutionRow(row pgx.Row) (*domain.PipelineExecution, error) {
	var e domain.PipelineExecution
	var variablesJSON, finalOutputJSON []byte
	var errMsg *string

	err := row.Scan(
		&e.ID,
		&e.PipelineID,
		&e.Status,
		&variablesJSON,
		&e.DryRun,
		&e.StartedAt,
		&e.FinishedAt,
		&e.TotalCost,
		&e.TotalTokens,
		&e.StepsCompleted,
		&e.TotalSteps,
		&finalOutputJSON,
		&errMsg,
		&e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	if variablesJSON != nil {
		if err := json.Unmarshal(variablesJSON, &e.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if finalOutputJSON != nil {
		if err := json.Unmarshal(finalOutputJSON, &e.FinalOutput); err != nil {
			return nil, fmt.Errorf("unmarshal final output: %w", err)
		}
	}
	if errMsg != nil {
		e.Error = *errMsg
	}

	return &e, nil
}

func (r *ExecutionRepo) scanStepExecution(row pgx.Row) (*domain.StepExecution, error) {
	var s domain.StepExecution
	var name, errMsg *string
	var inputJSON, outputJSON []byte

	err := row.Scan(
		&s.ID,
		&s.ExecutionID,
		&s.StepID,
		&name,
		&s.Type,
		&s.Index,
		&s.Status,
		&s.Attempt,
		&inputJSON,
		&outputJSON,
		&s.Cost,
		&s.TokensUsed,
		&s.StartedAt,
		&s.FinishedAt,
		&errMsg,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan step execution: %w", err)
	}

	if name != nil {
		s.Name = *name
	}
	if errMsg != nil {
		s.Error = *errMsg
	}
	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &s.Input); err != nil {
			return nil, fmt.Errorf("unmarshal step input: %w", err)
		}
	}
	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &s.Output); err != nil {
			return nil, fmt.Errorf("unmarshal step output: %w", err)
		}
	}

	return &s, nil
}

// marshalNullable сериализует map в JSON, возвращая nil для nil map
// (NULL в JSONB вместо литерала "null").
func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
