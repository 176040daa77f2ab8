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

// PipelineRepo — репозиторий для работы с pipelines.
//
// Определение pipeline хранится целиком как JSONB: структура шагов
// меняется в редакторе часто, и реляционная декомпозиция графа
// ничего не даёт ни запросам, ни целостности.
type PipelineRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineRepo создаёт новый PipelineRepo.
func NewPipelineRepo(pool *pgxpool.Pool) *PipelineRepo {
	return &PipelineRepo{pool: pool}
}

// Create создаёт новый pipeline.
func (r *PipelineRepo) Create(ctx context.Context, def *domain.PipelineDefinition) error {
	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	query := `
		INSERT INTO pipelines (id, name, description, definition, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.pool.Exec(ctx, query,
		def.ID,
		def.Name,
		nullString(def.Description),
		defJSON,
		def.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

// GetByID возвращает pipeline по ID.
func (r *PipelineRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PipelineDefinition, error) {
	query := `
		SELECT definition
		FROM pipelines
		WHERE id = $1
	`
	return r.scanPipeline(r.pool.QueryRow(ctx, query, id))
}

// GetByName возвращает pipeline по имени.
func (r *PipelineRepo) GetByName(ctx context.Context, name string) (*domain.PipelineDefinition, error) {
	query := `
		SELECT definition
		FROM pipelines
		WHERE name = $1
	`
	return r.scanPipeline(r.pool.QueryRow(ctx, query, name))
}

// List возвращает список всех pipelines.
func (r *PipelineRepo) List(ctx context.Context, limit, offset int) ([]domain.PipelineDefinition, error) {
	query := `
		SELECT definition
		FROM pipelines
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var defs []domain.PipelineDefinition
	for rows.Next() {
		var defJSON []byte
		if err := rows.Scan(&defJSON); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		var def domain.PipelineDefinition
		if err := json.Unmarshal(defJSON, &def); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Update обновляет определение pipeline.
func (r *PipelineRepo) Update(ctx context.Context, def *domain.PipelineDefinition) error {
	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	query := `
		UPDATE pipelines
		SET name = $2, description = $3, definition = $4
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		def.ID,
		def.Name,
		nullString(def.Description),
		defJSON,
	)
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет pipeline (каскадно удалит executions и schedules).
func (r *PipelineRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PipelineRepo) scanPipeline(row pgx.Row) (*domain.PipelineDefinition, error) {
	var defJSON []byte
	err := row.Scan(&defJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pipeline: %w", err)
	}

	var def domain.PipelineDefinition
	if err := json.Unmarshal(defJSON, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &def, nil
}
