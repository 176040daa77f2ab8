package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/orchestrator"
	"github.com/shaiso/Cascade/internal/repo"
)

// Scheduler — планировщик, запускающий pipelines по расписанию.
type Scheduler struct {
	scheduleRepo *repo.ScheduleRepo
	pipelineRepo *repo.PipelineRepo
	engine       *orchestrator.Engine
	logger       *slog.Logger
	batchSize    int
}

// Config — конфигурация Scheduler.
type Config struct {
	ScheduleRepo *repo.ScheduleRepo
	PipelineRepo *repo.PipelineRepo
	Engine       *orchestrator.Engine
	Logger       *slog.Logger
	BatchSize    int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Scheduler{
		scheduleRepo: cfg.ScheduleRepo,
		pipelineRepo: cfg.PipelineRepo,
		engine:       cfg.Engine,
		logger:       cfg.Logger,
		batchSize:    batchSize,
	}
}

// Run запускает цикл планировщика до отмены контекста.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule запускает выполнение pipeline
// 3. Обновляет next_due_at и last_execution_id
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := s.scheduleRepo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, started int
	for i := range schedules {
		sched := &schedules[i]

		launched, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}

		processed++
		if launched {
			started++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"executions_started", started,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если выполнение было запущено.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	def, err := s.pipelineRepo.GetByID(ctx, sched.PipelineID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("pipeline not found for schedule, disabling",
				"schedule_id", sched.ID,
				"pipeline_id", sched.PipelineID,
			)
			if err := s.scheduleRepo.SetEnabled(ctx, sched.ID, false); err != nil {
				return false, fmt.Errorf("disable orphan schedule: %w", err)
			}
			return false, nil
		}
		return false, fmt.Errorf("get pipeline: %w", err)
	}

	exec, err := s.engine.Execute(ctx, def, orchestrator.ExecuteOptions{
		Variables: sched.Variables,
	})
	if err != nil {
		// Невалидный pipeline не станет валидным сам по себе:
		// выключаем schedule, чтобы не молотить каждый тик.
		if errors.Is(err, orchestrator.ErrInvalidPipeline) {
			s.logger.Warn("pipeline failed validation, disabling schedule",
				"schedule_id", sched.ID,
				"pipeline_id", sched.PipelineID,
				"error", err,
			)
			if err := s.scheduleRepo.SetEnabled(ctx, sched.ID, false); err != nil {
				return false, fmt.Errorf("disable schedule: %w", err)
			}
			return false, nil
		}
		return false, fmt.Errorf("execute pipeline: %w", err)
	}

	s.logger.Info("started execution from schedule",
		"execution_id", exec.ID,
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"pipeline_id", sched.PipelineID,
	)

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		// Некорректное расписание — next_due_at не трогаем.
		s.logger.Error("failed to calculate next due",
			"schedule_id", sched.ID,
			"error", err,
		)
		return true, nil
	}

	sched.RecordRun(exec.ID, nextDue)
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return true, fmt.Errorf("update schedule: %w", err)
	}

	return true, nil
}
