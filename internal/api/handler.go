package api

import (
	"log/slog"

	"github.com/shaiso/Cascade/internal/orchestrator"
	"github.com/shaiso/Cascade/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
//
// Репозитории опциональны: без БД API работает поверх
// in-memory реестра движка, история ограничена retention TTL.
type Handler struct {
	engine        *orchestrator.Engine
	pipelineRepo  *repo.PipelineRepo
	executionRepo *repo.ExecutionRepo
	scheduleRepo  *repo.ScheduleRepo
	logger        *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Engine        *orchestrator.Engine
	PipelineRepo  *repo.PipelineRepo
	ExecutionRepo *repo.ExecutionRepo
	ScheduleRepo  *repo.ScheduleRepo
	Logger        *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		engine:        cfg.Engine,
		pipelineRepo:  cfg.PipelineRepo,
		executionRepo: cfg.ExecutionRepo,
		scheduleRepo:  cfg.ScheduleRepo,
		logger:        cfg.Logger,
	}
}
