package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/orchestrator"
	"github.com/shaiso/Cascade/internal/repo"
)

// CreateExecution запускает выполнение сохранённого pipeline.
// POST /api/v1/pipelines/{id}/executions
func (h *Handler) CreateExecution(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req ExecuteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	def, err := h.pipelineRepo.GetByID(r.Context(), pipelineID)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	exec, err := h.engine.Execute(r.Context(), def, orchestrator.ExecuteOptions{
		Variables: req.Variables,
		DryRun:    req.DryRun,
		DebugMode: req.DebugMode,
	})
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Created(w, ExecutionFromDomain(*exec))
}

// CreateInlineExecution запускает выполнение inline определения.
// POST /api/v1/executions
//
// Определение не сохраняется. Используется редактором для прогона
// несохранённого графа.
func (h *Handler) CreateInlineExecution(w http.ResponseWriter, r *http.Request) {
	var req ExecuteInlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Pipeline == nil {
		BadRequest(w, "pipeline is required")
		return
	}
	if req.Pipeline.ID == uuid.Nil {
		req.Pipeline.ID = uuid.New()
	}

	exec, err := h.engine.Execute(r.Context(), req.Pipeline, orchestrator.ExecuteOptions{
		Variables: req.Variables,
		DryRun:    req.DryRun,
		DebugMode: req.DebugMode,
	})
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Created(w, ExecutionFromDomain(*exec))
}

// ListExecutions возвращает историю выполнений.
// GET /api/v1/executions?pipeline_id=...&status=...&limit=...&offset=...
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.executionRepo == nil {
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "execution history requires a database")
		return
	}

	filter := repo.ExecutionFilter{}

	if pipelineIDStr := r.URL.Query().Get("pipeline_id"); pipelineIDStr != "" {
		pipelineID, err := uuid.Parse(pipelineIDStr)
		if err != nil {
			BadRequest(w, "invalid pipeline_id")
			return
		}
		filter.PipelineID = &pipelineID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.ExecutionStatus(status)
	}

	filter.Limit = int(mustParseInt(r.URL.Query().Get("limit"), 50))
	filter.Offset = int(mustParseInt(r.URL.Query().Get("offset"), 0))

	execs, err := h.executionRepo.ListExecutions(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ExecutionResponse, len(execs))
	for i, exec := range execs {
		result[i] = ExecutionFromDomain(exec)
	}

	List(w, result, len(result))
}

// GetExecution возвращает выполнение по ID.
// GET /api/v1/executions/{id}
//
// Активные и недавние выполнения отдаются из реестра движка,
// вытесненные по TTL — из БД.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	exec, err := h.engine.Lookup(id)
	if err == nil {
		Success(w, ExecutionFromDomain(*exec))
		return
	}
	if !errors.Is(err, orchestrator.ErrExecutionNotFound) {
		InternalError(w, h.logger, err)
		return
	}

	if h.executionRepo == nil {
		NotFound(w, "execution not found")
		return
	}

	stored, err := h.executionRepo.GetExecution(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}

	Success(w, ExecutionFromDomain(*stored))
}

// CancelExecution запрашивает отмену выполнения.
// POST /api/v1/executions/{id}/cancel
func (h *Handler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	if err := h.engine.Cancel(id); err != nil {
		HandleEngineError(w, h.logger, err)
		return
	}

	exec, err := h.engine.Lookup(id)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, ExecutionFromDomain(*exec))
}

// ListExecutionSteps возвращает записи шагов выполнения.
// GET /api/v1/executions/{id}/steps
func (h *Handler) ListExecutionSteps(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	stepExecs, err := h.engine.StepExecutions(id)
	if err == nil {
		result := make([]StepExecutionResponse, len(stepExecs))
		for i, se := range stepExecs {
			result[i] = StepExecutionFromDomain(*se)
		}
		List(w, result, len(result))
		return
	}
	if !errors.Is(err, orchestrator.ErrExecutionNotFound) {
		InternalError(w, h.logger, err)
		return
	}

	if h.executionRepo == nil {
		NotFound(w, "execution not found")
		return
	}

	stored, err := h.executionRepo.ListStepExecutions(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}

	result := make([]StepExecutionResponse, len(stored))
	for i, se := range stored {
		result[i] = StepExecutionFromDomain(se)
	}
	List(w, result, len(result))
}
