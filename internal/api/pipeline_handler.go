package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
)

// ListPipelines возвращает список pipelines.
// GET /api/v1/pipelines?limit=...&offset=...
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit = int(mustParseInt(limitStr, 50))
	}
	offset := int(mustParseInt(r.URL.Query().Get("offset"), 0))

	defs, err := h.pipelineRepo.List(r.Context(), limit, offset)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineResponse, len(defs))
	for i, def := range defs {
		result[i] = PipelineFromDomain(def)
	}

	List(w, result, len(result))
}

// CreatePipeline создаёт новый pipeline.
// POST /api/v1/pipelines
func (h *Handler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var def domain.PipelineDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if def.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	validation := h.engine.Validate(&def)
	if !validation.Valid {
		JSON(w, http.StatusUnprocessableEntity, DataResponse{Data: validation})
		return
	}

	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	def.CreatedAt = time.Now()

	if err := h.pipelineRepo.Create(r.Context(), &def); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, PipelineFromDomain(def))
}

// GetPipeline возвращает pipeline по ID.
// GET /api/v1/pipelines/{id}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	def, err := h.pipelineRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineFromDomain(*def))
}

// UpdatePipeline обновляет определение pipeline.
// PUT /api/v1/pipelines/{id}
//
// Выполняющиеся executions не затрагиваются: движок работает
// со снимком определения, взятым при запуске.
func (h *Handler) UpdatePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var def domain.PipelineDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	def.ID = id

	validation := h.engine.Validate(&def)
	if !validation.Valid {
		JSON(w, http.StatusUnprocessableEntity, DataResponse{Data: validation})
		return
	}

	if err := h.pipelineRepo.Update(r.Context(), &def); err != nil {
		if HandleRepoError(w, h.logger, err, "pipeline not found") {
			return
		}
	}

	Success(w, PipelineFromDomain(def))
}

// DeletePipeline удаляет pipeline.
// DELETE /api/v1/pipelines/{id}
func (h *Handler) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	if err := h.pipelineRepo.Delete(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "pipeline not found")
		return
	}

	NoContent(w)
}

// ValidatePipeline валидирует inline определение без сохранения.
// POST /api/v1/pipelines/validate
func (h *Handler) ValidatePipeline(w http.ResponseWriter, r *http.Request) {
	var def domain.PipelineDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	Success(w, h.engine.Validate(&def))
}

// ValidateStoredPipeline валидирует сохранённый pipeline.
// POST /api/v1/pipelines/{id}/validate
func (h *Handler) ValidateStoredPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	def, err := h.pipelineRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, h.engine.Validate(def))
}

// mustParseInt парсит строку в int с дефолтным значением.
func mustParseInt(s string, defaultVal int64) int64 {
	if s == "" {
		return defaultVal
	}
	if n, err := json.Number(s).Int64(); err == nil {
		return n
	}
	return defaultVal
}
