package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Pipelines
	mux.Handle("GET /api/v1/pipelines", chain(http.HandlerFunc(h.ListPipelines)))
	mux.Handle("POST /api/v1/pipelines", chain(http.HandlerFunc(h.CreatePipeline)))
	mux.Handle("GET /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.GetPipeline)))
	mux.Handle("PUT /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.UpdatePipeline)))
	mux.Handle("DELETE /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.DeletePipeline)))
	mux.Handle("POST /api/v1/pipelines/validate", chain(http.HandlerFunc(h.ValidatePipeline)))
	mux.Handle("POST /api/v1/pipelines/{id}/validate", chain(http.HandlerFunc(h.ValidateStoredPipeline)))

	// Executions
	mux.Handle("POST /api/v1/pipelines/{id}/executions", chain(http.HandlerFunc(h.CreateExecution)))
	mux.Handle("POST /api/v1/executions", chain(http.HandlerFunc(h.CreateInlineExecution)))
	mux.Handle("GET /api/v1/executions", chain(http.HandlerFunc(h.ListExecutions)))
	mux.Handle("GET /api/v1/executions/{id}", chain(http.HandlerFunc(h.GetExecution)))
	mux.Handle("POST /api/v1/executions/{id}/cancel", chain(http.HandlerFunc(h.CancelExecution)))
	mux.Handle("GET /api/v1/executions/{id}/steps", chain(http.HandlerFunc(h.ListExecutionSteps)))

	// Event streams
	mux.Handle("GET /api/v1/executions/{id}/events", chain(http.HandlerFunc(h.StreamEvents)))
	mux.Handle("GET /api/v1/executions/{id}/ws", chain(http.HandlerFunc(h.StreamEventsWS)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/pipelines/{id}/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))

	// Служебные endpoints
	mux.Handle("GET /healthz", http.HandlerFunc(h.Health))
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Health возвращает состояние сервиса.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.engine.IsStopped() {
		status = "stopping"
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"active_executions": h.engine.ActiveCount(),
	})
}
