package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/orchestrator"
	"github.com/shaiso/Cascade/internal/steps"
)

// newTestAPI поднимает движок без БД и mux со всеми маршрутами.
// История ограничена in-memory реестром движка.
func newTestAPI(t *testing.T) (*orchestrator.Engine, *http.ServeMux) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := orchestrator.New(orchestrator.Config{
		Registry: steps.DefaultRegistry(nil, nil),
		Logger:   logger,
	})
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)

	h := NewHandler(Config{Engine: eng, Logger: logger})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return eng, mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// decodeData распаковывает поле data из DataResponse.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &wrapper); err != nil {
		t.Fatalf("decode response envelope: %v", err)
	}
	if err := json.Unmarshal(wrapper.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

// transformPipeline — pipeline из двух transform шагов:
// сумма variables.items, затем форматирование результата строкой.
func transformPipeline() *domain.PipelineDefinition {
	return &domain.PipelineDefinition{
		Name: "sum-and-format",
		Steps: []domain.StepDef{
			{
				ID:   "agg",
				Type: domain.StepTypeTransform,
				Config: map[string]any{
					"operation": "aggregate",
					"input":     "{{variables.items}}",
					"function":  "sum",
				},
			},
			{
				ID:        "fmt",
				Type:      domain.StepTypeTransform,
				DependsOn: []string{"agg"},
				Config: map[string]any{
					"operation": "format",
					"input":     "{{agg.result}}",
					"template":  "total={item}",
				},
			},
		},
	}
}

func TestValidatePipeline(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/pipelines/validate", transformPipeline())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Valid  bool `json:"valid"`
		Errors []struct {
			StepID  string `json:"step_id"`
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	decodeData(t, rec, &result)

	if !result.Valid {
		t.Errorf("valid = false, errors: %+v", result.Errors)
	}
}

func TestValidatePipeline_Invalid(t *testing.T) {
	_, mux := newTestAPI(t)

	def := &domain.PipelineDefinition{
		Name: "broken",
		Steps: []domain.StepDef{
			{
				ID:        "t1",
				Type:      domain.StepTypeTransform,
				DependsOn: []string{"ghost"},
				Config:    map[string]any{"operation": "explode"},
			},
		},
	}

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/pipelines/validate", def)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var result struct {
		Valid  bool `json:"valid"`
		Errors []struct {
			StepID string `json:"step_id"`
			Field  string `json:"field"`
		} `json:"errors"`
	}
	decodeData(t, rec, &result)

	if result.Valid {
		t.Fatal("valid = true for pipeline with unknown dependency and operation")
	}
	// Две ошибки: неизвестная зависимость и неизвестная операция.
	if len(result.Errors) != 2 {
		t.Errorf("len(errors) = %d, want 2: %+v", len(result.Errors), result.Errors)
	}
}

func TestCreateInlineExecution(t *testing.T) {
	eng, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/executions", ExecuteInlineRequest{
		Pipeline:  transformPipeline(),
		Variables: map[string]any{"items": []any{1, 2, 3}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body: %s", rec.Code, rec.Body.String())
	}

	var created ExecutionResponse
	decodeData(t, rec, &created)
	if created.ID == uuid.Nil {
		t.Fatal("execution ID is empty")
	}
	if created.TotalSteps != 2 {
		t.Errorf("total_steps = %d, want 2", created.TotalSteps)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exec, err := eng.Wait(ctx, created.ID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if exec.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED, error: %s", exec.Status, exec.Error)
	}

	// Завершённое выполнение доступно через API из реестра движка.
	rec = doRequest(t, mux, http.MethodGet, "/api/v1/executions/"+created.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get execution: status = %d, want 200", rec.Code)
	}

	var fetched ExecutionResponse
	decodeData(t, rec, &fetched)
	if fetched.Status != string(domain.StatusCompleted) {
		t.Errorf("fetched status = %s, want COMPLETED", fetched.Status)
	}
	if fetched.StepsCompleted != 2 {
		t.Errorf("steps_completed = %d, want 2", fetched.StepsCompleted)
	}

	// Записи шагов в объявленном порядке с результатами.
	rec = doRequest(t, mux, http.MethodGet, "/api/v1/executions/"+created.ID.String()+"/steps", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list steps: status = %d, want 200", rec.Code)
	}

	var stepsResp []StepExecutionResponse
	decodeData(t, rec, &stepsResp)
	if len(stepsResp) != 2 {
		t.Fatalf("len(steps) = %d, want 2", len(stepsResp))
	}
	if stepsResp[0].StepID != "agg" || stepsResp[1].StepID != "fmt" {
		t.Errorf("step order = [%s, %s], want [agg, fmt]", stepsResp[0].StepID, stepsResp[1].StepID)
	}
	if got := stepsResp[1].Output["result"]; got != "total=6" {
		t.Errorf("fmt output result = %v, want total=6", got)
	}
}

func TestCreateInlineExecution_DryRun(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/executions", ExecuteInlineRequest{
		Pipeline:  transformPipeline(),
		Variables: map[string]any{"items": []any{1, 2, 3}},
		DryRun:    true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body: %s", rec.Code, rec.Body.String())
	}

	// Dry run завершается синхронно: ответ уже содержит оценку.
	var created ExecutionResponse
	decodeData(t, rec, &created)
	if created.Status != string(domain.StatusCompleted) {
		t.Errorf("status = %s, want COMPLETED", created.Status)
	}
	if created.FinalOutput["dry_run"] != true {
		t.Errorf("final_output.dry_run = %v, want true", created.FinalOutput["dry_run"])
	}
	if got := created.FinalOutput["total_steps"]; got != float64(2) {
		t.Errorf("final_output.total_steps = %v, want 2", got)
	}
}

func TestCreateInlineExecution_InvalidDefinition(t *testing.T) {
	_, mux := newTestAPI(t)

	def := &domain.PipelineDefinition{
		Name: "broken",
		Steps: []domain.StepDef{
			{ID: "t1", Type: domain.StepTypeTransform, Config: map[string]any{"operation": "explode"}},
		},
	}

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/executions", ExecuteInlineRequest{Pipeline: def})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body: %s", rec.Code, rec.Body.String())
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Error.Code != ErrCodeBadRequest {
		t.Errorf("error code = %s, want %s", errResp.Error.Code, ErrCodeBadRequest)
	}
}

func TestCreateInlineExecution_MissingPipeline(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/executions", ExecuteInlineRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCancelExecution_NotFound(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/executions/"+uuid.NewString()+"/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Error.Code != ErrCodeNotFound {
		t.Errorf("error code = %s, want %s", errResp.Error.Code, ErrCodeNotFound)
	}
}

func TestGetExecution_InvalidID(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/executions/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListExecutions_WithoutDatabase(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/executions", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var health map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %v, want ok", health["status"])
	}
}
