package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// PipelineResponse — pipeline из API.
type PipelineResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Steps       []map[string]any `json:"steps"`
	CreatedAt   string           `json:"created_at"`
}

// ExecutionResponse — выполнение из API.
type ExecutionResponse struct {
	ID             string         `json:"id"`
	PipelineID     string         `json:"pipeline_id"`
	Status         string         `json:"status"`
	DryRun         bool           `json:"dry_run,omitempty"`
	StartedAt      string         `json:"started_at,omitempty"`
	FinishedAt     string         `json:"finished_at,omitempty"`
	TotalCost      float64        `json:"total_cost"`
	TotalTokens    int            `json:"total_tokens"`
	StepsCompleted int            `json:"steps_completed"`
	TotalSteps     int            `json:"total_steps"`
	FinalOutput    map[string]any `json:"final_output,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// StepExecutionResponse — запись шага из API.
type StepExecutionResponse struct {
	ID         string         `json:"id"`
	StepID     string         `json:"step_id"`
	Name       string         `json:"name,omitempty"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	Attempt    int            `json:"attempt"`
	Output     map[string]any `json:"output,omitempty"`
	Cost       float64        `json:"cost"`
	TokensUsed int            `json:"tokens_used"`
	Error      string         `json:"error,omitempty"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID              string         `json:"id"`
	PipelineID      string         `json:"pipeline_id"`
	Name            string         `json:"name"`
	CronExpr        string         `json:"cron_expr,omitempty"`
	IntervalSec     int            `json:"interval_sec,omitempty"`
	Timezone        string         `json:"timezone"`
	Enabled         bool           `json:"enabled"`
	NextDueAt       string         `json:"next_due_at,omitempty"`
	LastRunAt       string         `json:"last_run_at,omitempty"`
	LastExecutionID string         `json:"last_execution_id,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

// ValidationIssue — одна ошибка или предупреждение валидации.
type ValidationIssue struct {
	StepID  string `json:"step_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResultResponse — результат валидации из API.
type ValidationResultResponse struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// EventMessage — событие выполнения из потока.
type EventMessage struct {
	Seq             int64          `json:"seq"`
	Type            string         `json:"type"`
	ExecutionID     string         `json:"execution_id"`
	StepID          string         `json:"step_id,omitempty"`
	StepName        string         `json:"step_name,omitempty"`
	StepIndex       int            `json:"step_index,omitempty"`
	Attempt         int            `json:"attempt,omitempty"`
	Input           map[string]any `json:"input,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms,omitempty"`
	Error           string         `json:"error,omitempty"`
	Cost            float64        `json:"cost,omitempty"`
	TokensUsed      int            `json:"tokens_used,omitempty"`
	TotalSteps      int            `json:"total_steps,omitempty"`
	StepsCompleted  int            `json:"steps_completed,omitempty"`
	FinalOutput     map[string]any `json:"final_output,omitempty"`
	Timestamp       string         `json:"timestamp"`
}

// --- Request types ---

// ExecuteRequest — запуск выполнения.
type ExecuteRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
	DryRun    bool           `json:"dry_run,omitempty"`
	DebugMode bool           `json:"debug_mode,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// ListExecutionsOpts — параметры фильтрации executions.
type ListExecutionsOpts struct {
	PipelineID string
	Status     string
	Limit      int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Cascade API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Pipelines ---

// ListPipelines возвращает все pipelines.
func (c *Client) ListPipelines() ([]PipelineResponse, error) {
	var pipelines []PipelineResponse
	err := c.list("/api/v1/pipelines", nil, &pipelines)
	return pipelines, err
}

// CreatePipeline создаёт pipeline из JSON определения.
func (c *Client) CreatePipeline(definition json.RawMessage) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.post("/api/v1/pipelines", definition, &pipeline)
	return &pipeline, err
}

// GetPipeline возвращает pipeline по ID.
func (c *Client) GetPipeline(id string) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.get("/api/v1/pipelines/"+id, &pipeline)
	return &pipeline, err
}

// UpdatePipeline обновляет pipeline из JSON определения.
func (c *Client) UpdatePipeline(id string, definition json.RawMessage) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.put("/api/v1/pipelines/"+id, definition, &pipeline)
	return &pipeline, err
}

// DeletePipeline удаляет pipeline.
func (c *Client) DeletePipeline(id string) error {
	return c.delete("/api/v1/pipelines/" + id)
}

// ValidatePipeline валидирует inline определение.
func (c *Client) ValidatePipeline(definition json.RawMessage) (*ValidationResultResponse, error) {
	var result ValidationResultResponse
	err := c.post("/api/v1/pipelines/validate", definition, &result)
	return &result, err
}

// ValidateStoredPipeline валидирует сохранённый pipeline.
func (c *Client) ValidateStoredPipeline(id string) (*ValidationResultResponse, error) {
	var result ValidationResultResponse
	err := c.post("/api/v1/pipelines/"+id+"/validate", nil, &result)
	return &result, err
}

// --- Executions ---

// ListExecutions возвращает список выполнений с фильтрацией.
func (c *Client) ListExecutions(opts ListExecutionsOpts) ([]ExecutionResponse, error) {
	params := url.Values{}
	if opts.PipelineID != "" {
		params.Set("pipeline_id", opts.PipelineID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var execs []ExecutionResponse
	err := c.list("/api/v1/executions", params, &execs)
	return execs, err
}

// StartExecution запускает выполнение сохранённого pipeline.
func (c *Client) StartExecution(pipelineID string, req ExecuteRequest) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post("/api/v1/pipelines/"+pipelineID+"/executions", req, &exec)
	return &exec, err
}

// GetExecution возвращает выполнение по ID.
func (c *Client) GetExecution(id string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.get("/api/v1/executions/"+id, &exec)
	return &exec, err
}

// CancelExecution отменяет выполнение.
func (c *Client) CancelExecution(id string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post("/api/v1/executions/"+id+"/cancel", nil, &exec)
	return &exec, err
}

// ListExecutionSteps возвращает записи шагов выполнения.
func (c *Client) ListExecutionSteps(executionID string) ([]StepExecutionResponse, error) {
	var steps []StepExecutionResponse
	err := c.list("/api/v1/executions/"+executionID+"/steps", nil, &steps)
	return steps, err
}

// WatchExecution подписывается на события выполнения через WebSocket.
//
// Возвращённый канал закрывается после терминального события
// или разрыва соединения.
func (c *Client) WatchExecution(executionID string) (<-chan EventMessage, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) +
		"/api/v1/executions/" + executionID + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("execution not found")
		}
		return nil, fmt.Errorf("connect to event stream: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	ch := make(chan EventMessage)
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			var event EventMessage
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			ch <- event
		}
	}()

	return ch, nil
}

// --- Schedules ---

// ListSchedules возвращает schedules. Если pipelineID не пустой — фильтрует.
func (c *Client) ListSchedules(pipelineID string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if pipelineID != "" {
		params.Set("pipeline_id", pipelineID)
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule для pipeline.
func (c *Client) CreateSchedule(pipelineID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/pipelines/"+pipelineID+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// EnableSchedule включает schedule.
func (c *Client) EnableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": true}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// DisableSchedule выключает schedule.
func (c *Client) DisableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": false}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if lr.Data == nil {
		return nil
	}
	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// checkError разбирает ErrorResponse для не-2xx статусов.
func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error.Message != "" {
		return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
	}

	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
