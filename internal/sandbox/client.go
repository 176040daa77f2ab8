package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/shaiso/Cascade/internal/steps"
)

// defaultRequestTimeout — запас поверх таймаута выполнения кода
// на сетевой round-trip.
const requestOverhead = 5 * time.Second

// Client — HTTP клиент сервиса изолированного выполнения кода.
//
// Реализует steps.SandboxClient. Сервис принимает POST /v1/execute
// с кодом и возвращает stdout/stderr/exit_code.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient создаёт клиент песочницы.
//
// Если baseURL пуст, берётся из переменной окружения CASCADE_SANDBOX_URL.
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		baseURL = os.Getenv("CASCADE_SANDBOX_URL")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("sandbox URL not configured (CASCADE_SANDBOX_URL)")
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
	}, nil
}

// executeRequest — тело запроса к сервису песочницы.
type executeRequest struct {
	Language   string            `json:"language"`
	Source     string            `json:"source"`
	Stdin      string            `json:"stdin,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	TimeoutSec int               `json:"timeout_sec"`
}

// executeResponse — тело ответа сервиса песочницы.
type executeResponse struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RunCode реализует steps.SandboxClient.
func (c *Client) RunCode(ctx context.Context, req *steps.SandboxRequest) (*steps.SandboxResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	body, err := json.Marshal(executeRequest{
		Language:   req.Language,
		Source:     req.Source,
		Stdin:      req.Stdin,
		Env:        req.Env,
		TimeoutSec: int(timeout.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal sandbox request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+requestOverhead)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/v1/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read sandbox response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, respBody)
	}

	var execResp executeResponse
	if err := json.Unmarshal(respBody, &execResp); err != nil {
		return nil, fmt.Errorf("decode sandbox response: %w", err)
	}
	if execResp.Error != "" {
		return nil, fmt.Errorf("sandbox error: %s", execResp.Error)
	}

	return &steps.SandboxResponse{
		Stdout:     execResp.Stdout,
		Stderr:     execResp.Stderr,
		ExitCode:   execResp.ExitCode,
		DurationMs: execResp.DurationMs,
	}, nil
}
