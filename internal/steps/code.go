package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
)

const (
	// Таймаут выполнения кода по умолчанию.
	defaultCodeTimeout = 60 * time.Second

	// Язык по умолчанию.
	defaultLanguage = "python"
)

// Ключи конфигурации code шага.
const (
	configLanguage = "language"
	configSource   = "source"
	configStdin    = "stdin"
	configEnv      = "env"
)

// SandboxRequest — запрос на выполнение кода в песочнице.
type SandboxRequest struct {
	// Language — язык исполнения.
	Language string

	// Source — исходный код.
	Source string

	// Stdin — данные на стандартный ввод.
	Stdin string

	// Env — переменные окружения процесса.
	Env map[string]string

	// Timeout — лимит времени выполнения.
	Timeout time.Duration
}

// SandboxResponse — результат выполнения кода.
type SandboxResponse struct {
	// Stdout — стандартный вывод.
	Stdout string

	// Stderr — стандартный вывод ошибок.
	Stderr string

	// ExitCode — код завершения процесса.
	ExitCode int

	// DurationMs — время выполнения в миллисекундах.
	DurationMs int64
}

// SandboxClient — клиент сервиса изолированного выполнения кода.
type SandboxClient interface {
	// RunCode выполняет код и возвращает результат.
	RunCode(ctx context.Context, req *SandboxRequest) (*SandboxResponse, error)
}

// CodeStep — шаг выполнения пользовательского кода в песочнице.
//
// Конфигурация:
//
//	{
//	    "language": "python",
//	    "source": "import json\nprint(json.dumps({'n': len({{fetch.body.items}})}))",
//	    "stdin": "",
//	    "env": {"MODE": "{{variables.mode}}"}
//	}
//
// Outputs:
//
//	{
//	    "stdout": "{\"n\": 3}\n",
//	    "stderr": "",
//	    "exit_code": 0,
//	    "result": {"n": 3}  // stdout, распарсенный как JSON, если возможно
//	}
//
// Ненулевой exit code считается ошибкой шага.
type CodeStep struct {
	client SandboxClient
}

// NewCodeStep создаёт новый CodeStep.
func NewCodeStep(client SandboxClient) *CodeStep {
	return &CodeStep{client: client}
}

// Type возвращает тип шага.
func (s *CodeStep) Type() domain.StepType {
	return domain.StepTypeCode
}

// Execute выполняет код в песочнице.
func (s *CodeStep) Execute(ctx context.Context, req *Request) (*Result, error) {
	if s.client == nil {
		return nil, fmt.Errorf("%w: code: no sandbox client configured", ErrInvalidConfig)
	}

	config, err := resolveConfig(req)
	if err != nil {
		return nil, err
	}

	source := GetConfigString(config, configSource)
	if source == "" {
		return nil, fmt.Errorf("%w: code: source is required", ErrInvalidConfig)
	}

	language := GetConfigString(config, configLanguage)
	if language == "" {
		language = defaultLanguage
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultCodeTimeout
	}

	sandboxReq := &SandboxRequest{
		Language: language,
		Source:   source,
		Stdin:    GetConfigString(config, configStdin),
		Env:      GetConfigMapString(config, configEnv),
		Timeout:  timeout,
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := s.client.RunCode(runCtx, sandboxReq)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: code after %s", ErrStepTimeout, timeout)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("sandbox execution failed: %w", err)
	}

	output := map[string]any{
		"stdout":    resp.Stdout,
		"stderr":    resp.Stderr,
		"exit_code": resp.ExitCode,
	}
	if parsed := parseJSONValue(resp.Stdout); parsed != nil {
		output["result"] = parsed
	}

	if resp.ExitCode != 0 {
		return nil, fmt.Errorf("code exited with status %d: %s", resp.ExitCode, truncate(resp.Stderr, 512))
	}

	return NewResult(output), nil
}

// parseJSONValue пытается распарсить строку как JSON значение.
// Возвращает nil, если строка не является валидным JSON.
func parseJSONValue(s string) any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj
	}
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err == nil {
		return arr
	}
	return nil
}

// truncate обрезает строку до максимальной длины.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
