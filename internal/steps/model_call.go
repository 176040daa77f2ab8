package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
)

const (
	// Таймаут вызова модели по умолчанию.
	defaultModelTimeout = 120 * time.Second

	// Модель по умолчанию, если не задана в конфигурации шага.
	DefaultModel = "gpt-4o-mini"
)

// Ключи конфигурации model_call шага.
const (
	configModel       = "model"
	configPrompt      = "prompt"
	configSystem      = "system"
	configTemperature = "temperature"
	configMaxTokens   = "max_tokens"
	configJSONMode    = "json_mode"
)

// ModelRequest — запрос к LLM провайдеру.
type ModelRequest struct {
	// Model — идентификатор модели.
	Model string

	// Prompt — пользовательский prompt.
	Prompt string

	// System — системный prompt.
	System string

	// Temperature — температура сэмплирования.
	Temperature float32

	// MaxTokens — лимит токенов ответа (0 — по умолчанию провайдера).
	MaxTokens int

	// JSONMode — требовать JSON в ответе.
	JSONMode bool
}

// ModelResponse — ответ LLM провайдера.
type ModelResponse struct {
	// Text — текст ответа модели.
	Text string

	// Model — фактически использованная модель.
	Model string

	// PromptTokens — токены prompt.
	PromptTokens int

	// CompletionTokens — токены ответа.
	CompletionTokens int

	// Cost — стоимость вызова в долларах.
	Cost float64
}

// TotalTokens возвращает суммарное количество токенов вызова.
func (r *ModelResponse) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// ModelClient — клиент LLM провайдера.
type ModelClient interface {
	// Complete выполняет один вызов модели.
	Complete(ctx context.Context, req *ModelRequest) (*ModelResponse, error)
}

// ModelCallStep — шаг вызова LLM.
//
// Отправляет prompt модели и возвращает текст ответа вместе
// с учётом токенов и стоимости.
//
// Конфигурация:
//
//	{
//	    "model": "gpt-4o-mini",
//	    "prompt": "Summarize: {{fetch.body}}",
//	    "system": "You are a concise assistant.",
//	    "temperature": 0.2,
//	    "max_tokens": 1024,
//	    "json_mode": false
//	}
//
// Outputs:
//
//	{
//	    "text": "...",
//	    "model": "gpt-4o-mini",
//	    "tokens_prompt": 812,
//	    "tokens_completion": 153
//	}
type ModelCallStep struct {
	client ModelClient
}

// NewModelCallStep создаёт новый ModelCallStep.
func NewModelCallStep(client ModelClient) *ModelCallStep {
	return &ModelCallStep{client: client}
}

// Type возвращает тип шага.
func (s *ModelCallStep) Type() domain.StepType {
	return domain.StepTypeModelCall
}

// Execute выполняет вызов модели.
func (s *ModelCallStep) Execute(ctx context.Context, req *Request) (*Result, error) {
	if s.client == nil {
		return nil, fmt.Errorf("%w: model_call: no model client configured", ErrInvalidConfig)
	}

	config, err := resolveConfig(req)
	if err != nil {
		return nil, err
	}

	prompt := GetConfigString(config, configPrompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: model_call: prompt is required", ErrInvalidConfig)
	}

	model := GetConfigString(config, configModel)
	if model == "" {
		model = DefaultModel
	}

	modelReq := &ModelRequest{
		Model:     model,
		Prompt:    prompt,
		System:    GetConfigString(config, configSystem),
		MaxTokens: GetConfigInt(config, configMaxTokens),
		JSONMode:  GetConfigBool(config, configJSONMode, false),
	}
	if temp, ok := GetConfigFloat(config, configTemperature); ok {
		modelReq.Temperature = float32(temp)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultModelTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := s.client.Complete(callCtx, modelReq)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: model_call after %s", ErrStepTimeout, timeout)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	result := NewResult(map[string]any{
		"text":              resp.Text,
		"model":             resp.Model,
		"tokens_prompt":     resp.PromptTokens,
		"tokens_completion": resp.CompletionTokens,
	})
	result.Cost = resp.Cost
	result.TokensUsed = resp.TotalTokens()

	return result, nil
}
