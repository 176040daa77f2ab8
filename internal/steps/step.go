package steps

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/engine"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepTimeout — шаг превысил таймаут.
	ErrStepTimeout = errors.New("step execution timeout")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")
)

// Step — интерфейс для типов шагов.
//
// Каждый тип шага (model_call, code, http, transform, condition, merge)
// реализует этот интерфейс.
type Step interface {
	// Type возвращает тип шага.
	Type() domain.StepType

	// Execute выполняет шаг и возвращает результат.
	// Шаг должен проверять ctx.Done() для graceful shutdown.
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Request — входные данные для выполнения шага.
type Request struct {
	// StepID — идентификатор шага.
	StepID string

	// Name — имя шага для сообщений об ошибках.
	Name string

	// Config — сырая конфигурация шага. Плейсхолдеры {{path}}
	// разрешаются самим шагом через Context.
	Config map[string]any

	// Inputs — разрешённые входы из connections (имя входа → значение).
	Inputs map[string]any

	// InputOrder — порядок источников входов в объявленном порядке шагов.
	// Используется merge шагом для детерминированного результата.
	InputOrder []string

	// Context — контекст выполнения с переменными и outputs
	// завершённых шагов.
	Context *engine.ExecutionContext

	// Timeout — таймаут одной попытки выполнения шага.
	// Если 0, используется таймаут по умолчанию для типа шага.
	Timeout time.Duration
}

// Result — результат выполнения шага.
type Result struct {
	// Output — выходные данные шага.
	// Доступны в следующих шагах через {{steps.stepID.output.field}}.
	Output map[string]any

	// Cost — стоимость выполнения в долларах (для model_call).
	Cost float64

	// TokensUsed — количество использованных токенов (для model_call).
	TokensUsed int
}

// NewRequest создаёт новый Request.
func NewRequest(stepID string, config map[string]any, execCtx *engine.ExecutionContext, timeout time.Duration) *Request {
	if config == nil {
		config = make(map[string]any)
	}
	return &Request{
		StepID:  stepID,
		Config:  config,
		Context: execCtx,
		Timeout: timeout,
	}
}

// NewResult создаёт Result с output.
func NewResult(output map[string]any) *Result {
	if output == nil {
		output = make(map[string]any)
	}
	return &Result{Output: output}
}

// EmptyResult возвращает пустой Result.
func EmptyResult() *Result {
	return &Result{Output: make(map[string]any)}
}

// resolveConfig разрешает плейсхолдеры во всей конфигурации шага.
func resolveConfig(req *Request) (map[string]any, error) {
	if req.Context == nil {
		return req.Config, nil
	}
	resolved, err := req.Context.InterpolateValue(req.Config)
	if err != nil {
		return nil, err
	}
	m, ok := resolved.(map[string]any)
	if !ok {
		return req.Config, nil
	}
	return m, nil
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetConfigFloat извлекает дробное значение из конфига.
func GetConfigFloat(config map[string]any, key string) (float64, bool) {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		}
	}
	return 0, false
}

// GetConfigBool извлекает булево значение из конфига.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetConfigMap извлекает map из конфига.
func GetConfigMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// GetConfigMapString извлекает map[string]string из конфига.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}

// GetConfigSlice извлекает список значений из конфига.
func GetConfigSlice(config map[string]any, key string) []any {
	if v, ok := config[key]; ok {
		if s, ok := v.([]any); ok {
			return s
		}
	}
	return nil
}
