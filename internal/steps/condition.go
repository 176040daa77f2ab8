package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/engine"
)

// Ключи конфигурации condition шага.
const (
	configOperator = "operator"
	configValue    = "value"
	configOperand  = "operand"
)

// ConditionStep — шаг ветвления.
//
// Вычисляет предикат над значением из контекста и возвращает
// булев результат. Оркестратор по результату пропускает шаги
// невыбранной ветки (true_branch/false_branch).
//
// Конфигурация:
//
//	{
//	    "operator": "gte",
//	    "value": "{{score.output.result}}",
//	    "operand": 0.5
//	}
//
// Операторы: eq, ne, gt, lt, gte, lte, in, contains, exists.
// Для exists operand не нужен: неразрешимый путь означает false.
//
// Outputs:
//
//	{
//	    "result": true
//	}
type ConditionStep struct{}

// NewConditionStep создаёт новый ConditionStep.
func NewConditionStep() *ConditionStep {
	return &ConditionStep{}
}

// Type возвращает тип шага.
func (s *ConditionStep) Type() domain.StepType {
	return domain.StepTypeCondition
}

// Execute вычисляет условие.
func (s *ConditionStep) Execute(ctx context.Context, req *Request) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	default:
	}

	operator := GetConfigString(req.Config, configOperator)
	if operator == "" {
		return nil, fmt.Errorf("%w: condition: operator is required", ErrInvalidConfig)
	}

	// value разрешаем отдельно: для exists неразрешимый путь — это
	// валидный ответ false, а не ошибка привязки.
	value, err := s.resolveOperand(req, req.Config[configValue])
	if err != nil {
		if operator == "exists" && errors.Is(err, engine.ErrUnresolvedPath) {
			return NewResult(map[string]any{"result": false}), nil
		}
		return nil, err
	}

	if operator == "exists" {
		return NewResult(map[string]any{"result": value != nil}), nil
	}

	operand, err := s.resolveOperand(req, req.Config[configOperand])
	if err != nil {
		return nil, err
	}

	result, err := evalOperator(operator, value, operand)
	if err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}

	return NewResult(map[string]any{"result": result}), nil
}

// resolveOperand интерполирует один операнд условия.
func (s *ConditionStep) resolveOperand(req *Request, raw any) (any, error) {
	if req.Context == nil {
		return raw, nil
	}
	return req.Context.InterpolateValue(raw)
}

// evalOperator вычисляет оператор сравнения.
func evalOperator(operator string, value, operand any) (bool, error) {
	switch operator {
	case "eq":
		return valuesEqual(value, operand), nil
	case "ne":
		return !valuesEqual(value, operand), nil
	case "gt", "lt", "gte", "lte":
		return compareOrdered(operator, value, operand)
	case "in":
		return containsValue(operand, value), nil
	case "contains":
		return containsValue(value, operand), nil
	case "exists":
		return value != nil, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidConfig, operator)
	}
}

// valuesEqual сравнивает два значения с числовой нормализацией.
func valuesEqual(a, b any) bool {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			return na == nb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareOrdered сравнивает упорядочиваемые значения.
func compareOrdered(operator string, a, b any) (bool, error) {
	na, aok := toFloat(a)
	nb, bok := toFloat(b)

	if aok && bok {
		switch operator {
		case "gt":
			return na > nb, nil
		case "lt":
			return na < nb, nil
		case "gte":
			return na >= nb, nil
		case "lte":
			return na <= nb, nil
		}
	}

	// Строковое сравнение как fallback
	sa, sok := a.(string)
	sb, sbok := b.(string)
	if sok && sbok {
		switch operator {
		case "gt":
			return sa > sb, nil
		case "lt":
			return sa < sb, nil
		case "gte":
			return sa >= sb, nil
		case "lte":
			return sa <= sb, nil
		}
	}

	return false, fmt.Errorf("values %v and %v are not comparable", a, b)
}

// containsValue проверяет вхождение needle в haystack.
// haystack может быть строкой, массивом или map (по ключам).
func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		if s, ok := needle.(string); ok {
			return strings.Contains(h, s)
		}
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []any:
		for _, item := range h {
			if valuesEqual(item, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		key := fmt.Sprintf("%v", needle)
		_, ok := h[key]
		return ok
	default:
		return false
	}
}
