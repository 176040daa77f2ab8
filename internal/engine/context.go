package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// placeholderRe — плейсхолдер вида {{ path.to.value }}.
var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\-\[\]]+)\s*\}\}`)

// ExecutionContext — общее состояние одного выполнения pipeline.
//
// Хранит начальные переменные и outputs завершённых шагов.
// Шаги читают значения через dotted-path: "variables.user_id",
// "steps.fetch.output.items", "step_a.text" (короткая форма без
// префикса steps и без output).
//
// Потокобезопасен: шаги выполняются в параллельных горутинах.
type ExecutionContext struct {
	mu sync.RWMutex

	// variables — начальные переменные выполнения.
	variables map[string]any

	// outputs — outputs завершённых шагов (stepID → output).
	outputs map[string]map[string]any
}

// NewExecutionContext создаёт контекст с начальными переменными.
func NewExecutionContext(variables map[string]any) *ExecutionContext {
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return &ExecutionContext{
		variables: vars,
		outputs:   make(map[string]map[string]any),
	}
}

// Variable возвращает начальную переменную по имени.
func (c *ExecutionContext) Variable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// SetVariable устанавливает переменную.
func (c *ExecutionContext) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// SetStepOutput сохраняет output завершённого шага.
func (c *ExecutionContext) SetStepOutput(stepID string, output map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[stepID] = output
}

// StepOutput возвращает output шага.
func (c *ExecutionContext) StepOutput(stepID string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.outputs[stepID]
	return out, ok
}

// Snapshot возвращает копию состояния контекста для записи в историю.
func (c *ExecutionContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	steps := make(map[string]any, len(c.outputs))
	for id, out := range c.outputs {
		steps[id] = out
	}
	vars := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		vars[k] = v
	}
	return map[string]any{
		"variables": vars,
		"steps":     steps,
	}
}

// Resolve разрешает dotted-path в значение из контекста.
//
// Поддерживаемые формы:
//   - "variables.<name>[...]" — начальные переменные
//   - "steps.<id>.output[...]" — output шага
//   - "<id>.<field>[...]" — короткая форма: output шага без префиксов
//
// Сегмент может быть числовым индексом для обращения к элементу массива.
// Возвращает UnresolvedPathError, если путь не ведёт к значению.
func (c *ExecutionContext) Resolve(path string) (any, error) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, &UnresolvedPathError{Path: path}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	switch segments[0] {
	case "variables":
		if len(segments) < 2 {
			return nil, &UnresolvedPathError{Path: path}
		}
		value, ok := c.variables[segments[1]]
		if !ok {
			return nil, &UnresolvedPathError{Path: path}
		}
		return resolveSegments(value, segments[2:], path)

	case "steps":
		if len(segments) < 2 {
			return nil, &UnresolvedPathError{Path: path}
		}
		output, ok := c.outputs[segments[1]]
		if !ok {
			return nil, &UnresolvedPathError{Path: path}
		}
		rest := segments[2:]
		// Необязательный сегмент "output" после ID шага.
		if len(rest) > 0 && rest[0] == "output" {
			rest = rest[1:]
		}
		return resolveSegments(output, rest, path)

	default:
		// Короткая форма: первый сегмент — ID шага, затем переменная.
		if output, ok := c.outputs[segments[0]]; ok {
			return resolveSegments(output, segments[1:], path)
		}
		if value, ok := c.variables[segments[0]]; ok {
			return resolveSegments(value, segments[1:], path)
		}
		return nil, &UnresolvedPathError{Path: path}
	}
}

// resolveSegments спускается по сегментам пути внутри значения.
func resolveSegments(value any, segments []string, fullPath string) (any, error) {
	current := value

	for _, seg := range segments {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, &UnresolvedPathError{Path: fullPath}
			}
			current = next

		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, &UnresolvedPathError{Path: fullPath}
			}
			current = v[idx]

		default:
			return nil, &UnresolvedPathError{Path: fullPath}
		}
	}

	return current, nil
}

// Interpolate подставляет значения плейсхолдеров {{path}} в строку.
//
// Если строка целиком состоит из одного плейсхолдера, возвращается
// значение с исходным типом (map, slice, число), а не его строковое
// представление. Иначе каждое значение приводится к строке.
//
// Неразрешённый путь — ошибка, а не пустая подстановка.
func (c *ExecutionContext) Interpolate(input string) (any, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input, nil
	}

	// Один плейсхолдер, занимающий всю строку: типизированное значение.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(input) {
		path := input[matches[0][2]:matches[0][3]]
		return c.Resolve(path)
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(input[last:m[0]])
		path := input[m[2]:m[3]]
		value, err := c.Resolve(path)
		if err != nil {
			return nil, err
		}
		sb.WriteString(stringify(value))
		last = m[1]
	}
	sb.WriteString(input[last:])

	return sb.String(), nil
}

// InterpolateValue рекурсивно интерполирует строки внутри значения.
// Применяется к конфигурации шага перед выполнением.
func (c *ExecutionContext) InterpolateValue(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return c.Interpolate(v)

	case map[string]any:
		result := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := c.InterpolateValue(item)
			if err != nil {
				return nil, err
			}
			result[k] = resolved
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			resolved, err := c.InterpolateValue(item)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil

	default:
		return value, nil
	}
}

// stringify приводит значение к строке для подстановки в шаблон.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
