package steps

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shaiso/Cascade/internal/domain"
)

// Ключи конфигурации transform шага.
const (
	configOperation = "operation"
	configInput     = "input"
	configPath      = "path"
	configField     = "field"
	configTemplate  = "template"
	configSeparator = "separator"
	configFunction  = "function"
	configOrder     = "order"
)

// itemPlaceholderRe — плейсхолдер поля элемента в format шаблоне: {field}.
var itemPlaceholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// TransformStep — шаг детерминированного преобразования данных.
//
// Не вызывает внешних сервисов; работает над значением input,
// разрешённым из контекста выполнения.
//
// Операции:
//   - extract: извлечь значение по dotted-path внутри input
//   - filter: оставить элементы массива, удовлетворяющие условию
//   - format: отформатировать элементы массива шаблоном с {field}
//   - aggregate: sum/avg/min/max/count над массивом
//   - sort: отсортировать массив по полю
//
// Конфигурация:
//
//	{
//	    "operation": "filter",
//	    "input": "{{fetch.body.items}}",
//	    "field": "score",
//	    "operator": "gte",
//	    "value": 0.5
//	}
//
// Outputs:
//
//	{
//	    "result": [...]
//	}
type TransformStep struct{}

// NewTransformStep создаёт новый TransformStep.
func NewTransformStep() *TransformStep {
	return &TransformStep{}
}

// Type возвращает тип шага.
func (s *TransformStep) Type() domain.StepType {
	return domain.StepTypeTransform
}

// Execute выполняет трансформацию данных.
func (s *TransformStep) Execute(ctx context.Context, req *Request) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	default:
	}

	config, err := resolveConfig(req)
	if err != nil {
		return nil, err
	}

	operation := GetConfigString(config, configOperation)
	input := config[configInput]

	var result any
	switch operation {
	case "extract":
		result, err = s.extract(input, GetConfigString(config, configPath))
	case "filter":
		result, err = s.filter(input, config)
	case "format":
		result, err = s.format(input, config)
	case "aggregate":
		result, err = s.aggregate(input, config)
	case "sort":
		result, err = s.sortItems(input, config)
	default:
		return nil, fmt.Errorf("%w: transform: unknown operation %q", ErrInvalidConfig, operation)
	}
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", operation, err)
	}

	return NewResult(map[string]any{"result": result}), nil
}

// extract извлекает значение по dotted-path внутри input.
func (s *TransformStep) extract(input any, path string) (any, error) {
	if path == "" {
		return input, nil
	}

	current := input
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q: segment %q is not an object", path, seg)
		}
		current, ok = m[seg]
		if !ok {
			return nil, fmt.Errorf("path %q: key %q not found", path, seg)
		}
	}
	return current, nil
}

// filter оставляет элементы массива, удовлетворяющие условию.
func (s *TransformStep) filter(input any, config map[string]any) (any, error) {
	items, ok := input.([]any)
	if !ok {
		return nil, fmt.Errorf("input is not an array")
	}

	field := GetConfigString(config, configField)
	operator := GetConfigString(config, "operator")
	operand := config["value"]
	if operator == "" {
		return nil, fmt.Errorf("%w: filter requires operator", ErrInvalidConfig)
	}

	kept := make([]any, 0, len(items))
	for _, item := range items {
		value := item
		if field != "" {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			value = m[field]
		}
		match, err := evalOperator(operator, value, operand)
		if err != nil {
			return nil, err
		}
		if match {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// format форматирует элементы массива шаблоном с плейсхолдерами {field}.
// Для не-массива применяет шаблон к единственному значению.
func (s *TransformStep) format(input any, config map[string]any) (any, error) {
	template := GetConfigString(config, configTemplate)
	if template == "" {
		return nil, fmt.Errorf("%w: format requires template", ErrInvalidConfig)
	}
	separator := GetConfigString(config, configSeparator)
	if separator == "" {
		separator = "\n"
	}

	items, ok := input.([]any)
	if !ok {
		return s.formatItem(template, input), nil
	}

	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = s.formatItem(template, item)
	}
	return strings.Join(lines, separator), nil
}

// formatItem подставляет поля элемента в шаблон.
func (s *TransformStep) formatItem(template string, item any) string {
	return itemPlaceholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		if key == "item" {
			return fmt.Sprintf("%v", item)
		}
		if m, ok := item.(map[string]any); ok {
			if v, exists := m[key]; exists {
				return fmt.Sprintf("%v", v)
			}
		}
		return match
	})
}

// aggregate вычисляет агрегат над массивом.
func (s *TransformStep) aggregate(input any, config map[string]any) (any, error) {
	items, ok := input.([]any)
	if !ok {
		return nil, fmt.Errorf("input is not an array")
	}

	function := GetConfigString(config, configFunction)
	if function == "count" {
		return float64(len(items)), nil
	}

	field := GetConfigString(config, configField)
	numbers := make([]float64, 0, len(items))
	for _, item := range items {
		value := item
		if field != "" {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			value = m[field]
		}
		if n, ok := toFloat(value); ok {
			numbers = append(numbers, n)
		}
	}

	if len(numbers) == 0 {
		if function == "sum" {
			return float64(0), nil
		}
		return nil, fmt.Errorf("no numeric values to aggregate")
	}

	switch function {
	case "sum", "avg":
		sum := 0.0
		for _, n := range numbers {
			sum += n
		}
		if function == "avg" {
			return sum / float64(len(numbers)), nil
		}
		return sum, nil
	case "min":
		min := numbers[0]
		for _, n := range numbers[1:] {
			if n < min {
				min = n
			}
		}
		return min, nil
	case "max":
		max := numbers[0]
		for _, n := range numbers[1:] {
			if n > max {
				max = n
			}
		}
		return max, nil
	default:
		return nil, fmt.Errorf("%w: unknown aggregate function %q", ErrInvalidConfig, function)
	}
}

// sortItems сортирует массив по полю.
func (s *TransformStep) sortItems(input any, config map[string]any) (any, error) {
	items, ok := input.([]any)
	if !ok {
		return nil, fmt.Errorf("input is not an array")
	}

	field := GetConfigString(config, configField)
	descending := GetConfigString(config, configOrder) == "desc"

	sorted := make([]any, len(items))
	copy(sorted, items)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if field != "" {
			if m, ok := a.(map[string]any); ok {
				a = m[field]
			}
			if m, ok := b.(map[string]any); ok {
				b = m[field]
			}
		}
		less := compareLess(a, b)
		if descending {
			return !less && !valuesEqual(a, b)
		}
		return less
	})

	return sorted, nil
}

// toFloat приводит значение к float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// compareLess сравнивает два значения для сортировки.
func compareLess(a, b any) bool {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			return na < nb
		}
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}
