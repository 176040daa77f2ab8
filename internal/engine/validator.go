package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/Cascade/internal/domain"
)

// ValidationResult — результат валидации PipelineDefinition.
//
// Pipeline с Valid == false не должен выполняться.
type ValidationResult struct {
	// Valid — true, если ошибок не найдено.
	Valid bool `json:"valid"`

	// Errors — найденные ошибки.
	Errors []*ValidationError `json:"errors"`

	// Warnings — предупреждения, не блокирующие выполнение.
	Warnings []*ValidationError `json:"warnings"`
}

// addError добавляет ошибку в результат.
func (r *ValidationResult) addError(e *ValidationError) {
	r.Errors = append(r.Errors, e)
	r.Valid = false
}

// addWarning добавляет предупреждение в результат.
func (r *ValidationResult) addWarning(e *ValidationError) {
	r.Warnings = append(r.Warnings, e)
}

// Операторы condition шагов.
var validOperators = map[string]bool{
	"eq":       true,
	"ne":       true,
	"gt":       true,
	"lt":       true,
	"gte":      true,
	"lte":      true,
	"in":       true,
	"contains": true,
	"exists":   true,
}

// Операции transform шагов.
var validTransformOps = map[string]bool{
	"extract":   true,
	"filter":    true,
	"format":    true,
	"aggregate": true,
	"sort":      true,
}

// Validate выполняет полную валидацию PipelineDefinition.
//
// Проверяет по порядку:
//  1. структуру шагов (ID, типы, depends_on)
//  2. connections (существующие шаги, объявленные input/output)
//  3. ацикличность графа (DFS, в ошибке перечислены шаги цикла)
//  4. обязательные поля конфигурации для каждого типа шага
//  5. цели true_branch/false_branch condition шагов
//
// Валидация не изменяет определение и идемпотентна: повторный вызов
// на том же определении возвращает тот же результат.
func Validate(def *domain.PipelineDefinition) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   make([]*ValidationError, 0),
		Warnings: make([]*ValidationError, 0),
	}

	if def == nil || len(def.Steps) == 0 {
		result.addError(NewValidationError("", "steps", "pipeline has no steps", ErrEmptySteps))
		return result
	}

	stepIDs := validateStructure(def, result)
	validateConnections(def, stepIDs, result)
	validateAcyclic(def, result)
	validateConfigs(def, result)
	validateBranches(def, stepIDs, result)

	return result
}

// validateStructure проверяет ID, типы и depends_on шагов.
// Возвращает множество валидных ID шагов.
func validateStructure(def *domain.PipelineDefinition, result *ValidationResult) map[string]bool {
	stepIDs := make(map[string]bool, len(def.Steps))

	for i := range def.Steps {
		step := &def.Steps[i]

		if step.ID == "" {
			result.addError(NewValidationError("", "id",
				fmt.Sprintf("step at position %d has empty ID", i), ErrEmptyStepID))
			continue
		}

		if stepIDs[step.ID] {
			result.addError(NewValidationError(step.ID, "id",
				"duplicate step ID: "+step.ID, ErrDuplicateStepID))
			continue
		}
		stepIDs[step.ID] = true

		if !domain.ValidStepTypes[step.Type] {
			result.addError(NewValidationError(step.ID, "type",
				fmt.Sprintf("unknown step type: %q", step.Type), ErrUnknownStepType))
		}

		if !step.IsEnabled() {
			result.addWarning(NewValidationError(step.ID, "enabled",
				"step is disabled and will be skipped", nil))
		}
	}

	// depends_on проверяем вторым проходом, когда известны все ID
	for i := range def.Steps {
		step := &def.Steps[i]

		for _, dep := range step.DependsOn {
			if dep == step.ID {
				result.addError(NewValidationError(step.ID, "depends_on",
					"step depends on itself", ErrSelfDependency))
				continue
			}
			if !stepIDs[dep] {
				result.addError(NewValidationError(step.ID, "depends_on",
					"depends on unknown step: "+dep, ErrMissingDependency))
			}
		}
	}

	return stepIDs
}

// validateConnections проверяет, что connections ссылаются на существующие
// шаги и объявленные имена входов/выходов.
func validateConnections(def *domain.PipelineDefinition, stepIDs map[string]bool, result *ValidationResult) {
	for _, conn := range def.Connections {
		if !stepIDs[conn.SourceStep] {
			result.addError(NewValidationError(conn.SourceStep, "connections",
				"connection source references unknown step: "+conn.SourceStep, ErrUnknownConnectionStep))
			continue
		}
		if !stepIDs[conn.TargetStep] {
			result.addError(NewValidationError(conn.TargetStep, "connections",
				"connection target references unknown step: "+conn.TargetStep, ErrUnknownConnectionStep))
			continue
		}

		source := def.StepByID(conn.SourceStep)
		if len(source.Outputs) > 0 && !containsName(source.Outputs, conn.Output) {
			result.addError(NewValidationError(conn.SourceStep, "connections",
				fmt.Sprintf("step %s has no declared output %q", conn.SourceStep, conn.Output), ErrUnknownPort))
		}

		target := def.StepByID(conn.TargetStep)
		if len(target.Inputs) > 0 && !containsName(target.Inputs, conn.Input) {
			result.addError(NewValidationError(conn.TargetStep, "connections",
				fmt.Sprintf("step %s has no declared input %q", conn.TargetStep, conn.Input), ErrUnknownPort))
		}
	}
}

// validateAcyclic проверяет граф на циклы обходом в глубину.
// При обнаружении цикла ошибка перечисляет имена его шагов.
func validateAcyclic(def *domain.PipelineDefinition, result *ValidationResult) {
	// Смежность: шаг → шаги, зависящие от него. Рёбра — объединение
	// depends_on, connections и веток condition шагов: цель ветки
	// выполняется строго после своего condition шага.
	adjacency := make(map[string][]string, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		for _, dep := range step.DependsOn {
			adjacency[dep] = append(adjacency[dep], step.ID)
		}
		if step.Type == domain.StepTypeCondition {
			adjacency[step.ID] = append(adjacency[step.ID], step.TrueBranch...)
			adjacency[step.ID] = append(adjacency[step.ID], step.FalseBranch...)
		}
	}
	for _, conn := range def.Connections {
		adjacency[conn.SourceStep] = append(adjacency[conn.SourceStep], conn.TargetStep)
	}
	for id := range adjacency {
		sort.Strings(adjacency[id])
	}

	const (
		white = 0 // не посещён
		gray  = 1 // в текущем пути обхода
		black = 2 // полностью обработан
	)

	color := make(map[string]int, len(def.Steps))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)

		for _, next := range adjacency[id] {
			switch color[next] {
			case gray:
				// Цикл: от первого вхождения next в стеке до вершины.
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cycle := append([]string{}, stack[start:]...)
				return append(cycle, next)
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		if color[step.ID] != white {
			continue
		}
		stack = stack[:0]
		if cycle := visit(step.ID); cycle != nil {
			names := make([]string, len(cycle))
			for i, id := range cycle {
				if s := def.StepByID(id); s != nil {
					names[i] = s.DisplayName()
				} else {
					names[i] = id
				}
			}
			cycleErr := &CycleError{Steps: names}
			result.addError(NewValidationError(cycle[0], "depends_on", cycleErr.Error(), ErrCyclicDependency))
			return
		}
	}
}

// validateConfigs проверяет обязательные поля конфигурации каждого шага.
func validateConfigs(def *domain.PipelineDefinition, result *ValidationResult) {
	for i := range def.Steps {
		step := &def.Steps[i]

		switch step.Type {
		case domain.StepTypeModelCall:
			if configString(step.Config, "prompt") == "" {
				result.addError(NewValidationError(step.ID, "config.prompt",
					"model_call step requires a prompt", ErrMissingConfig))
			}
			if configString(step.Config, "model") == "" {
				result.addWarning(NewValidationError(step.ID, "config.model",
					"model not set, the default model will be used", nil))
			}

		case domain.StepTypeCode:
			if configString(step.Config, "source") == "" {
				result.addError(NewValidationError(step.ID, "config.source",
					"code step requires source", ErrMissingConfig))
			}

		case domain.StepTypeHTTP:
			if configString(step.Config, "url") == "" {
				result.addError(NewValidationError(step.ID, "config.url",
					"http step requires url", ErrMissingConfig))
			}

		case domain.StepTypeTransform:
			op := configString(step.Config, "operation")
			if op == "" {
				result.addError(NewValidationError(step.ID, "config.operation",
					"transform step requires operation", ErrMissingConfig))
			} else if !validTransformOps[op] {
				result.addError(NewValidationError(step.ID, "config.operation",
					fmt.Sprintf("unknown transform operation: %q", op), ErrInvalidConfig))
			}

		case domain.StepTypeCondition:
			op := configString(step.Config, "operator")
			if op == "" {
				result.addError(NewValidationError(step.ID, "config.operator",
					"condition step requires operator", ErrMissingConfig))
			} else if !validOperators[op] {
				result.addError(NewValidationError(step.ID, "config.operator",
					fmt.Sprintf("unknown condition operator: %q", op), ErrInvalidConfig))
			}
			if _, ok := step.Config["value"]; !ok {
				result.addError(NewValidationError(step.ID, "config.value",
					"condition step requires value", ErrMissingConfig))
			}
			if _, ok := step.Config["operand"]; !ok && op != "exists" && op != "" {
				result.addError(NewValidationError(step.ID, "config.operand",
					fmt.Sprintf("condition operator %q requires operand", op), ErrMissingConfig))
			}

		case domain.StepTypeMerge:
			if strategy := configString(step.Config, "strategy"); strategy != "" {
				switch strategy {
				case "object", "array", "first":
				default:
					result.addError(NewValidationError(step.ID, "config.strategy",
						fmt.Sprintf("unknown merge strategy: %q", strategy), ErrInvalidConfig))
				}
			}
			if len(step.DependsOn) < 2 {
				result.addWarning(NewValidationError(step.ID, "depends_on",
					"merge step has fewer than two upstream dependencies", nil))
			}
		}
	}
}

// validateBranches проверяет, что цели веток condition шагов существуют.
func validateBranches(def *domain.PipelineDefinition, stepIDs map[string]bool, result *ValidationResult) {
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.Type != domain.StepTypeCondition {
			continue
		}

		for _, id := range step.TrueBranch {
			if !stepIDs[id] {
				result.addError(NewValidationError(step.ID, "true_branch",
					"true_branch references unknown step: "+id, ErrUnknownBranchTarget))
			}
		}
		for _, id := range step.FalseBranch {
			if !stepIDs[id] {
				result.addError(NewValidationError(step.ID, "false_branch",
					"false_branch references unknown step: "+id, ErrUnknownBranchTarget))
			}
		}

		if len(step.TrueBranch) == 0 && len(step.FalseBranch) == 0 {
			result.addWarning(NewValidationError(step.ID, "true_branch",
				"condition step has no branch targets", nil))
		}
	}
}

// configString извлекает строковое значение из конфига.
func configString(config map[string]any, key string) string {
	if config == nil {
		return ""
	}
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// containsName проверяет наличие имени в списке.
func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
