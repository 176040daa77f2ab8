package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки валидации PipelineDefinition.
var (
	// ErrEmptySteps — pipeline не содержит шагов.
	ErrEmptySteps = errors.New("pipeline has no steps")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrUnknownStepType — неизвестный тип шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrMissingDependency — шаг зависит от несуществующего шага.
	ErrMissingDependency = errors.New("step depends on unknown step")

	// ErrSelfDependency — шаг зависит от самого себя.
	ErrSelfDependency = errors.New("step depends on itself")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrUnknownConnectionStep — connection ссылается на несуществующий шаг.
	ErrUnknownConnectionStep = errors.New("connection references unknown step")

	// ErrUnknownPort — connection ссылается на необъявленный input/output.
	ErrUnknownPort = errors.New("connection references undeclared port")

	// ErrMissingConfig — отсутствует обязательное поле конфигурации.
	ErrMissingConfig = errors.New("missing required config field")

	// ErrInvalidConfig — поле конфигурации имеет неверный тип или значение.
	ErrInvalidConfig = errors.New("invalid config field")

	// ErrUnknownBranchTarget — true_branch/false_branch ссылается
	// на несуществующий шаг.
	ErrUnknownBranchTarget = errors.New("branch references unknown step")
)

// Ошибки привязки входов (interpolation).
var (
	// ErrUnresolvedPath — плейсхолдер шаблона не разрешился.
	// Неразрешённый путь — это типизированная ошибка привязки входов,
	// а не молчаливая подстановка пустой строки.
	ErrUnresolvedPath = errors.New("unresolved template path")

	// ErrBadTemplate — синтаксически некорректный шаблон.
	ErrBadTemplate = errors.New("malformed template")
)

// ValidationError — одна ошибка валидации с контекстом.
type ValidationError struct {
	// StepID — ID шага, где произошла ошибка (пусто для ошибок уровня pipeline).
	StepID string `json:"step_id,omitempty"`

	// Field — поле, вызвавшее ошибку.
	Field string `json:"field,omitempty"`

	// Message — описание ошибки.
	Message string `json:"message"`

	// Err — базовая sentinel-ошибка.
	Err error `json:"-"`
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepID, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// UnresolvedPathError — плейсхолдер не нашёл значения в контексте.
type UnresolvedPathError struct {
	// Path — неразрешённый dotted-path.
	Path string
}

// Error реализует интерфейс error.
func (e *UnresolvedPathError) Error() string {
	return fmt.Sprintf("unresolved template path: {{%s}}", e.Path)
}

// Unwrap возвращает ErrUnresolvedPath.
func (e *UnresolvedPathError) Unwrap() error {
	return ErrUnresolvedPath
}

// CycleError — в графе зависимостей найден цикл.
type CycleError struct {
	// Steps — имена шагов, образующих цикл, в порядке обхода.
	Steps []string
}

// Error реализует интерфейс error.
func (e *CycleError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Steps, " -> ")
}

// Unwrap возвращает ErrCyclicDependency.
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}
