package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepType — тип шага в pipeline.
//
// Закрытый набор вариантов: добавление нового типа шага означает
// добавление одной реализации steps.Step, оркестратор не меняется.
type StepType string

const (
	// StepTypeModelCall — вызов LLM (промпт → сгенерированный текст + usage).
	StepTypeModelCall StepType = "model_call"

	// StepTypeCode — выполнение кода в изолированной песочнице.
	StepTypeCode StepType = "code"

	// StepTypeHTTP — HTTP-запрос к внешнему API.
	StepTypeHTTP StepType = "http"

	// StepTypeTransform — чистое преобразование данных (без I/O).
	StepTypeTransform StepType = "transform"

	// StepTypeCondition — вычисление условия, выбирающего ветку.
	StepTypeCondition StepType = "condition"

	// StepTypeMerge — объединение результатов нескольких веток.
	StepTypeMerge StepType = "merge"
)

// ValidStepTypes — допустимые типы шагов.
var ValidStepTypes = map[StepType]bool{
	StepTypeModelCall: true,
	StepTypeCode:      true,
	StepTypeHTTP:      true,
	StepTypeTransform: true,
	StepTypeCondition: true,
	StepTypeMerge:     true,
}

// PipelineDefinition — определение pipeline.
//
// Pipeline — это направленный граф разнородных шагов (вызовы моделей,
// код, HTTP, трансформации, условия), созданный пользователем в редакторе.
// Определение принадлежит слою хранения; движок его только читает
// и никогда не изменяет после начала выполнения.
type PipelineDefinition struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// Name — имя pipeline.
	Name string `json:"name"`

	// Description — описание назначения pipeline.
	Description string `json:"description,omitempty"`

	// Steps — упорядоченный список шагов.
	// Порядок объявления используется как детерминированный tie-break
	// при диспетчеризации готовых шагов.
	Steps []StepDef `json:"steps"`

	// Connections — рёбра потока данных: output одного шага → input другого.
	Connections []Connection `json:"connections,omitempty"`

	// Variables — объявленные переменные pipeline.
	Variables []VariableDef `json:"variables,omitempty"`

	// Settings — настройки выполнения.
	Settings Settings `json:"settings,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// StepByID возвращает определение шага по ID.
func (d *PipelineDefinition) StepByID(id string) *StepDef {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// ConnectionsTo возвращает все connections, входящие в указанный шаг.
func (d *PipelineDefinition) ConnectionsTo(stepID string) []Connection {
	var conns []Connection
	for _, c := range d.Connections {
		if c.TargetStep == stepID {
			conns = append(conns, c)
		}
	}
	return conns
}

// StepDef — определение шага в pipeline.
type StepDef struct {
	// ID — уникальный идентификатор шага в рамках pipeline.
	// Используется в depends_on, connections и для ссылок на результаты.
	ID string `json:"id"`

	// Name — человекочитаемое имя шага.
	Name string `json:"name,omitempty"`

	// Type — тип шага.
	Type StepType `json:"type"`

	// Config — конфигурация шага (зависит от типа).
	// Для model_call: model, prompt, temperature, max_tokens
	// Для http: method, url, headers, body
	// Для code: language, source
	Config map[string]any `json:"config,omitempty"`

	// DependsOn — список ID шагов, от которых зависит этот шаг.
	// Шаг становится готовым только когда каждый из них достиг
	// терминального, удовлетворяющего гейтингу статуса.
	DependsOn []string `json:"depends_on,omitempty"`

	// Inputs — объявленные имена входов шага.
	Inputs []string `json:"inputs,omitempty"`

	// Outputs — объявленные имена выходов шага.
	Outputs []string `json:"outputs,omitempty"`

	// RetryCount — количество повторных попыток после первой неудачи.
	// Всего выполняется RetryCount+1 попыток.
	RetryCount int `json:"retry_count,omitempty"`

	// TimeoutSec — таймаут одной попытки (не суммы всех retry).
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// Enabled — флаг активности. nil трактуется как true.
	// Выключенные шаги помечаются SKIPPED и удовлетворяют гейтинг.
	Enabled *bool `json:"enabled,omitempty"`

	// TrueBranch — ID шагов, становящихся доступными при истинном условии.
	// Только для type="condition".
	TrueBranch []string `json:"true_branch,omitempty"`

	// FalseBranch — ID шагов, становящихся доступными при ложном условии.
	// Только для type="condition".
	FalseBranch []string `json:"false_branch,omitempty"`
}

// IsEnabled возвращает true, если шаг активен.
func (s *StepDef) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DisplayName возвращает имя шага, либо его ID, если имя не задано.
func (s *StepDef) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Connection — ребро потока данных между шагами.
//
// Определяет, что выход SourceStep с именем Output подаётся
// на вход TargetStep с именем Input. Connections задают поток данных
// независимо от depends_on, но согласованно с ним: каждое connection
// добавляет ребро в граф зависимостей.
type Connection struct {
	// SourceStep — ID шага-источника.
	SourceStep string `json:"source_step"`

	// Output — имя выхода шага-источника.
	Output string `json:"output"`

	// TargetStep — ID шага-приёмника.
	TargetStep string `json:"target_step"`

	// Input — имя входа шага-приёмника.
	Input string `json:"input"`
}

// VariableDef — объявление переменной pipeline.
type VariableDef struct {
	// Name — имя переменной. Доступна в шаблонах как {{ name }}.
	Name string `json:"name"`

	// Type — тип: "string", "number", "boolean", "object".
	Type string `json:"type,omitempty"`

	// Required — обязательная ли переменная при запуске.
	Required bool `json:"required,omitempty"`

	// Default — значение по умолчанию.
	Default any `json:"default,omitempty"`

	// Description — описание переменной.
	Description string `json:"description,omitempty"`
}

// Настройки выполнения по умолчанию.
const (
	// DefaultConcurrency — лимит одновременно выполняющихся шагов.
	DefaultConcurrency = 4

	// MaxConcurrency — верхняя граница лимита конкурентности.
	MaxConcurrency = 32
)

// Settings — настройки выполнения pipeline.
type Settings struct {
	// Concurrency — максимум одновременно выполняющихся шагов.
	// 0 означает DefaultConcurrency.
	Concurrency int `json:"concurrency,omitempty"`

	// TimeoutSec — глобальный таймаут выполнения pipeline.
	// Ограничивает суммарное wall-clock время: по истечении новые шаги
	// и попытки не запускаются, шаги в полёте завершают текущую попытку,
	// выполнение финализируется как FAILED. 0 означает без ограничения.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// StepTimeoutSec — таймаут одной попытки шага по умолчанию,
	// если у шага не задан собственный. 0 означает таймаут движка.
	StepTimeoutSec int `json:"step_timeout_sec,omitempty"`

	// RetryBackoffMs — фиксированная задержка между попытками шага.
	// 0 означает задержку по умолчанию (1 секунда).
	RetryBackoffMs int `json:"retry_backoff_ms,omitempty"`
}

// EffectiveConcurrency возвращает лимит конкурентности с учётом границ.
func (s Settings) EffectiveConcurrency() int {
	c := s.Concurrency
	if c <= 0 {
		c = DefaultConcurrency
	}
	if c > MaxConcurrency {
		c = MaxConcurrency
	}
	return c
}
