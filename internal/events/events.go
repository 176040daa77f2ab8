package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type — тип события выполнения.
type Type string

// Типы событий выполнения pipeline.
const (
	// TypeStarted — выполнение началось.
	TypeStarted Type = "started"

	// TypeStepStarted — шаг переведён в RUNNING (ровно одно на шаг).
	TypeStepStarted Type = "step_started"

	// TypeStepCompleted — шаг успешно завершён.
	TypeStepCompleted Type = "step_completed"

	// TypeStepFailed — шаг не удался после всех попыток
	// (ровно одно на шаг, промежуточные попытки событий не порождают).
	TypeStepFailed Type = "step_failed"

	// TypeStepSkipped — шаг пропущен ветвлением или флагом enabled.
	TypeStepSkipped Type = "step_skipped"

	// TypeCompleted — выполнение успешно завершено.
	TypeCompleted Type = "completed"

	// TypeFailed — выполнение завершилось ошибкой.
	TypeFailed Type = "failed"

	// TypeCancelled — выполнение отменено.
	TypeCancelled Type = "cancelled"
)

// Event — одно событие выполнения pipeline.
//
// События одного выполнения строго упорядочены по Seq и отражают
// фактический порядок переходов состояний.
type Event struct {
	// Seq — порядковый номер события внутри выполнения (с 1).
	Seq int64 `json:"seq"`

	// Type — тип события.
	Type Type `json:"type"`

	// ExecutionID — выполнение, к которому относится событие.
	ExecutionID uuid.UUID `json:"execution_id"`

	// PipelineID — pipeline выполнения.
	PipelineID uuid.UUID `json:"pipeline_id,omitempty"`

	// StepID — шаг (для step_* событий).
	StepID string `json:"step_id,omitempty"`

	// StepName — человекочитаемое имя шага (для step_* событий).
	StepName string `json:"step_name,omitempty"`

	// StepIndex — порядковый номер шага в объявленном порядке, с 1
	// (для step_* событий).
	StepIndex int `json:"step_index,omitempty"`

	// Attempt — номер попытки, завершившей шаг (для step_completed/step_failed).
	Attempt int `json:"attempt,omitempty"`

	// Input — разрешённые входы шага (для step_started в debug режиме).
	Input map[string]any `json:"input,omitempty"`

	// Output — output шага (для step_completed).
	Output map[string]any `json:"output,omitempty"`

	// ExecutionTimeMs — длительность шага в миллисекундах
	// (для step_completed/step_failed).
	ExecutionTimeMs int64 `json:"execution_time_ms,omitempty"`

	// Error — описание ошибки (для step_failed/failed).
	Error string `json:"error,omitempty"`

	// Cost — стоимость шага или итоговая стоимость выполнения.
	Cost float64 `json:"cost,omitempty"`

	// TokensUsed — токены шага или итог выполнения.
	TokensUsed int `json:"tokens_used,omitempty"`

	// TotalSteps — количество шагов выполнения (для started).
	TotalSteps int `json:"total_steps,omitempty"`

	// StepsCompleted — завершённые шаги (для терминальных событий).
	StepsCompleted int `json:"steps_completed,omitempty"`

	// FinalOutput — итоговый результат выполнения (для completed).
	FinalOutput map[string]any `json:"final_output,omitempty"`

	// Timestamp — время события.
	Timestamp time.Time `json:"timestamp"`
}

// IsTerminal возвращает true для финальных событий выполнения.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case TypeCompleted, TypeFailed, TypeCancelled:
		return true
	}
	return false
}

// Sink — получатель событий выполнения.
//
// Реализуется внешними потребителями: relay в message broker,
// запись в журнал. Deliver вызывается синхронно из цикла
// оркестратора, порядок событий гарантирован.
type Sink interface {
	// Deliver доставляет событие. Ошибка логируется оркестратором,
	// но не прерывает выполнение.
	Deliver(event Event) error
}

// SinkFunc — адаптер функции к интерфейсу Sink.
type SinkFunc func(event Event) error

// Deliver реализует интерфейс Sink.
func (f SinkFunc) Deliver(event Event) error {
	return f(event)
}

// Stream — упорядоченный поток событий одного выполнения.
//
// Producer (оркестратор) публикует события через Publish; потребители
// читают канал Events. Publish блокируется, когда буфер потребителя
// полон: медленный потребитель замедляет выполнение, но события
// не теряются и не переупорядочиваются.
//
// Publish и Close вызываются только из цикла выполнения: один producer,
// Close строго после последнего Publish.
type Stream struct {
	mu     sync.Mutex
	seq    int64
	ch     chan Event
	closed bool
}

// defaultStreamBuffer — размер буфера потока событий.
// Выполнение порождает не более 2*steps+2 событий, поэтому буфер
// вмещает целиком поток выполнения без подписчика.
const defaultStreamBuffer = 1024

// NewStream создаёт поток событий.
func NewStream() *Stream {
	return &Stream{
		ch: make(chan Event, defaultStreamBuffer),
	}
}

// Publish присваивает событию следующий Seq и отправляет его в поток.
// После Close вызовы игнорируются.
func (s *Stream) Publish(event Event) Event {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return event
	}
	s.seq++
	event.Seq = s.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.mu.Unlock()

	s.ch <- event
	return event
}

// Events возвращает канал для чтения событий.
// Канал закрывается после терминального события выполнения.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close закрывает поток. Идемпотентен.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
