package domain

// ExecutionStatus — статус выполнения pipeline.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED
//	                  ↘ CANCELLED
//	        RUNNING ⇄ PAUSED
type ExecutionStatus string

const (
	// StatusPending — выполнение создано, но ещё не началось.
	StatusPending ExecutionStatus = "PENDING"

	// StatusRunning — выполнение идёт.
	StatusRunning ExecutionStatus = "RUNNING"

	// StatusCompleted — выполнение успешно завершено.
	StatusCompleted ExecutionStatus = "COMPLETED"

	// StatusFailed — выполнение завершилось с ошибкой.
	StatusFailed ExecutionStatus = "FAILED"

	// StatusCancelled — выполнение отменено.
	StatusCancelled ExecutionStatus = "CANCELLED"

	// StatusPaused — выполнение приостановлено, возможен возврат в RUNNING.
	StatusPaused ExecutionStatus = "PAUSED"
)

// IsTerminal возвращает true, если статус финальный.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus — статус выполнения одного шага.
//
// Повторяет ExecutionStatus плюс SKIPPED: шаг намеренно не выполнялся
// (невыбранная ветка condition или enabled=false). SKIPPED — не успех
// и не ошибка, но удовлетворяет гейтинг зависимостей.
type StepStatus string

const (
	// StepPending — шаг ожидает готовности зависимостей.
	StepPending StepStatus = "PENDING"

	// StepRunning — шаг выполняется.
	StepRunning StepStatus = "RUNNING"

	// StepCompleted — шаг успешно завершён.
	StepCompleted StepStatus = "COMPLETED"

	// StepFailed — шаг завершился с ошибкой (после всех retry).
	StepFailed StepStatus = "FAILED"

	// StepCancelled — шаг не был выполнен из-за отмены pipeline.
	StepCancelled StepStatus = "CANCELLED"

	// StepSkipped — шаг намеренно пропущен.
	StepSkipped StepStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус шага финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepCancelled, StepSkipped:
		return true
	default:
		return false
	}
}

// SatisfiesGating возвращает true, если статус удовлетворяет гейтинг
// зависимостей: зависимый шаг может стать готовым.
func (s StepStatus) SatisfiesGating() bool {
	return s == StepCompleted || s == StepSkipped
}
