package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrExecutionNotFound — выполнение не найдено в реестре.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionFinished — операция невозможна над завершённым выполнением.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrInvalidPipeline — определение pipeline не прошло валидацию.
	ErrInvalidPipeline = errors.New("invalid pipeline definition")

	// ErrEngineStopped — движок остановлен.
	ErrEngineStopped = errors.New("engine stopped")

	// ErrEngineFault — внутренний сбой движка или исполнителя (panic).
	// Всегда фатален для выполнения: попытки не повторяются, новые шаги
	// не диспетчеризуются, выполнение завершается FAILED.
	ErrEngineFault = errors.New("internal engine fault")
)
