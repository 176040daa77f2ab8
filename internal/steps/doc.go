// Package steps содержит реализации типов шагов pipeline.
//
// # Обзор
//
// Steps — это исполнители конкретных типов шагов. Каждый шаг:
//   - Получает сырую конфигурацию и контекст выполнения
//   - Разрешает плейсхолдеры {{path}} через контекст
//   - Выполняет действие (вызов модели, код, HTTP запрос, преобразование)
//   - Возвращает output для использования в следующих шагах
//
// # Интерфейс Step
//
// Все шаги реализуют интерфейс Step:
//
//	type Step interface {
//	    Type() domain.StepType
//	    Execute(ctx context.Context, req *Request) (*Result, error)
//	}
//
// Request содержит:
//   - StepID — идентификатор шага
//   - Config — сырая конфигурация (map[string]any)
//   - Inputs — разрешённые входы из connections
//   - Context — контекст выполнения с outputs предыдущих шагов
//   - Timeout — таймаут одной попытки
//
// Result содержит:
//   - Output — результаты выполнения (map[string]any)
//   - Cost, TokensUsed — учёт стоимости для model_call
//
// # Registry
//
// Registry — фабрика для получения Step по типу:
//
//	registry := steps.DefaultRegistry(modelClient, sandboxClient)
//	step, err := registry.Get(domain.StepTypeModelCall)
//	if err != nil {
//	    // неизвестный тип
//	}
//
// # Типы шагов
//
//   - model_call (model_call.go) — вызов LLM через ModelClient,
//     возвращает текст ответа, токены и стоимость
//   - code (code.go)             — выполнение кода в песочнице через
//     SandboxClient, ненулевой exit code — ошибка
//   - http (http.go)             — HTTP запрос, статус вне 2xx — ошибка,
//     если не задан allow_error_status
//   - transform (transform.go)   — детерминированные преобразования:
//     extract, filter, format, aggregate, sort
//   - condition (condition.go)   — предикат для ветвления, возвращает
//     {"result": bool}
//   - merge (merge.go)           — слияние outputs нескольких веток:
//     object, array, first
//
// # Обработка ошибок
//
// Шаги возвращают типизированные ошибки:
//
//	var (
//	    ErrStepCancelled  // context cancelled
//	    ErrStepTimeout    // превышен таймаут попытки
//	    ErrInvalidConfig  // неверная конфигурация
//	    ErrStepNotFound   // тип не зарегистрирован
//	)
//
// Retry логика находится в Orchestrator, шаги просто возвращают ошибки.
package steps
