// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go           — Handler с DI (движок, репозитории, logger)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (logging, recovery)
//   - response.go          — унифицированные JSON-ответы и обработка ошибок
//   - dto.go               — Data Transfer Objects (request/response)
//   - pipeline_handler.go  — обработчики для /pipelines
//   - execution_handler.go — обработчики для /executions
//   - schedule_handler.go  — обработчики для /schedules
//   - stream.go            — живой поток событий (SSE и WebSocket)
//
// API предоставляет REST endpoints для управления pipelines,
// запуска выполнений и подписки на их события.
package api
