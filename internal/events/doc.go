// Package events определяет события выполнения pipeline и поток
// их доставки.
//
// Каждое выполнение порождает упорядоченную последовательность событий:
// started, step_started/step_completed/step_failed/step_skipped по ходу
// шагов и ровно одно терминальное событие (completed/failed/cancelled).
// Порядок событий отражает фактический порядок переходов состояний.
//
// Stream доставляет события подписчику выполнения (SSE, WebSocket, CLI);
// Sink — интерфейс для глобальных получателей (relay в message broker).
package events
