// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchange, queue, binding
//   - relay.go      — трансляция событий выполнений в брокер
//
// События публикуются в topic exchange cascade.events с ключом
// маршрутизации execution.<тип события>: внешние интеграции
// подписываются на нужные типы (execution.step_failed, execution.#).
package mq
