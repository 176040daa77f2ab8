// Package cli реализует инструмент командной строки Cascade.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Cascade API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для управления pipelines, executions и schedules.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Cascade API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок. Для живого потока событий использует
// WebSocket endpoint выполнения.
//
//	client := cli.NewClient("http://localhost:8080")
//	pipelines, err := client.ListPipelines()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: cascade pipeline list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - pipeline:  list, create, show, update, delete, validate
//   - execution: list, start, show, cancel, steps, watch
//   - schedule:  list, create, show, delete, enable, disable
//
// Каждая группа создаётся через фабричную функцию (NewPipelineCmd
// и т.д.), получающую конструкторы Client и Output: флаги --api-url
// и --json разбираются до создания клиента.
package cli
