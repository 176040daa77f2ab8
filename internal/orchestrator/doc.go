// Package orchestrator содержит Engine — компонент, выполняющий
// pipelines: диспетчеризация шагов по DAG, ограничение параллелизма,
// retry с фиксированным backoff, ветвление, агрегация стоимости
// и упорядоченный поток событий каждого выполнения.
package orchestrator
