// Package engine содержит ядро выполнения pipeline: валидацию
// определений, построение DAG зависимостей и контекст выполнения
// с разрешением шаблонных путей.
//
// Пакет не выполняет шаги сам: это делает orchestrator, используя
// примитивы отсюда.
package engine
