// Package llm содержит клиент LLM провайдера для model_call шагов
// и таблицу цен для учёта стоимости.
package llm
