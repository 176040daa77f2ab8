package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики выполнения pipelines.
//
// Экспортируются на /metrics endpoint через promhttp.Handler().
var (
	// ExecutionsStarted — количество запущенных выполнений.
	ExecutionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cascade_executions_started_total",
		Help: "Total number of pipeline executions started.",
	})

	// ExecutionsFinished — завершённые выполнения по итоговому статусу.
	ExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_executions_finished_total",
		Help: "Total number of pipeline executions finished, by status.",
	}, []string{"status"})

	// ExecutionDuration — длительность выполнений.
	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cascade_execution_duration_seconds",
		Help:    "Pipeline execution duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// StepDuration — длительность шагов по типу.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cascade_step_duration_seconds",
		Help:    "Step execution duration in seconds, by step type.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"type"})

	// StepRetries — количество повторных попыток шагов.
	StepRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_step_retries_total",
		Help: "Total number of step retry attempts, by step type.",
	}, []string{"type"})

	// TokensUsed — суммарные токены model_call шагов.
	TokensUsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cascade_tokens_used_total",
		Help: "Total number of LLM tokens consumed.",
	})

	// CostTotal — суммарная стоимость model_call шагов в долларах.
	CostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cascade_cost_dollars_total",
		Help: "Total LLM cost in dollars.",
	})
)
