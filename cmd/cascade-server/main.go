// Cascade server — API и движок выполнения pipelines в одном процессе.
//
// Движок выполняет pipelines in-process: API принимает запрос,
// оркестратор исполняет граф, события доступны подписчикам через
// SSE/WebSocket и транслируются в RabbitMQ.
//
// Окружение:
//
//	API_PORT            — порт HTTP сервера (default: 8080)
//	CASCADE_DB_URL      — DSN PostgreSQL
//	CASCADE_AMQP_URL    — адрес RabbitMQ (опционально, без него события не транслируются)
//	CASCADE_SANDBOX_URL — адрес сервиса выполнения кода (опционально)
//	OPENAI_API_KEY      — ключ LLM провайдера (опционально)
//	OPENAI_BASE_URL     — базовый URL совместимого LLM провайдера
//	CASCADE_LOG_LEVEL, CASCADE_LOG_FORMAT — настройки логирования
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Cascade/internal/api"
	"github.com/shaiso/Cascade/internal/events"
	"github.com/shaiso/Cascade/internal/llm"
	"github.com/shaiso/Cascade/internal/mq"
	"github.com/shaiso/Cascade/internal/orchestrator"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/sandbox"
	"github.com/shaiso/Cascade/internal/scheduler"
	"github.com/shaiso/Cascade/internal/steps"
	"github.com/shaiso/Cascade/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting cascade-server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// База данных
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	pipelineRepo := repo.NewPipelineRepo(pool)
	executionRepo := repo.NewExecutionRepo(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)

	// Клиенты исполнителей. Отсутствие конфигурации не фатально:
	// шаги соответствующего типа будут завершаться ошибкой.
	var modelClient steps.ModelClient
	if c, err := llm.NewOpenAIClient(); err != nil {
		logger.Warn("model client not configured, model_call steps will fail", "error", err)
	} else {
		modelClient = c
	}

	var sandboxClient steps.SandboxClient
	if c, err := sandbox.NewClient(""); err != nil {
		logger.Warn("sandbox client not configured, code steps will fail", "error", err)
	} else {
		sandboxClient = c
	}

	// RabbitMQ relay (опционально)
	var sinks []events.Sink
	var mqConn *mq.Connection
	if os.Getenv("CASCADE_AMQP_URL") != "" {
		mqConn, err = mq.NewConnection(mq.URL(), logger)
		if err != nil {
			logger.Error("failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer mqConn.Close()

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Error("failed to setup topology", "error", err)
			os.Exit(1)
		}

		sinks = append(sinks, mq.NewRelay(mqConn, telemetry.WithComponent(logger, "mq")))
		logger.Info("event relay enabled", "exchange", mq.ExchangeEvents)
	}

	// Движок
	engine := orchestrator.New(orchestrator.Config{
		Registry: steps.DefaultRegistry(modelClient, sandboxClient),
		Store:    executionRepo,
		Sinks:    sinks,
		Logger:   telemetry.WithComponent(logger, "engine"),
	})
	engine.Start(ctx)
	defer engine.Stop()

	// Планировщик
	sched := scheduler.New(scheduler.Config{
		ScheduleRepo: scheduleRepo,
		PipelineRepo: pipelineRepo,
		Engine:       engine,
		Logger:       telemetry.WithComponent(logger, "scheduler"),
	})

	// HTTP сервер
	handler := api.NewHandler(api.Config{
		Engine:        engine,
		PipelineRepo:  pipelineRepo,
		ExecutionRepo: executionRepo,
		ScheduleRepo:  scheduleRepo,
		Logger:        telemetry.WithComponent(logger, "api"),
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sched.Run(gctx, time.Second)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("stopped")
}
