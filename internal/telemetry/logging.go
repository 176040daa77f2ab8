package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel преобразует имя уровня логирования в slog.Level.
// Неизвестное имя трактуется как info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер процесса.
//
// Окружение:
//
//	CASCADE_LOG_LEVEL  — debug, info, warn, error (default: info)
//	CASCADE_LOG_FORMAT — "json" (default) или "text" для разработки
//
// На уровне debug записи несут source-позицию вызова.
func SetupLogger() *slog.Logger {
	level := ParseLevel(os.Getenv("CASCADE_LOG_LEVEL"))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("CASCADE_LOG_FORMAT"), "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// WithComponent возвращает логгер подсистемы: каждая запись несёт
// атрибут component (engine, scheduler, api, mq) для фильтрации
// в агрегаторе логов.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}
