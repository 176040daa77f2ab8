// Package scheduler реализует запуск pipelines по расписанию.
//
// Scheduler периодически проверяет schedules с истекшим next_due_at
// и запускает выполнения через движок.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Run, Tick, processSchedule)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    ScheduleRepo: scheduleRepo,
//	    PipelineRepo: pipelineRepo,
//	    Engine:       engine,
//	    Logger:       logger,
//	})
//
//	go sched.Run(ctx, time.Second)
//
// Scheduler рассчитан на один экземпляр на инсталляцию: движок
// выполняет pipelines в том же процессе. При нескольких репликах
// лидер выбирается снаружи (pg_try_advisory_lock в main).
package scheduler
