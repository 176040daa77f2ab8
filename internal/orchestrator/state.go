package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/engine"
	"github.com/shaiso/Cascade/internal/events"
)

// runState — состояние одного выполнения pipeline в памяти.
//
// Создаётся при запуске выполнения, мутируется только циклом run
// (одна горутина), читается снаружи через снимки под мьютексом.
// После терминального статуса остаётся в реестре до истечения
// retention TTL, чтобы API мог отдавать результат.
type runState struct {
	mu sync.RWMutex

	// Execution — запись выполнения.
	Execution *domain.PipelineExecution

	// Definition — определение pipeline.
	Definition *domain.PipelineDefinition

	// DAG — граф зависимостей.
	DAG *engine.DAG

	// Context — контекст выполнения с переменными и outputs.
	Context *engine.ExecutionContext

	// Stream — упорядоченный поток событий выполнения.
	Stream *events.Stream

	// Debug — включать входы шагов в step_started события.
	Debug bool

	// statuses — текущий статус каждого шага.
	statuses map[string]domain.StepStatus

	// stepExecs — записи выполнения шагов (stepID → StepExecution).
	stepExecs map[string]*domain.StepExecution

	// cancelled — выставлен флаг отмены.
	cancelled bool

	// cancelCh закрывается при отмене. Проверяется между попытками
	// и перед диспетчеризацией; сама попытка не прерывается.
	cancelCh chan struct{}

	// done закрывается после финализации выполнения.
	done chan struct{}

	// finishedAt — момент финализации (для retention TTL).
	finishedAt time.Time
}

// newRunState создаёт состояние выполнения.
func newRunState(exec *domain.PipelineExecution, def *domain.PipelineDefinition, dag *engine.DAG) *runState {
	statuses := make(map[string]domain.StepStatus, len(def.Steps))
	stepExecs := make(map[string]*domain.StepExecution, len(def.Steps))

	for i := range def.Steps {
		step := &def.Steps[i]
		statuses[step.ID] = domain.StepPending
		stepExecs[step.ID] = domain.NewStepExecution(exec.ID, step, i)
	}

	return &runState{
		Execution: exec,
		Definition: def,
		DAG:       dag,
		Context:   engine.NewExecutionContext(exec.Variables),
		Stream:    events.NewStream(),
		statuses:  statuses,
		stepExecs: stepExecs,
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ExecutionID возвращает ID выполнения.
func (s *runState) ExecutionID() uuid.UUID {
	return s.Execution.ID
}

// Status возвращает статус шага.
func (s *runState) Status(stepID string) domain.StepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[stepID]
}

// SetStatus устанавливает статус шага.
func (s *runState) SetStatus(stepID string, status domain.StepStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[stepID] = status
}

// Statuses возвращает снимок статусов всех шагов.
func (s *runState) Statuses() map[string]domain.StepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]domain.StepStatus, len(s.statuses))
	for id, status := range s.statuses {
		snapshot[id] = status
	}
	return snapshot
}

// StepExec возвращает запись выполнения шага.
func (s *runState) StepExec(stepID string) *domain.StepExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepExecs[stepID]
}

// StepExecutions возвращает записи шагов в объявленном порядке.
func (s *runState) StepExecutions() []*domain.StepExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.StepExecution, 0, len(s.stepExecs))
	for _, node := range s.DAG.Order {
		if se, ok := s.stepExecs[node.ID]; ok {
			result = append(result, se)
		}
	}
	return result
}

// ExecutionSnapshot возвращает копию записи выполнения.
func (s *runState) ExecutionSnapshot() domain.PipelineExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.Execution
}

// Cancel выставляет флаг отмены. Возвращает false, если выполнение
// уже отменено или завершено.
func (s *runState) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled || s.Execution.Status.IsTerminal() {
		return false
	}
	s.cancelled = true
	close(s.cancelCh)
	return true
}

// IsCancelled возвращает true, если отмена запрошена.
func (s *runState) IsCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

// MarkFinished фиксирует момент финализации и закрывает done.
func (s *runState) MarkFinished() {
	s.mu.Lock()
	s.finishedAt = time.Now()
	s.mu.Unlock()
	close(s.done)
}

// Done возвращает канал, закрываемый после финализации.
func (s *runState) Done() <-chan struct{} {
	return s.done
}

// Finished возвращает true, если выполнение уже финализировано.
func (s *runState) Finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Expired возвращает true, если завершённое состояние старше TTL.
func (s *runState) Expired(ttl time.Duration, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.finishedAt.IsZero() {
		return false
	}
	return now.Sub(s.finishedAt) > ttl
}

// CountByStatus возвращает количество шагов в указанном статусе.
func (s *runState) CountByStatus(status domain.StepStatus) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, st := range s.statuses {
		if st == status {
			count++
		}
	}
	return count
}
