package steps

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Cascade/internal/domain"
)

// Registry — реестр типов шагов.
//
// Позволяет регистрировать и получать реализации Step по типу.
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	steps map[domain.StepType]Step
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[domain.StepType]Step),
	}
}

// DefaultRegistry создаёт реестр со всеми стандартными шагами.
//
// model — клиент LLM провайдера, sandbox — клиент сервиса выполнения кода.
func DefaultRegistry(model ModelClient, sandbox SandboxClient) *Registry {
	r := NewRegistry()

	// Регистрируем все стандартные шаги
	r.Register(NewModelCallStep(model))
	r.Register(NewCodeStep(sandbox))
	r.Register(NewHTTPStep())
	r.Register(NewTransformStep())
	r.Register(NewConditionStep())
	r.Register(NewMergeStep())

	return r
}

// Register регистрирует шаг в реестре.
// Если шаг с таким типом уже существует, он будет перезаписан.
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.Type()] = step
}

// Get возвращает шаг по типу.
// Возвращает ErrStepNotFound, если шаг не найден.
func (r *Registry) Get(stepType domain.StepType) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, exists := r.steps[stepType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepType)
	}

	return step, nil
}

// Has проверяет, зарегистрирован ли шаг.
func (r *Registry) Has(stepType domain.StepType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.steps[stepType]
	return exists
}

// Types возвращает список всех зарегистрированных типов шагов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.steps))
	for t := range r.steps {
		types = append(types, string(t))
	}
	sort.Strings(types)
	return types
}

// Count возвращает количество зарегистрированных шагов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// Unregister удаляет шаг из реестра.
func (r *Registry) Unregister(stepType domain.StepType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.steps, stepType)
}
