package steps

import (
	"context"
	"fmt"
	"sort"

	"github.com/shaiso/Cascade/internal/domain"
)

// Ключ конфигурации merge шага.
const configStrategy = "strategy"

// Стратегии слияния.
const (
	MergeObject = "object"
	MergeArray  = "array"
	MergeFirst  = "first"
)

// MergeStep — шаг слияния результатов нескольких веток.
//
// Объединяет outputs завершённых зависимостей. Зависимости,
// пропущенные ветвлением, в слияние не попадают: оркестратор
// передаёт в Inputs только outputs успешно завершённых шагов.
//
// Стратегии:
//   - object (по умолчанию): {depID: output, ...}
//   - array: [output, output, ...] в объявленном порядке шагов
//   - first: output первой завершённой зависимости в объявленном порядке
//
// Конфигурация:
//
//	{
//	    "strategy": "object"
//	}
//
// Outputs:
//
//	{
//	    "merged": {...}
//	}
type MergeStep struct{}

// NewMergeStep создаёт новый MergeStep.
func NewMergeStep() *MergeStep {
	return &MergeStep{}
}

// Type возвращает тип шага.
func (s *MergeStep) Type() domain.StepType {
	return domain.StepTypeMerge
}

// Execute выполняет слияние.
func (s *MergeStep) Execute(ctx context.Context, req *Request) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	default:
	}

	strategy := GetConfigString(req.Config, configStrategy)
	if strategy == "" {
		strategy = MergeObject
	}

	// Источники в объявленном порядке шагов. Без объявленного порядка
	// источники идут по имени: array и first детерминированы и тогда.
	order := req.InputOrder
	if order == nil {
		order = make([]string, 0, len(req.Inputs))
		for id := range req.Inputs {
			order = append(order, id)
		}
		sort.Strings(order)
	}

	switch strategy {
	case MergeObject:
		merged := make(map[string]any, len(req.Inputs))
		for _, id := range order {
			if v, ok := req.Inputs[id]; ok {
				merged[id] = v
			}
		}
		return NewResult(map[string]any{"merged": merged}), nil

	case MergeArray:
		merged := make([]any, 0, len(req.Inputs))
		for _, id := range order {
			if v, ok := req.Inputs[id]; ok {
				merged = append(merged, v)
			}
		}
		return NewResult(map[string]any{"merged": merged}), nil

	case MergeFirst:
		for _, id := range order {
			if v, ok := req.Inputs[id]; ok {
				return NewResult(map[string]any{"merged": v, "source": id}), nil
			}
		}
		return NewResult(map[string]any{"merged": nil}), nil

	default:
		return nil, fmt.Errorf("%w: merge: unknown strategy %q", ErrInvalidConfig, strategy)
	}
}
