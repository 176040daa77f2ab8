package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/Cascade/internal/domain"
)

func validPipeline() *domain.PipelineDefinition {
	return &domain.PipelineDefinition{
		Name: "test",
		Steps: []domain.StepDef{
			{ID: "fetch", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "https://example.com"}},
			{ID: "summarize", Type: domain.StepTypeModelCall, DependsOn: []string{"fetch"},
				Config: map[string]any{"prompt": "Summarize: {{fetch.body}}", "model": "gpt-4o-mini"}},
		},
	}
}

func hasError(result *ValidationResult, sentinel error) bool {
	for _, e := range result.Errors {
		if errors.Is(e, sentinel) {
			return true
		}
	}
	return false
}

func TestValidate_ValidPipeline(t *testing.T) {
	result := Validate(validPipeline())
	if !result.Valid {
		t.Fatalf("pipeline should be valid, errors: %v", result.Errors)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %d", len(result.Errors))
	}
}

func TestValidate_EmptyPipeline(t *testing.T) {
	result := Validate(&domain.PipelineDefinition{})
	if result.Valid {
		t.Fatal("empty pipeline should be invalid")
	}
	if !hasError(result, ErrEmptySteps) {
		t.Error("expected ErrEmptySteps")
	}
}

func TestValidate_DuplicateStepID(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "https://x"}},
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "https://y"}},
		},
	}
	result := Validate(def)
	if !hasError(result, ErrDuplicateStepID) {
		t.Error("expected ErrDuplicateStepID")
	}
}

func TestValidate_UnknownStepType(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "a", Type: "teleport"},
		},
	}
	result := Validate(def)
	if !hasError(result, ErrUnknownStepType) {
		t.Error("expected ErrUnknownStepType")
	}
}

func TestValidate_MissingDependency(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "https://x"}, DependsOn: []string{"ghost"}},
		},
	}
	result := Validate(def)
	if !hasError(result, ErrMissingDependency) {
		t.Error("expected ErrMissingDependency")
	}
}

func TestValidate_SelfDependency(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "https://x"}, DependsOn: []string{"a"}},
		},
	}
	result := Validate(def)
	if !hasError(result, ErrSelfDependency) {
		t.Error("expected ErrSelfDependency")
	}
}

func TestValidate_CycleNamesSteps(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "a", Name: "Alpha", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "https://x"}, DependsOn: []string{"c"}},
			{ID: "b", Name: "Beta", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "https://x"}, DependsOn: []string{"a"}},
			{ID: "c", Name: "Gamma", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "https://x"}, DependsOn: []string{"b"}},
		},
	}
	result := Validate(def)
	if !hasError(result, ErrCyclicDependency) {
		t.Fatal("expected ErrCyclicDependency")
	}

	// Сообщение должно перечислять имена шагов цикла
	var msg string
	for _, e := range result.Errors {
		if errors.Is(e, ErrCyclicDependency) {
			msg = e.Message
		}
	}
	for _, name := range []string{"Alpha", "Beta", "Gamma"} {
		if !strings.Contains(msg, name) {
			t.Errorf("cycle message should contain %q, got %q", name, msg)
		}
	}
}

func TestValidate_ConnectionUnknownStep(t *testing.T) {
	def := validPipeline()
	def.Connections = []domain.Connection{
		{SourceStep: "ghost", Output: "body", TargetStep: "summarize", Input: "text"},
	}
	result := Validate(def)
	if !hasError(result, ErrUnknownConnectionStep) {
		t.Error("expected ErrUnknownConnectionStep")
	}
}

func TestValidate_ConnectionUndeclaredPort(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "https://x"},
				Outputs: []string{"body"}},
			{ID: "b", Type: domain.StepTypeTransform, Config: map[string]any{"operation": "extract", "path": "a.body"},
				Inputs: []string{"data"}},
		},
		Connections: []domain.Connection{
			{SourceStep: "a", Output: "headers", TargetStep: "b", Input: "data"},
		},
	}
	result := Validate(def)
	if !hasError(result, ErrUnknownPort) {
		t.Error("expected ErrUnknownPort for undeclared output")
	}
}

func TestValidate_RequiredConfig(t *testing.T) {
	cases := []struct {
		name string
		step domain.StepDef
	}{
		{"model_call without prompt", domain.StepDef{ID: "s", Type: domain.StepTypeModelCall, Config: map[string]any{}}},
		{"code without source", domain.StepDef{ID: "s", Type: domain.StepTypeCode, Config: map[string]any{}}},
		{"http without url", domain.StepDef{ID: "s", Type: domain.StepTypeHTTP, Config: map[string]any{}}},
		{"transform without operation", domain.StepDef{ID: "s", Type: domain.StepTypeTransform, Config: map[string]any{}}},
		{"condition without operator", domain.StepDef{ID: "s", Type: domain.StepTypeCondition, Config: map[string]any{"value": "{{x}}"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := &domain.PipelineDefinition{Steps: []domain.StepDef{tc.step}}
			result := Validate(def)
			if !hasError(result, ErrMissingConfig) {
				t.Errorf("expected ErrMissingConfig, errors: %v", result.Errors)
			}
		})
	}
}

func TestValidate_InvalidConfigValues(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "t", Type: domain.StepTypeTransform, Config: map[string]any{"operation": "shuffle"}},
			{ID: "c", Type: domain.StepTypeCondition, Config: map[string]any{"operator": "approx", "value": "{{x}}", "operand": 1}},
			{ID: "m", Type: domain.StepTypeMerge, DependsOn: []string{"t", "c"}, Config: map[string]any{"strategy": "union"}},
		},
	}
	result := Validate(def)

	count := 0
	for _, e := range result.Errors {
		if errors.Is(e, ErrInvalidConfig) {
			count++
		}
	}
	if count != 3 {
		t.Errorf("expected 3 ErrInvalidConfig, got %d: %v", count, result.Errors)
	}
}

func TestValidate_BranchTargets(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "check", Type: domain.StepTypeCondition,
				Config:     map[string]any{"operator": "eq", "value": "{{variables.mode}}", "operand": "full"},
				TrueBranch: []string{"ghost"}},
		},
	}
	result := Validate(def)
	if !hasError(result, ErrUnknownBranchTarget) {
		t.Error("expected ErrUnknownBranchTarget")
	}
}

func TestValidate_BranchCycle(t *testing.T) {
	// Цель ветки выше по графу, чем condition: неявное ребро
	// condition → цель замыкает цикл.
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "prep", Type: domain.StepTypeHTTP, Config: map[string]any{"url": "https://x"}},
			{ID: "gate", Type: domain.StepTypeCondition, DependsOn: []string{"prep"},
				Config:     map[string]any{"operator": "exists", "value": "{{prep.body}}"},
				TrueBranch: []string{"prep"}},
		},
	}
	result := Validate(def)
	if !hasError(result, ErrCyclicDependency) {
		t.Error("expected ErrCyclicDependency")
	}
}

func TestValidate_Idempotent(t *testing.T) {
	def := &domain.PipelineDefinition{
		Steps: []domain.StepDef{
			{ID: "a", Type: domain.StepTypeHTTP, DependsOn: []string{"b"}},
			{ID: "b", Type: domain.StepTypeHTTP, DependsOn: []string{"a"}},
		},
	}

	first := Validate(def)
	second := Validate(def)

	if len(first.Errors) != len(second.Errors) {
		t.Errorf("validation not idempotent: %d vs %d errors", len(first.Errors), len(second.Errors))
	}
}

func TestValidate_DisabledStepWarning(t *testing.T) {
	disabled := false
	def := validPipeline()
	def.Steps[0].Enabled = &disabled

	result := Validate(def)
	if !result.Valid {
		t.Fatalf("disabled step should not invalidate pipeline: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for disabled step")
	}
}
