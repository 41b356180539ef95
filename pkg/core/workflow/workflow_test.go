package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinition(t *testing.T) {
	data := []byte(`{
		"type": "conditional",
		"steps": [
			{"workerId": "planner", "input": "draft a plan"},
			{"workerId": "reviewer", "condition": {"kind": "success"}},
			{"workerId": "fixer", "condition": {"kind": "failure", "referenceStepIndex": 0}}
		]
	}`)

	def, err := ParseDefinition(data)
	require.NoError(t, err)
	assert.Equal(t, TypeConditional, def.Type)
	require.Len(t, def.Steps, 3)
	assert.Equal(t, "draft a plan", *def.Steps[0].Input)
	assert.False(t, def.Steps[1].HasInput())
	assert.Equal(t, ConditionSuccess, def.Steps[1].Condition.Kind)
	assert.Nil(t, def.Steps[1].Condition.ReferenceStepIndex)
	assert.Equal(t, 0, *def.Steps[2].Condition.ReferenceStepIndex)
}

func TestParseDefinition_UnknownType(t *testing.T) {
	_, err := ParseDefinition([]byte(`{"type": "graph", "steps": []}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownWorkflowType))
}

func TestDefinition_ValidateRejectsBadSteps(t *testing.T) {
	def := &Definition{Type: TypeSequential, Steps: []Step{{WorkerID: " "}}}
	assert.Error(t, def.Validate())

	def = &Definition{Type: TypeConditional, Steps: []Step{
		{WorkerID: "a", Condition: &Condition{Kind: "maybe"}},
	}}
	assert.Error(t, def.Validate())

	def = &Definition{Type: TypeConditional, Steps: []Step{
		{WorkerID: "a", Condition: &Condition{Kind: ConditionSuccess, ReferenceStepIndex: IntPtr(-1)}},
	}}
	assert.Error(t, def.Validate())
}

func TestLoadDefinitionFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.yaml")
	content := `type: parallel
steps:
  - workerId: researcher
    input: topic A
  - workerId: researcher
    input: topic B
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	def, err := LoadDefinitionFile(path)
	require.NoError(t, err)
	assert.Equal(t, TypeParallel, def.Type)
	assert.Equal(t, "topic B", *def.Steps[1].Input)
}

func TestCondition_Evaluate(t *testing.T) {
	ok := StepResult{StepIndex: 0, Success: true}
	bad := StepResult{StepIndex: 1, Success: false}

	tests := []struct {
		name     string
		cond     *Condition
		produced []StepResult
		want     bool
	}{
		{"nil条件总是执行", nil, nil, true},
		{"always", &Condition{Kind: ConditionAlways}, []StepResult{bad}, true},
		{"success引用上一步成功", &Condition{Kind: ConditionSuccess}, []StepResult{ok}, true},
		{"success引用上一步失败", &Condition{Kind: ConditionSuccess}, []StepResult{ok, bad}, false},
		{"failure引用上一步失败", &Condition{Kind: ConditionFailure}, []StepResult{ok, bad}, true},
		{"failure无任何结果", &Condition{Kind: ConditionFailure}, nil, true},
		{"success无任何结果", &Condition{Kind: ConditionSuccess}, nil, false},
		{"按索引引用", &Condition{Kind: ConditionSuccess, ReferenceStepIndex: IntPtr(0)}, []StepResult{ok, bad}, true},
		{"引用不存在的结果", &Condition{Kind: ConditionFailure, ReferenceStepIndex: IntPtr(5)}, []StepResult{ok}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Evaluate(tt.produced))
		})
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusRunning))
	assert.True(t, StatusRunning.CanTransitionTo(StatusPaused))
	assert.True(t, StatusPaused.CanTransitionTo(StatusRunning))
	assert.True(t, StatusRunning.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusPaused.CanTransitionTo(StatusFailed))
	assert.False(t, StatusPending.CanTransitionTo(StatusPaused))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusRunning))
	assert.False(t, StatusFailed.CanTransitionTo(StatusPaused))
	assert.False(t, StatusRunning.CanTransitionTo(StatusPending))
}

func TestWorkflowState_CloneIsDeep(t *testing.T) {
	st := &WorkflowState{
		ID:         "wf-1",
		Definition: &Definition{Type: TypeSequential, Steps: []Step{{WorkerID: "a", Input: StringPtr("x")}}},
		Steps:      []StepResult{{StepIndex: 0, Output: "out"}},
		Context: map[string]interface{}{
			"nested": map[string]interface{}{"k": "v"},
			"list":   []interface{}{"a"},
		},
	}

	cp := st.Clone()
	cp.Steps[0].Output = "changed"
	cp.Context["nested"].(map[string]interface{})["k"] = "changed"
	cp.Context["list"].([]interface{})[0] = "changed"
	*cp.Definition.Steps[0].Input = "changed"

	assert.Equal(t, "out", st.Steps[0].Output)
	assert.Equal(t, "v", st.Context["nested"].(map[string]interface{})["k"])
	assert.Equal(t, "a", st.Context["list"].([]interface{})[0])
	assert.Equal(t, "x", *st.Definition.Steps[0].Input)
}

func TestWorkflowState_NextStepIndex(t *testing.T) {
	st := &WorkflowState{}
	assert.Equal(t, 0, st.NextStepIndex())

	st.CurrentStepIndex = 2
	st.Steps = []StepResult{{StepIndex: 0}, {StepIndex: 1}, {StepIndex: 2}}
	assert.Equal(t, 3, st.NextStepIndex())

	// 当前步骤已登记但尚未产出结果
	st.CurrentStepIndex = 3
	assert.Equal(t, 3, st.NextStepIndex())
}

func TestResolveStepInput(t *testing.T) {
	params := map[string]interface{}{"topic": "go generics", "n": 3}

	assert.Equal(t, "fallback", ResolveStepInput(Step{WorkerID: "a"}, "fallback", params))
	assert.Equal(t, "literal", ResolveStepInput(Step{WorkerID: "a", Input: StringPtr("literal")}, "fallback", params))
	assert.Equal(t, "go generics", ResolveStepInput(Step{WorkerID: "a", Input: StringPtr("${topic}")}, "", params))
	assert.Equal(t, "3", ResolveStepInput(Step{WorkerID: "a", Input: StringPtr("${n}")}, "", params))
	assert.Equal(t, "${missing}", ResolveStepInput(Step{WorkerID: "a", Input: StringPtr("${missing}")}, "", params))

	def := &Definition{Type: TypeSequential, Steps: []Step{
		{WorkerID: "a", Input: StringPtr("${topic}")},
		{WorkerID: "b", Input: StringPtr("${missing}")},
	}}
	assert.Equal(t, []string{"missing"}, UnresolvedPlaceholders(def, params))
}

func TestSortByIndexAndMessages(t *testing.T) {
	results := []StepResult{{StepIndex: 2}, {StepIndex: 0}, {StepIndex: 1, Error: "boom"}}
	SortByIndex(results)
	assert.Equal(t, 0, results[0].StepIndex)
	assert.Equal(t, 2, results[2].StepIndex)
	assert.Equal(t, "Step 2 failed: boom", StepFailedMessage(results[1]))
}
