package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownWorkflowType 未知的执行模式
var ErrUnknownWorkflowType = errors.New("unknown workflow type")

// Type 工作流执行模式（对外导出）
type Type string

const (
	// TypeSequential 顺序执行，上一步输出作为下一步输入
	TypeSequential Type = "sequential"
	// TypeParallel 并行扇出，全部结束后按索引汇总
	TypeParallel Type = "parallel"
	// TypeConditional 顺序执行，每一步先判断条件
	TypeConditional Type = "conditional"
)

// IsValid 检查执行模式是否有效
func (t Type) IsValid() bool {
	switch t {
	case TypeSequential, TypeParallel, TypeConditional:
		return true
	default:
		return false
	}
}

// ConditionKind 条件类型
type ConditionKind string

const (
	ConditionSuccess ConditionKind = "success"
	ConditionFailure ConditionKind = "failure"
	ConditionAlways  ConditionKind = "always"
)

// Condition 步骤执行条件（仅conditional模式有效）
// ReferenceStepIndex为空时引用最近一次产出的结果
type Condition struct {
	Kind               ConditionKind `json:"kind" yaml:"kind"`
	ReferenceStepIndex *int          `json:"referenceStepIndex,omitempty" yaml:"referenceStepIndex,omitempty"`
}

// Step 工作流步骤定义
type Step struct {
	WorkerID  string     `json:"workerId" yaml:"workerId"`
	Input     *string    `json:"input,omitempty" yaml:"input,omitempty"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// HasInput 是否显式指定了输入
func (s Step) HasInput() bool {
	return s.Input != nil
}

// Definition 工作流定义（对外导出），开始执行后不可修改
type Definition struct {
	Type  Type   `json:"type" yaml:"type"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Validate 校验工作流定义
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("工作流定义不能为空")
	}
	if !d.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownWorkflowType, d.Type)
	}
	for i, step := range d.Steps {
		if strings.TrimSpace(step.WorkerID) == "" {
			return fmt.Errorf("steps[%d].workerId不能为空", i)
		}
		if step.Condition == nil {
			continue
		}
		switch step.Condition.Kind {
		case ConditionSuccess, ConditionFailure, ConditionAlways:
		default:
			return fmt.Errorf("steps[%d].condition.kind无效: %q", i, step.Condition.Kind)
		}
		if ref := step.Condition.ReferenceStepIndex; ref != nil && *ref < 0 {
			return fmt.Errorf("steps[%d].condition.referenceStepIndex不能为负数", i)
		}
	}
	return nil
}

// Clone 深拷贝工作流定义
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	out := &Definition{Type: d.Type, Steps: make([]Step, len(d.Steps))}
	for i, s := range d.Steps {
		cp := Step{WorkerID: s.WorkerID}
		if s.Input != nil {
			in := *s.Input
			cp.Input = &in
		}
		if s.Condition != nil {
			cond := Condition{Kind: s.Condition.Kind}
			if s.Condition.ReferenceStepIndex != nil {
				ref := *s.Condition.ReferenceStepIndex
				cond.ReferenceStepIndex = &ref
			}
			cp.Condition = &cond
		}
		out.Steps[i] = cp
	}
	return out
}

// ParseDefinition 解析JSON格式的工作流定义
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("解析工作流定义失败: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseDefinitionYAML 解析YAML格式的工作流定义（字段名与JSON一致）
func ParseDefinitionYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("解析YAML工作流定义失败: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinitionFile 从文件加载工作流定义，按扩展名选择解析方式
func LoadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取工作流文件失败: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseDefinitionYAML(data)
	default:
		return ParseDefinition(data)
	}
}

// StringPtr 返回字符串指针，便于构造Step.Input
func StringPtr(s string) *string {
	return &s
}

// IntPtr 返回int指针，便于构造Condition.ReferenceStepIndex
func IntPtr(i int) *int {
	return &i
}
