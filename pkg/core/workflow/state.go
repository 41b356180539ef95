package workflow

import (
	"time"
)

// Status 运行状态枚举（对外导出）
type Status string

const (
	// StatusPending 已创建，尚未开始
	StatusPending Status = "pending"
	// StatusRunning 执行中
	StatusRunning Status = "running"
	// StatusPaused 已暂停（暂停请求、审批超时、人工处理或回滚后）
	StatusPaused Status = "paused"
	// StatusCompleted 成功结束（终态）
	StatusCompleted Status = "completed"
	// StatusFailed 失败结束（终态）
	StatusFailed Status = "failed"
)

// IsValid 检查状态是否有效
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo 检查是否可以转换到目标状态
// 终态只能通过回滚重新打开，不走这里
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusRunning || target == StatusFailed
	case StatusRunning:
		return target == StatusPaused || target == StatusCompleted || target == StatusFailed
	case StatusPaused:
		return target == StatusRunning || target == StatusCompleted || target == StatusFailed
	default:
		return false
	}
}

// WorkflowState 一次运行的持久化状态记录
// ID对应一次执行尝试，WorkflowID对应定义/逻辑运行
type WorkflowState struct {
	ID               string                 `json:"id"`
	WorkflowID       string                 `json:"workflowId"`
	RunName          string                 `json:"runName"`
	Definition       *Definition            `json:"definition"`
	Input            string                 `json:"input"`
	Status           Status                 `json:"status"`
	CurrentStepIndex int                    `json:"currentStepIndex"`
	Steps            []StepResult           `json:"steps"`
	Context          map[string]interface{} `json:"context"`
	StartTime        time.Time              `json:"startTime"`
	EndTime          *time.Time             `json:"endTime,omitempty"`
	PausedAt         *time.Time             `json:"pausedAt,omitempty"`
	ResumedAt        *time.Time             `json:"resumedAt,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// NextStepIndex 计算继续执行的步骤位置
// 最后一个结果就是当前步骤时从下一步开始，否则从当前步骤开始
func (s *WorkflowState) NextStepIndex() int {
	last, ok := LastResult(s.Steps)
	if !ok {
		return s.CurrentStepIndex
	}
	if last.StepIndex >= s.CurrentStepIndex {
		return last.StepIndex + 1
	}
	return s.CurrentStepIndex
}

// Clone 深拷贝状态，快照和对外返回都使用拷贝
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	out := *s
	out.Definition = s.Definition.Clone()
	out.Steps = make([]StepResult, len(s.Steps))
	copy(out.Steps, s.Steps)
	out.Context = CloneContext(s.Context)
	out.EndTime = cloneTime(s.EndTime)
	out.PausedAt = cloneTime(s.PausedAt)
	out.ResumedAt = cloneTime(s.ResumedAt)
	return &out
}

// Snapshot 状态快照，Seq为单调递增序号
type Snapshot struct {
	Seq       int64          `json:"seq"`
	State     *WorkflowState `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// CloneContext 递归拷贝上下文中的map和slice
func CloneContext(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneContext(val)
	case []interface{}:
		cp := make([]interface{}, len(val))
		for i, item := range val {
			cp[i] = cloneValue(item)
		}
		return cp
	case []string:
		cp := make([]string, len(val))
		copy(cp, val)
		return cp
	default:
		return val
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
