// Package events 运行过程事件定义与基于watermill的事件总线
package events

import (
	"time"

	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/google/uuid"
)

// EventType 事件类型
type EventType string

const (
	// 执行事件
	EventStep     EventType = "step"     // 产生一个步骤结果
	EventComplete EventType = "complete" // 执行结束，携带最终结果
	EventError    EventType = "error"    // 非步骤级别的致命错误

	// 运行状态事件
	EventStatus EventType = "status"

	// 审批事件
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalResolved  EventType = "approval.resolved"
)

// ApprovalInfo 审批事件负载
type ApprovalInfo struct {
	GateID     string `json:"gateId"`
	StepIndex  int    `json:"stepIndex"`
	Status     string `json:"status"`
	ResolvedBy string `json:"resolvedBy,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

// Event 运行事件
type Event struct {
	ID         string                    `json:"id"`   // 事件ID（UUID）
	Type       EventType                 `json:"type"` // 事件类型
	RunID      string                    `json:"runId"`
	WorkflowID string                    `json:"workflowId,omitempty"`
	Timestamp  time.Time                 `json:"timestamp"`
	Step       *workflow.StepResult      `json:"step,omitempty"`
	Result     *workflow.ExecutionResult `json:"result,omitempty"`
	Status     workflow.Status           `json:"status,omitempty"`
	Approval   *ApprovalInfo             `json:"approval,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// NewEvent 创建事件
func NewEvent(eventType EventType, runID string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now(),
	}
}

// StepEvent 步骤结果事件
func StepEvent(runID string, step *workflow.StepResult) *Event {
	ev := NewEvent(EventStep, runID)
	ev.Step = step
	return ev
}

// CompleteEvent 执行结束事件
func CompleteEvent(runID string, result *workflow.ExecutionResult) *Event {
	ev := NewEvent(EventComplete, runID)
	ev.Result = result
	return ev
}

// ErrorEvent 致命错误事件
func ErrorEvent(runID string, err error) *Event {
	ev := NewEvent(EventError, runID)
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// StatusEvent 运行状态变化事件
func StatusEvent(runID, workflowID string, status workflow.Status) *Event {
	ev := NewEvent(EventStatus, runID)
	ev.WorkflowID = workflowID
	ev.Status = status
	return ev
}

// Emitter 事件发送方
type Emitter interface {
	Emit(ev *Event)
}

// EmitterFunc 函数形式的Emitter
type EmitterFunc func(ev *Event)

// Emit 发送事件
func (f EmitterFunc) Emit(ev *Event) {
	if f != nil {
		f(ev)
	}
}

// Nop 丢弃所有事件
var Nop Emitter = EmitterFunc(nil)

// WithWorkflowID 返回为事件补全WorkflowID的Emitter
func WithWorkflowID(next Emitter, workflowID string) Emitter {
	if next == nil {
		return Nop
	}
	return EmitterFunc(func(ev *Event) {
		if ev.WorkflowID == "" {
			ev.WorkflowID = workflowID
		}
		next.Emit(ev)
	})
}
