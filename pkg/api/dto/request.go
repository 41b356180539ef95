package dto

import (
	"fmt"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/workflow"
)

// ApprovalPolicyRequest 步骤审批策略
type ApprovalPolicyRequest struct {
	StepIndex int                    `json:"stepIndex" binding:"min=0"`
	Phase     string                 `json:"phase" binding:"required,oneof=before after"`
	Timeout   string                 `json:"timeout,omitempty"` // Go duration，如"30m"
	Data      map[string]interface{} `json:"data,omitempty"`
}

// RecoveryStrategyRequest 恢复策略
type RecoveryStrategyRequest struct {
	Type          string `json:"type" binding:"required,oneof=retry skip rollback manual"`
	MaxRetries    int    `json:"maxRetries,omitempty" binding:"omitempty,min=0"`
	RetryDelay    string `json:"retryDelay,omitempty"`
	RollbackSteps int    `json:"rollbackSteps,omitempty" binding:"omitempty,min=0"`
}

// StartRunRequest 创建运行请求
// Wait为true时同步执行直到完成、失败或挂起
type StartRunRequest struct {
	WorkflowID  string                   `json:"workflowId"`
	RunName     string                   `json:"runName"`
	Definition  *workflow.Definition     `json:"definition" binding:"required"`
	Input       string                   `json:"input"`
	Params      map[string]interface{}   `json:"params,omitempty"`
	Approvals   []ApprovalPolicyRequest  `json:"approvals,omitempty" binding:"omitempty,dive"`
	Recovery    *RecoveryStrategyRequest `json:"recovery,omitempty"`
	StepTimeout string                   `json:"stepTimeout,omitempty"`
	Wait        bool                     `json:"wait,omitempty"`
}

// RollbackRequest 回滚请求，LastSuccess为true时忽略TargetIndex
type RollbackRequest struct {
	TargetIndex *int `json:"targetIndex,omitempty"`
	LastSuccess bool `json:"lastSuccess,omitempty"`
}

// TerminateRequest 终止请求
type TerminateRequest struct {
	Reason string `json:"reason"`
}

// DecisionRequest 审批决定请求
type DecisionRequest struct {
	ResolvedBy string `json:"resolvedBy"`
	Comment    string `json:"comment"`
}

// ListRunsQuery 运行列表查询
type ListRunsQuery struct {
	WorkflowID string `form:"workflow_id"`
	Status     string `form:"status" binding:"omitempty,oneof=pending running paused completed failed"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

// CompensationQuery 补偿区间查询，To为-1时包含第0步
type CompensationQuery struct {
	From int  `form:"from" binding:"min=0"`
	To   *int `form:"to"`
}

// CleanupRequest 清理请求，OlderThan为Go duration
type CleanupRequest struct {
	OlderThan string `json:"olderThan" binding:"required"`
}

// GetDefaultLimit 获取默认limit
func (r *ListRunsQuery) GetDefaultLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	return r.Limit
}

// ParseDuration 解析可选的duration字段，空字符串为0
func ParseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s格式错误: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s不能为负数", field)
	}
	return d, nil
}
