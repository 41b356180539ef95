package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/workflow"
)

// PlanState 补偿计划状态
type PlanState string

const (
	// PlanStatePending 已生成，等待外部执行
	PlanStatePending PlanState = "pending"
	// PlanStateEmpty 区间内没有需要补偿的步骤
	PlanStateEmpty PlanState = "empty"
)

// CompensationAction 补偿动作（只描述，不执行）
// 携带原始输入输出，供外部补偿事务执行器撤销该步骤的效果
type CompensationAction struct {
	StepIndex  int       `json:"stepIndex"`
	WorkerID   string    `json:"workerId"`
	WorkerName string    `json:"workerName"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	ExecutedAt time.Time `json:"executedAt"`
}

// CompensationPlan 补偿计划
type CompensationPlan struct {
	RunID     string               `json:"runId"`
	FromIndex int                  `json:"fromIndex"`
	ToIndex   int                  `json:"toIndex"`
	State     PlanState            `json:"state"`
	Actions   []CompensationAction `json:"actions"`
}

// GetCompensationActions 从fromIndex倒序走到toIndex（不含），每个成功步骤生成一个补偿动作
func (m *Manager) GetCompensationActions(ctx context.Context, runID string, fromIndex, toIndex int) ([]CompensationAction, error) {
	if fromIndex < toIndex {
		return nil, fmt.Errorf("%w: 补偿区间 from=%d < to=%d", ErrRollbackTargetInvalid, fromIndex, toIndex)
	}
	st, err := m.states.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}

	actions := make([]CompensationAction, 0)
	for i := fromIndex; i > toIndex; i-- {
		r, ok := workflow.FindResult(st.Steps, i)
		if !ok || !r.Success {
			continue
		}
		actions = append(actions, CompensationAction{
			StepIndex:  r.StepIndex,
			WorkerID:   r.WorkerID,
			WorkerName: r.WorkerName,
			Input:      r.Input,
			Output:     r.Output,
			ExecutedAt: r.EndTime,
		})
	}
	return actions, nil
}

// PlanCompensation 生成补偿计划
func (m *Manager) PlanCompensation(ctx context.Context, runID string, fromIndex, toIndex int) (*CompensationPlan, error) {
	actions, err := m.GetCompensationActions(ctx, runID, fromIndex, toIndex)
	if err != nil {
		return nil, err
	}
	plan := &CompensationPlan{
		RunID:     runID,
		FromIndex: fromIndex,
		ToIndex:   toIndex,
		State:     PlanStatePending,
		Actions:   actions,
	}
	if len(actions) == 0 {
		plan.State = PlanStateEmpty
	}
	return plan, nil
}
