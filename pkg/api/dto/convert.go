package dto

import (
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/LENAX/agent-flow/pkg/core/recovery"
)

// ToRunRequest 转换为引擎运行请求，duration字段在此解析
func (r *StartRunRequest) ToRunRequest() (engine.RunRequest, error) {
	out := engine.RunRequest{
		WorkflowID: r.WorkflowID,
		RunName:    r.RunName,
		Definition: r.Definition,
		Input:      r.Input,
		Params:     r.Params,
	}
	stepTimeout, err := ParseDuration("stepTimeout", r.StepTimeout)
	if err != nil {
		return out, err
	}
	out.StepTimeout = stepTimeout

	for _, ap := range r.Approvals {
		timeout, err := ParseDuration("approvals.timeout", ap.Timeout)
		if err != nil {
			return out, err
		}
		out.Approvals = append(out.Approvals, engine.ApprovalPolicy{
			StepIndex: ap.StepIndex,
			Phase:     engine.ApprovalPhase(ap.Phase),
			Timeout:   timeout,
			Data:      ap.Data,
		})
	}

	if r.Recovery != nil {
		strategy, err := r.Recovery.ToStrategy()
		if err != nil {
			return out, err
		}
		out.Recovery = strategy
	}
	return out, nil
}

// ToStrategy 转换为恢复策略
func (r *RecoveryStrategyRequest) ToStrategy() (*recovery.Strategy, error) {
	delay, err := ParseDuration("retryDelay", r.RetryDelay)
	if err != nil {
		return nil, err
	}
	return &recovery.Strategy{
		Type:          recovery.StrategyType(r.Type),
		MaxRetries:    r.MaxRetries,
		RetryDelay:    delay,
		RollbackSteps: r.RollbackSteps,
	}, nil
}
