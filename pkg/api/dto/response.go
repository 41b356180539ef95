package dto

import (
	"time"

	"github.com/LENAX/agent-flow/pkg/core/recovery"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
)

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// ListResponse 分页列表响应
type ListResponse[T any] struct {
	Total   int  `json:"total"`
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

// RunSummary 运行摘要
type RunSummary struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	RunName      string     `json:"run_name,omitempty"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Progress     Progress   `json:"progress"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Duration     string     `json:"duration,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Progress 步骤进度
type Progress struct {
	Total     int `json:"total"`
	Produced  int `json:"produced"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	NextStep  int `json:"next_step"`
}

// RunDetail 运行详情
type RunDetail struct {
	RunSummary
	CurrentStepIndex int                    `json:"current_step_index"`
	Input            string                 `json:"input"`
	Definition       *workflow.Definition   `json:"definition"`
	Steps            []workflow.StepResult  `json:"steps"`
	Context          map[string]interface{} `json:"context,omitempty"`
	PausedAt         *time.Time             `json:"paused_at,omitempty"`
	ResumedAt        *time.Time             `json:"resumed_at,omitempty"`
}

// SnapshotSummary 快照摘要
type SnapshotSummary struct {
	Index            int       `json:"index"`
	Seq              int64     `json:"seq"`
	Timestamp        time.Time `json:"timestamp"`
	Status           string    `json:"status"`
	CurrentStepIndex int       `json:"current_step_index"`
	StepCount        int       `json:"step_count"`
}

// RecoveryResponse 恢复结果
type RecoveryResponse struct {
	Recovered     bool   `json:"recovered"`
	Strategy      string `json:"strategy"`
	NextStepIndex int    `json:"next_step_index"`
	Message       string `json:"message"`
}

// RunOutcomeResponse 同步执行结果
type RunOutcomeResponse struct {
	Run        RunDetail                 `json:"run"`
	Result     *workflow.ExecutionResult `json:"result"`
	Recoveries []*recovery.Result        `json:"recoveries,omitempty"`
}

// WorkerSummary Worker摘要
type WorkerSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ScheduleSummary 定时任务摘要
type ScheduleSummary struct {
	Name string `json:"name"`
	Cron string `json:"cron"`
}

// CleanupResponse 清理结果
type CleanupResponse struct {
	Removed   int    `json:"removed"`
	OlderThan string `json:"older_than"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// NewRunSummary 由运行状态生成摘要
func NewRunSummary(st *workflow.WorkflowState) RunSummary {
	s := RunSummary{
		ID:           st.ID,
		WorkflowID:   st.WorkflowID,
		RunName:      st.RunName,
		Status:       string(st.Status),
		Progress:     NewProgress(st),
		StartedAt:    st.StartTime,
		FinishedAt:   st.EndTime,
		ErrorMessage: st.Error,
	}
	if st.Definition != nil {
		s.Type = string(st.Definition.Type)
	}
	if st.EndTime != nil {
		s.Duration = FormatDuration(st.EndTime.Sub(st.StartTime))
	}
	return s
}

// NewRunDetail 由运行状态生成详情
func NewRunDetail(st *workflow.WorkflowState) RunDetail {
	steps := st.Steps
	if steps == nil {
		steps = []workflow.StepResult{}
	}
	return RunDetail{
		RunSummary:       NewRunSummary(st),
		CurrentStepIndex: st.CurrentStepIndex,
		Input:            st.Input,
		Definition:       st.Definition,
		Steps:            steps,
		Context:          st.Context,
		PausedAt:         st.PausedAt,
		ResumedAt:        st.ResumedAt,
	}
}

// NewSnapshotSummary 生成快照摘要，index为快照在历史中的位置
func NewSnapshotSummary(index int, snap workflow.Snapshot) SnapshotSummary {
	out := SnapshotSummary{Index: index, Seq: snap.Seq, Timestamp: snap.Timestamp}
	if snap.State != nil {
		out.Status = string(snap.State.Status)
		out.CurrentStepIndex = snap.State.CurrentStepIndex
		out.StepCount = len(snap.State.Steps)
	}
	return out
}

// NewProgress 统计步骤进度
func NewProgress(st *workflow.WorkflowState) Progress {
	p := Progress{Produced: len(st.Steps), NextStep: st.NextStepIndex()}
	if st.Definition != nil {
		p.Total = len(st.Definition.Steps)
	}
	for _, r := range st.Steps {
		if r.Success {
			p.Succeeded++
		} else {
			p.Failed++
		}
	}
	return p
}

// FormatDuration 格式化持续时间
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
