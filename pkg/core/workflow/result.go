package workflow

import (
	"fmt"
	"sort"
	"time"
)

// StepResult 单个步骤的执行结果，创建后不可修改
type StepResult struct {
	StepIndex  int           `json:"stepIndex"`
	WorkerID   string        `json:"workerId"`
	WorkerName string        `json:"workerName"`
	Input      string        `json:"input"`
	Output     string        `json:"output"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	StartTime  time.Time     `json:"startTime"`
	EndTime    time.Time     `json:"endTime"`
	Duration   time.Duration `json:"duration"`
}

// ExecutionResult 一次执行的汇总结果
// Halted表示执行被暂停请求或审批超时挂起，NextStepIndex为继续执行的位置
type ExecutionResult struct {
	Steps         []StepResult  `json:"steps"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Error         string        `json:"error,omitempty"`
	Halted        bool          `json:"halted,omitempty"`
	NextStepIndex int           `json:"nextStepIndex,omitempty"`
}

// AllSucceeded 所有已产出的结果均成功（跳过的步骤不计入）
func AllSucceeded(results []StepResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

// SortByIndex 按StepIndex升序排序（稳定排序）
func SortByIndex(results []StepResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].StepIndex < results[j].StepIndex
	})
}

// StepFailedMessage 生成步骤失败的错误描述，步骤号从1开始
func StepFailedMessage(r StepResult) string {
	return fmt.Sprintf("Step %d failed: %s", r.StepIndex+1, r.Error)
}

// FirstFailure 返回第一个失败的结果
func FirstFailure(results []StepResult) (StepResult, bool) {
	for _, r := range results {
		if !r.Success {
			return r, true
		}
	}
	return StepResult{}, false
}

// LastResult 返回最近一次产出的结果
func LastResult(results []StepResult) (StepResult, bool) {
	if len(results) == 0 {
		return StepResult{}, false
	}
	return results[len(results)-1], true
}

// FindResult 按步骤索引查找结果，存在重复时取最后一次
func FindResult(results []StepResult, stepIndex int) (StepResult, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].StepIndex == stepIndex {
			return results[i], true
		}
	}
	return StepResult{}, false
}

// Evaluate 根据已产出的结果判断条件是否满足
// 条件为空视为always；引用结果不存在时为false，
// 但failure在尚无任何结果时视为满足（尚未成功）
func (c *Condition) Evaluate(produced []StepResult) bool {
	if c == nil || c.Kind == ConditionAlways {
		return true
	}

	var (
		ref   StepResult
		found bool
	)
	if c.ReferenceStepIndex != nil {
		ref, found = FindResult(produced, *c.ReferenceStepIndex)
	} else {
		ref, found = LastResult(produced)
	}

	if !found {
		return c.Kind == ConditionFailure && len(produced) == 0
	}

	switch c.Kind {
	case ConditionSuccess:
		return ref.Success
	case ConditionFailure:
		return !ref.Success
	default:
		return false
	}
}
