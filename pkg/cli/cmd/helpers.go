package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/LENAX/agent-flow/pkg/cli/output"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
)

const outputPreviewLen = 48

// parseParams 解析key=value形式的参数
func parseParams(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("参数格式错误，应为key=value: %q", p)
		}
		out[key] = value
	}
	return out, nil
}

// parseApprovals 解析phase:stepIndex[:timeout]形式的审批策略
func parseApprovals(specs []string) ([]dto.ApprovalPolicyRequest, error) {
	out := make([]dto.ApprovalPolicyRequest, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("审批策略格式错误，应为phase:step[:timeout]: %q", spec)
		}
		phase := strings.ToLower(parts[0])
		if phase != "before" && phase != "after" {
			return nil, fmt.Errorf("审批策略phase无效: %q", parts[0])
		}
		idx, err := strconv.Atoi(parts[1])
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("审批策略步骤索引无效: %q", parts[1])
		}
		policy := dto.ApprovalPolicyRequest{StepIndex: idx, Phase: phase}
		if len(parts) == 3 {
			if _, err := time.ParseDuration(parts[2]); err != nil {
				return nil, fmt.Errorf("审批超时格式错误: %w", err)
			}
			policy.Timeout = parts[2]
		}
		out = append(out, policy)
	}
	return out, nil
}

// printRunDetail 输出运行详情与步骤表
func printRunDetail(d dto.RunDetail) {
	output.Field("Run ID", d.ID)
	output.Field("Workflow", d.WorkflowID)
	if d.RunName != "" {
		output.Field("Name", d.RunName)
	}
	output.Field("Type", d.Type)
	output.Field("Status", output.Status(d.Status))
	output.Field("Progress", fmt.Sprintf("%d/%d (%d%%)",
		d.Progress.Produced, d.Progress.Total, output.Percent(d.Progress.Produced, d.Progress.Total)))
	output.Field("Started", d.StartedAt.Format("2006-01-02 15:04:05"))
	if d.FinishedAt != nil {
		output.Field("Finished", d.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if d.Duration != "" {
		output.Field("Duration", d.Duration)
	}
	if d.ErrorMessage != "" {
		output.Field("Error", d.ErrorMessage)
	}
	if len(d.Steps) > 0 {
		fmt.Fprintln(output.Stdout)
		printSteps(d.Steps)
	}
}

// printSteps 输出步骤结果表
func printSteps(steps []workflow.StepResult) {
	table := output.NewTable("STEP", "WORKER", "RESULT", "DURATION", "OUTPUT")
	for _, s := range steps {
		text := s.Output
		if !s.Success {
			text = s.Error
		}
		table.AddRow(
			strconv.Itoa(s.StepIndex),
			s.WorkerID,
			output.StepIcon(s.Success),
			dto.FormatDuration(s.Duration),
			preview(text),
		)
	}
	table.Render()
}

func printRunSummary(s dto.RunSummary) {
	output.Success("运行 %s 当前状态: %s", s.ID, output.Status(s.Status))
	if s.ErrorMessage != "" {
		output.Field("Error", s.ErrorMessage)
	}
}

// preview 截断并压成单行
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= outputPreviewLen {
		return s
	}
	r := []rune(s)
	return string(r[:outputPreviewLen-3]) + "..."
}

// workflowIDFromPath 取定义文件名（去掉扩展名）作为工作流ID
func workflowIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
