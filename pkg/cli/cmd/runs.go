package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/LENAX/agent-flow/pkg/cli/agentflow"
	"github.com/LENAX/agent-flow/pkg/cli/output"
	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/spf13/cobra"
)

// client 按--server创建API客户端
func client() *agentflow.AgentFlow {
	return agentflow.New(serverURL)
}

// runsCmd 远程运行管理
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "管理服务端的工作流运行",
	Long:  "通过HTTP API提交、查看和控制服务端上的工作流运行",
}

var (
	submitRun     runFlags
	submitWait    bool
	submitTimeout time.Duration
)

var runsSubmitCmd = &cobra.Command{
	Use:   "submit <definition-file>",
	Short: "提交工作流定义到服务端执行",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := submitRun.request(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if submitWait {
			out, err := client().WithTimeout(submitTimeout).StartRun(req)
			if err != nil {
				output.Error("执行运行失败: %v", err)
				return err
			}
			return printOutcome(*out)
		}

		detail, err := client().SubmitRun(req)
		if err != nil {
			output.Error("提交运行失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(detail)
		}
		output.Success("已提交运行: %s", detail.ID)
		output.Field("Workflow", detail.WorkflowID)
		output.Field("Status", output.Status(detail.Status))
		return nil
	},
}

var (
	listWorkflowID string
	listStatus     string
	listLimit      int
	listOffset     int
)

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出运行",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := client().ListRuns(listWorkflowID, listStatus, listLimit, listOffset)
		if err != nil {
			output.Error("获取运行列表失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(list)
		}
		if len(list.Items) == 0 {
			output.Info("没有找到运行")
			return nil
		}

		table := output.NewTable("ID", "WORKFLOW", "TYPE", "STATUS", "PROGRESS", "STARTED")
		for _, r := range list.Items {
			table.AddRow(
				r.ID,
				r.WorkflowID,
				r.Type,
				output.Status(r.Status),
				fmt.Sprintf("%d/%d", r.Progress.Produced, r.Progress.Total),
				r.StartedAt.Format("01-02 15:04:05"),
			)
		}
		table.Render()
		fmt.Fprintf(output.Stdout, "\n共 %d 条", list.Total)
		if list.HasMore {
			fmt.Fprint(output.Stdout, "（还有更多，使用--offset翻页）")
		}
		fmt.Fprintln(output.Stdout)
		return nil
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "查看运行详情",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		detail, err := client().GetRun(args[0])
		if err != nil {
			output.Error("获取运行失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(detail)
		}
		printRunDetail(*detail)
		return nil
	},
}

var runsResultCmd = &cobra.Command{
	Use:   "result <run-id>",
	Short: "查看运行结果",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client().GetResult(args[0])
		if err != nil {
			output.Error("获取运行结果失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(res)
		}
		output.Field("Success", output.StepIcon(res.Success))
		output.Field("Duration", dto.FormatDuration(res.TotalDuration))
		if res.Error != "" {
			output.Field("Error", res.Error)
		}
		if res.Halted {
			output.Field("Next", res.NextStepIndex)
		}
		if len(res.Steps) > 0 {
			fmt.Fprintln(output.Stdout)
			printSteps(res.Steps)
		}
		return nil
	},
}

var runsSnapshotsCmd = &cobra.Command{
	Use:   "snapshots <run-id>",
	Short: "查看状态快照历史",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := client().GetSnapshots(args[0])
		if err != nil {
			output.Error("获取快照失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(list)
		}
		table := output.NewTable("INDEX", "SEQ", "STATUS", "CURRENT", "STEPS", "TIME")
		for _, s := range list.Items {
			table.AddRow(
				strconv.Itoa(s.Index),
				strconv.FormatInt(s.Seq, 10),
				output.Status(s.Status),
				strconv.Itoa(s.CurrentStepIndex),
				strconv.Itoa(s.StepCount),
				s.Timestamp.Format("15:04:05.000"),
			)
		}
		table.Render()
		return nil
	},
}

// summaryCommand 生成只需运行ID的控制命令
func summaryCommand(use, short, failMsg string, call func(id string) (*dto.RunSummary, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := call(args[0])
			if err != nil {
				output.Error("%s: %v", failMsg, err)
				return err
			}
			if outputJSON {
				return output.PrintJSON(s)
			}
			printRunSummary(*s)
			return nil
		},
	}
}

var runsPauseCmd = summaryCommand("pause", "暂停运行（当前步骤完成后生效）", "暂停运行失败",
	func(id string) (*dto.RunSummary, error) { return client().PauseRun(id) })

var runsResumeCmd = summaryCommand("resume", "恢复已暂停的运行", "恢复运行失败",
	func(id string) (*dto.RunSummary, error) { return client().ResumeRun(id) })

var (
	rollbackTarget      int
	rollbackLastSuccess bool
)

var runsRollbackCmd = &cobra.Command{
	Use:   "rollback <run-id>",
	Short: "回滚运行到指定步骤或最近一次成功的步骤",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := dto.RollbackRequest{LastSuccess: rollbackLastSuccess}
		if !rollbackLastSuccess {
			if !cmd.Flags().Changed("target") {
				err := errors.New("需要指定--target或--last-success")
				output.Error("%v", err)
				return err
			}
			req.TargetIndex = &rollbackTarget
		}
		s, err := client().RollbackRun(args[0], req)
		if err != nil {
			output.Error("回滚失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(s)
		}
		printRunSummary(*s)
		output.Field("Next", s.Progress.NextStep)
		return nil
	},
}

var recoverReq dto.RecoveryStrategyRequest

var runsRecoverCmd = &cobra.Command{
	Use:   "recover <run-id>",
	Short: "对失败步骤执行恢复策略",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client().RecoverRun(args[0], recoverReq)
		if err != nil {
			output.Error("恢复失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(res)
		}
		if res.Recovered {
			output.Success("%s: %s", res.Strategy, res.Message)
		} else {
			output.Warning("%s: %s", res.Strategy, res.Message)
		}
		output.Field("Next", res.NextStepIndex)
		return nil
	},
}

var terminateReason string

var runsTerminateCmd = &cobra.Command{
	Use:   "terminate <run-id>",
	Short: "终止运行",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := client().TerminateRun(args[0], terminateReason)
		if err != nil {
			output.Error("终止运行失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(s)
		}
		printRunSummary(*s)
		return nil
	},
}

var (
	compensationFrom int
	compensationTo   int
)

var runsCompensationCmd = &cobra.Command{
	Use:   "compensation <run-id>",
	Short: "生成补偿计划（逆序）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := client().Compensation(args[0], compensationFrom, compensationTo)
		if err != nil {
			output.Error("生成补偿计划失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(plan)
		}
		if len(plan.Actions) == 0 {
			output.Info("区间内没有需要补偿的步骤")
			return nil
		}
		table := output.NewTable("STEP", "WORKER", "OUTPUT")
		for _, a := range plan.Actions {
			table.AddRow(strconv.Itoa(a.StepIndex), a.WorkerID, preview(a.Output))
		}
		table.Render()
		return nil
	},
}

var runsWatchCmd = &cobra.Command{
	Use:   "watch [run-id]",
	Short: "订阅运行事件（不指定ID时订阅全部运行）",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := ""
		if len(args) == 1 {
			runID = args[0]
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err := client().Watch(ctx, runID, func(ev *events.Event) bool {
			printEvent(ev)
			// 单个运行结束后退出
			return runID == "" || ev.Type != events.EventComplete
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			output.Error("订阅事件失败: %v", err)
			return err
		}
		return nil
	},
}

// printEvent 输出单个事件
func printEvent(ev *events.Event) {
	if outputJSON {
		_ = output.PrintJSON(ev)
		return
	}
	ts := ev.Timestamp.Format("15:04:05.000")
	switch {
	case ev.Type == events.EventStep && ev.Step != nil:
		fmt.Fprintf(output.Stdout, "%s %s [%s] step %d %s %s\n",
			ts, output.StepIcon(ev.Step.Success), ev.RunID, ev.Step.StepIndex, ev.Step.WorkerID, preview(ev.Step.Output))
	case ev.Type == events.EventComplete && ev.Result != nil:
		fmt.Fprintf(output.Stdout, "%s 🏁 [%s] complete success=%t\n", ts, ev.RunID, ev.Result.Success)
	case ev.Approval != nil:
		fmt.Fprintf(output.Stdout, "%s %s [%s] %s gate=%s step=%d\n",
			ts, output.StatusIcon(ev.Approval.Status), ev.RunID, ev.Type, ev.Approval.GateID, ev.Approval.StepIndex)
	case ev.Status != "":
		fmt.Fprintf(output.Stdout, "%s %s [%s] %s\n", ts, output.StatusIcon(string(ev.Status)), ev.RunID, ev.Status)
	default:
		fmt.Fprintf(output.Stdout, "%s 📣 [%s] %s %s\n", ts, ev.RunID, ev.Type, ev.Error)
	}
}

var cleanupOlderThan time.Duration

var runsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "清理已结束的历史运行",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client().Cleanup(cleanupOlderThan)
		if err != nil {
			output.Error("清理失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(res)
		}
		output.Success("已清理 %d 个运行（早于 %s）", res.Removed, res.OlderThan)
		return nil
	},
}

func init() {
	submitRun.register(runsSubmitCmd)
	runsSubmitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "同步等待运行结束")
	runsSubmitCmd.Flags().DurationVar(&submitTimeout, "timeout", 10*time.Minute, "同步等待的HTTP超时")

	runsListCmd.Flags().StringVar(&listWorkflowID, "workflow-id", "", "按工作流ID过滤")
	runsListCmd.Flags().StringVar(&listStatus, "status", "", "按状态过滤（pending/running/paused/completed/failed）")
	runsListCmd.Flags().IntVarP(&listLimit, "limit", "l", 20, "返回条数")
	runsListCmd.Flags().IntVar(&listOffset, "offset", 0, "偏移量")

	runsRollbackCmd.Flags().IntVarP(&rollbackTarget, "target", "t", 0, "回滚目标步骤索引（保留该步及之前的结果）")
	runsRollbackCmd.Flags().BoolVar(&rollbackLastSuccess, "last-success", false, "回滚到最近一次成功的步骤")

	runsRecoverCmd.Flags().StringVar(&recoverReq.Type, "strategy", "retry", "恢复策略（retry/skip/rollback/manual）")
	runsRecoverCmd.Flags().IntVar(&recoverReq.MaxRetries, "max-retries", 0, "最大重试次数（0为默认值3）")
	runsRecoverCmd.Flags().StringVar(&recoverReq.RetryDelay, "retry-delay", "", "重试间隔，如2s")
	runsRecoverCmd.Flags().IntVar(&recoverReq.RollbackSteps, "rollback-steps", 0, "rollback策略回退的步数（0为默认值1）")

	runsTerminateCmd.Flags().StringVar(&terminateReason, "reason", "", "终止原因")

	runsCompensationCmd.Flags().IntVar(&compensationFrom, "from", 0, "补偿起点（包含）")
	runsCompensationCmd.Flags().IntVar(&compensationTo, "to", -1, "补偿终点（不包含），-1包含第0步")
	_ = runsCompensationCmd.MarkFlagRequired("from")

	runsCleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 24*time.Hour, "清理早于该时长前结束的运行")

	runsCmd.AddCommand(runsSubmitCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
	runsCmd.AddCommand(runsResultCmd)
	runsCmd.AddCommand(runsSnapshotsCmd)
	runsCmd.AddCommand(runsPauseCmd)
	runsCmd.AddCommand(runsResumeCmd)
	runsCmd.AddCommand(runsRollbackCmd)
	runsCmd.AddCommand(runsRecoverCmd)
	runsCmd.AddCommand(runsTerminateCmd)
	runsCmd.AddCommand(runsCompensationCmd)
	runsCmd.AddCommand(runsWatchCmd)
	runsCmd.AddCommand(runsCleanupCmd)
}
