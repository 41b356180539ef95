package cmd

import (
	"strconv"

	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/LENAX/agent-flow/pkg/cli/output"
	"github.com/LENAX/agent-flow/pkg/core/approval"
	"github.com/spf13/cobra"
)

// approvalsCmd 审批门管理
var approvalsCmd = &cobra.Command{
	Use:     "approvals",
	Aliases: []string{"approval"},
	Short:   "处理等待人工审批的步骤",
}

var approvalsRunID string

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出待审批的审批门",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := client().ListApprovals(approvalsRunID)
		if err != nil {
			output.Error("获取审批列表失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(list)
		}
		if len(list.Items) == 0 {
			output.Info("没有待审批的步骤")
			return nil
		}
		table := output.NewTable("GATE", "RUN", "STEP", "STATUS", "REQUESTED")
		for _, g := range list.Items {
			table.AddRow(
				g.ID,
				g.WorkflowID,
				strconv.Itoa(g.StepIndex),
				output.Status(string(g.Status)),
				g.RequestedAt.Format("01-02 15:04:05"),
			)
		}
		table.Render()
		return nil
	},
}

var decision dto.DecisionRequest

// decisionCommand approve与reject共用
func decisionCommand(use, short string, call func(gateID string, req dto.DecisionRequest) (*approval.Gate, error)) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " <gate-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := call(args[0], decision)
			if err != nil {
				output.Error("审批失败: %v", err)
				return err
			}
			if outputJSON {
				return output.PrintJSON(gate)
			}
			output.Success("审批门 %s: %s", gate.ID, output.Status(string(gate.Status)))
			if gate.ResolvedBy != "" {
				output.Field("By", gate.ResolvedBy)
			}
			if gate.Comment != "" {
				output.Field("Comment", gate.Comment)
			}
			return nil
		},
	}
	c.Flags().StringVar(&decision.ResolvedBy, "by", "", "审批人")
	c.Flags().StringVar(&decision.Comment, "comment", "", "审批意见")
	return c
}

var approvalsApproveCmd = decisionCommand("approve", "批准步骤继续执行",
	func(gateID string, req dto.DecisionRequest) (*approval.Gate, error) {
		return client().Approve(gateID, req)
	})

var approvalsRejectCmd = decisionCommand("reject", "拒绝步骤，运行将失败",
	func(gateID string, req dto.DecisionRequest) (*approval.Gate, error) {
		return client().Reject(gateID, req)
	})

func init() {
	approvalsListCmd.Flags().StringVarP(&approvalsRunID, "run", "r", "", "只列出指定运行的审批门")

	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsRejectCmd)
}
