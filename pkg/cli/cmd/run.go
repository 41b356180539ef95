package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/LENAX/agent-flow/pkg/cli/output"
	"github.com/LENAX/agent-flow/pkg/config"
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/LENAX/agent-flow/pkg/core/worker"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/spf13/cobra"
)

// runFlags 创建运行时共用的参数（run与runs submit）
type runFlags struct {
	input       string
	workflowID  string
	runName     string
	params      []string
	approvals   []string
	recovery    string
	maxRetries  int
	stepTimeout string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "工作流初始输入")
	cmd.Flags().StringVar(&f.workflowID, "workflow-id", "", "工作流ID（默认取定义文件名）")
	cmd.Flags().StringVar(&f.runName, "name", "", "运行名称")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "参数key=value，可重复")
	cmd.Flags().StringArrayVar(&f.approvals, "approval", nil, "审批策略phase:step[:timeout]，如before:1或after:2:30m")
	cmd.Flags().StringVar(&f.recovery, "recovery", "", "失败恢复策略（retry/skip/rollback/manual）")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "retry策略的最大重试次数")
	cmd.Flags().StringVar(&f.stepTimeout, "step-timeout", "", "单步超时，如30s")
}

// request 读取定义文件并组装请求
func (f *runFlags) request(definitionFile string) (dto.StartRunRequest, error) {
	def, err := workflow.LoadDefinitionFile(definitionFile)
	if err != nil {
		return dto.StartRunRequest{}, err
	}
	params, err := parseParams(f.params)
	if err != nil {
		return dto.StartRunRequest{}, err
	}
	approvals, err := parseApprovals(f.approvals)
	if err != nil {
		return dto.StartRunRequest{}, err
	}

	req := dto.StartRunRequest{
		WorkflowID:  f.workflowID,
		RunName:     f.runName,
		Definition:  def,
		Input:       f.input,
		Params:      params,
		Approvals:   approvals,
		StepTimeout: f.stepTimeout,
	}
	if req.WorkflowID == "" {
		req.WorkflowID = workflowIDFromPath(definitionFile)
	}
	if f.recovery != "" {
		req.Recovery = &dto.RecoveryStrategyRequest{Type: f.recovery, MaxRetries: f.maxRetries}
	}
	return req, nil
}

var (
	localRun     runFlags
	localConfig  string
	localPersist bool
)

// runCmd 本地执行工作流
var runCmd = &cobra.Command{
	Use:   "run <definition-file>",
	Short: "在本地执行工作流定义文件",
	Long: `在进程内启动编排引擎并同步执行工作流定义（JSON或YAML）。

未配置Worker时自动注册echo与upper两个内置Worker。
默认使用内存存储，--persist时使用配置中的数据库。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := localRun.request(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		runReq, err := req.ToRunRequest()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		eng, err := buildLocalEngine(localConfig, localPersist)
		if err != nil {
			output.Error("初始化引擎失败: %v", err)
			return err
		}
		if err := eng.Start(context.Background()); err != nil {
			output.Error("启动引擎失败: %v", err)
			return err
		}
		defer eng.Stop()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outcome, err := eng.Run(ctx, runReq)
		if err != nil {
			output.Error("执行失败: %v", err)
			return err
		}
		return printOutcome(dto.RunOutcomeResponse{
			Run:        dto.NewRunDetail(outcome.State),
			Result:     outcome.Result,
			Recoveries: outcome.Recoveries,
		})
	},
}

// buildLocalEngine 构建本地引擎
func buildLocalEngine(configPath string, persist bool) (*engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	builder := engine.NewEngineBuilder(configPath).WithConfig(cfg)
	if !persist {
		builder = builder.WithStore(storage.NewMemoryStore())
	}
	if len(cfg.AgentFlow.Workers) == 0 {
		builder = builder.
			WithWorker(worker.NewEchoWorker("echo", "Echo", "")).
			WithWorker(worker.NewUpperWorker("upper", "Upper"))
	}
	return builder.Build()
}

// printOutcome 输出同步执行结果
func printOutcome(out dto.RunOutcomeResponse) error {
	if outputJSON {
		return output.PrintJSON(out)
	}
	printRunDetail(out.Run)
	for _, r := range out.Recoveries {
		if r == nil {
			continue
		}
		output.Info("恢复策略 %s: %s", r.Strategy, r.Message)
	}
	if out.Result != nil {
		fmt.Fprintln(output.Stdout)
		switch {
		case out.Result.Halted:
			output.Warning("运行已挂起，下一步: %d", out.Result.NextStepIndex)
		case out.Result.Success:
			if last, ok := workflow.LastResult(out.Result.Steps); ok {
				output.Success("最终输出: %s", last.Output)
			} else {
				output.Success("运行完成")
			}
		default:
			output.Warning("运行未成功: %s", out.Result.Error)
		}
	}
	return nil
}

func init() {
	localRun.register(runCmd)
	runCmd.Flags().StringVarP(&localConfig, "config", "c", "", "配置文件路径（默认使用内置默认配置）")
	runCmd.Flags().BoolVar(&localPersist, "persist", false, "使用配置中的数据库持久化运行状态")
}
