package cmd

import (
	"fmt"

	"github.com/LENAX/agent-flow/pkg/cli/output"
	"github.com/spf13/cobra"
)

// 版本信息（编译时注入）
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// versionCmd version命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputJSON {
			return output.PrintJSON(map[string]string{
				"version":    Version,
				"git_commit": GitCommit,
				"build_time": BuildTime,
			})
		}
		fmt.Fprintln(output.Stdout, "Agent Flow CLI")
		output.Field("Version", Version)
		output.Field("Commit", GitCommit)
		output.Field("Built", BuildTime)
		return nil
	},
}
