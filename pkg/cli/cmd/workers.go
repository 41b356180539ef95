package cmd

import (
	"github.com/LENAX/agent-flow/pkg/cli/output"
	"github.com/spf13/cobra"
)

// workersCmd 查看服务端Worker与健康状态
var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "列出服务端注册的Worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		health, err := c.Health()
		if err != nil {
			output.Error("连接服务器失败: %v", err)
			return err
		}
		list, err := c.ListWorkers()
		if err != nil {
			output.Error("获取Worker列表失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(map[string]interface{}{
				"health":  health,
				"workers": list.Items,
			})
		}

		output.Field("Server", serverURL)
		output.Field("Status", health.Status)
		output.Field("Version", health.Version)
		output.Field("Uptime", health.Uptime)
		output.Info("共 %d 个Worker", list.Total)
		if len(list.Items) == 0 {
			return nil
		}
		table := output.NewTable("ID", "NAME")
		for _, w := range list.Items {
			table.AddRow(w.ID, w.Name)
		}
		table.Render()
		return nil
	},
}
