// Package output 命令行输出：彩色消息、JSON与表格
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	// Stdout 正常输出目标，测试时可替换
	Stdout io.Writer = color.Output
	// Stderr 错误输出目标
	Stderr io.Writer = color.Error
)

// PrintJSON 输出缩进JSON
func PrintJSON(data interface{}) error {
	encoder := json.NewEncoder(Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Success 输出成功消息
func Success(format string, args ...interface{}) {
	color.New(color.FgGreen, color.Bold).Fprintf(Stdout, "✅ "+format+"\n", args...)
}

// Error 输出错误消息
func Error(format string, args ...interface{}) {
	color.New(color.FgRed, color.Bold).Fprintf(Stderr, "❌ "+format+"\n", args...)
}

// Info 输出信息
func Info(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(Stdout, "ℹ️  "+format+"\n", args...)
}

// Warning 输出警告
func Warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(Stdout, "⚠️  "+format+"\n", args...)
}

// Field 输出对齐的键值行
func Field(name string, value interface{}) {
	fmt.Fprintf(Stdout, "%-10s %v\n", name+":", value)
}

// Status 运行状态加图标
func Status(status string) string {
	return StatusIcon(status) + " " + status
}

// StatusIcon 运行或审批状态图标
func StatusIcon(status string) string {
	switch status {
	case "completed", "approved":
		return "✅"
	case "failed", "rejected":
		return "❌"
	case "running":
		return "🔄"
	case "paused":
		return "⏸️"
	case "pending":
		return "⏳"
	default:
		return "❓"
	}
}

// StepIcon 步骤结果图标
func StepIcon(success bool) string {
	if success {
		return "✅"
	}
	return "❌"
}

// Percent 计算百分比
func Percent(done, total int) int {
	if total == 0 {
		return 0
	}
	return done * 100 / total
}
