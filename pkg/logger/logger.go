// Package logger 初始化全局zerolog日志
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 按日志级别和运行环境初始化全局Logger
// dev环境使用控制台格式，其余环境输出JSON
func Init(level, env string) error {
	return InitWriter(level, env, os.Stdout)
}

// InitWriter 同Init，日志写入w（命令行使用stderr，避免污染JSON输出）
func InitWriter(level, env string, w io.Writer) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if env == "" || env == "dev" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05.000"}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("app", "agent-flow").Logger()
	return nil
}

// ParseLevel 解析日志级别，空字符串视为info
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("不支持的日志级别: %s", level)
	}
}

// Component 返回带组件名的子Logger
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
