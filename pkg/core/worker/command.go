package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandWorker 以本地进程方式调用的Worker
// 输入写入stdin，stdout作为输出；ctx取消时进程被终止
type CommandWorker struct {
	id   string
	name string
	args []string
	env  []string
}

// NewCommandWorker 创建本地进程Worker，args[0]为可执行文件
func NewCommandWorker(id, name string, args []string, env []string) (*CommandWorker, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("Worker %s 未配置命令", id)
	}
	if name == "" {
		name = id
	}
	return &CommandWorker{id: id, name: name, args: args, env: env}, nil
}

func (w *CommandWorker) ID() string   { return w.id }
func (w *CommandWorker) Name() string { return w.name }

// Invoke 执行命令
func (w *CommandWorker) Invoke(ctx context.Context, input string) (string, error) {
	cmd := exec.CommandContext(ctx, w.args[0], w.args[1:]...)
	cmd.Stdin = strings.NewReader(input)
	if len(w.env) > 0 {
		cmd.Env = append(cmd.Environ(), w.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: %s exited with %d: %s", ErrProvider, w.args[0], exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}
