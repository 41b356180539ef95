// Package worker 定义执行步骤的Worker能力及其注册中心
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWorkerNotFound Worker未注册
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrStepTimeout 调用超过步骤超时时间
	ErrStepTimeout = errors.New("timeout")
	// ErrProvider 底层调用失败
	ErrProvider = errors.New("provider error")
)

// Worker 将输入字符串转换为输出字符串的外部能力（对外导出）
// Invoke必须响应ctx取消
type Worker interface {
	ID() string
	Name() string
	Invoke(ctx context.Context, input string) (string, error)
}

// InvokeFunc Worker的函数形式
type InvokeFunc func(ctx context.Context, input string) (string, error)

// FuncWorker 用函数实现的Worker
type FuncWorker struct {
	id   string
	name string
	fn   InvokeFunc
}

// NewFuncWorker 创建函数Worker，name为空时使用id
func NewFuncWorker(id, name string, fn InvokeFunc) *FuncWorker {
	if name == "" {
		name = id
	}
	return &FuncWorker{id: id, name: name, fn: fn}
}

func (w *FuncWorker) ID() string   { return w.id }
func (w *FuncWorker) Name() string { return w.name }

// Invoke 调用函数
func (w *FuncWorker) Invoke(ctx context.Context, input string) (string, error) {
	if w.fn == nil {
		return "", fmt.Errorf("%w: worker %s 未配置调用函数", ErrProvider, w.id)
	}
	return w.fn(ctx, input)
}

// NewEchoWorker 原样返回输入，可选前缀，用于联调
func NewEchoWorker(id, name, prefix string) *FuncWorker {
	return NewFuncWorker(id, name, func(ctx context.Context, input string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return prefix + input, nil
	})
}

// NewUpperWorker 将输入转为大写
func NewUpperWorker(id, name string) *FuncWorker {
	return NewFuncWorker(id, name, func(ctx context.Context, input string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return strings.ToUpper(input), nil
	})
}
