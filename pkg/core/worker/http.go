package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPWorker 通过HTTP调用远程Agent的Worker
// 请求体 {"workerId","input"}，响应体 {"output"} 或 {"error"}
type HTTPWorker struct {
	id         string
	name       string
	url        string
	headers    map[string]string
	httpClient *http.Client
}

type httpInvokeRequest struct {
	WorkerID string `json:"workerId"`
	Input    string `json:"input"`
}

type httpInvokeResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// NewHTTPWorker 创建HTTP Worker
// 请求超时由调用方ctx控制，这里的client超时只作为兜底
func NewHTTPWorker(id, name, url string, headers map[string]string) *HTTPWorker {
	if name == "" {
		name = id
	}
	return &HTTPWorker{
		id:      id,
		name:    name,
		url:     url,
		headers: headers,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

func (w *HTTPWorker) ID() string   { return w.id }
func (w *HTTPWorker) Name() string { return w.name }

// Invoke 发送POST请求
func (w *HTTPWorker) Invoke(ctx context.Context, input string) (string, error) {
	body, err := json.Marshal(httpInvokeRequest{WorkerID: w.id, Input: input})
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: 创建请求失败: %v", ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: 读取响应失败: %v", ErrProvider, err)
	}

	var out httpInvokeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: 解析响应失败(status=%d): %v", ErrProvider, resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || out.Error != "" {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrProvider, msg)
	}
	return out.Output, nil
}
