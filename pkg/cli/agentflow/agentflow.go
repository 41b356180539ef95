// Package agentflow Agent Flow HTTP API客户端
package agentflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/LENAX/agent-flow/pkg/core/approval"
	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/core/recovery"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/gorilla/websocket"
)

// APIError 服务端返回的错误
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// AgentFlow HTTP API客户端
type AgentFlow struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建客户端
func New(baseURL string) *AgentFlow {
	return &AgentFlow{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithTimeout 设置请求超时（同步执行运行时需要更长的超时）
func (a *AgentFlow) WithTimeout(d time.Duration) *AgentFlow {
	a.httpClient.Timeout = d
	return a
}

// ========== Run API ==========

// StartRun 同步执行运行（req.Wait为true）
func (a *AgentFlow) StartRun(req dto.StartRunRequest) (*dto.RunOutcomeResponse, error) {
	req.Wait = true
	var resp dto.APIResponse[dto.RunOutcomeResponse]
	if err := a.do(http.MethodPost, "/api/v1/runs", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// SubmitRun 提交运行后台执行
func (a *AgentFlow) SubmitRun(req dto.StartRunRequest) (*dto.RunDetail, error) {
	req.Wait = false
	var resp dto.APIResponse[dto.RunDetail]
	if err := a.do(http.MethodPost, "/api/v1/runs", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ListRuns 列出运行
func (a *AgentFlow) ListRuns(workflowID, status string, limit, offset int) (*dto.ListResponse[dto.RunSummary], error) {
	params := url.Values{}
	if workflowID != "" {
		params.Set("workflow_id", workflowID)
	}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/runs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp dto.APIResponse[dto.ListResponse[dto.RunSummary]]
	if err := a.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// GetRun 获取运行详情
func (a *AgentFlow) GetRun(id string) (*dto.RunDetail, error) {
	var resp dto.APIResponse[dto.RunDetail]
	if err := a.do(http.MethodGet, runPath(id, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// GetResult 获取运行结果
func (a *AgentFlow) GetResult(id string) (*workflow.ExecutionResult, error) {
	var resp dto.APIResponse[workflow.ExecutionResult]
	if err := a.do(http.MethodGet, runPath(id, "/result"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// GetSnapshots 获取快照历史
func (a *AgentFlow) GetSnapshots(id string) (*dto.ListResponse[dto.SnapshotSummary], error) {
	var resp dto.APIResponse[dto.ListResponse[dto.SnapshotSummary]]
	if err := a.do(http.MethodGet, runPath(id, "/snapshots"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// PauseRun 暂停运行
func (a *AgentFlow) PauseRun(id string) (*dto.RunSummary, error) {
	return a.runAction(id, "/pause", nil)
}

// ResumeRun 恢复运行
func (a *AgentFlow) ResumeRun(id string) (*dto.RunSummary, error) {
	return a.runAction(id, "/resume", nil)
}

// RollbackRun 回滚运行
func (a *AgentFlow) RollbackRun(id string, req dto.RollbackRequest) (*dto.RunSummary, error) {
	return a.runAction(id, "/rollback", req)
}

// TerminateRun 终止运行
func (a *AgentFlow) TerminateRun(id, reason string) (*dto.RunSummary, error) {
	return a.runAction(id, "/terminate", dto.TerminateRequest{Reason: reason})
}

// RecoverRun 对失败步骤执行恢复策略
func (a *AgentFlow) RecoverRun(id string, req dto.RecoveryStrategyRequest) (*dto.RecoveryResponse, error) {
	var resp dto.APIResponse[dto.RecoveryResponse]
	if err := a.do(http.MethodPost, runPath(id, "/recover"), req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Compensation 生成补偿计划，to为-1时包含第0步
func (a *AgentFlow) Compensation(id string, from, to int) (*recovery.CompensationPlan, error) {
	path := fmt.Sprintf("%s?from=%d&to=%d", runPath(id, "/compensation"), from, to)
	var resp dto.APIResponse[recovery.CompensationPlan]
	if err := a.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Cleanup 清理在olderThan之前结束的运行
func (a *AgentFlow) Cleanup(olderThan time.Duration) (*dto.CleanupResponse, error) {
	var resp dto.APIResponse[dto.CleanupResponse]
	if err := a.do(http.MethodPost, "/api/v1/maintenance/cleanup", dto.CleanupRequest{OlderThan: olderThan.String()}, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (a *AgentFlow) runAction(id, action string, body interface{}) (*dto.RunSummary, error) {
	var resp dto.APIResponse[dto.RunSummary]
	if err := a.do(http.MethodPost, runPath(id, action), body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func runPath(id, suffix string) string {
	return "/api/v1/runs/" + url.PathEscape(id) + suffix
}

// ========== Approval API ==========

// ListApprovals 列出待审批门，runID为空时列出全部
func (a *AgentFlow) ListApprovals(runID string) (*dto.ListResponse[*approval.Gate], error) {
	path := "/api/v1/approvals"
	if runID != "" {
		path += "?run_id=" + url.QueryEscape(runID)
	}
	var resp dto.APIResponse[dto.ListResponse[*approval.Gate]]
	if err := a.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Approve 批准
func (a *AgentFlow) Approve(gateID string, req dto.DecisionRequest) (*approval.Gate, error) {
	return a.decide(gateID, "/approve", req)
}

// Reject 拒绝
func (a *AgentFlow) Reject(gateID string, req dto.DecisionRequest) (*approval.Gate, error) {
	return a.decide(gateID, "/reject", req)
}

func (a *AgentFlow) decide(gateID, action string, req dto.DecisionRequest) (*approval.Gate, error) {
	var resp dto.APIResponse[*approval.Gate]
	if err := a.do(http.MethodPost, "/api/v1/approvals/"+url.PathEscape(gateID)+action, req, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ========== Events ==========

// Watch 订阅运行事件直到handle返回false、连接断开或ctx结束
// runID为空时订阅全部运行
func (a *AgentFlow) Watch(ctx context.Context, runID string, handle func(*events.Event) bool) error {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return fmt.Errorf("服务器地址无效: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	path := "/api/v1/events"
	if runID != "" {
		path = runPath(runID, "/events")
	}
	u.Path = strings.TrimRight(u.Path, "/") + path

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("连接事件流失败: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("读取事件失败: %w", err)
		}
		if !handle(&ev) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		}
	}
}

// ========== Health API ==========

// Health 健康检查
func (a *AgentFlow) Health() (*dto.HealthResponse, error) {
	var resp dto.APIResponse[dto.HealthResponse]
	if err := a.do(http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ListWorkers 列出服务端Worker
func (a *AgentFlow) ListWorkers() (*dto.ListResponse[dto.WorkerSummary], error) {
	var resp dto.APIResponse[dto.ListResponse[dto.WorkerSummary]]
	if err := a.do(http.MethodGet, "/api/v1/workers", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ========== HTTP Methods ==========

// envelope 只用于读取错误码
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (a *AgentFlow) do(method, path string, body, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, a.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("解析响应失败: %w, body: %s", err, string(raw))
	}
	if env.Code != 0 || resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
