// Package approval 人工审批门：挂起执行直到收到决定或超时
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrApprovalTimeout 超时未收到决定（可重新请求）
	ErrApprovalTimeout = errors.New("approval timeout")
	// ErrApprovalRejected 明确拒绝
	ErrApprovalRejected = errors.New("approval rejected")
	// ErrGateNotFound 审批门不存在
	ErrGateNotFound = errors.New("approval gate not found")
	// ErrGateAlreadyResolved 审批门已有决定
	ErrGateAlreadyResolved = errors.New("approval gate already resolved")
	// ErrGatePending 同一步骤已有待处理的审批门
	ErrGatePending = errors.New("approval gate already pending")
)

// Status 审批门状态
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Gate 审批门
type Gate struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflowId"`
	StepIndex   int                    `json:"stepIndex"`
	Status      Status                 `json:"status"`
	RequestedAt time.Time              `json:"requestedAt"`
	ResolvedAt  *time.Time             `json:"resolvedAt,omitempty"`
	ResolvedBy  string                 `json:"resolvedBy,omitempty"`
	Comment     string                 `json:"comment,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

func (g *Gate) clone() *Gate {
	cp := *g
	if g.ResolvedAt != nil {
		t := *g.ResolvedAt
		cp.ResolvedAt = &t
	}
	if g.Data != nil {
		cp.Data = make(map[string]interface{}, len(g.Data))
		for k, v := range g.Data {
			cp.Data[k] = v
		}
	}
	return &cp
}

// Request 审批请求，Timeout为0表示无限等待
type Request struct {
	StepIndex int
	Timeout   time.Duration
	Data      map[string]interface{}
}

// Decision 审批决定
type Decision struct {
	Approved   bool   `json:"approved"`
	ResolvedBy string `json:"resolvedBy"`
	Comment    string `json:"comment"`
}

// GateID 审批门ID：workflowID加步骤索引
func GateID(workflowID string, stepIndex int) string {
	return fmt.Sprintf("%s_%d", workflowID, stepIndex)
}

// Manager 审批门管理器（对外导出）
type Manager struct {
	store   storage.RecordStore
	emitter events.Emitter
	logger  zerolog.Logger

	mu      sync.Mutex
	gates   map[string]*Gate
	waiters map[string]chan *Gate
}

// NewManager 创建审批门管理器
func NewManager(store storage.RecordStore, emitter events.Emitter) *Manager {
	if emitter == nil {
		emitter = events.Nop
	}
	return &Manager{
		store:   store,
		emitter: emitter,
		logger:  log.With().Str("component", "approval").Logger(),
		gates:   make(map[string]*Gate),
		waiters: make(map[string]chan *Gate),
	}
}

// RequestApproval 创建待审批门并挂起，直到收到决定、超时或ctx结束
// 批准返回gate；拒绝返回gate和ErrApprovalRejected；超时返回ErrApprovalTimeout且审批门被移除
func (m *Manager) RequestApproval(ctx context.Context, workflowID string, req Request) (*Gate, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("workflowID不能为空")
	}
	id := GateID(workflowID, req.StepIndex)

	m.mu.Lock()
	if existing, ok := m.gates[id]; ok && existing.Status == StatusPending {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrGatePending, id)
	}
	gate := &Gate{
		ID:          id,
		WorkflowID:  workflowID,
		StepIndex:   req.StepIndex,
		Status:      StatusPending,
		RequestedAt: time.Now(),
		Data:        req.Data,
	}
	if err := m.persist(ctx, gate); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	waiter := make(chan *Gate, 1)
	m.gates[id] = gate
	m.waiters[id] = waiter
	// 请求事件必须先于任何决定事件发出
	m.emit(events.EventApprovalRequested, gate.clone())
	m.mu.Unlock()

	m.logger.Info().Str("gate_id", id).Int("step", req.StepIndex).Dur("timeout", req.Timeout).Msg("⏳ 等待审批")
	return m.wait(ctx, id, waiter, req.Timeout)
}

// AwaitDecision 重新等待已存在的审批门（如重启后恢复的审批门）
func (m *Manager) AwaitDecision(ctx context.Context, gateID string, timeout time.Duration) (*Gate, error) {
	m.mu.Lock()
	gate, ok := m.gates[gateID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrGateNotFound, gateID)
	}
	if gate.Status != StatusPending {
		resolved := gate.clone()
		m.mu.Unlock()
		return decisionOutcome(resolved)
	}
	if _, waiting := m.waiters[gateID]; waiting {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s 已有等待方", ErrGatePending, gateID)
	}
	waiter := make(chan *Gate, 1)
	m.waiters[gateID] = waiter
	m.mu.Unlock()

	return m.wait(ctx, gateID, waiter, timeout)
}

// wait 决定与超时互斥：只有一方能移除waiter
func (m *Manager) wait(ctx context.Context, id string, waiter chan *Gate, timeout time.Duration) (*Gate, error) {
	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case gate := <-waiter:
		return decisionOutcome(gate)

	case <-timerC:
		m.mu.Lock()
		if m.waiters[id] != waiter {
			// 决定已先到达并写入缓冲
			m.mu.Unlock()
			return decisionOutcome(<-waiter)
		}
		delete(m.waiters, id)
		gate := m.gates[id]
		delete(m.gates, id)
		m.mu.Unlock()

		if err := m.store.Delete(context.Background(), storage.KindApprovalGate, id); err != nil {
			m.logger.Warn().Err(err).Str("gate_id", id).Msg("⚠️ 删除超时审批门失败")
		}
		m.logger.Warn().Str("gate_id", id).Dur("timeout", timeout).Msg("⌛ 审批超时")
		if gate != nil {
			timedOut := gate.clone()
			timedOut.Comment = "timeout"
			m.emit(events.EventApprovalResolved, timedOut)
		}
		return nil, fmt.Errorf("%w: %s", ErrApprovalTimeout, id)

	case <-ctx.Done():
		m.mu.Lock()
		if m.waiters[id] == waiter {
			delete(m.waiters, id)
			m.mu.Unlock()
			return nil, ctx.Err()
		}
		m.mu.Unlock()
		return decisionOutcome(<-waiter)
	}
}

// ProvideDecision 提交审批决定，每个审批门只能决定一次
func (m *Manager) ProvideDecision(ctx context.Context, gateID string, decision Decision) (*Gate, error) {
	m.mu.Lock()
	gate, ok := m.gates[gateID]
	if !ok {
		m.mu.Unlock()
		return nil, m.missingGateError(ctx, gateID)
	}
	if gate.Status != StatusPending {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (%s)", ErrGateAlreadyResolved, gateID, gate.Status)
	}

	status := StatusRejected
	if decision.Approved {
		status = StatusApproved
	}
	resolved, err := m.resolveLocked(ctx, gate, status, decision.ResolvedBy, decision.Comment)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.logger.Info().Str("gate_id", gateID).Str("status", string(status)).Str("resolved_by", decision.ResolvedBy).Msg("✅ 审批已决定")
	m.emit(events.EventApprovalResolved, resolved)
	return resolved, nil
}

// CancelApproval 取消待审批门，等待方收到拒绝
func (m *Manager) CancelApproval(ctx context.Context, gateID string) error {
	m.mu.Lock()
	gate, ok := m.gates[gateID]
	if !ok {
		m.mu.Unlock()
		return m.missingGateError(ctx, gateID)
	}
	if gate.Status != StatusPending {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrGateAlreadyResolved, gateID)
	}
	resolved, err := m.resolveLocked(ctx, gate, StatusRejected, "system", "cancelled")
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.emit(events.EventApprovalResolved, resolved)
	return nil
}

// ClearWorkflowApprovals 移除该workflow的所有审批门，仍在等待的调用方收到拒绝
func (m *Manager) ClearWorkflowApprovals(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	var ids []string
	for id, gate := range m.gates {
		if gate.WorkflowID != workflowID {
			continue
		}
		if gate.Status == StatusPending {
			now := time.Now()
			gate.Status = StatusRejected
			gate.ResolvedAt = &now
			gate.ResolvedBy = "system"
			gate.Comment = "cleared"
		}
		if waiter, ok := m.waiters[id]; ok {
			delete(m.waiters, id)
			waiter <- gate.clone()
		}
		delete(m.gates, id)
		ids = append(ids, id)
	}
	m.mu.Unlock()

	// 也清理只存在于存储中的记录
	records, err := m.store.ListByOwner(ctx, storage.KindApprovalGate, workflowID)
	if err != nil {
		return fmt.Errorf("查询审批门失败: %w", err)
	}
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	for _, id := range ids {
		if err := m.store.Delete(ctx, storage.KindApprovalGate, id); err != nil {
			return fmt.Errorf("删除审批门失败: %w", err)
		}
	}
	return nil
}

// GetPendingApprovals 列出待审批门，workflowID为空时列出全部，按请求时间排序
func (m *Manager) GetPendingApprovals(workflowID string) []*Gate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Gate, 0)
	for _, gate := range m.gates {
		if gate.Status != StatusPending {
			continue
		}
		if workflowID != "" && gate.WorkflowID != workflowID {
			continue
		}
		out = append(out, gate.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// GetGate 获取审批门
func (m *Manager) GetGate(ctx context.Context, gateID string) (*Gate, error) {
	m.mu.Lock()
	if gate, ok := m.gates[gateID]; ok {
		cp := gate.clone()
		m.mu.Unlock()
		return cp, nil
	}
	m.mu.Unlock()

	rec, err := m.store.LoadByID(ctx, storage.KindApprovalGate, gateID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrGateNotFound, gateID)
	}
	return decodeGate(rec.Payload)
}

// Restore 重启后从存储加载待审批门，等待方需通过AwaitDecision重新挂起
func (m *Manager) Restore(ctx context.Context) (int, error) {
	records, err := m.store.LoadPending(ctx, storage.KindApprovalGate)
	if err != nil {
		return 0, fmt.Errorf("加载待审批门失败: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	restored := 0
	for _, rec := range records {
		gate, err := decodeGate(rec.Payload)
		if err != nil {
			m.logger.Warn().Err(err).Str("gate_id", rec.ID).Msg("⚠️ 审批门解析失败，已跳过")
			continue
		}
		if _, exists := m.gates[gate.ID]; exists {
			continue
		}
		m.gates[gate.ID] = gate
		restored++
	}
	if restored > 0 {
		m.logger.Info().Int("count", restored).Msg("♻️ 已恢复待审批门")
	}
	return restored, nil
}

// resolveLocked 写入决定并唤醒等待方（调用方持有m.mu）
func (m *Manager) resolveLocked(ctx context.Context, gate *Gate, status Status, resolvedBy, comment string) (*Gate, error) {
	updated := gate.clone()
	now := time.Now()
	updated.Status = status
	updated.ResolvedAt = &now
	updated.ResolvedBy = resolvedBy
	updated.Comment = comment
	if err := m.persist(ctx, updated); err != nil {
		return nil, err
	}
	*gate = *updated

	if waiter, ok := m.waiters[gate.ID]; ok {
		delete(m.waiters, gate.ID)
		waiter <- gate.clone()
	}
	return gate.clone(), nil
}

func (m *Manager) missingGateError(ctx context.Context, gateID string) error {
	rec, err := m.store.LoadByID(ctx, storage.KindApprovalGate, gateID)
	if err == nil && rec != nil && !rec.Pending {
		return fmt.Errorf("%w: %s", ErrGateAlreadyResolved, gateID)
	}
	return fmt.Errorf("%w: %s", ErrGateNotFound, gateID)
}

func (m *Manager) persist(ctx context.Context, gate *Gate) error {
	payload, err := json.Marshal(gate)
	if err != nil {
		return fmt.Errorf("序列化审批门失败: %w", err)
	}
	rec := &storage.Record{
		OwnerID:    gate.WorkflowID,
		Status:     string(gate.Status),
		Pending:    gate.Status == StatusPending,
		Payload:    payload,
		CreateTime: gate.RequestedAt,
		UpdateTime: time.Now(),
	}
	if err := m.store.Save(ctx, storage.KindApprovalGate, gate.ID, rec); err != nil {
		return fmt.Errorf("持久化审批门失败: %w", err)
	}
	return nil
}

func (m *Manager) emit(eventType events.EventType, gate *Gate) {
	ev := events.NewEvent(eventType, gate.WorkflowID)
	ev.Approval = &events.ApprovalInfo{
		GateID:     gate.ID,
		StepIndex:  gate.StepIndex,
		Status:     string(gate.Status),
		ResolvedBy: gate.ResolvedBy,
		Comment:    gate.Comment,
	}
	m.emitter.Emit(ev)
}

func decisionOutcome(gate *Gate) (*Gate, error) {
	if gate.Status == StatusApproved {
		return gate, nil
	}
	return gate, fmt.Errorf("%w: %s", ErrApprovalRejected, gate.ID)
}

func decodeGate(payload []byte) (*Gate, error) {
	var gate Gate
	if err := json.Unmarshal(payload, &gate); err != nil {
		return nil, fmt.Errorf("解析审批门失败: %w", err)
	}
	return &gate, nil
}
