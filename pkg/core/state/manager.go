// Package state 管理运行状态：内存权威副本、快照版本日志和持久化
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/events"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxSnapshots 每个运行保留的快照数
const DefaultMaxSnapshots = 50

var (
	// ErrStateNotFound 运行不存在
	ErrStateNotFound = errors.New("workflow state not found")
	// ErrSnapshotNotFound 快照不存在
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrInvalidTransition 非法的状态转换
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Manager 状态管理器（对外导出）
// 同一运行的每次修改按"应用→快照→持久化"串行执行
type Manager struct {
	store        storage.Store
	maxSnapshots int
	emitter      events.Emitter
	logger       zerolog.Logger

	mu   sync.Mutex
	runs map[string]*runEntry
}

// runEntry 单个运行的内存副本与快照环
type runEntry struct {
	mu        sync.Mutex
	state     *workflow.WorkflowState
	snapshots []workflow.Snapshot
	nextSeq   int64
}

// Option 管理器选项
type Option func(*Manager)

// WithMaxSnapshots 设置每个运行保留的快照数
func WithMaxSnapshots(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSnapshots = n
		}
	}
}

// WithEmitter 状态变化时发送事件
func WithEmitter(em events.Emitter) Option {
	return func(m *Manager) {
		if em != nil {
			m.emitter = em
		}
	}
}

// NewManager 创建状态管理器
func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		maxSnapshots: DefaultMaxSnapshots,
		emitter:      events.Nop,
		logger:       log.With().Str("component", "state").Logger(),
		runs:         make(map[string]*runEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewRunID 由workflowID加唯一后缀生成运行ID，后缀按时间有序
func NewRunID(workflowID string) string {
	suffix, err := uuid.NewV7()
	if err != nil {
		return workflowID + "-" + uuid.NewString()
	}
	return workflowID + "-" + suffix.String()
}

// CreateState 创建运行状态（pending）并立即快照和持久化
func (m *Manager) CreateState(ctx context.Context, workflowID, runName string, def *workflow.Definition, input string) (*workflow.WorkflowState, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("workflowID不能为空")
	}
	st := &workflow.WorkflowState{
		ID:         NewRunID(workflowID),
		WorkflowID: workflowID,
		RunName:    runName,
		Definition: def.Clone(),
		Input:      input,
		Status:     workflow.StatusPending,
		Steps:      []workflow.StepResult{},
		Context:    map[string]interface{}{},
		StartTime:  time.Now(),
	}

	entry := &runEntry{nextSeq: 1}
	snap := m.newSnapshot(entry, st)
	if err := m.persist(ctx, st, nil, snap); err != nil {
		return nil, err
	}
	m.commit(entry, st, snap)
	m.mu.Lock()
	m.runs[st.ID] = entry
	m.mu.Unlock()
	m.logger.Info().Str("run_id", st.ID).Str("workflow_id", workflowID).Msg("✅ 运行状态已创建")
	return st.Clone(), nil
}

// GetState 获取运行状态拷贝，内存未命中时从存储加载
func (m *Manager) GetState(ctx context.Context, runID string) (*workflow.WorkflowState, error) {
	entry, err := m.entry(ctx, runID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state.Clone(), nil
}

// UpdateStatus 按状态机转换状态
func (m *Manager) UpdateStatus(ctx context.Context, runID string, status workflow.Status) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		return transition(s, status)
	})
}

// UpdateCurrentStep 更新当前步骤索引
func (m *Manager) UpdateCurrentStep(ctx context.Context, runID string, stepIndex int) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		if stepIndex < 0 {
			return fmt.Errorf("步骤索引不能为负数: %d", stepIndex)
		}
		s.CurrentStepIndex = stepIndex
		return nil
	})
}

// AddStepResult 按StepIndex顺序插入步骤结果
// 并行步骤按完成顺序到达，状态中的结果始终按索引升序
func (m *Manager) AddStepResult(ctx context.Context, runID string, result workflow.StepResult) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		pos := sort.Search(len(s.Steps), func(i int) bool { return s.Steps[i].StepIndex > result.StepIndex })
		s.Steps = slices.Insert(s.Steps, pos, result)
		if result.StepIndex > s.CurrentStepIndex {
			s.CurrentStepIndex = result.StepIndex
		}
		return nil
	})
}

// UpdateContext 合并上下文键值
func (m *Manager) UpdateContext(ctx context.Context, runID string, updates map[string]interface{}) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		if s.Context == nil {
			s.Context = map[string]interface{}{}
		}
		for k, v := range workflow.CloneContext(updates) {
			s.Context[k] = v
		}
		return nil
	})
}

// RemoveContextKeys 删除上下文键
func (m *Manager) RemoveContextKeys(ctx context.Context, runID string, keys ...string) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		for _, k := range keys {
			delete(s.Context, k)
		}
		return nil
	})
}

// SetError 记录运行错误
func (m *Manager) SetError(ctx context.Context, runID string, message string) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		s.Error = message
		return nil
	})
}

// PauseWorkflow 暂停运行
func (m *Manager) PauseWorkflow(ctx context.Context, runID string) (*workflow.WorkflowState, error) {
	return m.UpdateStatus(ctx, runID, workflow.StatusPaused)
}

// ResumeWorkflow 恢复已暂停的运行
func (m *Manager) ResumeWorkflow(ctx context.Context, runID string) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		if s.Status != workflow.StatusPaused {
			return fmt.Errorf("%w: 只有暂停的运行可以恢复，当前状态 %s", ErrInvalidTransition, s.Status)
		}
		return transition(s, workflow.StatusRunning)
	})
}

// CompleteWorkflow 标记运行成功结束
func (m *Manager) CompleteWorkflow(ctx context.Context, runID string) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		if err := transition(s, workflow.StatusCompleted); err != nil {
			return err
		}
		s.Error = ""
		return nil
	})
}

// FailWorkflow 标记运行失败结束
func (m *Manager) FailWorkflow(ctx context.Context, runID string, message string) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		if err := transition(s, workflow.StatusFailed); err != nil {
			return err
		}
		s.Error = message
		return nil
	})
}

// TruncateSteps 只保留StepIndex小于beforeIndex的结果，并把当前步骤设为nextStepIndex
func (m *Manager) TruncateSteps(ctx context.Context, runID string, beforeIndex, nextStepIndex int) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		kept := make([]workflow.StepResult, 0, len(s.Steps))
		for _, r := range s.Steps {
			if r.StepIndex < beforeIndex {
				kept = append(kept, r)
			}
		}
		s.Steps = kept
		if nextStepIndex >= 0 {
			s.CurrentStepIndex = nextStepIndex
		}
		return nil
	})
}

// FinalizeRollback 完成回滚：设置步骤结果与当前步骤，状态置为paused
// 终态运行也会被重新打开
func (m *Manager) FinalizeRollback(ctx context.Context, runID string, targetIndex int, steps []workflow.StepResult) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		now := time.Now()
		s.Steps = append([]workflow.StepResult{}, steps...)
		s.CurrentStepIndex = targetIndex
		s.Status = workflow.StatusPaused
		s.PausedAt = &now
		s.EndTime = nil
		s.Error = ""
		return nil
	})
}

// ReopenWorkflow 把运行重新置为paused，步骤结果保持不变
// 用于对已失败的运行执行恢复策略后继续
func (m *Manager) ReopenWorkflow(ctx context.Context, runID string) (*workflow.WorkflowState, error) {
	return m.mutate(ctx, runID, func(s *workflow.WorkflowState) error {
		if s.Status == workflow.StatusPaused {
			return nil
		}
		now := time.Now()
		s.Status = workflow.StatusPaused
		s.PausedAt = &now
		s.EndTime = nil
		s.Error = ""
		return nil
	})
}

// GetSnapshots 返回快照深拷贝，按Seq升序
func (m *Manager) GetSnapshots(ctx context.Context, runID string) ([]workflow.Snapshot, error) {
	entry, err := m.entry(ctx, runID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]workflow.Snapshot, len(entry.snapshots))
	for i, snap := range entry.snapshots {
		out[i] = workflow.Snapshot{Seq: snap.Seq, State: snap.State.Clone(), Timestamp: snap.Timestamp}
	}
	return out, nil
}

// RestoreFromSnapshot 把第index个快照（按GetSnapshots顺序）的拷贝设为内存权威状态
// 不产生快照也不持久化，由调用方（回滚）负责最终确认
func (m *Manager) RestoreFromSnapshot(ctx context.Context, runID string, index int) (*workflow.WorkflowState, error) {
	entry, err := m.entry(ctx, runID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if index < 0 || index >= len(entry.snapshots) {
		return nil, fmt.Errorf("%w: run=%s, index=%d", ErrSnapshotNotFound, runID, index)
	}
	entry.state = entry.snapshots[index].State.Clone()
	return entry.state.Clone(), nil
}

// DeleteState 删除运行状态及其快照
func (m *Manager) DeleteState(ctx context.Context, runID string) error {
	m.mu.Lock()
	delete(m.runs, runID)
	m.mu.Unlock()

	if err := m.store.DeleteSnapshots(ctx, runID); err != nil {
		return err
	}
	return m.store.Delete(ctx, storage.KindWorkflowState, runID)
}

// ListRuns 列出运行，workflowID为空时列出全部，按创建时间倒序
func (m *Manager) ListRuns(ctx context.Context, workflowID string) ([]*workflow.WorkflowState, error) {
	records, err := m.store.ListByOwner(ctx, storage.KindWorkflowState, workflowID)
	if err != nil {
		return nil, fmt.Errorf("查询运行列表失败: %w", err)
	}
	out := make([]*workflow.WorkflowState, 0, len(records))
	for _, rec := range records {
		if st := m.cached(rec.ID); st != nil {
			out = append(out, st)
			continue
		}
		st, err := decodeState(rec.Payload)
		if err != nil {
			m.logger.Warn().Err(err).Str("run_id", rec.ID).Msg("⚠️ 运行状态解析失败，已跳过")
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// ListFinishedBefore 列出结束时间早于before的运行ID
func (m *Manager) ListFinishedBefore(ctx context.Context, before time.Time) ([]string, error) {
	records, err := m.store.ListFinishedBefore(ctx, storage.KindWorkflowState, before)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

// RecoverInterrupted 启动时加载未结束的运行，把中断的running运行标记为paused
func (m *Manager) RecoverInterrupted(ctx context.Context) ([]string, error) {
	records, err := m.store.LoadPending(ctx, storage.KindWorkflowState)
	if err != nil {
		return nil, fmt.Errorf("加载未结束运行失败: %w", err)
	}
	var paused []string
	for _, rec := range records {
		if rec.Status != string(workflow.StatusRunning) {
			continue
		}
		if _, err := m.UpdateStatus(ctx, rec.ID, workflow.StatusPaused); err != nil {
			m.logger.Warn().Err(err).Str("run_id", rec.ID).Msg("⚠️ 中断运行标记暂停失败")
			continue
		}
		paused = append(paused, rec.ID)
	}
	if len(paused) > 0 {
		m.logger.Info().Int("count", len(paused)).Msg("♻️ 中断的运行已标记为暂停")
	}
	return paused, nil
}

// cached 返回内存中的状态拷贝，不触发加载
func (m *Manager) cached(runID string) *workflow.WorkflowState {
	m.mu.Lock()
	e, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Evict 从内存中移除运行（下次访问时从存储加载）
func (m *Manager) Evict(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
}

// mutate 应用修改→快照→持久化，同一运行串行
func (m *Manager) mutate(ctx context.Context, runID string, fn func(s *workflow.WorkflowState) error) (*workflow.WorkflowState, error) {
	entry, err := m.entry(ctx, runID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	previous := entry.state
	working := previous.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}

	// 持久化成功后才提交到内存
	snap := m.newSnapshot(entry, working)
	if err := m.persist(ctx, working, previous, snap); err != nil {
		return nil, err
	}
	m.commit(entry, working, snap)
	if working.Status != previous.Status {
		m.emitter.Emit(events.StatusEvent(working.ID, working.WorkflowID, working.Status))
	}
	return working.Clone(), nil
}

// newSnapshot 生成下一个快照，不修改entry（调用方持有entry.mu）
func (m *Manager) newSnapshot(entry *runEntry, st *workflow.WorkflowState) workflow.Snapshot {
	return workflow.Snapshot{
		Seq:       entry.nextSeq,
		State:     st.Clone(),
		Timestamp: time.Now(),
	}
}

// commit 更新内存状态并追加快照，超过上限时淘汰最旧的（调用方持有entry.mu）
func (m *Manager) commit(entry *runEntry, st *workflow.WorkflowState, snap workflow.Snapshot) {
	entry.state = st
	entry.nextSeq = snap.Seq + 1
	entry.snapshots = append(entry.snapshots, snap)
	if over := len(entry.snapshots) - m.maxSnapshots; over > 0 {
		entry.snapshots = append([]workflow.Snapshot(nil), entry.snapshots[over:]...)
	}
}

// persist 写入状态记录和快照
// 快照写入失败时恢复previous对应的状态记录，previous为nil时删除记录
func (m *Manager) persist(ctx context.Context, st, previous *workflow.WorkflowState, snap workflow.Snapshot) error {
	if err := m.saveState(ctx, st); err != nil {
		return err
	}

	snapPayload, err := json.Marshal(snap)
	if err == nil {
		err = m.store.AppendSnapshot(ctx, &storage.SnapshotRecord{
			RunID:      st.ID,
			Seq:        snap.Seq,
			Payload:    snapPayload,
			CreateTime: snap.Timestamp,
		})
	}
	if err != nil {
		m.revertState(ctx, st.ID, previous)
		return fmt.Errorf("持久化快照失败: %w", err)
	}
	if snap.Seq > int64(m.maxSnapshots) {
		if err := m.store.TrimSnapshots(ctx, st.ID, m.maxSnapshots); err != nil {
			m.logger.Warn().Err(err).Str("run_id", st.ID).Msg("⚠️ 快照裁剪失败")
		}
	}
	return nil
}

func (m *Manager) saveState(ctx context.Context, st *workflow.WorkflowState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("序列化运行状态失败: %w", err)
	}
	rec := &storage.Record{
		OwnerID:    st.WorkflowID,
		Status:     string(st.Status),
		Pending:    !st.Status.IsTerminal(),
		Payload:    payload,
		CreateTime: st.StartTime,
		UpdateTime: time.Now(),
	}
	if err := m.store.Save(ctx, storage.KindWorkflowState, st.ID, rec); err != nil {
		return fmt.Errorf("持久化运行状态失败: %w", err)
	}
	return nil
}

func (m *Manager) revertState(ctx context.Context, runID string, previous *workflow.WorkflowState) {
	var err error
	if previous == nil {
		err = m.store.Delete(ctx, storage.KindWorkflowState, runID)
	} else {
		err = m.saveState(ctx, previous)
	}
	if err != nil {
		m.logger.Error().Err(err).Str("run_id", runID).Msg("❌ 恢复运行状态记录失败")
	}
}

// entry 获取运行条目，内存未命中时从存储加载
func (m *Manager) entry(ctx context.Context, runID string) (*runEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.runs[runID]; ok {
		return e, nil
	}

	rec, err := m.store.LoadByID(ctx, storage.KindWorkflowState, runID)
	if err != nil {
		return nil, fmt.Errorf("加载运行状态失败: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, runID)
	}
	st, err := decodeState(rec.Payload)
	if err != nil {
		return nil, err
	}

	e := &runEntry{state: st, nextSeq: 1}
	snapRecords, err := m.store.ListSnapshots(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("加载快照失败: %w", err)
	}
	for _, sr := range snapRecords {
		var snap workflow.Snapshot
		if err := json.Unmarshal(sr.Payload, &snap); err != nil {
			m.logger.Warn().Err(err).Str("run_id", runID).Int64("seq", sr.Seq).Msg("⚠️ 快照解析失败，已跳过")
			continue
		}
		snap.Seq = sr.Seq
		normalizeState(snap.State)
		e.snapshots = append(e.snapshots, snap)
		if sr.Seq >= e.nextSeq {
			e.nextSeq = sr.Seq + 1
		}
	}
	if over := len(e.snapshots) - m.maxSnapshots; over > 0 {
		e.snapshots = e.snapshots[over:]
	}
	m.runs[runID] = e
	return e, nil
}

// transition 校验并执行状态转换
func transition(s *workflow.WorkflowState, target workflow.Status) error {
	if s.Status == target {
		return nil
	}
	if !s.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, target)
	}
	now := time.Now()
	switch target {
	case workflow.StatusPaused:
		s.PausedAt = &now
	case workflow.StatusRunning:
		if s.Status == workflow.StatusPaused {
			s.ResumedAt = &now
		}
	case workflow.StatusCompleted, workflow.StatusFailed:
		s.EndTime = &now
	}
	s.Status = target
	return nil
}

func decodeState(payload []byte) (*workflow.WorkflowState, error) {
	var st workflow.WorkflowState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("解析运行状态失败: %w", err)
	}
	normalizeState(&st)
	return &st, nil
}

func normalizeState(st *workflow.WorkflowState) {
	if st == nil {
		return
	}
	if st.Steps == nil {
		st.Steps = []workflow.StepResult{}
	}
	if st.Context == nil {
		st.Context = map[string]interface{}{}
	}
}
