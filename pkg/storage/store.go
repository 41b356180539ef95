package storage

import (
	"context"
	"time"
)

// RecordKind 持久化记录类型（对外导出）
type RecordKind string

const (
	// KindWorkflowState 运行状态记录
	KindWorkflowState RecordKind = "workflow_state"
	// KindApprovalGate 审批门记录
	KindApprovalGate RecordKind = "approval_gate"
)

// Record 不透明的持久化记录，Payload为JSON
// OwnerID用于按归属查询（运行状态为workflowID，审批门为运行ID）
// Pending标记未结束的记录，用于重启后恢复
type Record struct {
	Kind       RecordKind
	ID         string
	OwnerID    string
	Status     string
	Pending    bool
	Payload    []byte
	CreateTime time.Time
	UpdateTime time.Time
}

// SnapshotRecord 快照记录，Seq在同一RunID内单调递增
type SnapshotRecord struct {
	RunID      string
	Seq        int64
	Payload    []byte
	CreateTime time.Time
}

// RecordStore 记录存储接口（对外导出）
type RecordStore interface {
	// Save 保存记录（创建或覆盖）
	Save(ctx context.Context, kind RecordKind, id string, rec *Record) error
	// LoadByID 根据ID加载记录，不存在时返回nil, nil
	LoadByID(ctx context.Context, kind RecordKind, id string) (*Record, error)
	// LoadPending 加载所有未结束的记录
	LoadPending(ctx context.Context, kind RecordKind) ([]*Record, error)
	// ListByOwner 按归属ID列出记录，ownerID为空时列出该类型全部记录，按创建时间倒序
	ListByOwner(ctx context.Context, kind RecordKind, ownerID string) ([]*Record, error)
	// ListFinishedBefore 列出已结束且最后更新时间早于before的记录
	ListFinishedBefore(ctx context.Context, kind RecordKind, before time.Time) ([]*Record, error)
	// Delete 删除记录，不存在时不报错
	Delete(ctx context.Context, kind RecordKind, id string) error
}

// SnapshotStore 快照存储接口（对外导出）
type SnapshotStore interface {
	// AppendSnapshot 追加快照
	AppendSnapshot(ctx context.Context, snap *SnapshotRecord) error
	// ListSnapshots 按Seq升序列出快照
	ListSnapshots(ctx context.Context, runID string) ([]*SnapshotRecord, error)
	// TrimSnapshots 只保留最新的keep个快照
	TrimSnapshots(ctx context.Context, runID string, keep int) error
	// DeleteSnapshots 删除该运行的全部快照
	DeleteSnapshots(ctx context.Context, runID string) error
}

// Store 持久化存储（对外导出）
type Store interface {
	RecordStore
	SnapshotStore
	Close() error
}
