package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type recordKey struct {
	kind RecordKind
	id   string
}

// MemoryStore 内存存储实现（对外导出）
// 进程退出后数据丢失，适用于测试和单机临时运行
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[recordKey]*Record
	snapshots map[string][]*SnapshotRecord
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[recordKey]*Record),
		snapshots: make(map[string][]*SnapshotRecord),
	}
}

// Save 保存记录
func (s *MemoryStore) Save(ctx context.Context, kind RecordKind, id string, rec *Record) error {
	if rec == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cp := copyRecord(rec)
	cp.Kind = kind
	cp.ID = id
	if old, ok := s.records[recordKey{kind, id}]; ok {
		cp.CreateTime = old.CreateTime
	}
	if cp.CreateTime.IsZero() {
		cp.CreateTime = now
	}
	if cp.UpdateTime.IsZero() {
		cp.UpdateTime = now
	}
	s.records[recordKey{kind, id}] = cp
	return nil
}

// LoadByID 根据ID加载记录
func (s *MemoryStore) LoadByID(ctx context.Context, kind RecordKind, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{kind, id}]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

// LoadPending 加载未结束的记录
func (s *MemoryStore) LoadPending(ctx context.Context, kind RecordKind) ([]*Record, error) {
	result := s.filter(kind, func(r *Record) bool { return r.Pending })
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreateTime.Before(result[j].CreateTime) })
	return result, nil
}

// ListByOwner 按归属ID列出记录
func (s *MemoryStore) ListByOwner(ctx context.Context, kind RecordKind, ownerID string) ([]*Record, error) {
	result := s.filter(kind, func(r *Record) bool { return ownerID == "" || r.OwnerID == ownerID })
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreateTime.After(result[j].CreateTime) })
	return result, nil
}

// ListFinishedBefore 列出早于before结束的记录
func (s *MemoryStore) ListFinishedBefore(ctx context.Context, kind RecordKind, before time.Time) ([]*Record, error) {
	result := s.filter(kind, func(r *Record) bool { return !r.Pending && r.UpdateTime.Before(before) })
	sort.SliceStable(result, func(i, j int) bool { return result[i].UpdateTime.Before(result[j].UpdateTime) })
	return result, nil
}

// Delete 删除记录
func (s *MemoryStore) Delete(ctx context.Context, kind RecordKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey{kind, id})
	return nil
}

// AppendSnapshot 追加快照
func (s *MemoryStore) AppendSnapshot(ctx context.Context, snap *SnapshotRecord) error {
	if snap == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	cp.Payload = append([]byte(nil), snap.Payload...)
	if cp.CreateTime.IsZero() {
		cp.CreateTime = time.Now().UTC()
	}
	list := s.snapshots[snap.RunID]
	for i, existing := range list {
		if existing.Seq == cp.Seq {
			list[i] = &cp
			return nil
		}
	}
	list = append(list, &cp)
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	s.snapshots[snap.RunID] = list
	return nil
}

// ListSnapshots 按Seq升序列出快照
func (s *MemoryStore) ListSnapshots(ctx context.Context, runID string) ([]*SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.snapshots[runID]
	result := make([]*SnapshotRecord, 0, len(list))
	for _, snap := range list {
		cp := *snap
		cp.Payload = append([]byte(nil), snap.Payload...)
		result = append(result, &cp)
	}
	return result, nil
}

// TrimSnapshots 只保留最新的keep个快照
func (s *MemoryStore) TrimSnapshots(ctx context.Context, runID string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.snapshots[runID]
	if len(list) > keep {
		s.snapshots[runID] = append([]*SnapshotRecord(nil), list[len(list)-keep:]...)
	}
	return nil
}

// DeleteSnapshots 删除该运行的全部快照
func (s *MemoryStore) DeleteSnapshots(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, runID)
	return nil
}

// Close 内存存储无需释放资源
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) filter(kind RecordKind, match func(*Record) bool) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Record, 0)
	for key, rec := range s.records {
		if key.kind == kind && match(rec) {
			result = append(result, copyRecord(rec))
		}
	}
	return result
}

func copyRecord(rec *Record) *Record {
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	return &cp
}

var _ Store = (*MemoryStore)(nil)
