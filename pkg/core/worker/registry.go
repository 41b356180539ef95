package worker

import (
	"fmt"
	"sort"
	"sync"
)

// Registry Worker注册中心（对外导出）
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker // workerID -> Worker
}

// NewRegistry 创建Worker注册中心
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]Worker),
	}
}

// Register 注册Worker，ID重复时返回错误
func (r *Registry) Register(w Worker) error {
	if w == nil {
		return fmt.Errorf("Worker不能为空")
	}
	if w.ID() == "" {
		return fmt.Errorf("Worker ID不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.ID()]; exists {
		return fmt.Errorf("Worker %s 已注册", w.ID())
	}
	r.workers[w.ID()] = w
	return nil
}

// MustRegister 注册Worker，失败时panic，仅用于初始化阶段
func (r *Registry) MustRegister(w Worker) {
	if err := r.Register(w); err != nil {
		panic(err)
	}
}

// Get 根据ID获取Worker
func (r *Registry) Get(id string) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	return w, nil
}

// Unregister 取消注册
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	delete(r.workers, id)
	return nil
}

// List 按ID排序列出所有Worker
func (r *Registry) List() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
