package cache

import (
	"sync"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/workflow"
)

// ResultCache 运行结果缓存接口（对外导出）
type ResultCache interface {
	// Set 缓存运行的最终结果
	// runID: 运行ID
	// ttl: 有效期，<=0时使用默认有效期
	Set(runID string, result *workflow.ExecutionResult, ttl time.Duration)

	// Get 获取运行结果
	// 返回: 结果和是否存在
	Get(runID string) (*workflow.ExecutionResult, bool)

	// Delete 删除运行结果
	Delete(runID string)

	// Clear 清空所有缓存
	Clear()
}

// cacheEntry 缓存条目（内部使用）
type cacheEntry struct {
	value      *workflow.ExecutionResult
	expireTime time.Time
}

// MemoryResultCache 内存结果缓存实现（对外导出）
type MemoryResultCache struct {
	mu         sync.RWMutex
	cache      map[string]*cacheEntry
	defaultTTL time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewMemoryResultCache 创建内存结果缓存实例（对外导出）
// cleanInterval: 过期清理周期，<=0时为1分钟
func NewMemoryResultCache(defaultTTL, cleanInterval time.Duration) *MemoryResultCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	if cleanInterval <= 0 {
		cleanInterval = time.Minute
	}
	c := &MemoryResultCache{
		cache:      make(map[string]*cacheEntry),
		defaultTTL: defaultTTL,
		stopCh:     make(chan struct{}),
	}
	// 启动清理协程，定期清理过期缓存
	go c.cleanupExpired(cleanInterval)
	return c
}

// Set 设置缓存值
func (c *MemoryResultCache) Set(runID string, result *workflow.ExecutionResult, ttl time.Duration) {
	if runID == "" || result == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[runID] = &cacheEntry{
		value:      result,
		expireTime: time.Now().Add(ttl),
	}
}

// Get 获取缓存值
func (c *MemoryResultCache) Get(runID string) (*workflow.ExecutionResult, bool) {
	if runID == "" {
		return nil, false
	}

	c.mu.RLock()
	entry, exists := c.cache[runID]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	// 已过期，删除并返回不存在
	if time.Now().After(entry.expireTime) {
		c.mu.Lock()
		if cur, ok := c.cache[runID]; ok && cur == entry {
			delete(c.cache, runID)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Delete 删除缓存值
func (c *MemoryResultCache) Delete(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, runID)
}

// Clear 清空所有缓存
func (c *MemoryResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*cacheEntry)
}

// Len 返回当前条目数（含未清理的过期条目）
func (c *MemoryResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Close 停止清理协程
func (c *MemoryResultCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// cleanupExpired 清理过期缓存（内部方法）
func (c *MemoryResultCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.cache {
				if now.After(entry.expireTime) {
					delete(c.cache, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

var _ ResultCache = (*MemoryResultCache)(nil)
