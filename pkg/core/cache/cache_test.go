package cache

import (
	"testing"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryResultCache_SetGet(t *testing.T) {
	c := NewMemoryResultCache(time.Hour, time.Minute)
	defer c.Close()

	c.Set("run-1", &workflow.ExecutionResult{Success: true}, 0)
	got, ok := c.Get("run-1")
	require.True(t, ok)
	assert.True(t, got.Success)

	_, ok = c.Get("run-2")
	assert.False(t, ok)

	// 空key和nil结果被忽略
	c.Set("", &workflow.ExecutionResult{}, 0)
	c.Set("run-3", nil, 0)
	assert.Equal(t, 1, c.Len())

	c.Delete("run-1")
	_, ok = c.Get("run-1")
	assert.False(t, ok)
}

func TestMemoryResultCache_Expire(t *testing.T) {
	c := NewMemoryResultCache(time.Hour, 20*time.Millisecond)
	defer c.Close()

	c.Set("short", &workflow.ExecutionResult{}, 10*time.Millisecond)
	c.Set("long", &workflow.ExecutionResult{}, time.Hour)

	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("short")
	assert.False(t, ok, "过期条目不应返回")

	assert.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 10*time.Millisecond)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
