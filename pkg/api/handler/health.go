package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/gin-gonic/gin"
)

// HealthHandler 健康检查与引擎信息处理器
type HealthHandler struct {
	engine    *engine.Engine
	version   string
	startTime time.Time
}

// NewHealthHandler 创建HealthHandler
func NewHealthHandler(eng *engine.Engine, version string) *HealthHandler {
	return &HealthHandler{
		engine:    eng,
		version:   version,
		startTime: time.Now(),
	}
}

// Health 健康检查
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    dto.FormatDuration(time.Since(h.startTime)),
		Timestamp: time.Now().Format(time.RFC3339),
	}))
}

// Ready 就绪检查，引擎未启动时返回503
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.engine.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(503, "engine not running"))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"status": "ready",
	}))
}

// Workers 列出已注册的Worker
// GET /api/v1/workers
func (h *HealthHandler) Workers(c *gin.Context) {
	workers := h.engine.Registry().List()
	items := make([]dto.WorkerSummary, 0, len(workers))
	for _, w := range workers {
		items = append(items, dto.WorkerSummary{ID: w.ID(), Name: w.Name()})
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.WorkerSummary]{
		Total: len(items),
		Items: items,
	}))
}

// Schedules 列出已注册的定时任务
// GET /api/v1/schedules
func (h *HealthHandler) Schedules(c *gin.Context) {
	schedules := h.engine.Scheduler().GetRegisteredSchedules()
	items := make([]dto.ScheduleSummary, 0, len(schedules))
	for name, spec := range schedules {
		items = append(items, dto.ScheduleSummary{Name: name, Cron: spec})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.ScheduleSummary]{
		Total: len(items),
		Items: items,
	}))
}
