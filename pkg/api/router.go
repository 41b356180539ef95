package api

import (
	"github.com/LENAX/agent-flow/pkg/api/handler"
	"github.com/LENAX/agent-flow/pkg/api/middleware"
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/gin-gonic/gin"
)

// SetupRouter 设置路由
func SetupRouter(eng *engine.Engine, version string) *gin.Engine {
	// 设置gin模式
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())

	// 创建handlers
	runHandler := handler.NewRunHandler(eng)
	approvalHandler := handler.NewApprovalHandler(eng)
	eventHandler := handler.NewEventHandler(eng)
	healthHandler := handler.NewHealthHandler(eng, version)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 路由组
	v1 := router.Group("/api/v1")
	{
		// Run路由
		runs := v1.Group("/runs")
		{
			runs.GET("", runHandler.List)
			runs.POST("", runHandler.Start)
			runs.GET("/:id", runHandler.Get)
			runs.GET("/:id/result", runHandler.Result)
			runs.GET("/:id/snapshots", runHandler.Snapshots)
			runs.GET("/:id/compensation", runHandler.Compensation)
			runs.GET("/:id/events", eventHandler.StreamRun)
			runs.POST("/:id/pause", runHandler.Pause)
			runs.POST("/:id/resume", runHandler.Resume)
			runs.POST("/:id/rollback", runHandler.Rollback)
			runs.POST("/:id/recover", runHandler.Recover)
			runs.POST("/:id/terminate", runHandler.Terminate)
		}

		// Approval路由
		approvals := v1.Group("/approvals")
		{
			approvals.GET("", approvalHandler.List)
			approvals.GET("/:id", approvalHandler.Get)
			approvals.POST("/:id/approve", approvalHandler.Approve)
			approvals.POST("/:id/reject", approvalHandler.Reject)
		}

		v1.GET("/events", eventHandler.Stream)
		v1.GET("/workers", healthHandler.Workers)
		v1.GET("/schedules", healthHandler.Schedules)
		v1.POST("/maintenance/cleanup", runHandler.Cleanup)
	}

	return router
}
