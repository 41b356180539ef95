package handler

import (
	"net/http"

	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/LENAX/agent-flow/pkg/core/workflow"
	"github.com/gin-gonic/gin"
)

// RunHandler 运行API处理器
type RunHandler struct {
	engine *engine.Engine
}

// NewRunHandler 创建RunHandler
func NewRunHandler(eng *engine.Engine) *RunHandler {
	return &RunHandler{engine: eng}
}

// Start 创建运行
// POST /api/v1/runs
// wait为true时同步执行并返回结果，否则后台执行并返回202
func (h *RunHandler) Start(c *gin.Context) {
	var req dto.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数错误", err)
		return
	}
	runReq, err := req.ToRunRequest()
	if err != nil {
		badRequest(c, "请求参数错误", err)
		return
	}

	ctx := c.Request.Context()
	if req.Wait {
		outcome, err := h.engine.Run(ctx, runReq)
		if err != nil {
			respondError(c, "执行运行失败", err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.RunOutcomeResponse{
			Run:        dto.NewRunDetail(outcome.State),
			Result:     outcome.Result,
			Recoveries: outcome.Recoveries,
		}))
		return
	}

	st, err := h.engine.Submit(ctx, runReq)
	if err != nil {
		respondError(c, "提交运行失败", err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(dto.NewRunDetail(st)))
}

// List 列出运行
// GET /api/v1/runs
func (h *RunHandler) List(c *gin.Context) {
	var query dto.ListRunsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "查询参数错误", err)
		return
	}

	runs, err := h.engine.ListRuns(c.Request.Context(), query.WorkflowID)
	if err != nil {
		respondError(c, "查询运行失败", err)
		return
	}

	items := make([]dto.RunSummary, 0, len(runs))
	for _, st := range runs {
		if query.Status != "" && string(st.Status) != query.Status {
			continue
		}
		items = append(items, dto.NewRunSummary(st))
	}

	total := len(items)
	limit := query.GetDefaultLimit()
	start := query.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.RunSummary]{
		Total:   total,
		Items:   items[start:end],
		HasMore: end < total,
	}))
}

// Get 获取运行详情
// GET /api/v1/runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	st, err := h.engine.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "查询运行失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewRunDetail(st)))
}

// Result 获取运行结果
// GET /api/v1/runs/:id/result
func (h *RunHandler) Result(c *gin.Context) {
	res, err := h.engine.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "查询运行结果失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(res))
}

// Snapshots 获取快照历史
// GET /api/v1/runs/:id/snapshots
func (h *RunHandler) Snapshots(c *gin.Context) {
	snaps, err := h.engine.GetSnapshots(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "查询快照失败", err)
		return
	}
	items := make([]dto.SnapshotSummary, 0, len(snaps))
	for i, snap := range snaps {
		items = append(items, dto.NewSnapshotSummary(i, snap))
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.SnapshotSummary]{
		Total: len(items),
		Items: items,
	}))
}

// Pause 暂停运行
// POST /api/v1/runs/:id/pause
func (h *RunHandler) Pause(c *gin.Context) {
	st, err := h.engine.PauseRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "暂停运行失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewRunSummary(st)))
}

// Resume 恢复运行（后台继续执行）
// POST /api/v1/runs/:id/resume
func (h *RunHandler) Resume(c *gin.Context) {
	st, err := h.engine.ResumeRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "恢复运行失败", err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(dto.NewRunSummary(st)))
}

// Rollback 回滚运行
// POST /api/v1/runs/:id/rollback
func (h *RunHandler) Rollback(c *gin.Context) {
	var req dto.RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数错误", err)
		return
	}

	ctx := c.Request.Context()
	runID := c.Param("id")
	var (
		st  *workflow.WorkflowState
		err error
	)
	switch {
	case req.LastSuccess:
		st, err = h.engine.RollbackRunToLastSuccess(ctx, runID)
	case req.TargetIndex != nil:
		st, err = h.engine.RollbackRun(ctx, runID, *req.TargetIndex)
	default:
		badRequest(c, "targetIndex与lastSuccess至少提供一个", nil)
		return
	}
	if err != nil {
		respondError(c, "回滚运行失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewRunSummary(st)))
}

// Recover 对失败步骤执行恢复策略
// POST /api/v1/runs/:id/recover
func (h *RunHandler) Recover(c *gin.Context) {
	var req dto.RecoveryStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数错误", err)
		return
	}
	strategy, err := req.ToStrategy()
	if err != nil {
		badRequest(c, "请求参数错误", err)
		return
	}

	res, err := h.engine.RecoverRun(c.Request.Context(), c.Param("id"), *strategy)
	if err != nil {
		respondError(c, "恢复失败步骤失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.RecoveryResponse{
		Recovered:     res.Recovered,
		Strategy:      string(res.Strategy),
		NextStepIndex: res.NextStepIndex,
		Message:       res.Message,
	}))
}

// Terminate 终止运行
// POST /api/v1/runs/:id/terminate
func (h *RunHandler) Terminate(c *gin.Context) {
	var req dto.TerminateRequest
	// 请求体可选
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "请求参数错误", err)
			return
		}
	}
	st, err := h.engine.TerminateRun(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, "终止运行失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewRunSummary(st)))
}

// Compensation 生成补偿计划
// GET /api/v1/runs/:id/compensation?from=&to=
func (h *RunHandler) Compensation(c *gin.Context) {
	var query dto.CompensationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "查询参数错误", err)
		return
	}
	to := -1
	if query.To != nil {
		to = *query.To
	}
	plan, err := h.engine.PlanCompensation(c.Request.Context(), c.Param("id"), query.From, to)
	if err != nil {
		respondError(c, "生成补偿计划失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(plan))
}

// Cleanup 清理已结束的运行
// POST /api/v1/maintenance/cleanup
func (h *RunHandler) Cleanup(c *gin.Context) {
	var req dto.CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数错误", err)
		return
	}
	olderThan, err := dto.ParseDuration("olderThan", req.OlderThan)
	if err != nil {
		badRequest(c, "请求参数错误", err)
		return
	}
	removed, err := h.engine.Cleanup(c.Request.Context(), olderThan)
	if err != nil {
		respondError(c, "清理运行失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.CleanupResponse{
		Removed:   removed,
		OlderThan: olderThan.String(),
	}))
}
