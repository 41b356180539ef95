package handler

import (
	"net/http"

	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/LENAX/agent-flow/pkg/core/approval"
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/gin-gonic/gin"
)

// ApprovalHandler 审批门API处理器
type ApprovalHandler struct {
	engine *engine.Engine
}

// NewApprovalHandler 创建ApprovalHandler
func NewApprovalHandler(eng *engine.Engine) *ApprovalHandler {
	return &ApprovalHandler{engine: eng}
}

// List 列出待审批门
// GET /api/v1/approvals?run_id=
func (h *ApprovalHandler) List(c *gin.Context) {
	gates := h.engine.PendingApprovals(c.Query("run_id"))
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[*approval.Gate]{
		Total: len(gates),
		Items: gates,
	}))
}

// Get 获取审批门
// GET /api/v1/approvals/:id
func (h *ApprovalHandler) Get(c *gin.Context) {
	gate, err := h.engine.Approvals().GetGate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "查询审批门失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(gate))
}

// Approve 批准
// POST /api/v1/approvals/:id/approve
func (h *ApprovalHandler) Approve(c *gin.Context) {
	h.decide(c, true)
}

// Reject 拒绝
// POST /api/v1/approvals/:id/reject
func (h *ApprovalHandler) Reject(c *gin.Context) {
	h.decide(c, false)
}

func (h *ApprovalHandler) decide(c *gin.Context, approved bool) {
	var req dto.DecisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "请求参数错误", err)
			return
		}
	}
	gate, err := h.engine.Decide(c.Request.Context(), c.Param("id"), approval.Decision{
		Approved:   approved,
		ResolvedBy: req.ResolvedBy,
		Comment:    req.Comment,
	})
	if err != nil {
		respondError(c, "提交审批决定失败", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(gate))
}
