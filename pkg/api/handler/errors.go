package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/LENAX/agent-flow/pkg/core/approval"
	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/LENAX/agent-flow/pkg/core/recovery"
	"github.com/LENAX/agent-flow/pkg/core/state"
	"github.com/gin-gonic/gin"
)

// statusFor 将引擎错误映射为HTTP状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrStateNotFound),
		errors.Is(err, state.ErrSnapshotNotFound),
		errors.Is(err, approval.ErrGateNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRunActive),
		errors.Is(err, engine.ErrRunFinished),
		errors.Is(err, engine.ErrUnresolvedFailure),
		errors.Is(err, approval.ErrGatePending),
		errors.Is(err, approval.ErrGateAlreadyResolved),
		errors.Is(err, state.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidRequest),
		errors.Is(err, recovery.ErrRollbackTargetInvalid),
		errors.Is(err, recovery.ErrUnknownStrategy):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, action string, err error) {
	code := statusFor(err)
	c.JSON(code, dto.NewErrorResponse(code, fmt.Sprintf("%s: %v", action, err)))
}

func badRequest(c *gin.Context, msg string, err error) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, msg))
}
