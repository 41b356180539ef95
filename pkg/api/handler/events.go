package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/LENAX/agent-flow/pkg/core/engine"
	"github.com/LENAX/agent-flow/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// EventHandler 运行事件推送处理器（WebSocket）
type EventHandler struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewEventHandler 创建EventHandler
func NewEventHandler(eng *engine.Engine) *EventHandler {
	return &EventHandler{
		engine: eng,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Component("api.events"),
	}
}

// Stream 订阅全部运行的事件
// GET /api/v1/events
func (h *EventHandler) Stream(c *gin.Context) {
	h.serve(c, "")
}

// StreamRun 订阅单个运行的事件
// GET /api/v1/runs/:id/events
func (h *EventHandler) StreamRun(c *gin.Context) {
	h.serve(c, c.Param("id"))
}

func (h *EventHandler) serve(c *gin.Context, runID string) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 先订阅再升级，握手完成后的事件不会丢失
	ch, err := h.engine.Events().Subscribe(ctx, runID)
	if err != nil {
		respondError(c, "订阅事件失败", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("⚠️ WebSocket升级失败")
		return
	}
	defer conn.Close()
	h.logger.Debug().Str("run_id", runID).Msg("🔌 事件订阅已建立")

	// 读循环只用于感知客户端断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug().Err(err).Str("run_id", runID).Msg("事件推送中断")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
