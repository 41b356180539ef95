package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/LENAX/agent-flow/pkg/api/dto"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Recovery panic恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Str("component", "api").
					Interface("panic", err).
					Bytes("stack", debug.Stack()).
					Msg("💥 请求处理发生panic")

				c.AbortWithStatusJSON(http.StatusInternalServerError, dto.NewErrorResponse(
					500,
					"Internal Server Error",
				))
			}
		}()
		c.Next()
	}
}
