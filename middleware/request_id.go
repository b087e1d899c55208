// Package middleware 提供 Gin 通用中间件：请求 ID、异常恢复、访问日志、指标、追踪、限流与跨域。
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/bspricer/contextx"
	"github.com/wyfcoding/bspricer/idgen"
)

const (
	HeaderXRequestID = "X-Request-ID"
)

// RequestID 透传或生成请求 ID，并注入 Context 与响应头。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" {
			requestID = idgen.GenIDString()
		}

		ctx := contextx.WithRequestID(c.Request.Context(), requestID)
		ctx = contextx.WithIP(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderXRequestID, requestID)

		c.Next()
	}
}
