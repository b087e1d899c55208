package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/bspricer/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// TraceIDHeader 回传追踪 ID 的响应头。
const TraceIDHeader = "X-Trace-ID"

// TracingMiddleware 基于 otelgin 为每个请求创建 Span，websocket 升级请求除外。
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithFilter(func(r *http.Request) bool {
		return r.Header.Get("Upgrade") == ""
	}))
}

// TraceID 将当前 Span 的追踪 ID 写入 TraceIDHeader，须挂在 TracingMiddleware 之后。
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := tracing.GetTraceID(c.Request.Context()); id != "" {
			c.Header(TraceIDHeader, id)
		}
		c.Next()
	}
}
