package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/bspricer/response"
)

// MaxBodyBytes 限制请求体大小，limit<=0 时不生效。声明的 Content-Length 超限直接拒绝，未声明时由 MaxBytesReader 截断。
func MaxBodyBytes(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			response.ErrorWithStatus(c, http.StatusRequestEntityTooLarge, "request body too large", "content length exceeded")
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
