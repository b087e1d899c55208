package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/bspricer/response"
)

// HTTPErrorHandler 处理方通过 c.Error 登记错误且尚未写响应时，统一输出最后一个错误。
func HTTPErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}
		response.Error(c, c.Errors.Last().Err)
	}
}
