// Package response 提供统一的 HTTP JSON 响应封装 {code, msg, data}，并将 xerrors 映射为 HTTP 状态码与业务码。
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/bspricer/contextx"
	"github.com/wyfcoding/bspricer/xerrors"
)

// HTTPStatusProvider 能够提供 HTTP 状态码的错误。
type HTTPStatusProvider interface {
	HTTPStatus() int
}

// Body 响应体结构，便于客户端与测试反序列化。
type Body struct {
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	Data      any    `json:"data,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Success 发送标准成功响应: HTTP 200，业务码 0。
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Code: 0, Msg: "success", Data: data})
}

// SuccessWithRawData 发送不经包装的原始数据，用于健康检查等系统接口。
func SuccessWithRawData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Error 发送错误响应。*xerrors.Error 使用其业务码与状态码，其它实现 HTTPStatusProvider 的错误使用其状态码，兜底 500。
func Error(c *gin.Context, err error) {
	if err == nil {
		Success(c, nil)
		return
	}

	body := Body{
		Code:      http.StatusInternalServerError,
		Msg:       err.Error(),
		RequestID: contextx.GetRequestID(c.Request.Context()),
	}
	status := http.StatusInternalServerError

	if xe, ok := xerrors.FromError(err); ok {
		status = xe.HTTPStatus()
		body.Code = xe.Code
		body.Msg = xe.Message
		body.Detail = xe.Detail
	} else if p, ok := err.(HTTPStatusProvider); ok {
		status = p.HTTPStatus()
		body.Code = status
	}

	c.JSON(status, body)
}

// ErrorWithStatus 发送指定状态码、消息与详情的错误响应。
func ErrorWithStatus(c *gin.Context, status int, msg string, detail string) {
	c.JSON(status, Body{
		Code:      status,
		Msg:       msg,
		Detail:    detail,
		RequestID: contextx.GetRequestID(c.Request.Context()),
	})
}
