// Package xerrors 提供了带错误分类、业务码与堆栈信息的统一错误类型，并负责映射 HTTP 状态码。
package xerrors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType 错误的大类
type ErrorType uint

const (
	ErrUnknown ErrorType = iota
	ErrInternal
	ErrInvalidArg
	ErrNotFound
	ErrUnavailable
	ErrLimitExceeded
)

// Error 增强型错误结构
type Error struct {
	Type    ErrorType `json:"type"`
	Code    int       `json:"code"`    // 业务自定义错误码
	Message string    `json:"message"` // 对外展示的友好消息
	Detail  string    `json:"detail"`  // 对内调试的详细信息
	Cause   error     `json:"-"`       // 原始错误
	Stack   []string  `json:"-"`       // 堆栈追踪
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %d: %s (cause: %v)", e.Type.String(), e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %d: %s", e.Type.String(), e.Code, e.Message)
}

// Unwrap 实现 Go 1.13 解包接口
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按业务码比较，使 WithDetail 派生出的副本仍能匹配原哨兵错误。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Type == t.Type
}

func (t ErrorType) String() string {
	switch t {
	case ErrInternal:
		return "Internal"
	case ErrInvalidArg:
		return "InvalidArg"
	case ErrNotFound:
		return "NotFound"
	case ErrUnavailable:
		return "Unavailable"
	case ErrLimitExceeded:
		return "LimitExceeded"
	default:
		return "Unknown"
	}
}

// New 创建新错误并自动捕获堆栈
func New(errType ErrorType, code int, message, detail string, cause error) *Error {
	e := &Error{
		Type:    errType,
		Code:    code,
		Message: message,
		Detail:  detail,
		Cause:   cause,
	}
	e.captureStack()
	return e
}

// captureStack 捕获当前调用栈 (深度限制 10 层)
func (e *Error) captureStack() {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		e.Stack = append(e.Stack, fmt.Sprintf("%s:%d (%s)", frame.File, frame.Line, frame.Function))
		if !more || len(e.Stack) >= depth {
			break
		}
	}
}

// WithDetail 返回附带调试详情的副本，哨兵错误本身保持不变。
func (e *Error) WithDetail(format string, args ...any) *Error {
	cp := *e
	cp.Detail = fmt.Sprintf(format, args...)
	return &cp
}

// InvalidArg 快速构造参数错误。
func InvalidArg(msg string) *Error {
	return New(ErrInvalidArg, http.StatusBadRequest, msg, "", nil)
}

// Wrap 包装现有错误并捕获堆栈
func Wrap(err error, errType ErrorType, msg string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := FromError(err); ok {
		cp := *e
		cp.Message = msg
		cp.Cause = err
		return &cp
	}
	return New(errType, int(errType), msg, "", err)
}

// HTTPStatus 自动映射 HTTP 状态码
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case ErrInvalidArg:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrLimitExceeded:
		return http.StatusTooManyRequests
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError 沿错误链查找 *Error。
func FromError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
