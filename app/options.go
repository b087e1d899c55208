package app

import (
	"context"
	"time"

	"github.com/wyfcoding/bspricer/server"
)

// Option 应用选项。
type Option func(*options)

type options struct {
	servers         []server.Server
	hooks           []Hook
	shutdownTimeout time.Duration
}

// WithServer 添加由 App 启动与关闭的服务器。
func WithServer(servers ...server.Server) Option {
	return func(o *options) {
		o.servers = append(o.servers, servers...)
	}
}

// WithHook 添加生命周期钩子。
func WithHook(hook Hook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hook)
	}
}

// WithCleanup 添加仅在关闭时执行的清理函数。
func WithCleanup(name string, cleanup func()) Option {
	return WithHook(Hook{
		Name: name,
		OnStop: func(context.Context) error {
			cleanup()
			return nil
		},
	})
}

// WithShutdownTimeout 设置关闭阶段的总超时。
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}
