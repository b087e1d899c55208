package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Hook 生命周期钩子，OnStart 在服务器启动前执行，OnStop 在服务器停止后逆序执行。
type Hook struct {
	Name    string
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// Lifecycle 管理服务器之外的组件 (推送订阅、追踪导出器、限流后端连接等)。
type Lifecycle struct {
	logger  *slog.Logger
	mu      sync.Mutex
	hooks   []Hook
	started int
}

// NewLifecycle 创建生命周期管理器。
func NewLifecycle(logger *slog.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Append 添加钩子。
func (l *Lifecycle) Append(hook Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Start 按注册顺序启动，遇到错误立即返回。已启动的钩子仍会在 Stop 中被停止。
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, hook := range l.hooks[l.started:] {
		if hook.OnStart != nil {
			l.logger.Debug("lifecycle: starting component", "name", hook.Name)
			if err := hook.OnStart(ctx); err != nil {
				l.logger.Error("lifecycle: failed to start component", "name", hook.Name, "error", err)
				return err
			}
		}
		l.started++
	}
	return nil
}

// Stop 逆序停止已启动的钩子，汇总全部错误。
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for i := l.started - 1; i >= 0; i-- {
		hook := l.hooks[i]
		if hook.OnStop == nil {
			continue
		}
		l.logger.Debug("lifecycle: stopping component", "name", hook.Name)
		if err := hook.OnStop(ctx); err != nil {
			l.logger.Error("lifecycle: failed to stop component", "name", hook.Name, "error", err)
			errs = append(errs, err)
		}
	}
	l.started = 0
	return errors.Join(errs...)
}
