// Package app 负责应用装配与生命周期：启动服务器、监听退出信号、按序释放资源。
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

// App 应用程序容器。
type App struct {
	name      string
	logger    *slog.Logger
	opts      options
	lifecycle *Lifecycle
}

// New 创建应用实例。
func New(name string, logger *slog.Logger, opts ...Option) *App {
	o := options{shutdownTimeout: defaultShutdownTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	lc := NewLifecycle(logger)
	for _, h := range o.hooks {
		lc.Append(h)
	}
	return &App{
		name:      name,
		logger:    logger,
		opts:      o,
		lifecycle: lc,
	}
}

// Run 阻塞运行，直到 ctx 取消、收到 SIGINT/SIGTERM 或任一服务器失败。
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.lifecycle.Start(ctx); err != nil {
		a.shutdownHooks()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range a.opts.servers {
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	<-gctx.Done()
	a.logger.Info("shutting down application", "name", a.name)

	// 服务器在 gctx 取消后自行优雅关闭
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		a.logger.Error("server exited with error", "error", err)
	}

	if hookErr := a.shutdownHooks(); hookErr != nil {
		err = errors.Join(err, hookErr)
	}
	if err == nil {
		a.logger.Info("application shut down gracefully")
	}
	return err
}

func (a *App) shutdownHooks() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.shutdownTimeout)
	defer cancel()
	return a.lifecycle.Stop(ctx)
}

func (a *App) printBanner() {
	const banner = `
  _                    _
 | |__  ___ _ __  _ __(_) ___ ___ _ __
 | '_ \/ __| '_ \| '__| |/ __/ _ \ '__|
 | |_) \__ \ |_) | |  | | (_|  __/ |
 |_.__/|___/ .__/|_|  |_|\___\___|_|
           |_|
`
	a.logger.Info(banner)
	a.logger.Info("application starting", "name", a.name, "pid", os.Getpid())
}
