package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/bspricer/config"
)

const defaultShutdownTimeout = 5 * time.Second

// GinServer 以 http.Server 运行 Gin 引擎，支持优雅关闭。
type GinServer struct {
	server          *http.Server
	addr            string
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewGinServer 根据 HTTP 配置创建服务器，Addr 为空时监听 :Port。
func NewGinServer(engine *gin.Engine, cfg config.HTTPConfig, logger *slog.Logger) *GinServer {
	addr := cfg.Addr
	if addr == "" {
		addr = net.JoinHostPort("", strconv.Itoa(cfg.Port))
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &GinServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		addr:            addr,
		shutdownTimeout: timeout,
		logger:          logger,
	}
}

// Addr 返回监听地址。
func (s *GinServer) Addr() string {
	return s.addr
}

// Start 阻塞运行，ctx 取消时执行优雅关闭。
func (s *GinServer) Start(ctx context.Context) error {
	s.logger.Info("starting gin server", "addr", s.addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("gin server stopping due to context cancellation")
		return s.Stop(context.Background())
	case err := <-errChan:
		return err
	}
}

// Stop 等待进行中的请求在超时时间内完成。
func (s *GinServer) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
