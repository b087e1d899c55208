// Package logging 提供统一的结构化日志 (slog) 封装，支持 OpenTelemetry 追踪上下文注入、文件切割与运行时调整级别。
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	defaultLogger *Logger
	mu            sync.RWMutex
	// level 为所有通过 NewFromConfig 创建的 Logger 共享，SetLevel 调整后立即生效。
	level = new(slog.LevelVar)
)

// Config 定义日志配置
type Config struct {
	Service    string
	Module     string
	Level      string
	Format     string // json 或 text
	Output     string // stdout、file 或 both
	File       string // 日志文件路径，Output 含 file 时必填
	MaxSize    int    // 每个日志文件最大尺寸 (MB)
	MaxBackups int    // 保留旧日志文件的最大个数
	MaxAge     int    // 保留旧日志文件的最大天数
	Compress   bool   // 是否压缩旧日志
}

// Logger 封装 *slog.Logger，并记录服务名与模块名。
type Logger struct {
	*slog.Logger
	Service string
	Module  string
}

// TraceHandler 是 slog.Handler 装饰器，从 context 中提取 trace_id 与 span_id 注入日志记录。
type TraceHandler struct {
	slog.Handler
}

// Handle 实现 slog.Handler 接口。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保持装饰器不丢失。
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 保持装饰器不丢失。
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel 运行时调整日志级别，供配置热更新调用。
func SetLevel(s string) {
	level.Set(parseLevel(s))
}

func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// NewFromConfig 创建一个新的 Logger 实例，配置了文件路径时使用 lumberjack 切割。
func NewFromConfig(cfg Config) *Logger {
	return newWithStdout(cfg, os.Stdout)
}

func newWithStdout(cfg Config, stdout io.Writer) *Logger {
	level.Set(parseLevel(cfg.Level))

	output := cfg.Output
	if output == "" {
		output = "stdout"
		if cfg.File != "" {
			output = "file"
		}
	}

	var fileWriter io.Writer
	if cfg.File != "" {
		fileWriter = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	}

	var handler slog.Handler
	switch {
	case output == "both" && fileWriter != nil:
		handler = newMultiHandler(newHandler(stdout, cfg.Format), newHandler(fileWriter, cfg.Format))
	case output == "file" && fileWriter != nil:
		handler = newHandler(fileWriter, cfg.Format)
	case output == "stderr":
		handler = newHandler(os.Stderr, cfg.Format)
	default:
		handler = newHandler(stdout, cfg.Format)
	}

	logger := slog.New(&TraceHandler{Handler: handler}).With(
		slog.String("service", cfg.Service),
		slog.String("module", cfg.Module),
	)

	return &Logger{
		Logger:  logger,
		Service: cfg.Service,
		Module:  cfg.Module,
	}
}

// InitLogger 用配置替换全局默认日志记录器并设置为 slog 默认值。
func InitLogger(cfg Config) *Logger {
	l := NewFromConfig(cfg)
	SetDefault(l)
	return l
}

// SetDefault 替换全局默认日志记录器。
func SetDefault(l *Logger) {
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
	slog.SetDefault(l.Logger)
}

// Default 返回默认日志记录器，尚未初始化时创建一个 info 级别的 stdout 记录器。
func Default() *Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewFromConfig(Config{Service: "default", Module: "default", Level: "info"})
	}
	return defaultLogger
}

// Info 记录 Info 级别日志
func Info(ctx context.Context, msg string, args ...any) {
	Default().InfoContext(ctx, msg, args...)
}

// Warn 记录 Warn 级别日志
func Warn(ctx context.Context, msg string, args ...any) {
	Default().WarnContext(ctx, msg, args...)
}

// Error 记录 Error 级别日志
func Error(ctx context.Context, msg string, args ...any) {
	Default().ErrorContext(ctx, msg, args...)
}

// Debug 记录 Debug 级别日志
func Debug(ctx context.Context, msg string, args ...any) {
	Default().DebugContext(ctx, msg, args...)
}

// LogDuration 记录操作耗时，用法: defer logging.LogDuration(ctx, "generate heatmap")()
func LogDuration(ctx context.Context, operation string, args ...any) func() {
	start := time.Now()
	return func() {
		logArgs := append(args, "duration", time.Since(start))
		Debug(ctx, fmt.Sprintf("%s finished", operation), logArgs...)
	}
}
