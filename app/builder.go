package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/bspricer/api"
	"github.com/wyfcoding/bspricer/config"
	"github.com/wyfcoding/bspricer/health"
	"github.com/wyfcoding/bspricer/idgen"
	"github.com/wyfcoding/bspricer/limiter"
	"github.com/wyfcoding/bspricer/logging"
	"github.com/wyfcoding/bspricer/metrics"
	"github.com/wyfcoding/bspricer/middleware"
	"github.com/wyfcoding/bspricer/response"
	"github.com/wyfcoding/bspricer/retry"
	"github.com/wyfcoding/bspricer/server"
	"github.com/wyfcoding/bspricer/service"
	"github.com/wyfcoding/bspricer/tracing"
	"github.com/wyfcoding/bspricer/xerrors"
	"golang.org/x/time/rate"
)

const defaultMetricsPath = "/metrics"

// Builder 按配置装配定价服务的全部组件。
type Builder struct {
	serviceName   string
	configPath    string
	cfg           *config.Config
	appOpts       []Option
	health        *health.Registry
	ginMiddleware []gin.HandlerFunc
}

// NewBuilder 创建构建器。
func NewBuilder(serviceName string) *Builder {
	return &Builder{serviceName: serviceName, health: health.NewRegistry(0)}
}

// WithConfigPath 指定 TOML 配置文件，为空时只使用默认值与 APP_ 环境变量。
func (b *Builder) WithConfigPath(path string) *Builder {
	b.configPath = path
	return b
}

// WithConfig 使用已加载的配置，跳过文件读取。
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.cfg = cfg
	return b
}

// WithHealthChecker 添加命名健康检查。
func (b *Builder) WithHealthChecker(name string, checker health.Checker) *Builder {
	b.health.Register(name, checker)
	return b
}

// WithGinMiddleware 追加 Gin 中间件，位于内置中间件之后。
func (b *Builder) WithGinMiddleware(mw ...gin.HandlerFunc) *Builder {
	b.ginMiddleware = append(b.ginMiddleware, mw...)
	return b
}

// Build 构建 App。
func (b *Builder) Build() (*App, error) {
	cfg, err := b.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = b.serviceName
	}

	logger := b.initLogger(cfg)
	config.PrintWithMask(cfg)

	if err := idgen.Init(cfg.Snowflake); err != nil {
		return nil, xerrors.Wrap(err, xerrors.ErrInternal, "init id generator")
	}

	mws := []gin.HandlerFunc{
		middleware.RequestID(),
		middleware.Recovery(logger.Logger),
		middleware.Logger(logger.Logger, cfg.Log.SlowThreshold),
		middleware.HTTPErrorHandler(),
		middleware.MaxBodyBytes(cfg.Server.HTTP.MaxBodyBytes),
	}
	if cfg.Tracing.Enabled {
		b.initTracing(cfg, logger)
		mws = append(mws, middleware.TracingMiddleware(cfg.Server.Name), middleware.TraceID())
	}

	m := metrics.NewMetrics(cfg.Server.Name)
	m.RegisterBuildInfo(cfg.Server.Name, cfg.Version)
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		b.appOpts = append(b.appOpts, WithCleanup("metrics-listener", m.ExposeHTTP(cfg.Metrics.Addr)))
	}
	mws = append(mws, middleware.HTTPMetricsMiddleware(m, middleware.MetricsOptions{
		SlowThreshold: cfg.Log.SlowThreshold,
		SkipPaths:     []string{metricsPath(cfg), "/sys/health"},
	}))

	if cfg.CORS.Enabled {
		mws = append(mws, middleware.CORS(cfg.CORS.AllowOrigins...))
	}
	if cfg.RateLimit.Enabled {
		l, err := b.initLimiter(cfg)
		if err != nil {
			return nil, err
		}
		mws = append(mws, middleware.RateLimitMiddleware(l))
	}
	mws = append(mws, b.ginMiddleware...)

	svc, err := service.New(cfg, m)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.ErrInternal, "init pricing service")
	}
	b.health.Register("pricing", health.PricingChecker(svc.Defaults))

	var ws *server.WSManager
	if cfg.Server.WS.Enabled {
		ws = server.NewWSManager(logger.Logger, cfg.Server.WS.AllowedOrigins)
	}
	handler := api.NewHandler(svc, ws)

	var unsubscribe func()
	b.appOpts = append(b.appOpts, WithHook(Hook{
		Name: "session-publisher",
		OnStart: func(context.Context) error {
			unsubscribe = handler.PublishSessionChanges()
			return nil
		},
		OnStop: func(context.Context) error {
			unsubscribe()
			return nil
		},
	}))

	engine := server.NewDefaultGinEngine(mws...)
	b.registerAdminRoutes(engine, cfg, m)
	handler.RegisterRoutes(engine)

	servers := []server.Server{server.NewGinServer(engine, cfg.Server.HTTP, logger.Logger)}
	if ws != nil {
		servers = append(servers, ws)
	}
	b.appOpts = append(b.appOpts,
		WithServer(servers...),
		WithShutdownTimeout(cfg.Server.HTTP.ShutdownTimeout),
	)

	return New(cfg.Server.Name, logger.Logger, b.appOpts...), nil
}

func (b *Builder) loadConfig() (*config.Config, error) {
	if b.cfg != nil {
		if err := config.Validate(b.cfg); err != nil {
			return nil, err
		}
		return b.cfg, nil
	}
	var cfg config.Config
	if err := config.Load(b.configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (b *Builder) initLogger(cfg *config.Config) *logging.Logger {
	return logging.InitLogger(logging.Config{
		Service:    cfg.Server.Name,
		Module:     "app",
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
}

func (b *Builder) initTracing(cfg *config.Config, logger *logging.Logger) {
	shutdown, err := tracing.InitTracer(cfg.Tracing, cfg.Version)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		return
	}
	b.appOpts = append(b.appOpts, WithHook(Hook{
		Name:   "tracer",
		OnStop: shutdown,
	}))
}

// initLimiter 本地后端在配置热更新时调整速率。
func (b *Builder) initLimiter(cfg *config.Config) (limiter.Limiter, error) {
	l, closeFn, err := limiter.New(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	b.appOpts = append(b.appOpts, WithCleanup("rate-limiter", closeFn))

	if rl, ok := l.(*limiter.RedisLimiter); ok {
		check := health.RedisChecker(rl.Client())
		b.health.Register("ratelimit-redis", check)
		// 启动时探测一次，失败只告警：限流中间件在后端不可用时放行
		err := retry.Do(context.Background(), retry.DefaultConfig(), func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			return check(ctx)
		})
		if err != nil {
			logging.Warn(context.Background(), "rate limit redis backend unreachable", "addr", cfg.RateLimit.Redis.Addr, "error", err)
		}
	}

	if local, ok := l.(*limiter.LocalLimiter); ok {
		config.RegisterReloadHook(func(next *config.Config) {
			local.SetRate(rate.Limit(next.RateLimit.Rate), next.RateLimit.Burst)
			logging.Info(context.Background(), "rate limit updated", "rate", next.RateLimit.Rate, "burst", next.RateLimit.Burst)
		})
	}
	return l, nil
}

func metricsPath(cfg *config.Config) string {
	if cfg.Metrics.Path == "" {
		return defaultMetricsPath
	}
	return cfg.Metrics.Path
}

func (b *Builder) registerAdminRoutes(engine *gin.Engine, cfg *config.Config, m *metrics.Metrics) {
	sys := engine.Group("/sys")
	sys.GET("/health", func(c *gin.Context) {
		rep := b.health.Check(c.Request.Context())
		code := http.StatusOK
		if rep.Status != health.StatusUp {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    rep.Status,
			"checks":    rep.Checks,
			"service":   cfg.Server.Name,
			"version":   cfg.Version,
			"timestamp": time.Now().Unix(),
		})
	})
	sys.GET("/version", func(c *gin.Context) {
		response.SuccessWithRawData(c, gin.H{"service": cfg.Server.Name, "version": cfg.Version})
	})

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" && m != nil {
		engine.GET(metricsPath(cfg), gin.WrapH(m.Handler()))
	}
}
