// Package service 应用服务层：组合定价引擎、网格生成器、扫描边界与交互会话，负责日志、指标与追踪。
package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyfcoding/bspricer/config"
	"github.com/wyfcoding/bspricer/heatmap"
	"github.com/wyfcoding/bspricer/logging"
	"github.com/wyfcoding/bspricer/metrics"
	"github.com/wyfcoding/bspricer/pricing"
	"github.com/wyfcoding/bspricer/session"
	"github.com/wyfcoding/bspricer/tracing"
	"github.com/wyfcoding/bspricer/xerrors"
)

// HeatmapQuery 无状态热力图请求。Spot/Vol 为空时由边界规则推导，Size 为 0 时使用默认边长。
type HeatmapQuery struct {
	Params pricing.Params
	Spot   *heatmap.AxisRange
	Vol    *heatmap.AxisRange
	Size   int
}

type collectors struct {
	evaluations *prometheus.CounterVec
	clamped     *prometheus.CounterVec
	duration    prometheus.Histogram
	cells       prometheus.Counter
}

func newCollectors(m *metrics.Metrics) collectors {
	return collectors{
		evaluations: m.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_evaluations_total",
			Help: "Black-Scholes evaluations by request source",
		}, []string{"source"}),
		clamped: m.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_clamped_inputs_total",
			Help: "Inputs raised to the minimum positive epsilon",
		}, []string{"field"}),
		duration: m.NewHistogram(prometheus.HistogramOpts{
			Name:    "heatmap_generate_duration_seconds",
			Help:    "Time spent filling one heatmap grid",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		cells: m.NewCounter(prometheus.CounterOpts{
			Name: "heatmap_cells_total",
			Help: "Grid cells priced across all heatmap sweeps",
		}),
	}
}

// PricingService 面向传输层的定价服务。
type PricingService struct {
	gen         *heatmap.Generator
	bounds      *heatmap.Bounds
	session     *session.Session
	defaults    pricing.Params
	defaultSize int
	maxSize     int
	pricePlaces int32
	greekPlaces int32
	m           collectors
}

// BoundsRule 将配置中的边界表达式转换为规则。
func BoundsRule(cfg config.BoundsConfig) heatmap.BoundsRule {
	return heatmap.BoundsRule{
		SpotMin: cfg.SpotMin,
		SpotMax: cfg.SpotMax,
		VolMin:  cfg.VolMin,
		VolMax:  cfg.VolMax,
	}
}

// DefaultParams 配置中的默认定价参数。
func DefaultParams(cfg config.PricingConfig) pricing.Params {
	return pricing.Params{
		S: cfg.Spot,
		K: cfg.Strike,
		T: cfg.Maturity,
		V: cfg.Volatility,
		R: cfg.Rate,
	}
}

// New 根据配置装配服务并完成会话的首次计算。
func New(cfg *config.Config, m *metrics.Metrics) (*PricingService, error) {
	bounds, err := heatmap.CompileBounds(BoundsRule(cfg.Heatmap.Bounds))
	if err != nil {
		return nil, err
	}

	svc := &PricingService{
		bounds:      bounds,
		defaults:    DefaultParams(cfg.Pricing),
		defaultSize: cfg.Heatmap.Size,
		maxSize:     cfg.Heatmap.MaxSize,
		pricePlaces: cfg.Pricing.PricePlaces,
		greekPlaces: cfg.Pricing.GreekPlaces,
		m:           newCollectors(m),
	}
	svc.gen = heatmap.NewGenerator(heatmap.WithWorkers(cfg.Heatmap.Workers))

	spot, vol, err := bounds.Eval(svc.defaults)
	if err != nil {
		return nil, err
	}
	initial := session.State{
		Params: svc.defaults,
		Spot:   spot,
		Vol:    vol,
		Size:   cfg.Heatmap.Size,
	}
	sess, err := session.New(initial,
		session.WithGenerator(svc.gen),
		session.WithBounds(bounds),
		session.WithSizeLimits(cfg.Heatmap.MinSize, cfg.Heatmap.MaxSize),
		session.WithQuotePlaces(cfg.Pricing.PricePlaces, cfg.Pricing.GreekPlaces),
	)
	if err != nil {
		return nil, err
	}
	svc.session = sess
	sess.Subscribe(svc.observeSession)

	logging.Info(context.Background(), "pricing service initialized",
		"bounds", bounds.Rule().String(),
		"size", cfg.Heatmap.Size,
		"workers", cfg.Heatmap.Workers,
	)
	return svc, nil
}

// Defaults 返回默认定价参数。
func (s *PricingService) Defaults() pricing.Params {
	return s.defaults
}

// BoundsRule 当前生效的扫描边界表达式。
func (s *PricingService) BoundsRule() heatmap.BoundsRule {
	return s.bounds.Rule()
}

// SizeLimits 返回默认网格边长与允许范围。
func (s *PricingService) SizeLimits() (size, minSize, maxSize int) {
	minSize, maxSize = s.session.SizeLimits()
	return s.defaultSize, minSize, maxSize
}

// Quote 按配置精度舍入结果。
func (s *PricingService) Quote(r pricing.Result) pricing.Quote {
	return r.Quote(s.pricePlaces, s.greekPlaces)
}

// Price 单点定价。发生钳制时记录告警并计数，数值结果不受影响。
func (s *PricingService) Price(ctx context.Context, p pricing.Params) (pricing.Result, pricing.Clamp) {
	ctx, span := tracing.StartSpan(ctx, "pricing.Price")
	defer span.End()

	res, clamp := pricing.Evaluate(p)
	s.m.evaluations.WithLabelValues("point").Inc()
	s.recordClamp(ctx, "point", clamp)
	return res, clamp
}

func (s *PricingService) recordClamp(ctx context.Context, source string, clamp pricing.Clamp) {
	if !clamp.Any() {
		return
	}
	fields := clamp.Fields()
	for _, f := range fields {
		s.m.clamped.WithLabelValues(f).Inc()
	}
	tracing.AddTag(ctx, "pricing.clamped", fields)
	logging.Warn(ctx, "pricing inputs clamped to epsilon", "source", source, "fields", clamp.String(), "epsilon", pricing.Epsilon)
}

// Heatmap 无状态扫描。缺省的区间才按边界规则求值，倒置区间由调用方侧交换后再交给生成器。
func (s *PricingService) Heatmap(ctx context.Context, q HeatmapQuery) (*heatmap.Grid, error) {
	ctx, span := tracing.StartSpan(ctx, "pricing.Heatmap")
	defer span.End()

	n := q.Size
	if n == 0 {
		n = s.defaultSize
	}
	if n > s.maxSize {
		err := xerrors.ErrGridSizeOutOfRange.WithDetail("grid size %d exceeds maximum %d", n, s.maxSize)
		tracing.SetError(ctx, err)
		return nil, err
	}

	var spot, vol heatmap.AxisRange
	if q.Spot == nil || q.Vol == nil {
		var err error
		if spot, vol, err = s.bounds.Eval(q.Params); err != nil {
			tracing.SetError(ctx, err)
			return nil, err
		}
	}
	if q.Spot != nil {
		spot = q.Spot.Normalized()
	}
	if q.Vol != nil {
		vol = q.Vol.Normalized()
	}
	tracing.AddTag(ctx, "heatmap.size", n)

	start := time.Now()
	grid, err := s.gen.Generate(q.Params, spot, vol, n)
	if err != nil {
		tracing.SetError(ctx, err)
		logging.Warn(ctx, "heatmap generation rejected", "error", err)
		return nil, err
	}
	s.observeGrid("heatmap", n, time.Since(start))
	return grid, nil
}

func (s *PricingService) observeGrid(source string, n int, elapsed time.Duration) {
	cells := float64(n * n)
	s.m.duration.Observe(elapsed.Seconds())
	s.m.cells.Add(cells)
	s.m.evaluations.WithLabelValues(source).Add(cells)
}

func (s *PricingService) observeSession(snap session.Snapshot) {
	evals := 1.0
	if snap.Grid != nil {
		cells := float64(snap.Grid.N * snap.Grid.N)
		s.m.cells.Add(cells)
		evals += cells
	}
	s.m.evaluations.WithLabelValues("session").Add(evals)
	for _, f := range snap.Clamped {
		s.m.clamped.WithLabelValues(f).Inc()
	}
}

// Session 返回当前会话快照。
func (s *PricingService) Session() session.Snapshot {
	return s.session.Snapshot()
}

// OnSessionChange 订阅会话重算事件，返回取消函数。
func (s *PricingService) OnSessionChange(fn session.Listener) func() {
	return s.session.Subscribe(fn)
}

// UpdateSession 应用局部更新。
func (s *PricingService) UpdateSession(ctx context.Context, u session.Update) (session.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Apply")
	defer span.End()

	start := time.Now()
	snap, recomputed, err := s.session.Apply(ctx, u)
	if err != nil {
		tracing.SetError(ctx, err)
		return session.Snapshot{}, err
	}
	if recomputed {
		s.m.duration.Observe(time.Since(start).Seconds())
		if len(snap.Clamped) > 0 {
			logging.Warn(ctx, "session inputs clamped to epsilon", "fields", snap.Clamped, "version", snap.Version)
		}
		logging.Debug(ctx, "session recomputed", "version", snap.Version, "size", snap.State.Size)
	}
	tracing.AddTag(ctx, "session.recomputed", recomputed)
	return snap, nil
}

// RecomputeSession 显式重算。
func (s *PricingService) RecomputeSession(ctx context.Context) (session.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Recompute")
	defer span.End()
	defer logging.LogDuration(ctx, "session recompute")()

	snap, err := s.session.Recompute(ctx)
	if err != nil {
		tracing.SetError(ctx, err)
	}
	return snap, err
}

// ResetSession 恢复默认状态。
func (s *PricingService) ResetSession(ctx context.Context) (session.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Reset")
	defer span.End()

	snap, err := s.session.Reset(ctx)
	if err != nil {
		tracing.SetError(ctx, err)
		return snap, err
	}
	logging.Info(ctx, "session reset to defaults", "version", snap.Version)
	return snap, nil
}
