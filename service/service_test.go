package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wyfcoding/bspricer/config"
	"github.com/wyfcoding/bspricer/heatmap"
	"github.com/wyfcoding/bspricer/metrics"
	"github.com/wyfcoding/bspricer/pricing"
	"github.com/wyfcoding/bspricer/session"
	"github.com/wyfcoding/bspricer/xerrors"
)

func newTestService(t *testing.T, mutate func(*config.Config)) *PricingService {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(&cfg, metrics.NewMetrics("bspricer-test"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc
}

func TestNewUsesConfiguredDefaults(t *testing.T) {
	svc := newTestService(t, nil)

	snap := svc.Session()
	if snap.Version != 1 {
		t.Errorf("version = %d, want 1", snap.Version)
	}
	if snap.State.Size != 10 {
		t.Errorf("size = %d, want 10", snap.State.Size)
	}
	if snap.State.Spot != (heatmap.AxisRange{Min: 80, Max: 120}) {
		t.Errorf("spot range = %+v", snap.State.Spot)
	}
	if svc.Defaults() != pricing.DefaultParams() {
		t.Errorf("defaults = %+v", svc.Defaults())
	}
}

func TestNewRejectsBadBounds(t *testing.T) {
	cfg := config.Default()
	cfg.Heatmap.Bounds.SpotMin = "S *"
	_, err := New(&cfg, metrics.NewMetrics("bspricer-test"))
	if !errors.Is(err, xerrors.ErrInvalidBounds) {
		t.Fatalf("err = %v, want ErrInvalidBounds", err)
	}
}

func TestPriceCountsClampedInputs(t *testing.T) {
	svc := newTestService(t, nil)

	_, clamp := svc.Price(context.Background(), pricing.Params{S: 100, K: 100, T: 0, V: 0, R: 0.05})
	if clamp != pricing.ClampMaturity|pricing.ClampVolatility {
		t.Fatalf("clamp = %v", clamp)
	}
	if got := testutil.ToFloat64(svc.m.clamped.WithLabelValues("maturity")); got != 1 {
		t.Errorf("clamped{maturity} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(svc.m.evaluations.WithLabelValues("point")); got != 1 {
		t.Errorf("evaluations{point} = %v, want 1", got)
	}
}

func TestHeatmapDefaults(t *testing.T) {
	svc := newTestService(t, nil)

	grid, err := svc.Heatmap(context.Background(), HeatmapQuery{Params: pricing.DefaultParams()})
	if err != nil {
		t.Fatalf("Heatmap() error = %v", err)
	}
	if grid.N != 10 || len(grid.Call) != 100 {
		t.Fatalf("grid N = %d, cells = %d", grid.N, len(grid.Call))
	}
	if grid.SpotAxis[0] != 80 || grid.SpotAxis[9] != 120 {
		t.Errorf("spot axis = %v", grid.SpotAxis)
	}
	if got := testutil.ToFloat64(svc.m.cells); got != 100 {
		t.Errorf("cells = %v, want 100", got)
	}
}

func TestHeatmapExplicitRanges(t *testing.T) {
	svc := newTestService(t, nil)

	spot := heatmap.AxisRange{Min: 150, Max: 50}
	vol := heatmap.AxisRange{Min: 0.1, Max: 0.4}
	grid, err := svc.Heatmap(context.Background(), HeatmapQuery{
		Params: pricing.DefaultParams(),
		Spot:   &spot,
		Vol:    &vol,
		Size:   5,
	})
	if err != nil {
		t.Fatalf("Heatmap() error = %v", err)
	}
	if grid.SpotAxis[0] != 50 || grid.SpotAxis[4] != 150 {
		t.Errorf("inverted spot range not swapped: %v", grid.SpotAxis)
	}
	if grid.VolAxis[0] != 0.1 || grid.VolAxis[4] != 0.4 {
		t.Errorf("vol axis = %v", grid.VolAxis)
	}
}

func TestHeatmapSizeLimits(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Heatmap(ctx, HeatmapQuery{Params: pricing.DefaultParams(), Size: 31}); !errors.Is(err, xerrors.ErrGridSizeOutOfRange) {
		t.Errorf("size 31: err = %v, want ErrGridSizeOutOfRange", err)
	}
	if _, err := svc.Heatmap(ctx, HeatmapQuery{Params: pricing.DefaultParams(), Size: -1}); !errors.Is(err, xerrors.ErrInvalidGridSize) {
		t.Errorf("size -1: err = %v, want ErrInvalidGridSize", err)
	}
	grid, err := svc.Heatmap(ctx, HeatmapQuery{Params: pricing.DefaultParams(), Size: 1})
	if err != nil || grid.N != 1 {
		t.Errorf("size 1: grid = %v, err = %v", grid, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	var seen []uint64
	cancel := svc.OnSessionChange(func(s session.Snapshot) { seen = append(seen, s.Version) })
	defer cancel()

	spot := 110.0
	snap, err := svc.UpdateSession(ctx, session.Update{Spot: &spot})
	if err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	if snap.State.Params.S != 110 || snap.Version != 2 {
		t.Fatalf("snapshot = version %d, spot %v", snap.Version, snap.State.Params.S)
	}

	if _, err := svc.RecomputeSession(ctx); err != nil {
		t.Fatalf("RecomputeSession() error = %v", err)
	}
	snap, err = svc.ResetSession(ctx)
	if err != nil {
		t.Fatalf("ResetSession() error = %v", err)
	}
	if snap.State.Params.S != 100 {
		t.Errorf("reset spot = %v, want 100", snap.State.Params.S)
	}
	if len(seen) != 3 || seen[2] != 4 {
		t.Errorf("listener versions = %v, want [2 3 4]", seen)
	}
	if got := testutil.ToFloat64(svc.m.evaluations.WithLabelValues("session")); got != 3*101 {
		t.Errorf("evaluations{session} = %v, want %v", got, 3*101)
	}
}

func TestSizeLimitsAndBounds(t *testing.T) {
	svc := newTestService(t, func(c *config.Config) {
		c.Heatmap.MinSize = 2
		c.Heatmap.MaxSize = 12
		c.Heatmap.Size = 4
		c.Heatmap.Bounds.SpotMax = "K * 1.5"
	})

	size, lo, hi := svc.SizeLimits()
	if size != 4 || lo != 2 || hi != 12 {
		t.Errorf("SizeLimits() = %d, %d, %d", size, lo, hi)
	}
	if got := svc.BoundsRule().SpotMax; got != "K * 1.5" {
		t.Errorf("BoundsRule().SpotMax = %q", got)
	}
	if got := svc.Session().State.Spot.Max; got != 150 {
		t.Errorf("session spot max = %v, want 150", got)
	}
}

func TestHeatmapExplicitRangesSkipBoundsRule(t *testing.T) {
	svc := newTestService(t, func(cfg *config.Config) {
		cfg.Heatmap.Bounds.SpotMax = "S * 1e306"
	})
	ctx := context.Background()
	p := pricing.DefaultParams()
	p.S = 1000

	if _, err := svc.Heatmap(ctx, HeatmapQuery{Params: p, Size: 5}); !errors.Is(err, xerrors.ErrInvalidBounds) {
		t.Fatalf("rule-derived ranges: err = %v, want ErrInvalidBounds", err)
	}

	spot := heatmap.AxisRange{Min: 800, Max: 1200}
	if _, err := svc.Heatmap(ctx, HeatmapQuery{Params: p, Spot: &spot, Size: 5}); !errors.Is(err, xerrors.ErrInvalidBounds) {
		t.Fatalf("vol range still from rule: err = %v, want ErrInvalidBounds", err)
	}

	vol := heatmap.AxisRange{Min: 0.1, Max: 0.3}
	grid, err := svc.Heatmap(ctx, HeatmapQuery{Params: p, Spot: &spot, Vol: &vol, Size: 5})
	if err != nil {
		t.Fatalf("explicit ranges: err = %v", err)
	}
	if grid.SpotAxis[0] != 800 || grid.SpotAxis[4] != 1200 {
		t.Errorf("spot axis = %v", grid.SpotAxis)
	}
}
