package heatmap

import (
	"errors"
	"math"
	"testing"

	"github.com/wyfcoding/bspricer/pricing"
	"github.com/wyfcoding/bspricer/xerrors"
)

func TestDefaultBounds(t *testing.T) {
	b, err := CompileBounds(DefaultBoundsRule())
	if err != nil {
		t.Fatalf("CompileBounds: %v", err)
	}
	spot, vol, err := b.Eval(pricing.DefaultParams())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if math.Abs(spot.Min-80) > 1e-12 || math.Abs(spot.Max-120) > 1e-12 {
		t.Errorf("spot = %+v, want [80, 120]", spot)
	}
	if math.Abs(vol.Min-0.1) > 1e-12 || math.Abs(vol.Max-0.3) > 1e-12 {
		t.Errorf("vol = %+v, want [0.1, 0.3]", vol)
	}
}

func TestBoundsNormalizeInverted(t *testing.T) {
	b, err := CompileBounds(BoundsRule{SpotMin: "S + 10", SpotMax: "S - 10", VolMin: "v", VolMax: "v / 2"})
	if err != nil {
		t.Fatalf("CompileBounds: %v", err)
	}
	spot, vol, err := b.Eval(pricing.DefaultParams())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if spot.Inverted() || vol.Inverted() {
		t.Fatalf("expected normalized ranges, got spot=%+v vol=%+v", spot, vol)
	}
	if spot.Min != 90 || spot.Max != 110 {
		t.Errorf("spot = %+v, want [90, 110]", spot)
	}
}

func TestBoundsUseStrike(t *testing.T) {
	b, err := CompileBounds(BoundsRule{SpotMin: "K * 0.5", SpotMax: "K * 1.5", VolMin: "0.05", VolMax: "0.6"})
	if err != nil {
		t.Fatalf("CompileBounds: %v", err)
	}
	p := pricing.DefaultParams()
	p.K = 50
	spot, vol, err := b.Eval(p)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if spot.Min != 25 || spot.Max != 75 {
		t.Errorf("spot = %+v, want [25, 75]", spot)
	}
	if vol.Min != 0.05 || vol.Max != 0.6 {
		t.Errorf("vol = %+v", vol)
	}
}

func TestCompileBoundsRejectsBadExpressions(t *testing.T) {
	rules := []BoundsRule{
		{SpotMin: "S *", SpotMax: "S", VolMin: "v", VolMax: "v"},
		{SpotMin: "S", SpotMax: "unknown * 2", VolMin: "v", VolMax: "v"},
		{SpotMin: "S", SpotMax: "S", VolMin: "\"text\"", VolMax: "v"},
	}
	for _, rule := range rules {
		if _, err := CompileBounds(rule); !errors.Is(err, xerrors.ErrInvalidBounds) {
			t.Errorf("CompileBounds(%s) err = %v, want ErrInvalidBounds", rule, err)
		}
	}
}

func TestBoundsRejectNonFinite(t *testing.T) {
	b, err := CompileBounds(BoundsRule{SpotMin: "S * 0.8", SpotMax: "S * 1e306", VolMin: "v * 0.5", VolMax: "v * 1.5"})
	if err != nil {
		t.Fatalf("CompileBounds: %v", err)
	}
	if _, _, err := b.Eval(pricing.DefaultParams()); err != nil {
		t.Fatalf("Eval(S=100) error = %v", err)
	}
	p := pricing.DefaultParams()
	p.S = 1000
	if _, _, err := b.Eval(p); !errors.Is(err, xerrors.ErrInvalidBounds) {
		t.Fatalf("Eval(S=1000) err = %v, want ErrInvalidBounds", err)
	}
}
