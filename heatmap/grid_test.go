package heatmap

import (
	"errors"
	"math"
	"testing"

	"github.com/wyfcoding/bspricer/pricing"
	"github.com/wyfcoding/bspricer/xerrors"
)

func TestLinspaceEndpoints(t *testing.T) {
	axis := Linspace(AxisRange{Min: 80, Max: 120}, 10)
	if len(axis) != 10 {
		t.Fatalf("len = %d, want 10", len(axis))
	}
	if axis[0] != 80 || axis[9] != 120 {
		t.Fatalf("endpoints = %v, %v", axis[0], axis[9])
	}
	step := 40.0 / 9
	for i := 1; i < len(axis); i++ {
		if axis[i] < axis[i-1] {
			t.Fatalf("axis not non-decreasing at %d: %v", i, axis)
		}
		if d := axis[i] - axis[i-1]; math.Abs(d-step) > 1e-9 {
			t.Errorf("step %d = %v, want %v", i, d, step)
		}
	}
}

func TestLinspaceSinglePoint(t *testing.T) {
	axis := Linspace(AxisRange{Min: 80, Max: 120}, 1)
	if len(axis) != 1 || axis[0] != 80 {
		t.Fatalf("Linspace(n=1) = %v, want [80]", axis)
	}
	if got := Linspace(AxisRange{Min: 1, Max: 2}, 0); got != nil {
		t.Fatalf("Linspace(n=0) = %v, want nil", got)
	}
}

func TestLinspaceDegenerateRange(t *testing.T) {
	for _, v := range Linspace(AxisRange{Min: 0.2, Max: 0.2}, 5) {
		if v != 0.2 {
			t.Fatalf("flat range produced %v", v)
		}
	}
}

func TestAxisRangeNormalized(t *testing.T) {
	r := AxisRange{Min: 120, Max: 80}
	if !r.Inverted() {
		t.Fatal("expected inverted")
	}
	n := r.Normalized()
	if n.Min != 80 || n.Max != 120 || n.Inverted() {
		t.Fatalf("Normalized() = %+v", n)
	}
	ok := AxisRange{Min: 1, Max: 2}
	if ok.Normalized() != ok {
		t.Fatal("ordered range must be returned unchanged")
	}
}

func TestGenerateShapeAndConsistency(t *testing.T) {
	base := pricing.DefaultParams()
	spot := AxisRange{Min: 80, Max: 120}
	vol := AxisRange{Min: 0.1, Max: 0.3}
	const n = 7

	g, err := Generate(base, spot, vol, n)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if g.N != n || len(g.SpotAxis) != n || len(g.VolAxis) != n {
		t.Fatalf("axis shape: N=%d spot=%d vol=%d", g.N, len(g.SpotAxis), len(g.VolAxis))
	}
	if len(g.Call) != n*n || len(g.Put) != n*n {
		t.Fatalf("map shape: call=%d put=%d", len(g.Call), len(g.Put))
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p := base
			p.S = g.SpotAxis[j]
			p.V = g.VolAxis[i]
			want := pricing.Price(p)
			if g.CallAt(i, j) != want.Call {
				t.Errorf("call[%d][%d] = %v, want %v", i, j, g.CallAt(i, j), want.Call)
			}
			if g.PutAt(i, j) != want.Put {
				t.Errorf("put[%d][%d] = %v, want %v", i, j, g.PutAt(i, j), want.Put)
			}
		}
	}
}

func TestGenerateKeepsStrikeFixed(t *testing.T) {
	base := pricing.DefaultParams()
	base.K = 90
	var strikes []float64
	gen := NewGenerator(WithPriceFunc(func(p pricing.Params) pricing.Result {
		strikes = append(strikes, p.K)
		return pricing.Price(p)
	}))
	if _, err := gen.Generate(base, AxisRange{Min: 80, Max: 120}, AxisRange{Min: 0.1, Max: 0.3}, 4); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(strikes) != 16 {
		t.Fatalf("engine called %d times, want 16", len(strikes))
	}
	for _, k := range strikes {
		if k != 90 {
			t.Fatalf("strike varied during sweep: %v", k)
		}
	}
}

func TestGenerateParallelMatchesSerial(t *testing.T) {
	base := pricing.DefaultParams()
	spot := AxisRange{Min: 50, Max: 150}
	vol := AxisRange{Min: 0.05, Max: 0.8}

	serial, err := NewGenerator().Generate(base, spot, vol, 30)
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	parallel, err := NewGenerator(WithWorkers(8)).Generate(base, spot, vol, 30)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	for k := range serial.Call {
		if serial.Call[k] != parallel.Call[k] || serial.Put[k] != parallel.Put[k] {
			t.Fatalf("cell %d differs: serial (%v, %v) parallel (%v, %v)",
				k, serial.Call[k], serial.Put[k], parallel.Call[k], parallel.Put[k])
		}
	}
}

func TestGenerateIdempotent(t *testing.T) {
	base := pricing.DefaultParams()
	spot := AxisRange{Min: 80, Max: 120}
	vol := AxisRange{Min: 0.1, Max: 0.3}
	a, _ := Generate(base, spot, vol, 10)
	b, _ := Generate(base, spot, vol, 10)
	for k := range a.Call {
		if a.Call[k] != b.Call[k] || a.Put[k] != b.Put[k] {
			t.Fatalf("cell %d differs between runs", k)
		}
	}
}

func TestGenerateIntoReusesBuffers(t *testing.T) {
	base := pricing.DefaultParams()
	spot := AxisRange{Min: 80, Max: 120}
	vol := AxisRange{Min: 0.1, Max: 0.3}
	gen := NewGenerator()

	dst := &Grid{}
	if err := gen.GenerateInto(dst, base, spot, vol, 10); err != nil {
		t.Fatalf("GenerateInto: %v", err)
	}
	callPtr := &dst.Call[0]

	if err := gen.GenerateInto(dst, base, spot, vol, 6); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if len(dst.Call) != 36 || len(dst.SpotAxis) != 6 {
		t.Fatalf("shrink shape: call=%d spot=%d", len(dst.Call), len(dst.SpotAxis))
	}
	if &dst.Call[0] != callPtr {
		t.Error("shrinking should keep the existing buffer")
	}
	if dst.SpotAxis[5] != 120 {
		t.Errorf("last spot = %v, want 120", dst.SpotAxis[5])
	}

	if err := gen.GenerateInto(dst, base, spot, vol, 20); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if len(dst.Call) != 400 || len(dst.Put) != 400 || dst.N != 20 {
		t.Fatalf("grow shape: call=%d put=%d N=%d", len(dst.Call), len(dst.Put), dst.N)
	}
}

func TestGenerateSingleCell(t *testing.T) {
	base := pricing.DefaultParams()
	g, err := Generate(base, AxisRange{Min: 90, Max: 110}, AxisRange{Min: 0.15, Max: 0.25}, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	p := base
	p.S, p.V = 90, 0.15
	if g.CallAt(0, 0) != pricing.Price(p).Call {
		t.Fatalf("single cell = %v, want %v", g.CallAt(0, 0), pricing.Price(p).Call)
	}
}

func TestGeneratePreconditions(t *testing.T) {
	base := pricing.DefaultParams()
	ok := AxisRange{Min: 80, Max: 120}
	bad := AxisRange{Min: 120, Max: 80}

	tests := []struct {
		name string
		spot AxisRange
		vol  AxisRange
		n    int
		want error
	}{
		{"zero size", ok, AxisRange{Min: 0.1, Max: 0.3}, 0, xerrors.ErrInvalidGridSize},
		{"negative size", ok, AxisRange{Min: 0.1, Max: 0.3}, -3, xerrors.ErrInvalidGridSize},
		{"inverted spot", bad, AxisRange{Min: 0.1, Max: 0.3}, 5, xerrors.ErrInvertedRange},
		{"inverted vol", ok, AxisRange{Min: 0.3, Max: 0.1}, 5, xerrors.ErrInvertedRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(base, tt.spot, tt.vol, tt.n)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGridClone(t *testing.T) {
	g, err := Generate(pricing.DefaultParams(), AxisRange{Min: 80, Max: 120}, AxisRange{Min: 0.1, Max: 0.3}, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	c := g.Clone()
	c.Call[0] = -1
	c.SpotAxis[0] = -1
	if g.Call[0] == -1 || g.SpotAxis[0] == -1 {
		t.Fatal("Clone shares backing arrays")
	}
	var nilGrid *Grid
	if nilGrid.Clone() != nil {
		t.Fatal("Clone of nil grid should be nil")
	}
}
