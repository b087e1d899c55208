package heatmap

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/wyfcoding/bspricer/pricing"
	"github.com/wyfcoding/bspricer/xerrors"
)

// BoundsRule 扫描边界表达式，可引用基准参数 S、K、T、v、r。
type BoundsRule struct {
	SpotMin string `mapstructure:"spot_min" toml:"spot_min" json:"spot_min"`
	SpotMax string `mapstructure:"spot_max" toml:"spot_max" json:"spot_max"`
	VolMin  string `mapstructure:"vol_min" toml:"vol_min" json:"vol_min"`
	VolMax  string `mapstructure:"vol_max" toml:"vol_max" json:"vol_max"`
}

// DefaultBoundsRule 现货 [0.8S, 1.2S]，波动率 [0.5v, 1.5v]。
func DefaultBoundsRule() BoundsRule {
	return BoundsRule{
		SpotMin: "S * 0.8",
		SpotMax: "S * 1.2",
		VolMin:  "v * 0.5",
		VolMax:  "v * 1.5",
	}
}

// Bounds 编译后的边界规则，可并发求值。
type Bounds struct {
	rule     BoundsRule
	sources  [4]string
	programs [4]*vm.Program
}

func boundsEnv(p pricing.Params) map[string]any {
	return map[string]any{
		"S": p.S,
		"K": p.K,
		"T": p.T,
		"v": p.V,
		"r": p.R,
	}
}

// CompileBounds 编译四个边界表达式，任一失败即返回 ErrInvalidBounds。
func CompileBounds(rule BoundsRule) (*Bounds, error) {
	b := &Bounds{
		rule:    rule,
		sources: [4]string{rule.SpotMin, rule.SpotMax, rule.VolMin, rule.VolMax},
	}
	env := boundsEnv(pricing.Params{})
	for i, src := range b.sources {
		program, err := expr.Compile(src, expr.Env(env), expr.AsFloat64())
		if err != nil {
			return nil, xerrors.ErrInvalidBounds.WithDetail("compile %q: %v", src, err)
		}
		b.programs[i] = program
	}
	return b, nil
}

// Rule 返回编译所用的原始规则。
func (b *Bounds) Rule() BoundsRule {
	return b.rule
}

// Eval 针对基准参数求值，返回的区间已归一化。结果非有限值时返回 ErrInvalidBounds。
func (b *Bounds) Eval(p pricing.Params) (spot, vol AxisRange, err error) {
	env := boundsEnv(p)
	var out [4]float64
	for i, program := range b.programs {
		v, err := expr.Run(program, env)
		if err != nil {
			return AxisRange{}, AxisRange{}, xerrors.ErrInvalidBounds.WithDetail("eval %q: %v", b.sources[i], err)
		}
		f, ok := v.(float64)
		if !ok {
			return AxisRange{}, AxisRange{}, xerrors.ErrInvalidBounds.WithDetail("expression returned %T", v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return AxisRange{}, AxisRange{}, xerrors.ErrInvalidBounds.WithDetail("eval %q: non-finite result %v", b.sources[i], f)
		}
		out[i] = f
	}
	spot = AxisRange{Min: out[0], Max: out[1]}.Normalized()
	vol = AxisRange{Min: out[2], Max: out[3]}.Normalized()
	return spot, vol, nil
}

// String 便于日志输出。
func (r BoundsRule) String() string {
	return fmt.Sprintf("spot=[%s, %s] vol=[%s, %s]", r.SpotMin, r.SpotMax, r.VolMin, r.VolMax)
}
