package session

import (
	"github.com/wyfcoding/bspricer/heatmap"
	"github.com/wyfcoding/bspricer/pricing"
)

// DefaultSize 初始网格边长。
const DefaultSize = 10

// State 会话的全部输入：单点定价参数与热力图配置。
type State struct {
	Params pricing.Params    `json:"params"`
	Spot   heatmap.AxisRange `json:"spot_range"`
	Vol    heatmap.AxisRange `json:"vol_range"`
	Size   int               `json:"size"`
}

// DefaultState 默认参数 S=100, K=100, T=1, v=0.2, r=0.05，扫描区间取基准的 0.8~1.2 倍与 0.5~1.5 倍。
func DefaultState() State {
	p := pricing.DefaultParams()
	return State{
		Params: p,
		Spot:   heatmap.AxisRange{Min: p.S * 0.8, Max: p.S * 1.2},
		Vol:    heatmap.AxisRange{Min: p.V * 0.5, Max: p.V * 1.5},
		Size:   DefaultSize,
	}
}

// Update 局部更新，nil 字段保持原值。
type Update struct {
	Spot       *float64 `json:"spot,omitempty"`
	Strike     *float64 `json:"strike,omitempty"`
	Maturity   *float64 `json:"maturity,omitempty"`
	Volatility *float64 `json:"volatility,omitempty"`
	Rate       *float64 `json:"rate,omitempty"`

	SpotMin *float64 `json:"spot_min,omitempty"`
	SpotMax *float64 `json:"spot_max,omitempty"`
	VolMin  *float64 `json:"vol_min,omitempty"`
	VolMax  *float64 `json:"vol_max,omitempty"`
	Size    *int     `json:"size,omitempty"`

	// RebaseBounds 为 true 时按边界规则以新的基准参数重新推导扫描区间，显式给出的区间字段优先。
	RebaseBounds bool `json:"rebase_bounds,omitempty"`
}

// Empty 是否没有任何字段。
func (u Update) Empty() bool {
	return u.Spot == nil && u.Strike == nil && u.Maturity == nil && u.Volatility == nil && u.Rate == nil &&
		u.SpotMin == nil && u.SpotMax == nil && u.VolMin == nil && u.VolMax == nil && u.Size == nil &&
		!u.RebaseBounds
}

func setIf(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func (u Update) applyParams(p *pricing.Params) {
	setIf(&p.S, u.Spot)
	setIf(&p.K, u.Strike)
	setIf(&p.T, u.Maturity)
	setIf(&p.V, u.Volatility)
	setIf(&p.R, u.Rate)
}

func (u Update) applyRanges(spot, vol *heatmap.AxisRange) {
	setIf(&spot.Min, u.SpotMin)
	setIf(&spot.Max, u.SpotMax)
	setIf(&vol.Min, u.VolMin)
	setIf(&vol.Max, u.VolMax)
}
