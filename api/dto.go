package api

import (
	"encoding/json"
	"math"
	"time"

	"github.com/wyfcoding/bspricer/heatmap"
	"github.com/wyfcoding/bspricer/pricing"
	"github.com/wyfcoding/bspricer/session"
)

// PriceRequest 单点定价请求，缺省字段取服务默认值。
type PriceRequest struct {
	Spot       *float64 `json:"spot"`
	Strike     *float64 `json:"strike"`
	Maturity   *float64 `json:"maturity"`
	Volatility *float64 `json:"volatility"`
	Rate       *float64 `json:"rate"`
}

// Params 以 base 为底合并请求字段。
func (r PriceRequest) Params(base pricing.Params) pricing.Params {
	p := base
	if r.Spot != nil {
		p.S = *r.Spot
	}
	if r.Strike != nil {
		p.K = *r.Strike
	}
	if r.Maturity != nil {
		p.T = *r.Maturity
	}
	if r.Volatility != nil {
		p.V = *r.Volatility
	}
	if r.Rate != nil {
		p.R = *r.Rate
	}
	return p
}

// Number 计算结果的线上表示，NaN 与 ±Inf 编码为 null。
type Number float64

// MarshalJSON 实现 json.Marshaler。
func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func numbers(values []float64) []Number {
	if values == nil {
		return nil
	}
	out := make([]Number, len(values))
	for i, v := range values {
		out[i] = Number(v)
	}
	return out
}

// ResultView 单点定价结果的线上视图。
type ResultView struct {
	Call      Number `json:"call"`
	Put       Number `json:"put"`
	CallDelta Number `json:"call_delta"`
	PutDelta  Number `json:"put_delta"`
	Gamma     Number `json:"gamma"`
}

func newResultView(r pricing.Result) ResultView {
	return ResultView{
		Call:      Number(r.Call),
		Put:       Number(r.Put),
		CallDelta: Number(r.CallDelta),
		PutDelta:  Number(r.PutDelta),
		Gamma:     Number(r.Gamma),
	}
}

// GridView 网格的线上视图，布局与 heatmap.Grid 相同。
type GridView struct {
	N        int      `json:"n"`
	SpotAxis []Number `json:"spot_axis"`
	VolAxis  []Number `json:"vol_axis"`
	Call     []Number `json:"call"`
	Put      []Number `json:"put"`
}

// NewGridView g 为 nil 时返回 nil。
func NewGridView(g *heatmap.Grid) *GridView {
	if g == nil {
		return nil
	}
	return &GridView{
		N:        g.N,
		SpotAxis: numbers(g.SpotAxis),
		VolAxis:  numbers(g.VolAxis),
		Call:     numbers(g.Call),
		Put:      numbers(g.Put),
	}
}

// PriceResponse 单点定价结果。
type PriceResponse struct {
	Params  pricing.Params `json:"params"`
	Result  ResultView     `json:"result"`
	Quote   pricing.Quote  `json:"quote"`
	Clamped []string       `json:"clamped"`
}

// NewPriceResponse 组装单点定价结果。
func NewPriceResponse(p pricing.Params, r pricing.Result, q pricing.Quote, clamp pricing.Clamp) PriceResponse {
	return PriceResponse{
		Params:  p,
		Result:  newResultView(r),
		Quote:   q,
		Clamped: clamp.Fields(),
	}
}

// HeatmapRequest 无状态热力图请求。
type HeatmapRequest struct {
	PriceRequest
	SpotRange *heatmap.AxisRange `json:"spot_range"`
	VolRange  *heatmap.AxisRange `json:"vol_range"`
	Size      int                `json:"size" binding:"omitempty,min=1"`
}

// Extent 网格取值范围，用于着色。没有有限值时两端为 null。
type Extent struct {
	Min Number `json:"min"`
	Max Number `json:"max"`
}

func extentOf(values []float64) Extent {
	lo, hi := math.NaN(), math.NaN()
	seen := false
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if !seen {
			lo, hi = v, v
			seen = true
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return Extent{Min: Number(lo), Max: Number(hi)}
}

// HeatmapResponse 网格及其看涨/看跌取值范围。
type HeatmapResponse struct {
	Params     pricing.Params `json:"params"`
	Grid       *GridView      `json:"grid"`
	CallExtent Extent         `json:"call_extent"`
	PutExtent  Extent         `json:"put_extent"`
}

// NewHeatmapResponse 组装热力图结果。
func NewHeatmapResponse(p pricing.Params, g *heatmap.Grid) HeatmapResponse {
	return HeatmapResponse{
		Params:     p,
		Grid:       NewGridView(g),
		CallExtent: extentOf(g.Call),
		PutExtent:  extentOf(g.Put),
	}
}

// SessionView 会话快照的对外视图。
type SessionView struct {
	Version    uint64        `json:"version"`
	State      session.State `json:"state"`
	Result     ResultView    `json:"result"`
	Quote      pricing.Quote `json:"quote"`
	Clamped    []string      `json:"clamped"`
	Grid       *GridView     `json:"grid"`
	UpdatedAt  time.Time     `json:"updated_at"`
	CallExtent Extent        `json:"call_extent"`
	PutExtent  Extent        `json:"put_extent"`
}

func newSessionView(s session.Snapshot) SessionView {
	v := SessionView{
		Version:   s.Version,
		State:     s.State,
		Result:    newResultView(s.Result),
		Quote:     s.Quote,
		Clamped:   s.Clamped,
		Grid:      NewGridView(s.Grid),
		UpdatedAt: s.UpdatedAt,
	}
	if s.Grid != nil {
		v.CallExtent = extentOf(s.Grid.Call)
		v.PutExtent = extentOf(s.Grid.Put)
	}
	return v
}

// DefaultsResponse 默认输入与尺寸限制。
type DefaultsResponse struct {
	Params  pricing.Params     `json:"params"`
	Bounds  heatmap.BoundsRule `json:"bounds"`
	Size    int                `json:"size"`
	MinSize int                `json:"min_size"`
	MaxSize int                `json:"max_size"`
}
