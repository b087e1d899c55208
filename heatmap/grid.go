// Package heatmap 在现货价格 × 波动率平面上扫描 Black-Scholes 价格，生成看涨/看跌热力图。
//
// 每次生成都是对 n² 个网格点的完整重算，没有缓存，也没有增量更新。
package heatmap

import (
	"github.com/sourcegraph/conc/pool"
	"github.com/wyfcoding/bspricer/pricing"
	"github.com/wyfcoding/bspricer/xerrors"
)

// Grid 热力图结果。Call 与 Put 为 N×N 行主序数组：
// 行下标对应波动率轴，列下标对应现货轴，单元 (i, j) 位于 i*N+j。
type Grid struct {
	N        int       `json:"n"`
	SpotAxis []float64 `json:"spot_axis"`
	VolAxis  []float64 `json:"vol_axis"`
	Call     []float64 `json:"call"`
	Put      []float64 `json:"put"`
}

// CallAt 返回波动率行 i、现货列 j 的看涨价格。
func (g *Grid) CallAt(i, j int) float64 {
	return g.Call[i*g.N+j]
}

// PutAt 返回波动率行 i、现货列 j 的看跌价格。
func (g *Grid) PutAt(i, j int) float64 {
	return g.Put[i*g.N+j]
}

// Clone 深拷贝网格。
func (g *Grid) Clone() *Grid {
	if g == nil {
		return nil
	}
	return &Grid{
		N:        g.N,
		SpotAxis: append([]float64(nil), g.SpotAxis...),
		VolAxis:  append([]float64(nil), g.VolAxis...),
		Call:     append([]float64(nil), g.Call...),
		Put:      append([]float64(nil), g.Put...),
	}
}

// resize 将各缓冲区调整为 n 对应的长度，仅在容量不足时重新分配。
func (g *Grid) resize(n int) {
	g.N = n
	g.SpotAxis = grow(g.SpotAxis, n)
	g.VolAxis = grow(g.VolAxis, n)
	g.Call = grow(g.Call, n*n)
	g.Put = grow(g.Put, n*n)
}

func grow(buf []float64, size int) []float64 {
	if cap(buf) < size {
		return make([]float64, size)
	}
	return buf[:size]
}

// PriceFunc 定价引擎接缝，默认是 pricing.Price。
type PriceFunc func(pricing.Params) pricing.Result

// Generator 网格生成器。零值不可用，请通过 NewGenerator 创建。
type Generator struct {
	price   PriceFunc
	workers int
}

// Option 生成器配置选项。
type Option func(*Generator)

// WithPriceFunc 替换定价函数。
func WithPriceFunc(fn PriceFunc) Option {
	return func(g *Generator) {
		if fn != nil {
			g.price = fn
		}
	}
}

// WithWorkers 设置并行计算的行数上限，<= 1 表示串行。
func WithWorkers(n int) Option {
	return func(g *Generator) {
		g.workers = n
	}
}

// NewGenerator 创建网格生成器。
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{price: pricing.Price, workers: 1}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var defaultGenerator = NewGenerator()

// Generate 使用默认串行生成器生成网格。
func Generate(base pricing.Params, spot, vol AxisRange, n int) (*Grid, error) {
	return defaultGenerator.Generate(base, spot, vol, n)
}

// Generate 分配新网格并填充。
func (g *Generator) Generate(base pricing.Params, spot, vol AxisRange, n int) (*Grid, error) {
	grid := &Grid{}
	if err := g.GenerateInto(grid, base, spot, vol, n); err != nil {
		return nil, err
	}
	return grid, nil
}

// GenerateInto 将结果写入调用方持有的 dst，必要时扩容其缓冲区。
// 调用期间调用方不得并发读取 dst。
func (g *Generator) GenerateInto(dst *Grid, base pricing.Params, spot, vol AxisRange, n int) error {
	if n < 1 {
		return xerrors.ErrInvalidGridSize.WithDetail("grid size %d is below 1", n)
	}
	if spot.Inverted() {
		return xerrors.ErrInvertedRange.WithDetail("spot range [%g, %g]", spot.Min, spot.Max)
	}
	if vol.Inverted() {
		return xerrors.ErrInvertedRange.WithDetail("volatility range [%g, %g]", vol.Min, vol.Max)
	}

	dst.resize(n)
	fillLinspace(dst.SpotAxis, spot)
	fillLinspace(dst.VolAxis, vol)

	if g.workers <= 1 || n == 1 {
		for i := 0; i < n; i++ {
			g.fillRow(dst, base, i)
		}
		return nil
	}

	p := pool.New().WithMaxGoroutines(g.workers)
	for i := 0; i < n; i++ {
		row := i
		p.Go(func() {
			g.fillRow(dst, base, row)
		})
	}
	p.Wait()
	return nil
}

// fillRow 计算波动率行 i 的全部单元。各行写入互不重叠的区间。
func (g *Generator) fillRow(dst *Grid, base pricing.Params, i int) {
	n := dst.N
	cell := base
	cell.V = dst.VolAxis[i]
	for j := 0; j < n; j++ {
		cell.S = dst.SpotAxis[j]
		res := g.price(cell)
		dst.Call[i*n+j] = res.Call
		dst.Put[i*n+j] = res.Put
	}
}
