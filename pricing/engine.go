// Package pricing - 欧式期权 Black-Scholes 定价与希腊字母。
//
// 定价是纯函数：不返回错误、不持有状态。非正的 S、K、T、v 会被静默钳制到 Epsilon，
// 利率 r 允许为负且从不钳制。需要提示用户时可通过 Evaluate 获取钳制标记。
package pricing

import (
	"math"
	"strings"
)

// Epsilon 定价输入的最小正值。
const Epsilon = 1e-12

// Params Black-Scholes 模型输入。
type Params struct {
	S float64 `json:"spot"`       // 标的资产价格
	K float64 `json:"strike"`     // 执行价格
	T float64 `json:"maturity"`   // 到期时间 (年)
	V float64 `json:"volatility"` // 年化波动率
	R float64 `json:"rate"`       // 连续复利无风险利率
}

// DefaultParams 返回参考默认输入：S=100, K=100, T=1, v=0.2, r=0.05。
func DefaultParams() Params {
	return Params{S: 100, K: 100, T: 1, V: 0.2, R: 0.05}
}

// Result Black-Scholes 模型输出。
type Result struct {
	Call      float64 `json:"call"`
	Put       float64 `json:"put"`
	CallDelta float64 `json:"call_delta"`
	PutDelta  float64 `json:"put_delta"`
	Gamma     float64 `json:"gamma"` // 看涨与看跌共享
}

// Clamp 标记哪些输入被钳制到 Epsilon。
type Clamp uint8

const (
	ClampSpot Clamp = 1 << iota
	ClampStrike
	ClampMaturity
	ClampVolatility
)

var clampNames = []struct {
	flag Clamp
	name string
}{
	{ClampSpot, "spot"},
	{ClampStrike, "strike"},
	{ClampMaturity, "maturity"},
	{ClampVolatility, "volatility"},
}

// Any 是否有任一输入被钳制。
func (c Clamp) Any() bool {
	return c != 0
}

// Fields 返回被钳制字段的名称，按 S、K、T、v 顺序。
func (c Clamp) Fields() []string {
	fields := make([]string, 0, len(clampNames))
	for _, n := range clampNames {
		if c&n.flag != 0 {
			fields = append(fields, n.name)
		}
	}
	return fields
}

func (c Clamp) String() string {
	if c == 0 {
		return "none"
	}
	return strings.Join(c.Fields(), "|")
}

// Price 计算看涨/看跌价格、Delta 与 Gamma。对任意输入都返回结果。
func Price(p Params) Result {
	res, _ := Evaluate(p)
	return res
}

// Evaluate 与 Price 数值完全一致，额外返回钳制标记。
func Evaluate(p Params) (Result, Clamp) {
	var clamped Clamp
	s := clampInput(p.S, ClampSpot, &clamped)
	k := clampInput(p.K, ClampStrike, &clamped)
	t := clampInput(p.T, ClampMaturity, &clamped)
	v := clampInput(p.V, ClampVolatility, &clamped)
	r := p.R

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r+0.5*v*v)*t) / (v * sqrtT)
	d2 := d1 - v*sqrtT

	disc := math.Exp(-r * t)

	callDelta := NormCDF(d1)

	return Result{
		Call:      s*NormCDF(d1) - k*disc*NormCDF(d2),
		Put:       k*disc*NormCDF(-d2) - s*NormCDF(-d1),
		CallDelta: callDelta,
		PutDelta:  callDelta - 1,
		Gamma:     NormPDF(d1) / (s * v * sqrtT),
	}, clamped
}

// clampInput 取 max(x, Epsilon)，NaN 原样透传。
func clampInput(x float64, flag Clamp, clamped *Clamp) float64 {
	if x < Epsilon {
		*clamped |= flag
		return Epsilon
	}
	return x
}
