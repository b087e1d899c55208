package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

// Quote 用于展示的定价结果，按指定小数位四舍五入。
type Quote struct {
	Call      decimal.Decimal `json:"call"`
	Put       decimal.Decimal `json:"put"`
	CallDelta decimal.Decimal `json:"call_delta"`
	PutDelta  decimal.Decimal `json:"put_delta"`
	Gamma     decimal.Decimal `json:"gamma"`
}

// Quote 将价格按 pricePlaces 位、希腊字母按 greekPlaces 位舍入。
// 非有限值 (NaN/Inf) 无法转为 decimal，此时对应字段为零。
func (r Result) Quote(pricePlaces, greekPlaces int32) Quote {
	return Quote{
		Call:      toDecimal(r.Call, pricePlaces),
		Put:       toDecimal(r.Put, pricePlaces),
		CallDelta: toDecimal(r.CallDelta, greekPlaces),
		PutDelta:  toDecimal(r.PutDelta, greekPlaces),
		Gamma:     toDecimal(r.Gamma, greekPlaces),
	}
}

func toDecimal(x float64, places int32) decimal.Decimal {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(x).Round(places)
}
