package heatmap

// AxisRange 单个扫描维度的闭区间 [Min, Max]。
type AxisRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Inverted 下界是否大于上界。
func (r AxisRange) Inverted() bool {
	return r.Min > r.Max
}

// Normalized 返回上下界有序的副本。生成器不会自行调用，归一化由调用方负责。
func (r AxisRange) Normalized() AxisRange {
	if r.Inverted() {
		return AxisRange{Min: r.Max, Max: r.Min}
	}
	return r
}

// Linspace 在 r 上生成 n 个等距采样点。
// n == 1 时只返回 Min；n > 1 时首元素为 Min，末元素精确等于 Max；n < 1 返回 nil。
func Linspace(r AxisRange, n int) []float64 {
	if n < 1 {
		return nil
	}
	out := make([]float64, n)
	fillLinspace(out, r)
	return out
}

func fillLinspace(dst []float64, r AxisRange) {
	n := len(dst)
	if n == 0 {
		return
	}
	dst[0] = r.Min
	if n == 1 {
		return
	}
	step := (r.Max - r.Min) / float64(n-1)
	for i := 1; i < n-1; i++ {
		dst[i] = r.Min + step*float64(i)
	}
	dst[n-1] = r.Max
}
