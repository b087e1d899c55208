package pricing

import "math"

// invSqrt2Pi 为 1/sqrt(2π)。
const invSqrt2Pi = 0.39894228040143267794

// NormPDF 标准正态分布概率密度函数。
func NormPDF(x float64) float64 {
	return invSqrt2Pi * math.Exp(-0.5*x*x)
}

// NormCDF 标准正态分布累积分布函数，基于误差函数计算。
func NormCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
