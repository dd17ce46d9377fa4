package domain

import "math"

// Price 市场 token 价格值对象（固定精度：1e-4）
//
// Polymarket 的 tick size 可能为 0.1 / 0.01 / 0.001 / 0.0001。
// 为了让策略/执行层不丢精度，这里使用 1e-4 作为内部最小单位（pips）：
//   - 1 pip  = 0.0001
//   - 100 pips = 0.01（1 cent）
//   - 10000 pips = 1.0
type Price struct {
	Pips int
}

// PriceFromDecimal 从小数创建价格（四舍五入到 1e-4）
func PriceFromDecimal(decimal float64) Price {
	return Price{Pips: int(math.Round(decimal * 10000))}
}

// ToDecimal 转换为小数（例如 6000 pips = 0.6000）
func (p Price) ToDecimal() float64 {
	return float64(p.Pips) / 10000.0
}

// ToCents 返回分口径的整数（用于阈值/日志展示，不是内部精度）
func (p Price) ToCents() int {
	return int(math.Round(float64(p.Pips) / 100.0))
}

func (p Price) Add(other Price) Price      { return Price{Pips: p.Pips + other.Pips} }
func (p Price) Subtract(other Price) Price { return Price{Pips: p.Pips - other.Pips} }

func (p Price) GreaterThan(other Price) bool { return p.Pips > other.Pips }
func (p Price) LessThan(other Price) bool    { return p.Pips < other.Pips }

// IsValid 价格是否落在 (0,1) 开区间内
func (p Price) IsValid() bool {
	return p.Pips > 0 && p.Pips < 10000
}
