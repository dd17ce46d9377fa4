package domain

import "time"

// ArbOpportunity 跨 YES/NO 买入套利机会
//
// 触发条件：sum < 阈值（默认 0.98）且 (1-sum) >= 最小边际。
// 两腿同买，无论结算方向如何都锁定 1-sum 的毛利。
type ArbOpportunity struct {
	MarketSlug string
	Timeframe  string // "5m" / "15m" / "30m" / "1h"
	YesTokenID string
	NoTokenID  string
	PYes       float64 // best ask（YES）
	PNo        float64 // best ask（NO）
	Ts         time.Time
}

// Sum YES+NO 买入总成本
func (a ArbOpportunity) Sum() float64 { return a.PYes + a.PNo }

// EdgePct 锁定毛利（百分比）
func (a ArbOpportunity) EdgePct() float64 { return (1 - a.Sum()) * 100 }

// IsArb 在给定阈值下是否可执行
func (a ArbOpportunity) IsArb(threshold, minEdgePct float64) bool {
	s := a.Sum()
	return s > 0 && s < threshold && (1-s)*100 >= minEdgePct
}
