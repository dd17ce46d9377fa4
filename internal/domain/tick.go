package domain

import "time"

// DefaultStaleMs 默认 tick 过期时间（毫秒）
const DefaultStaleMs = 30_000

// Tick 单一来源的一笔现货价格
//
// 结算预言机（Chainlink via RTDS）的 tick 是权威来源；
// 其余来源只用于偏差检测，永远不会升级为主源。
type Tick struct {
	Source      string  // "chainlink" / "rtds_binance" / "binance" / "coingecko"
	Asset       string  // 例如 "BTC"
	Price       float64 // 至少 2 位小数精度
	TimestampMs int64   // Unix 毫秒
}

// AgeAt 返回相对 now 的年龄
func (t Tick) AgeAt(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(t.TimestampMs))
}

// IsStaleAt 判断 tick 是否已过期（now - timestamp > staleMs）
func (t Tick) IsStaleAt(now time.Time, staleMs int64) bool {
	if staleMs <= 0 {
		staleMs = DefaultStaleMs
	}
	return now.UnixMilli()-t.TimestampMs > staleMs
}

// ReconciledPrice 多源对账结果
//
// Price 始终取主源价格；SpreadPct 是所有在线来源相对主源的最大偏差。
// SpreadPct > 1.0 时 Diverged 置位，由调用方决定是否采信。
type ReconciledPrice struct {
	Price     float64
	SpreadPct float64
	Sources   []string
	Diverged  bool
	Timestamp time.Time
}

// Candle 一根 K 线（指标计算用，1 分钟粒度）
type Candle struct {
	Timestamp int64 // 开盘时间（Unix 秒）
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
