package domain

import "time"

// Side 订单方向（二元市场：买 YES 或买 NO）
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// TIF 订单有效方式
type TIF string

const (
	TIFFoK TIF = "FOK"
	TIFGTC TIF = "GTC"
)

// OrderState 订单状态
//
// 所有权：订单记录从 Submitted 到终态由执行器独占。
// Phantom 表示 CLOB 返回成功但复核时链上/簿上均无份额。
type OrderState string

const (
	OrderSubmitted OrderState = "submitted"
	OrderMatched   OrderState = "matched"
	OrderFilled    OrderState = "filled"
	OrderPhantom   OrderState = "phantom"
	OrderFailed    OrderState = "failed"
	OrderCancelled OrderState = "cancelled"
)

// IsTerminal 是否为终态
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderPhantom, OrderFailed, OrderCancelled:
		return true
	}
	return false
}

// Order 订单领域模型
type Order struct {
	OrderID    string
	WindowID   WindowID
	TokenID    string // CLOB 资产 ID
	Side       Side
	SizeUSD    float64
	LimitPrice Price
	TIF        TIF
	State      OrderState
	Shares     float64 // 实际成交份额
	FillPrice  *Price
	CreatedAt  time.Time
	FilledAt   *time.Time
	ErrorMsg   string
}

// Position 仓位：只有订单 Filled 后才存在
type Position struct {
	WindowID    WindowID
	Side        Side
	Shares      float64
	EntryPrice  Price
	EntryTs     time.Time
	RealizedPnl *float64 // 结算后写入
}

// ResolvePnl 按二元结算写入已实现盈亏（赢 = 每份 1 USD）
func (p *Position) ResolvePnl(won bool) float64 {
	cost := p.EntryPrice.ToDecimal() * p.Shares
	var pnl float64
	if won {
		pnl = p.Shares - cost
	} else {
		pnl = -cost
	}
	p.RealizedPnl = &pnl
	return pnl
}
