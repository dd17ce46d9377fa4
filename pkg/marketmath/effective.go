package marketmath

import "fmt"

// TopOfBook 表示 YES/NO 的一档盘口（单位：pips = price * 10000）。
//
// Polymarket 的 tick size 可能为 0.0001，因此用 pips 表达能覆盖所有 tick。
type TopOfBook struct {
	YesBidPips int
	YesAskPips int
	NoBidPips  int
	NoAskPips  int
}

func (t TopOfBook) Validate() error {
	// 允许单边为 0（表示缺失），但不能全缺。
	if t.YesBidPips <= 0 && t.YesAskPips <= 0 && t.NoBidPips <= 0 && t.NoAskPips <= 0 {
		return fmt.Errorf("top-of-book is empty")
	}
	check := func(name string, v int) error {
		if v == 0 {
			return nil
		}
		if v < 0 || v > 10000 {
			return fmt.Errorf("%s out of range: %d", name, v)
		}
		return nil
	}
	if err := check("yesBidPips", t.YesBidPips); err != nil {
		return err
	}
	if err := check("yesAskPips", t.YesAskPips); err != nil {
		return err
	}
	if err := check("noBidPips", t.NoBidPips); err != nil {
		return err
	}
	return check("noAskPips", t.NoAskPips)
}

// EffectivePrices 有效价格（考虑订单簿镜像特性）。
//
// 核心等价关系：
//   Buy YES @ P  ≡  Sell NO @ (1-P)
//   Buy NO  @ P  ≡  Sell YES @ (1-P)
//
// 买入某一侧的有效成本要同时看该 token 的 ask 和对侧 bid 的镜像价。
type EffectivePrices struct {
	EffectiveBuyYesPips  int
	EffectiveBuyNoPips   int
	EffectiveSellYesPips int
	EffectiveSellNoPips  int
}

// GetEffectivePrices 计算有效价格（pips）。
func GetEffectivePrices(t TopOfBook) (EffectivePrices, error) {
	if err := t.Validate(); err != nil {
		return EffectivePrices{}, err
	}

	minPos := func(a, b int) int {
		if a <= 0 {
			return b
		}
		if b <= 0 {
			return a
		}
		if a < b {
			return a
		}
		return b
	}
	maxPos := func(a, b int) int {
		if a <= 0 {
			return b
		}
		if b <= 0 {
			return a
		}
		if a > b {
			return a
		}
		return b
	}
	mirror := func(pips int) int {
		if pips <= 0 {
			return 0
		}
		return 10000 - pips
	}

	return EffectivePrices{
		// 买 YES：min(YES.ask, 1 - NO.bid)
		EffectiveBuyYesPips: minPos(t.YesAskPips, mirror(t.NoBidPips)),
		// 买 NO：min(NO.ask, 1 - YES.bid)
		EffectiveBuyNoPips: minPos(t.NoAskPips, mirror(t.YesBidPips)),
		// 卖 YES：max(YES.bid, 1 - NO.ask)
		EffectiveSellYesPips: maxPos(t.YesBidPips, mirror(t.NoAskPips)),
		// 卖 NO：max(NO.bid, 1 - YES.ask)
		EffectiveSellNoPips: maxPos(t.NoBidPips, mirror(t.YesAskPips)),
	}, nil
}

// LongArb complete-set 买入套利：Buy YES + Buy NO < 1。
//
// thresholdPips: 触发阈值（例如 9800 = 0.98）
// minEdgePips:   最小边际（例如 100 = 1%）
type LongArb struct {
	CostPips   int // 两腿买入总成本
	ProfitPips int // 10000 - cost
	BuyYesPips int
	BuyNoPips  int
}

// CheckLongArb 用有效价格判断是否存在可执行的买入套利。
// 不满足触发条件时返回 nil。
func CheckLongArb(t TopOfBook, thresholdPips, minEdgePips int) (*LongArb, error) {
	eff, err := GetEffectivePrices(t)
	if err != nil {
		return nil, err
	}
	if eff.EffectiveBuyYesPips <= 0 || eff.EffectiveBuyNoPips <= 0 {
		return nil, nil
	}
	cost := eff.EffectiveBuyYesPips + eff.EffectiveBuyNoPips
	profit := 10000 - cost
	if cost >= thresholdPips || profit < minEdgePips {
		return nil, nil
	}
	return &LongArb{
		CostPips:   cost,
		ProfitPips: profit,
		BuyYesPips: eff.EffectiveBuyYesPips,
		BuyNoPips:  eff.EffectiveBuyNoPips,
	}, nil
}
