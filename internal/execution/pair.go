package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/oraclebot/clob"
	"github.com/betbot/oraclebot/internal/domain"
)

// PairRequest 套利双腿请求：同时买入 YES 和 NO
type PairRequest struct {
	WindowID domain.WindowID
	Market   *domain.Market
	YesPrice domain.Price
	NoPrice  domain.Price
	SizeUSD  float64 // 每腿
}

// PairResult 双腿结果
type PairResult struct {
	YesOrder   *domain.Order
	NoOrder    *domain.Order
	BothFilled bool
	RolledBack bool
}

// SubmitPair 原子化提交双腿：两腿并发 FAK。
// 只有一腿成交时立即对已成交腿提交反向单回滚，敞口不过夜。
func (e *Executor) SubmitPair(ctx context.Context, req PairRequest) (*PairResult, error) {
	if req.Market == nil || !req.Market.IsValid() {
		return nil, fmt.Errorf("无效市场")
	}
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	type legOut struct {
		order  *domain.Order
		filled bool
		err    error
	}

	runLeg := func(side domain.Side, price domain.Price) legOut {
		tokenID := req.Market.TokenIDForSide(side)
		shares := req.SizeUSD / price.ToDecimal()
		order := &domain.Order{
			WindowID:   req.WindowID,
			TokenID:    tokenID,
			Side:       side,
			SizeUSD:    req.SizeUSD,
			LimitPrice: price,
			TIF:        domain.TIFFoK,
			State:      domain.OrderSubmitted,
			Shares:     shares,
			CreatedAt:  time.Now(),
		}
		signed, err := e.api.BuildSignedOrder(tokenID, clob.SideBuy, price.ToDecimal(), shares, req.Market.FeeRateBps, false)
		if err != nil {
			order.State = domain.OrderFailed
			order.ErrorMsg = err.Error()
			return legOut{order: order, err: err}
		}
		postCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		resp, err := e.api.PostOrder(postCtx, signed, clob.OrderTypeFAK)
		if err != nil {
			order.State = domain.OrderFailed
			order.ErrorMsg = err.Error()
			return legOut{order: order, err: err}
		}
		if resp.OrderID != "" {
			order.OrderID = resp.OrderID
		}
		if resp.Success || filledStatus(resp.Status) {
			order.State = domain.OrderFilled
			now := time.Now()
			order.FilledAt = &now
			fill := price
			order.FillPrice = &fill
			return legOut{order: order, filled: true}
		}
		order.State = domain.OrderFailed
		order.ErrorMsg = resp.ErrorMsg
		return legOut{order: order}
	}

	// 两腿并发，减少跨腿时差
	var wg sync.WaitGroup
	var yes, no legOut
	wg.Add(2)
	go func() { defer wg.Done(); yes = runLeg(domain.SideYes, req.YesPrice) }()
	go func() { defer wg.Done(); no = runLeg(domain.SideNo, req.NoPrice) }()
	wg.Wait()

	e.record(yes.order)
	e.record(no.order)

	result := &PairResult{YesOrder: yes.order, NoOrder: no.order}
	if yes.filled && no.filled {
		result.BothFilled = true
		return result, nil
	}
	if !yes.filled && !no.filled {
		return result, fmt.Errorf("双腿均未成交")
	}

	// 单腿成交 → 反向单回滚（数量对齐已成交腿；回滚不记入任何风控桶）
	filledLeg := yes.order
	if no.filled {
		filledLeg = no.order
	}
	log.Warnf("套利单腿成交 (%s) — 提交反向单回滚", filledLeg.Side)
	if err := e.rollbackLeg(ctx, req.Market, filledLeg); err != nil {
		return result, fmt.Errorf("回滚失败: %w", err)
	}
	result.RolledBack = true
	return result, nil
}

// rollbackLeg 卖出已成交腿（FAK，贴着 bid 报价保证成交）
func (e *Executor) rollbackLeg(ctx context.Context, market *domain.Market, leg *domain.Order) error {
	bid, _, err := e.api.BestPrices(ctx, leg.TokenID)
	if err != nil {
		return err
	}
	if bid <= 0 {
		return fmt.Errorf("无买盘，无法回滚")
	}
	signed, err := e.api.BuildSignedOrder(leg.TokenID, clob.SideSell, bid, leg.Shares, market.FeeRateBps, false)
	if err != nil {
		return err
	}
	postCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := e.api.PostOrder(postCtx, signed, clob.OrderTypeFAK)
	if err != nil {
		return err
	}
	if !resp.Success && !filledStatus(resp.Status) {
		return fmt.Errorf("回滚单被拒: %s", resp.ErrorMsg)
	}
	return nil
}
