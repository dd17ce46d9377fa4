package execution

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polymarket/go-order-utils/pkg/model"
	"github.com/sirupsen/logrus"

	"github.com/betbot/oraclebot/clob"
	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/config"
)

var log = logrus.WithField("component", "executor")

// ClobAPI 执行器依赖的 CLOB 能力面（测试用 stub 替换）
type ClobAPI interface {
	BuildSignedOrder(tokenID string, side clob.Side, price, size float64, feeRateBps int, negRisk bool) (*model.SignedOrder, error)
	PostOrder(ctx context.Context, signed *model.SignedOrder, orderType clob.OrderType) (*clob.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context) error
	GetOrder(ctx context.Context, orderID string) (*clob.OpenOrder, error)
	BestPrices(ctx context.Context, tokenID string) (bestBid, bestAsk float64, err error)
}

// Recorder 成交落盘回调（sqlite + JSONL 由 storage 层实现）
type Recorder interface {
	RecordOrder(order *domain.Order)
	RecordPosition(pos *domain.Position)
}

// 成交复核节奏：成功响应后 3s 查一次，未确认再等 2s 查第二次
var verifyDelays = []time.Duration{3 * time.Second, 2 * time.Second}

// gtcFillWait GTC 兜底单等待成交的时长，超时撤单
const gtcFillWait = 10 * time.Second

// Executor 订单执行器。
//
// 同一钱包的提交串行化（避免 nonce 竞争），并发调用方在锁上排队；
// 套利双腿在同一次持锁内并发下单。
// 订单记录从 Submitted 到终态由执行器独占。
type Executor struct {
	api ClobAPI
	cfg config.ClobConfig

	submitMu sync.Mutex

	openMu     sync.Mutex
	openOrders map[string]*domain.Order

	recorder Recorder

	// sleepFn 测试注入（压缩复核等待）
	sleepFn func(ctx context.Context, d time.Duration) error
}

// New 创建执行器
func New(api ClobAPI, cfg config.ClobConfig, recorder Recorder) *Executor {
	return &Executor{
		api:        api,
		cfg:        cfg,
		openOrders: make(map[string]*domain.Order),
		recorder:   recorder,
		sleepFn:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Request 一次下单请求
type Request struct {
	WindowID domain.WindowID
	Market   *domain.Market
	Side     domain.Side
	SizeUSD  float64
	// LimitPrice 可选；零值时按盘口 ask + 滑点带计算
	LimitPrice domain.Price
	// SkipFoK 直接 GTC（做市单用）
	SkipFoK bool
}

// Result 执行结果
type Result struct {
	Order    *domain.Order
	Position *domain.Position
}

// EstimatedFeePct 费率估计（%）：50c 处最高，向两端衰减。
// fee(p) = fallback × 4 × p × (1-p)
func (e *Executor) EstimatedFeePct(price float64) float64 {
	if price <= 0 || price >= 1 {
		return 0
	}
	return e.cfg.FeeFallbackPct * 4 * price * (1 - price)
}

// FeeForMarket 用 YES 盘口中间价估计本市场费率（%）；盘口不可用时
// 退回 50c 最坏情况
func (e *Executor) FeeForMarket(ctx context.Context, market *domain.Market) float64 {
	if market == nil {
		return e.cfg.FeeFallbackPct
	}
	bid, ask, err := e.api.BestPrices(ctx, market.YesTokenID)
	if err != nil || bid <= 0 || ask <= 0 {
		return e.cfg.FeeFallbackPct
	}
	return e.EstimatedFeePct((bid + ask) / 2)
}

// Submit 提交订单：先 FoK（滑点带内限价），不成交则同价转 GTC。
// 成交后做两段复核；成功响应但簿上无份额 → Phantom，不建仓。
func (e *Executor) Submit(ctx context.Context, req Request) (*Result, error) {
	if req.Market == nil || !req.Market.IsValid() {
		return nil, fmt.Errorf("无效市场")
	}
	if req.SizeUSD <= 0 {
		return nil, fmt.Errorf("无效金额: %.2f", req.SizeUSD)
	}

	tokenID := req.Market.TokenIDForSide(req.Side)

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	limit := req.LimitPrice
	if limit.Pips == 0 {
		p, err := e.limitWithinBand(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		limit = p
	}
	if !limit.IsValid() {
		return nil, fmt.Errorf("限价越界: %d pips", limit.Pips)
	}

	shares := req.SizeUSD / limit.ToDecimal()
	order := &domain.Order{
		OrderID:    uuid.NewString(), // 提交失败时也有可追踪 ID；成功后替换为 CLOB ID
		WindowID:   req.WindowID,
		TokenID:    tokenID,
		Side:       req.Side,
		SizeUSD:    req.SizeUSD,
		LimitPrice: limit,
		TIF:        domain.TIFFoK,
		State:      domain.OrderSubmitted,
		Shares:     shares,
		CreatedAt:  time.Now(),
	}

	var resp *clob.OrderResponse
	var err error

	if !req.SkipFoK {
		resp, err = e.post(ctx, tokenID, limit, shares, req.Market, clob.OrderTypeFOK)
		if err != nil {
			log.Warnf("FoK 提交失败: %v — 同价转 GTC", err)
		} else if !filledStatus(resp.Status) && !resp.Success {
			log.Warnf("FoK 未成交 (status=%s) — 同价转 GTC", resp.Status)
			resp = nil
		}
	}

	if resp == nil {
		order.TIF = domain.TIFGTC
		resp, err = e.post(ctx, tokenID, limit, shares, req.Market, clob.OrderTypeGTC)
		if err != nil {
			order.State = domain.OrderFailed
			order.ErrorMsg = err.Error()
			e.record(order)
			return &Result{Order: order}, err
		}
	}

	if resp.OrderID != "" {
		order.OrderID = resp.OrderID
	}
	if resp.ErrorMsg != "" && !resp.Success && !liveStatus(resp.Status) && !filledStatus(resp.Status) {
		order.State = domain.OrderFailed
		order.ErrorMsg = resp.ErrorMsg
		e.record(order)
		return &Result{Order: order}, fmt.Errorf("订单被拒: %s", resp.ErrorMsg)
	}

	// GTC 还挂在簿上：限时等成交，超时撤单
	if order.TIF == domain.TIFGTC && liveStatus(resp.Status) && !resp.Success {
		e.trackOpen(order)
		filled, err := e.waitGTCFill(ctx, order)
		e.untrackOpen(order.OrderID)
		if err != nil {
			return &Result{Order: order}, err
		}
		if !filled {
			order.State = domain.OrderCancelled
			e.record(order)
			return &Result{Order: order}, nil
		}
	}

	order.State = domain.OrderMatched
	return e.verifyFill(ctx, order)
}

// limitWithinBand 盘口 ask，封顶在 mid × (1 + 滑点带)
func (e *Executor) limitWithinBand(ctx context.Context, tokenID string) (domain.Price, error) {
	bid, ask, err := e.api.BestPrices(ctx, tokenID)
	if err != nil {
		return domain.Price{}, fmt.Errorf("获取盘口失败: %w", err)
	}
	if ask <= 0 || bid <= 0 {
		return domain.Price{}, fmt.Errorf("盘口缺失 (bid=%.4f ask=%.4f)", bid, ask)
	}
	mid := (bid + ask) / 2
	maxPrice := mid * (1 + e.cfg.MaxSlippagePct/100)
	price := ask
	if price > maxPrice {
		price = maxPrice
	}
	if price >= 1 {
		price = 0.99
	}
	return domain.PriceFromDecimal(price), nil
}

func (e *Executor) post(ctx context.Context, tokenID string, limit domain.Price, shares float64, market *domain.Market, orderType clob.OrderType) (*clob.OrderResponse, error) {
	signed, err := e.api.BuildSignedOrder(tokenID, clob.SideBuy, limit.ToDecimal(), shares, market.FeeRateBps, false)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	timeout := 5 * time.Second
	if orderType == clob.OrderTypeFOK && e.cfg.FoKTimeoutMs > 0 {
		timeout = time.Duration(e.cfg.FoKTimeoutMs) * time.Millisecond
	}
	postCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.api.PostOrder(postCtx, signed, orderType)
}

// waitGTCFill 等待 GTC 兜底单成交；超时撤单。撤单失败视为已成交再核一次。
func (e *Executor) waitGTCFill(ctx context.Context, order *domain.Order) (bool, error) {
	if err := e.sleepFn(ctx, gtcFillWait); err != nil {
		return false, err
	}
	info, err := e.getOrder(ctx, order.OrderID)
	if err == nil && info != nil && filledStatus(info.Status) {
		return true, nil
	}
	if err := e.cancel(ctx, order.OrderID); err != nil {
		// 撤单失败 — 可能在撤单瞬间成交了
		info, err2 := e.getOrder(ctx, order.OrderID)
		if err2 == nil && info != nil && filledStatus(info.Status) {
			return true, nil
		}
		log.Errorf("GTC 订单悬置: %s — 不记录仓位", shortID(order.OrderID))
		order.State = domain.OrderFailed
		order.ErrorMsg = "gtc limbo"
		e.record(order)
		return false, fmt.Errorf("GTC 订单状态无法确认: %w", err)
	}
	log.Warnf("GTC %s 后未成交 — 已撤单", gtcFillWait)
	return false, nil
}

// verifyFill 两段成交复核。
// CLOB 可能返回 success=true 但结算失败：等 3s 查一次，仍未确认等 2s
// 再查。两次都看不到份额 → Phantom，不建仓，报错。
func (e *Executor) verifyFill(ctx context.Context, order *domain.Order) (*Result, error) {
	for i, delay := range verifyDelays {
		if err := e.sleepFn(ctx, delay); err != nil {
			return &Result{Order: order}, err
		}
		info, err := e.getOrder(ctx, order.OrderID)
		if err != nil {
			log.Warnf("成交复核 %d 失败: %v", i+1, err)
			continue
		}
		if info != nil && filledStatus(info.Status) {
			shares := order.Shares
			if v, err := strconv.ParseFloat(info.SizeMatched, 64); err == nil && v > 0 {
				shares = v
			}
			now := time.Now()
			order.State = domain.OrderFilled
			order.Shares = shares
			order.FilledAt = &now
			fill := order.LimitPrice
			order.FillPrice = &fill
			e.record(order)

			pos := &domain.Position{
				WindowID:   order.WindowID,
				Side:       order.Side,
				Shares:     shares,
				EntryPrice: fill,
				EntryTs:    now,
			}
			if e.recorder != nil {
				e.recorder.RecordPosition(pos)
			}
			log.Infof("成交确认: %s %s $%.2f @ %.4f shares=%.2f", order.WindowID, order.Side, order.SizeUSD, fill.ToDecimal(), shares)
			return &Result{Order: order, Position: pos}, nil
		}
	}

	order.State = domain.OrderPhantom
	order.ErrorMsg = "phantom fill: success response but no shares on book"
	e.record(order)
	log.Errorf("幽灵成交: %s — CLOB 报成功但两次复核无份额，不记录仓位", shortID(order.OrderID))
	return &Result{Order: order}, fmt.Errorf("phantom fill: order %s", shortID(order.OrderID))
}

// PlaceQuote 做市挂单：直接 GTC 限价，不走 FoK 阶梯也不做成交复核
// （报价单大部分时间就该安静地挂着）。调用方负责撤单节奏。
func (e *Executor) PlaceQuote(ctx context.Context, market *domain.Market, side domain.Side, price domain.Price, sizeUSD float64) (*domain.Order, error) {
	if market == nil || !market.IsValid() {
		return nil, fmt.Errorf("无效市场")
	}
	if !price.IsValid() {
		return nil, fmt.Errorf("报价越界: %d pips", price.Pips)
	}

	tokenID := market.TokenIDForSide(side)
	shares := sizeUSD / price.ToDecimal()

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	resp, err := e.post(ctx, tokenID, price, shares, market, clob.OrderTypeGTC)
	if err != nil {
		return nil, err
	}
	if resp.OrderID == "" {
		return nil, fmt.Errorf("报价被拒: %s", resp.ErrorMsg)
	}

	order := &domain.Order{
		OrderID:    resp.OrderID,
		WindowID:   market.WindowIDFor(),
		TokenID:    tokenID,
		Side:       side,
		SizeUSD:    sizeUSD,
		LimitPrice: price,
		TIF:        domain.TIFGTC,
		State:      domain.OrderSubmitted,
		Shares:     shares,
		CreatedAt:  time.Now(),
	}
	e.trackOpen(order)
	e.record(order)
	return order, nil
}

// CancelQuote 撤销做市挂单
func (e *Executor) CancelQuote(ctx context.Context, orderID string) error {
	err := e.cancel(ctx, orderID)
	e.untrackOpen(orderID)
	return err
}

// QuoteStatus 查询挂单成交进度（做市库存跟踪用）
func (e *Executor) QuoteStatus(ctx context.Context, orderID string) (filledShares float64, filled bool, err error) {
	info, err := e.getOrder(ctx, orderID)
	if err != nil || info == nil {
		return 0, false, err
	}
	if v, perr := strconv.ParseFloat(info.SizeMatched, 64); perr == nil {
		filledShares = v
	}
	return filledShares, filledStatus(info.Status), nil
}

// CancelOpen 撤销全部在跟踪的挂单（关停/做市拉单用）
func (e *Executor) CancelOpen(ctx context.Context) {
	e.openMu.Lock()
	ids := make([]string, 0, len(e.openOrders))
	for id := range e.openOrders {
		ids = append(ids, id)
	}
	e.openMu.Unlock()

	for _, id := range ids {
		if err := e.cancel(ctx, id); err != nil {
			log.Warnf("关停撤单失败 %s: %v", shortID(id), err)
		}
		e.untrackOpen(id)
	}
}

// Shutdown 退出前 best-effort 撤销所有 CLOB 挂单
func (e *Executor) Shutdown(ctx context.Context) {
	e.CancelOpen(ctx)
	if err := e.api.CancelAll(ctx); err != nil {
		log.Warnf("cancel-all 失败: %v", err)
	}
}

func (e *Executor) getOrder(ctx context.Context, orderID string) (*clob.OpenOrder, error) {
	pollCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return e.api.GetOrder(pollCtx, orderID)
}

func (e *Executor) cancel(ctx context.Context, orderID string) error {
	cancelCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return e.api.CancelOrder(cancelCtx, orderID)
}

func (e *Executor) trackOpen(order *domain.Order) {
	e.openMu.Lock()
	e.openOrders[order.OrderID] = order
	e.openMu.Unlock()
}

func (e *Executor) untrackOpen(orderID string) {
	e.openMu.Lock()
	delete(e.openOrders, orderID)
	e.openMu.Unlock()
}

func (e *Executor) record(order *domain.Order) {
	if e.recorder != nil {
		e.recorder.RecordOrder(order)
	}
}

// 状态比较一律大小写不敏感
func filledStatus(s string) bool {
	switch strings.ToLower(s) {
	case "matched", "filled":
		return true
	}
	return false
}

func liveStatus(s string) bool {
	return strings.ToLower(s) == "live"
}

func shortID(id string) string {
	if len(id) > 20 {
		return id[:20] + "..."
	}
	return id
}
