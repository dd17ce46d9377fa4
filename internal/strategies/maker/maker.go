package maker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/oraclebot/internal/app"
	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/internal/risk"
	"github.com/betbot/oraclebot/internal/strategies/common"
)

var log = logrus.WithField("strategy", "maker")

// 做市的 timeframe
var quoteTimeframes = []string{"15m", "5m"}

// quote 一条在簿报价
type quote struct {
	orderID string
	market  *domain.Market
	side    domain.Side
	sizeUSD float64
}

// Maker 做市引擎。
//
// 围绕 YES 中间价双侧挂 GTC 报价（买 YES + 买 NO，等价于双边做市），
// 每 refresh 周期重报；库存失衡时向重仓侧加宽报价；窗口关闭前
// cancel_lead 秒拉掉本窗口全部报价。预算走 mm 桶。
type Maker struct {
	appCtx *app.Context

	mu        sync.Mutex
	quotes    []quote
	inventory float64 // 净持仓（美元，YES 为正 NO 为负）

	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// New 创建做市引擎
func New(appCtx *app.Context) *Maker {
	return &Maker{
		appCtx: appCtx,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (m *Maker) Name() string { return "market_maker" }

// Start 报价循环
func (m *Maker) Start(ctx context.Context) {
	defer close(m.done)
	cfg := m.appCtx.Cfg.Maker
	log.Infof("做市启动: 半价差 %dbps, $%.2f/侧, 每 %.0fs 重报", cfg.SpreadBps, cfg.OrderSizeUSD, cfg.RefreshSecs)

	// 注册关停回调：退出前拉掉全部报价
	m.appCtx.Shutdown.OnShutdown(func(shutdownCtx context.Context) {
		m.pullAll(shutdownCtx, "shutdown")
	})

	common.RunLoop(ctx, m.stop, time.Duration(cfg.RefreshSecs*float64(time.Second)), m.refresh)
}

// Stop 停止
func (m *Maker) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

// refresh 一轮重报：检测成交 → 拉旧报价 → 按当前 mid 重新挂
func (m *Maker) refresh(ctx context.Context) {
	cfg := m.appCtx.Cfg.Maker

	m.detectFills(ctx)
	m.pullAll(ctx, "refresh")

	for _, tf := range quoteTimeframes {
		markets, err := m.appCtx.Markets.ActiveMarkets(ctx, tf)
		if err != nil || len(markets) == 0 {
			continue
		}
		market := markets[0]

		// 窗口临近结算不再报价
		remaining := time.Until(time.Unix(market.CloseTs, 0))
		if remaining < time.Duration(cfg.CancelLeadSecs)*time.Second {
			continue
		}

		bid, ask, err := m.appCtx.Books.BestPrices(ctx, market.YesTokenID)
		if err != nil || bid <= 0 || ask <= 0 {
			continue
		}
		mid := (bid + ask) / 2

		m.placeQuotes(ctx, market, mid)
	}
}

// placeQuotes 双侧报价。库存 skew：重仓侧报价按每美元失衡加宽 N bps
func (m *Maker) placeQuotes(ctx context.Context, market *domain.Market, mid float64) {
	cfg := m.appCtx.Cfg.Maker

	m.mu.Lock()
	if len(m.quotes) >= cfg.MaxOpenOrders {
		m.mu.Unlock()
		return
	}
	inv := m.inventory
	m.mu.Unlock()

	halfSpread := float64(cfg.SpreadBps) / 2 / 10000
	yesSkew, noSkew := 0.0, 0.0
	if inv > 0 {
		yesSkew = inv * float64(cfg.SkewBpsPerDollar) / 10000
	} else if inv < 0 {
		noSkew = -inv * float64(cfg.SkewBpsPerDollar) / 10000
	}

	yesPrice := mid - halfSpread - yesSkew
	noPrice := (1 - mid) - halfSpread - noSkew

	for _, q := range []struct {
		side  domain.Side
		price float64
	}{
		{domain.SideYes, yesPrice},
		{domain.SideNo, noPrice},
	} {
		p := domain.PriceFromDecimal(q.price)
		if !p.IsValid() {
			continue
		}
		if err := m.appCtx.Risk.Reserve(risk.BucketMM, cfg.OrderSizeUSD); err != nil {
			log.Debugf("做市否决: %v", err)
			return
		}
		order, err := m.appCtx.Executor.PlaceQuote(ctx, market, q.side, p, cfg.OrderSizeUSD)
		if err != nil {
			log.Warnf("报价失败 %s %s: %v", market.Slug, q.side, err)
			continue
		}
		m.appCtx.Risk.Commit(risk.BucketMM, cfg.OrderSizeUSD)
		m.mu.Lock()
		m.quotes = append(m.quotes, quote{orderID: order.OrderID, market: market, side: q.side, sizeUSD: cfg.OrderSizeUSD})
		m.mu.Unlock()
	}
}

// detectFills 轮询在簿报价的成交进度并更新库存
func (m *Maker) detectFills(ctx context.Context) {
	cfg := m.appCtx.Cfg.Maker

	m.mu.Lock()
	quotes := make([]quote, len(m.quotes))
	copy(quotes, m.quotes)
	m.mu.Unlock()

	for _, q := range quotes {
		filledShares, filled, err := m.appCtx.Executor.QuoteStatus(ctx, q.orderID)
		if err != nil || !filled {
			continue
		}
		delta := filledShares
		if q.side == domain.SideNo {
			delta = -filledShares
		}
		m.mu.Lock()
		m.inventory += delta
		if m.inventory > cfg.MaxInventoryUSD {
			log.Warnf("库存失衡 %.2f 超上限 %.2f — 后续报价将加宽", m.inventory, cfg.MaxInventoryUSD)
		}
		m.mu.Unlock()
		log.Infof("做市成交: %s %s %.2f shares", q.market.Slug, q.side, filledShares)
	}
}

// pullAll 拉掉全部在簿报价
func (m *Maker) pullAll(ctx context.Context, reason string) {
	m.mu.Lock()
	quotes := m.quotes
	m.quotes = nil
	m.mu.Unlock()

	for _, q := range quotes {
		if err := m.appCtx.Executor.CancelQuote(ctx, q.orderID); err != nil {
			log.Debugf("拉报价失败 (%s) %s: %v", reason, q.orderID, err)
		}
	}
}
