package arbscan

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/oraclebot/internal/app"
	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/internal/events"
	"github.com/betbot/oraclebot/internal/execution"
	"github.com/betbot/oraclebot/internal/risk"
	"github.com/betbot/oraclebot/internal/strategies/common"
	"github.com/betbot/oraclebot/pkg/marketmath"
)

var log = logrus.WithField("strategy", "arbscan")

// Scanner 跨时段套利扫描器。
//
// 独立快循环（默认 8s）：对每个配置的 timeframe 列活跃 BTC 市场，
// 算两侧有效买价之和（每侧取自身 ask 与对侧 bid 镜像价中较低者）。
// sum < 阈值且边际达标时双腿同买，
// 预算记在 arb 桶。两腿要么都成交，要么执行器用反向单回滚已成交腿。
type Scanner struct {
	appCtx *app.Context

	mu       sync.Mutex
	cooldown map[string]time.Time // marketSlug → 冷却截止

	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// New 创建扫描器
func New(appCtx *app.Context) *Scanner {
	return &Scanner{
		appCtx:   appCtx,
		cooldown: make(map[string]time.Time),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scanner) Name() string { return "arb_scanner" }

// Start 扫描循环（阻塞直到取消）
func (s *Scanner) Start(ctx context.Context) {
	defer close(s.done)
	cfg := s.appCtx.Cfg.Arb
	log.Infof("套利扫描启动: 每 %.0fs, timeframes=%v, 阈值 %.2f", cfg.PollSecs, cfg.Timeframes, cfg.Threshold)

	common.RunLoop(ctx, s.stop, time.Duration(cfg.PollSecs*float64(time.Second)), s.scanOnce)
}

// Stop 停止扫描
func (s *Scanner) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scanner) scanOnce(ctx context.Context) {
	cfg := s.appCtx.Cfg.Arb
	for _, tf := range cfg.Timeframes {
		markets, err := s.appCtx.Markets.ActiveMarkets(ctx, tf)
		if err != nil {
			log.Debugf("[%s] 市场发现失败: %v", tf, err)
			continue
		}
		for _, m := range markets {
			s.checkMarket(ctx, m)
		}
	}
}

func (s *Scanner) checkMarket(ctx context.Context, market *domain.Market) {
	cfg := s.appCtx.Cfg.Arb

	s.mu.Lock()
	until, inCooldown := s.cooldown[market.Slug]
	s.mu.Unlock()
	if inCooldown && time.Now().Before(until) {
		return
	}

	yesBid, yesAsk, err := s.appCtx.Books.BestPrices(ctx, market.YesTokenID)
	if err != nil {
		return
	}
	noBid, noAsk, err := s.appCtx.Books.BestPrices(ctx, market.NoTokenID)
	if err != nil {
		return
	}

	tob := marketmath.TopOfBook{
		YesBidPips: int(yesBid * 10000),
		YesAskPips: int(yesAsk * 10000),
		NoBidPips:  int(noBid * 10000),
		NoAskPips:  int(noAsk * 10000),
	}
	arb, err := marketmath.CheckLongArb(tob, int(cfg.Threshold*10000), int(cfg.MinEdgePct*100))
	if err != nil || arb == nil {
		return
	}

	opp := domain.ArbOpportunity{
		MarketSlug: market.Slug,
		Timeframe:  market.Timeframe,
		YesTokenID: market.YesTokenID,
		NoTokenID:  market.NoTokenID,
		PYes:       float64(arb.BuyYesPips) / 10000,
		PNo:        float64(arb.BuyNoPips) / 10000,
		Ts:         time.Now(),
	}
	log.Infof("套利机会 %s: YES=%.2f NO=%.2f sum=%.3f edge=%.1f%%",
		market.Slug, opp.PYes, opp.PNo, opp.Sum(), opp.EdgePct())

	// 双腿总额记入 arb 桶预算
	total := cfg.SizeUSD * 2
	if err := s.appCtx.Risk.Reserve(risk.BucketArb, total); err != nil {
		log.Infof("套利否决: %v", err)
		return
	}

	windowID := market.WindowIDFor()
	result, err := s.appCtx.Executor.SubmitPair(ctx, execution.PairRequest{
		WindowID: windowID,
		Market:   market,
		YesPrice: domain.Price{Pips: arb.BuyYesPips},
		NoPrice:  domain.Price{Pips: arb.BuyNoPips},
		SizeUSD:  cfg.SizeUSD,
	})

	s.mu.Lock()
	s.cooldown[market.Slug] = time.Now().Add(time.Duration(cfg.CooldownSecs * float64(time.Second)))
	s.pruneCooldownLocked()
	s.mu.Unlock()

	if err != nil {
		log.Errorf("套利执行失败 %s: %v", market.Slug, err)
		s.appCtx.Store.LogError(map[string]any{
			"ts": time.Now().Unix(), "stage": "arb_execute",
			"market": market.Slug, "error": err.Error(),
		})
		return
	}
	if !result.BothFilled {
		log.Warnf("套利 %s 只成交一腿，已回滚=%v", market.Slug, result.RolledBack)
		return
	}

	s.appCtx.Risk.Commit(risk.BucketArb, total)
	s.appCtx.Events.Publish("trade", events.TradePayload{
		WindowID: windowID.String(), Engine: s.Name(),
		Side: "pair", SizeUSD: total, Price: opp.Sum(), State: "filled",
	})

	// 结算：complete set 保底支付 = min(两腿份额) × 1
	go s.settle(ctx, windowID, market, result, total)
}

// settle 窗口关闭后按保底口径记盈亏（无论哪边赢，拿到的都是
// 获胜腿的份额 × $1；保底取两腿份额较小者）
func (s *Scanner) settle(ctx context.Context, id domain.WindowID, market *domain.Market, result *execution.PairResult, cost float64) {
	if !common.SleepCtx(ctx, time.Until(time.Unix(market.CloseTs, 0).Add(2*time.Second))) {
		return
	}
	shares := result.YesOrder.Shares
	if result.NoOrder.Shares < shares {
		shares = result.NoOrder.Shares
	}
	pnl := shares - cost
	if pnl >= 0 {
		s.appCtx.Risk.RecordWin(risk.BucketArb, pnl)
	} else {
		s.appCtx.Risk.RecordLoss(risk.BucketArb, pnl)
	}
	s.appCtx.Store.RecordResolution(id, "arb_settled", pnl)
	log.Infof("套利结算 %s: pnl=%+.2f", market.Slug, pnl)
}

func (s *Scanner) pruneCooldownLocked() {
	now := time.Now()
	for slug, until := range s.cooldown {
		if now.After(until) {
			delete(s.cooldown, slug)
		}
	}
}
