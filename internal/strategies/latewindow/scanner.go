package latewindow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/oraclebot/internal/app"
	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/internal/events"
	"github.com/betbot/oraclebot/internal/execution"
	"github.com/betbot/oraclebot/internal/risk"
	"github.com/betbot/oraclebot/internal/signal"
	"github.com/betbot/oraclebot/internal/strategies/common"
)

var log = logrus.WithField("strategy", "late_window")

// 扫描的 timeframe（分钟）
var scanTimeframes = []int{5, 15}

// Scanner 尾盘信念扫描器。
//
// 持续扫（2-5s）所有剩余时间 ∈ [30s, 150s] 的开放窗口：
// Chainlink 相对锚定价漂移 ≥ 0.08% 且漂移方向的 best-ask ≤ $0.80
// 时顺漂移方向进场。纯漂移，不看任何指标。$0.80 上限保证每份
// 获胜份额 ≥ $0.20 的赢面。走 late_window 桶。
type Scanner struct {
	appCtx *app.Context

	mu     sync.Mutex
	traded map[domain.WindowID]bool // 每个窗口最多进一次

	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// New 创建扫描器
func New(appCtx *app.Context) *Scanner {
	return &Scanner{
		appCtx: appCtx,
		traded: make(map[domain.WindowID]bool),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Scanner) Name() string { return "late_window" }

// Start 扫描循环
func (s *Scanner) Start(ctx context.Context) {
	defer close(s.done)
	cfg := s.appCtx.Cfg.Late
	log.Infof("尾盘扫描启动: 每 %ds, 漂移 ≥ %.2f%%, 入场价 ≤ $%.2f",
		cfg.ScanSecs, cfg.MinDriftPct, cfg.MaxEntryPrice)

	common.RunLoop(ctx, s.stop, time.Duration(cfg.ScanSecs)*time.Second, s.scanOnce)
}

// Stop 停止
func (s *Scanner) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scanner) scanOnce(ctx context.Context) {
	cfg := s.appCtx.Cfg.Late

	current, err := s.appCtx.Feed.Latest("BTC")
	if err != nil {
		return // stale：下个 tick 再看
	}
	now := time.Now().Unix()

	for _, tf := range scanTimeframes {
		openTs := now - now%int64(tf*60)
		closeTs := openTs + int64(tf)*60
		remaining := float64(closeTs - now)
		if remaining < float64(cfg.MinRemainSecs) || remaining > float64(cfg.LeadSecs) {
			continue
		}

		id := domain.WindowID{TimeframeMins: tf, OpenTs: openTs}
		s.mu.Lock()
		already := s.traded[id]
		s.mu.Unlock()
		if already {
			continue
		}

		anchor, ok := s.appCtx.Feed.WindowAnchor(tf, openTs)
		if !ok {
			continue
		}

		sig := signal.AnalyzeLateWindow(cfg, id, anchor, current.Price, remaining)
		if !sig.ShouldTrade {
			continue
		}
		s.tryEnter(ctx, id, sig)
	}
}

func (s *Scanner) tryEnter(ctx context.Context, id domain.WindowID, sig domain.Signal) {
	cfg := s.appCtx.Cfg.Late

	market, err := s.appCtx.Markets.MarketForWindow(ctx, fmt.Sprintf("%dm", id.TimeframeMins), id.OpenTs)
	if err != nil || market == nil {
		return
	}

	side := domain.SideYes
	token := market.YesTokenID
	if sig.Direction == domain.DirectionDown {
		side = domain.SideNo
		token = market.NoTokenID
	}

	_, ask, err := s.appCtx.Books.BestPrices(ctx, token)
	if err != nil || ask <= 0 {
		return
	}
	if ask > cfg.MaxEntryPrice {
		log.Debugf("%s: %s ask %.2f > 上限 %.2f — 放弃", id, side, ask, cfg.MaxEntryPrice)
		return
	}

	stake, err := s.appCtx.Risk.Size(risk.BucketLateWindow, sig.Confidence)
	if err != nil {
		log.Infof("%s: 风控否决 — %v", id, err)
		return
	}

	s.mu.Lock()
	if s.traded[id] {
		s.mu.Unlock()
		return
	}
	s.traded[id] = true
	s.pruneLocked(id.OpenTs)
	s.mu.Unlock()

	result, err := s.appCtx.Executor.Submit(ctx, execution.Request{
		WindowID:   id,
		Market:     market,
		Side:       side,
		SizeUSD:    stake,
		LimitPrice: domain.PriceFromDecimal(ask),
	})
	if err != nil || result == nil || result.Position == nil {
		log.Errorf("%s: 尾盘下单失败 — %v", id, err)
		return
	}

	s.appCtx.Risk.Commit(risk.BucketLateWindow, stake)
	s.appCtx.Events.Publish("trade", events.TradePayload{
		WindowID: id.String(), Engine: s.Name(), Side: string(side),
		SizeUSD: stake, Price: result.Position.EntryPrice.ToDecimal(), State: "filled",
	})
	log.Infof("尾盘进场 %s: %s $%.2f @ %.2f (%s)", id, side, stake, ask, sig.Reason)

	go s.resolve(ctx, id, result.Position)
}

// resolve 窗口关闭后对照结算价回写 late_window 桶
func (s *Scanner) resolve(ctx context.Context, id domain.WindowID, pos *domain.Position) {
	closeTs := id.OpenTs + int64(id.TimeframeMins)*60
	if !common.SleepCtx(ctx, time.Until(time.Unix(closeTs, 0).Add(2*time.Second))) {
		return
	}
	settled, err := s.appCtx.Feed.WaitFresh(ctx, "BTC", 10*time.Second)
	if err != nil {
		s.appCtx.Risk.RecordPush(risk.BucketLateWindow, 0)
		return
	}
	anchor, ok := s.appCtx.Feed.WindowAnchor(id.TimeframeMins, id.OpenTs)
	if !ok {
		s.appCtx.Risk.RecordPush(risk.BucketLateWindow, 0)
		return
	}

	switch {
	case settled.Price == anchor:
		s.appCtx.Risk.RecordPush(risk.BucketLateWindow, 0)
		s.appCtx.Store.RecordResolution(id, "push", 0)
	case (pos.Side == domain.SideYes) == (settled.Price > anchor):
		pnl := pos.ResolvePnl(true)
		s.appCtx.Risk.RecordWin(risk.BucketLateWindow, pnl)
		s.appCtx.Store.RecordResolution(id, "win", pnl)
		log.Infof("尾盘结算 %s: win %+.2f", id, pnl)
	default:
		pnl := pos.ResolvePnl(false)
		s.appCtx.Risk.RecordLoss(risk.BucketLateWindow, pnl)
		s.appCtx.Store.RecordResolution(id, "loss", pnl)
		log.Infof("尾盘结算 %s: loss %+.2f", id, pnl)
	}
}

func (s *Scanner) pruneLocked(current int64) {
	for id := range s.traded {
		if id.OpenTs < current-7200 {
			delete(s.traded, id)
		}
	}
}
