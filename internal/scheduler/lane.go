package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/oraclebot/internal/app"
	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/internal/events"
	"github.com/betbot/oraclebot/internal/execution"
	"github.com/betbot/oraclebot/internal/signal"
	"github.com/betbot/oraclebot/pkg/config"
	"github.com/betbot/oraclebot/pkg/logger"
)

// anchorWait 锚定阶段等待非过期 tick 的上限
const anchorWait = 2 * time.Second

// settleDelay 窗口关闭后等待结算价稳定的时间
const settleDelay = 2 * time.Second

// Lane 一条定向交易通道（15m 或 5m），驱动单窗口流水线：
// 锚定 → 漂移等待 → 评估 → 风控 → 下单 → 结算回写。
//
// 单窗口内的阶段顺序由流水线保证；跨窗口没有顺序要求，
// 不同 timeframe 的窗口可以同时处于不同阶段。
type Lane struct {
	appCtx *app.Context
	cfg    config.LaneConfig
	bucket string
	engine *signal.Engine
	log    *logrus.Entry

	// fired 去重：同一 (timeframe, openTs) 只发一条流水线
	fired map[int64]bool

	// maxCycles > 0 时跑满即调用 onLimit（--cycles 支持）
	maxCycles int
	cycles    int
	onLimit   func()

	cancel context.CancelFunc
	done   chan struct{}
}

// SetCycleLimit 设置流水线次数上限；跑满后回调（通常是全局取消）
func (l *Lane) SetCycleLimit(n int, onLimit func()) {
	l.maxCycles = n
	l.onLimit = onLimit
}

// NewLane 创建定向通道
func NewLane(appCtx *app.Context, cfg config.LaneConfig, bucket string) *Lane {
	return &Lane{
		appCtx: appCtx,
		cfg:    cfg,
		bucket: bucket,
		engine: signal.NewEngine(appCtx.Cfg.Strategy),
		log:    logrus.WithField("lane", fmt.Sprintf("%dm", cfg.TimeframeMins)),
		fired:  make(map[int64]bool),
		done:   make(chan struct{}),
	}
}

// Name 引擎名
func (l *Lane) Name() string { return fmt.Sprintf("directional_%dm", l.cfg.TimeframeMins) }

// Start 启动通道循环（阻塞直到 ctx 取消）
func (l *Lane) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	defer close(l.done)

	l.log.Infof("通道启动: 边界前 %ds 锚定, 漂移等待 %ds, 下单窗口 %ds",
		l.cfg.EntryLeadSecs, l.cfg.StrategyDelaySecs, l.cfg.EntryWindowSecs)

	for {
		// 每次迭代重新读取 UTC 墙钟，避免单调时钟漂移累积
		now := time.Now().UTC()
		boundary := NextBoundary(now, l.cfg.TimeframeMins)
		entry := boundary.Add(-time.Duration(l.cfg.EntryLeadSecs) * time.Second)

		if wait := entry.Sub(now); wait > 0 {
			if !sleepCtx(ctx, wait) {
				return
			}
		} else if -wait > time.Duration(l.cfg.EntryWindowSecs)*time.Second {
			// 启动得太晚，这个窗口已经进不去了 — 等下一个边界
			if !sleepCtx(ctx, boundary.Sub(time.Now().UTC())+time.Second) {
				return
			}
			continue
		}

		openTs := boundary.Unix()
		if !l.claim(openTs) {
			if !sleepCtx(ctx, boundary.Sub(time.Now().UTC())+time.Second) {
				return
			}
			continue
		}

		w := domain.NewWindow(l.cfg.TimeframeMins, openTs)

		// 共享边界让位：:00/:15/:30/:45 由 15m 通道处理，
		// 5m 通道恰好发出一条 Skipped(overlap)，不下单
		if l.cfg.TimeframeMins == 5 && IsSharedBoundary(boundary) {
			w.MarkSkipped(domain.SkipOverlap)
			l.log.Infof("共享边界 %s — 让位给 15m 通道 (reason=overlap)", boundary.Format("15:04"))
			l.appCtx.Events.PublishWindow(w)
			continue
		}

		l.runPipeline(ctx, w, boundary)

		l.cycles++
		if l.maxCycles > 0 && l.cycles >= l.maxCycles {
			l.log.Infof("已跑满 %d 个窗口 — 触发关停", l.maxCycles)
			if l.onLimit != nil {
				l.onLimit()
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Stop 取消通道
func (l *Lane) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}

// claim 领取一个窗口。同一 (timeframe, openTs) 只允许领取一次，
// 重复领取返回 false —— 保证永远不会发出两条相同窗口的流水线。
func (l *Lane) claim(openTs int64) bool {
	if l.fired[openTs] {
		return false
	}
	l.fired[openTs] = true
	l.pruneFired(openTs)
	return true
}

// pruneFired 丢掉早于四个窗口前的去重记录
func (l *Lane) pruneFired(current int64) {
	horizon := current - int64(l.cfg.TimeframeMins)*60*4
	for ts := range l.fired {
		if ts < horizon {
			delete(l.fired, ts)
		}
	}
}

// runPipeline 单窗口流水线。所有低于 Fatal 的错误就地消化：
// 记日志、标记 Skipped、返回继续下一个窗口。
func (l *Lane) runPipeline(ctx context.Context, w *domain.Window, boundary time.Time) {
	if l.cfg.TimeframeMins == 15 {
		// 日志按 15m 窗口分文件（5m 通道共用当前文件）
		if err := logger.SetWindowSlug(w.ID.String()); err != nil {
			l.log.Warnf("切换日志文件失败: %v", err)
		}
	}

	// ── 锚定阶段 ──
	tick, err := l.appCtx.Feed.WaitFresh(ctx, "BTC", anchorWait)
	if err != nil {
		w.MarkSkipped(domain.SkipNoAnchor)
		l.log.Warnf("窗口 %s: %ds 内无新鲜 tick — 跳过 (reason=no_anchor)", w.ID, int(anchorWait.Seconds()))
		l.finishSkipped(w)
		return
	}
	if err := w.Anchor(tick.Price, time.UnixMilli(tick.TimestampMs)); err != nil {
		l.log.Errorf("锚定失败: %v", err)
		return
	}
	l.log.Infof("锚定 %s: $%.2f — 等待 %ds 漂移", w.ID, tick.Price, l.cfg.StrategyDelaySecs)
	l.appCtx.Events.PublishWindow(w)

	if rec, err := l.appCtx.Feed.Reconciled("BTC"); err == nil {
		l.appCtx.Store.LogOracle(map[string]any{
			"ts": time.Now().Unix(), "window_id": w.ID.String(),
			"price": rec.Price, "spread_pct": rec.SpreadPct,
			"sources": rec.Sources, "diverged": rec.Diverged,
			"window_open": tick.Price,
		})
	}

	// ── 漂移等待 ──
	// 刚锚定时 drift ≈ 0，70% 权重的主信号没有任何信息量。
	// 等一段让价格离开锚点，信号才有幅度。
	if !sleepCtx(ctx, time.Duration(l.cfg.StrategyDelaySecs)*time.Second) {
		return
	}

	// ── 评估阶段 ──
	current, err := l.appCtx.Feed.Latest("BTC")
	if err != nil {
		w.MarkSkipped(domain.SkipStaleTick)
		l.log.Warnf("窗口 %s: 评估时 tick 过期 — 跳过", w.ID)
		l.finishSkipped(w)
		return
	}

	candles, err := l.appCtx.Feed.RecentCandles(ctx, l.appCtx.Cfg.Oracle.CandleCount)
	if err != nil || len(candles) < 30 {
		w.MarkSkipped(domain.SkipInsufficientH)
		l.log.Warnf("窗口 %s: K 线不足 (%d) — 跳过", w.ID, len(candles))
		l.finishSkipped(w)
		return
	}

	market, err := l.appCtx.Markets.MarketForWindow(ctx, fmt.Sprintf("%dm", l.cfg.TimeframeMins), w.OpenTs)
	if err != nil || market == nil || market.Liquidity < l.appCtx.Cfg.Clob.MinLiquidityUSD {
		w.MarkSkipped(domain.SkipNoMarket)
		l.log.Infof("窗口 %s: 无可交易市场 — 跳过", w.ID)
		l.finishSkipped(w)
		return
	}

	feePct := l.appCtx.Executor.FeeForMarket(ctx, market)
	sig := l.engine.Analyze(signal.Input{
		WindowID:     w.ID,
		AnchorPrice:  *w.AnchorPrice,
		CurrentPrice: current.Price,
		Candles:      candles,
		FeePct:       feePct,
		DeadZonePct:  l.cfg.DeadZonePct,
	})
	w.State = domain.WindowEvaluated

	l.appCtx.Store.LogStrategy(map[string]any{
		"ts": time.Now().Unix(), "window_id": w.ID.String(),
		"direction": sig.Direction, "confidence": sig.Confidence,
		"drift_pct": sig.DriftPct, "vol_pct": sig.VolatilityPct,
		"votes": sig.IndicatorVotes, "reason": sig.Reason,
		"should_trade": sig.ShouldTrade, "btc_price": current.Price,
		"open_price": *w.AnchorPrice, "fee_pct": feePct,
	})
	l.appCtx.Events.Publish("signal", events.SignalPayload{
		WindowID: w.ID.String(), Direction: string(sig.Direction),
		Confidence: sig.Confidence, DriftPct: sig.DriftPct, Reason: sig.Reason,
	})

	if !sig.ShouldTrade {
		w.MarkSkipped(domain.SkipSignal)
		l.log.Infof("窗口 %s: HOLD — %s", w.ID, sig.Reason)
		l.finishSkipped(w)
		return
	}

	// ── 风控阶段 ──
	stake, err := l.appCtx.Risk.Size(l.bucket, sig.Confidence)
	if err != nil {
		w.MarkSkipped(domain.SkipRisk)
		l.log.Infof("窗口 %s: 风控否决 — %v", w.ID, err)
		l.finishSkipped(w)
		return
	}

	// ── 下单阶段 ──
	// 下单窗口从评估点起算；超过就放弃，绝不追着下一个窗口下单
	deadline := boundary.Add(-time.Duration(l.cfg.EntryLeadSecs) * time.Second).
		Add(time.Duration(l.cfg.StrategyDelaySecs+l.cfg.EntryWindowSecs) * time.Second)
	if time.Now().After(deadline) {
		w.MarkSkipped(domain.SkipEntryExpired)
		l.log.Warnf("窗口 %s: 下单窗口已过 — 放弃", w.ID)
		l.finishSkipped(w)
		return
	}

	side := domain.SideYes
	if sig.Direction == domain.DirectionDown {
		side = domain.SideNo
	}

	submitCtx, cancel := context.WithDeadline(ctx, deadline)
	result, err := l.appCtx.Executor.Submit(submitCtx, execution.Request{
		WindowID: w.ID,
		Market:   market,
		Side:     side,
		SizeUSD:  stake,
	})
	cancel()
	if err != nil || result == nil || result.Position == nil {
		// 执行类错误：记日志，不建仓，不动风控计数
		l.log.Errorf("窗口 %s: 下单失败 — %v", w.ID, err)
		l.appCtx.Store.LogError(map[string]any{
			"ts": time.Now().Unix(), "window_id": w.ID.String(),
			"stage": "execute", "error": fmt.Sprint(err),
		})
		w.MarkSkipped(domain.SkipEntryExpired)
		l.appCtx.Events.PublishWindow(w)
		return
	}

	l.appCtx.Risk.Commit(l.bucket, stake)
	w.State = domain.WindowOrdered
	l.appCtx.Events.PublishWindow(w)
	l.appCtx.Events.Publish("trade", events.TradePayload{
		WindowID: w.ID.String(), Engine: l.Name(), Side: string(side),
		SizeUSD: stake, Price: result.Position.EntryPrice.ToDecimal(),
		State: string(result.Order.State),
	})
	l.log.Infof("窗口 %s: %s $%.2f @ %.4f conf=%.2f", w.ID, side, stake,
		result.Position.EntryPrice.ToDecimal(), sig.Confidence)

	// ── 结算回写（异步：下一个窗口的锚定可能与本窗口结算重叠）──
	go l.resolve(ctx, w, result.Position)
}

// finishSkipped 跳过类终态的公共收尾
func (l *Lane) finishSkipped(w *domain.Window) {
	l.appCtx.Events.PublishWindow(w)
}

// resolve 窗口关闭后对照结算价记 P&L 并回写风控。
// 风控是被动记账目标：这里调用 Record*，它不订阅任何事件。
func (l *Lane) resolve(ctx context.Context, w *domain.Window, pos *domain.Position) {
	wait := time.Until(time.Unix(w.CloseTs, 0).Add(settleDelay))
	if !sleepCtx(ctx, wait) {
		return
	}

	settled, err := l.appCtx.Feed.WaitFresh(ctx, "BTC", 10*time.Second)
	if err != nil {
		l.log.Errorf("窗口 %s: 拿不到结算价 — 按平推处理", w.ID)
		l.appCtx.Risk.RecordPush(l.bucket, 0)
		return
	}

	anchor := *w.AnchorPrice
	var outcome string
	var pnl float64
	switch {
	case settled.Price == anchor:
		outcome = "push"
		l.appCtx.Risk.RecordPush(l.bucket, 0)
	case (pos.Side == domain.SideYes) == (settled.Price > anchor):
		outcome = "win"
		pnl = pos.ResolvePnl(true)
		l.appCtx.Risk.RecordWin(l.bucket, pnl)
	default:
		outcome = "loss"
		pnl = pos.ResolvePnl(false)
		l.appCtx.Risk.RecordLoss(l.bucket, pnl)
	}

	w.State = domain.WindowResolved
	l.appCtx.Store.RecordResolution(w.ID, outcome, pnl)
	l.appCtx.Events.PublishWindow(w)
	l.appCtx.Events.Publish("trade", events.TradePayload{
		WindowID: w.ID.String(), Engine: l.Name(), Side: string(pos.Side),
		SizeUSD: pos.EntryPrice.ToDecimal() * pos.Shares,
		State:   "resolved", Pnl: pnl,
	})
	l.log.Infof("窗口 %s 结算: %s pnl=%+.2f (close=%.2f anchor=%.2f)", w.ID, outcome, pnl, settled.Price, anchor)

	l.appCtx.Store.SavePerformance(map[string]any{
		"ts":       time.Now().Unix(),
		"bankroll": l.appCtx.Risk.Bankroll(),
		"buckets":  l.appCtx.Risk.Snapshot(),
	})
}

// sleepCtx 可取消睡眠；返回 false 表示 ctx 已取消
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
