package hedge

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
)

var log = logrus.WithField("strategy", "hedge")

// openTrade 正在持有的定向仓位（来自事件流）
type openTrade struct {
	windowID domain.WindowID
	side     domain.Side
	sizeUSD  float64
	hedged   bool
}

// Hedge 对冲引擎。
//
// 事件驱动：跟踪定向通道的开仓；当同一窗口后续出现方向相反且
// 置信度 ≥ min_confidence 的信号时，买入反向 token 锁住价差。
// 只对 15m 通道的仓位生效，对冲预算记回 15m 桶。
type Hedge struct {
	appCtx *app.Context

	mu    sync.Mutex
	open  map[string]*openTrade // windowID 字符串 → 仓位
	sigC  chan events.SignalPayload

	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// New 创建对冲引擎
func New(appCtx *app.Context) *Hedge {
	h := &Hedge{
		appCtx: appCtx,
		open:   make(map[string]*openTrade),
		sigC:   make(chan events.SignalPayload, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	return h
}

func (h *Hedge) Name() string { return "hedge" }

// Start 订阅事件并处理
func (h *Hedge) Start(ctx context.Context) {
	defer close(h.done)
	log.Infof("对冲引擎启动: 反向信号置信度 ≥ %.2f 触发", h.appCtx.Cfg.Hedge.MinConfidence)

	h.appCtx.Events.Subscribe(h.onEvent)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case sig := <-h.sigC:
			h.maybeHedge(ctx, sig)
		}
	}
}

// Stop 停止
func (h *Hedge) Stop() {
	h.once.Do(func() { close(h.stop) })
	<-h.done
}

// onEvent 事件回调（非阻塞：队列满丢信号，别拖住交易路径）
func (h *Hedge) onEvent(ev events.Event) {
	switch ev.Type {
	case "trade":
		p, ok := ev.Payload.(events.TradePayload)
		if !ok || p.Engine != "directional_15m" {
			return
		}
		h.mu.Lock()
		switch p.State {
		case "filled":
			h.open[p.WindowID] = &openTrade{
				windowID: domain.WindowID{TimeframeMins: 15},
				side:     domain.Side(p.Side),
				sizeUSD:  p.SizeUSD,
			}
		case "resolved":
			delete(h.open, p.WindowID)
		}
		h.pruneLocked()
		h.mu.Unlock()
	case "signal":
		p, ok := ev.Payload.(events.SignalPayload)
		if !ok {
			return
		}
		select {
		case h.sigC <- p:
		default:
		}
	}
}

// maybeHedge 信号与持仓方向相反且足够强时对冲
func (h *Hedge) maybeHedge(ctx context.Context, sig events.SignalPayload) {
	if sig.Confidence < h.appCtx.Cfg.Hedge.MinConfidence {
		return
	}
	sigSide := domain.SideYes
	if sig.Direction == string(domain.DirectionDown) {
		sigSide = domain.SideNo
	} else if sig.Direction != string(domain.DirectionUp) {
		return
	}

	h.mu.Lock()
	trade, ok := h.open[sig.WindowID]
	if !ok || trade.hedged || trade.side == sigSide {
		h.mu.Unlock()
		return
	}
	trade.hedged = true
	h.mu.Unlock()

	id, perr := domain.ParseWindowID(sig.WindowID)
	if perr != nil {
		return
	}
	market, err := h.appCtx.Markets.MarketForWindow(ctx, "15m", id.OpenTs)
	if err != nil || market == nil {
		return
	}

	// 对冲预算记回 15m 桶（对冲的是 15m 通道的敞口）
	if err := h.appCtx.Risk.Reserve(risk.Bucket15m, trade.sizeUSD); err != nil {
		log.Infof("对冲否决 %s: %v", sig.WindowID, err)
		return
	}

	hedgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	result, err := h.appCtx.Executor.Submit(hedgeCtx, execution.Request{
		WindowID: id,
		Market:   market,
		Side:     sigSide,
		SizeUSD:  trade.sizeUSD,
	})
	if err != nil || result == nil || result.Position == nil {
		log.Errorf("对冲下单失败 %s: %v", sig.WindowID, err)
		return
	}
	h.appCtx.Risk.Commit(risk.Bucket15m, trade.sizeUSD)
	log.Infof("已对冲 %s: 原方向 %s, 反向买入 $%.2f @ %.4f",
		sig.WindowID, trade.side, trade.sizeUSD, result.Position.EntryPrice.ToDecimal())
}

func (h *Hedge) pruneLocked() {
	if len(h.open) <= 32 {
		return
	}
	for k := range h.open {
		delete(h.open, k)
		if len(h.open) <= 16 {
			break
		}
	}
}
