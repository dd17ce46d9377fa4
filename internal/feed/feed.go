package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/config"
	"github.com/betbot/oraclebot/pkg/logger"
	"github.com/betbot/oraclebot/pkg/syncgroup"
)

// ErrStale 主源 tick 超龄（调用方决定跳过还是降级）
var ErrStale = fmt.Errorf("price feed: stale tick")

// ErrNoTick 尚无任何 tick
var ErrNoTick = fmt.Errorf("price feed: no tick yet")

// SourceChainlink 结算预言机来源名（权威）
const SourceChainlink = "chainlink"

// Subscriber 订阅回调：每个主源 tick 调用一次（控制台心跳、尾盘扫描用）
type Subscriber func(domain.Tick)

// PriceFeed 持久化预言机价格源。
//
// 主源：RTDS WebSocket 上的 Chainlink BTC/USD 流（市场据此结算）。
// 次级：Binance REST 和 CoinGecko REST 慢速轮询，只用于偏差检测，
// 永远不会升级为主源。
//
// 读多写少：tick 缓冲和订阅者列表由内部锁保护，可被多通道并发读取。
type PriceFeed struct {
	cfg config.OracleConfig

	mu          sync.RWMutex
	primary     *domain.Tick
	secondaries map[string]domain.Tick
	subscribers []Subscriber

	// anchors 每个 (timeframe, openTs) 窗口的开盘锚定价：
	// 窗口内收到的第一笔主源 tick（结算对照的就是这口径）
	anchors map[domain.WindowID]float64

	stream  *oracleStream
	candles *BinanceClient
	sg      *syncgroup.SyncGroup
}

// New 创建价格源（Start 之前不发起任何连接）
func New(cfg config.OracleConfig) *PriceFeed {
	f := &PriceFeed{
		cfg:         cfg,
		secondaries: make(map[string]domain.Tick),
		anchors:     make(map[domain.WindowID]float64),
		candles:     NewBinanceClient(cfg.BinanceBaseURL),
		sg:          syncgroup.NewSyncGroup(),
	}
	f.stream = newOracleStream(cfg.RTDSWSURL, f.handleStreamTick)
	return f
}

// Start 启动主源流和次级轮询（非阻塞）
func (f *PriceFeed) Start(ctx context.Context) {
	f.sg.Add(func() { f.stream.run(ctx) })
	f.sg.Add(func() { f.pollBinance(ctx) })
	f.sg.Add(func() { f.pollCoinGecko(ctx) })
	f.sg.Run()
	logger.Info("价格源已启动（RTDS 主源 + 2 个次级轮询）")
}

// Stop 关闭流并等待轮询退出
func (f *PriceFeed) Stop() {
	f.stream.close()
	f.sg.Wait()
}

// Latest 最近一笔主源 tick；超龄返回 ErrStale 而不是阻塞
func (f *PriceFeed) Latest(asset string) (domain.Tick, error) {
	f.mu.RLock()
	tick := f.primary
	f.mu.RUnlock()

	if tick == nil || tick.Asset != asset {
		return domain.Tick{}, ErrNoTick
	}
	if tick.IsStaleAt(time.Now(), f.cfg.StaleMs) {
		return *tick, ErrStale
	}
	return *tick, nil
}

// WaitFresh 在 timeout 内等待一笔非过期主源 tick（锚定阶段用，上限 2s）
func (f *PriceFeed) WaitFresh(ctx context.Context, asset string, timeout time.Duration) (domain.Tick, error) {
	deadline := time.Now().Add(timeout)
	for {
		if tick, err := f.Latest(asset); err == nil {
			return tick, nil
		}
		if time.Now().After(deadline) {
			return domain.Tick{}, ErrStale
		}
		select {
		case <-ctx.Done():
			return domain.Tick{}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Reconciled 多源对账：价格取主源，spread 为各在线来源相对主源的最大偏差。
// spread > 1% 只置位 Diverged，不做自动处置。
func (f *PriceFeed) Reconciled(asset string) (domain.ReconciledPrice, error) {
	tick, err := f.Latest(asset)
	if err != nil {
		return domain.ReconciledPrice{}, err
	}

	f.mu.RLock()
	secs := make([]domain.Tick, 0, len(f.secondaries))
	for _, s := range f.secondaries {
		secs = append(secs, s)
	}
	f.mu.RUnlock()

	now := time.Now()
	out := domain.ReconciledPrice{
		Price:     tick.Price,
		Sources:   []string{tick.Source},
		Timestamp: now,
	}
	for _, s := range secs {
		if s.Asset != asset || s.IsStaleAt(now, f.cfg.StaleMs) {
			continue
		}
		out.Sources = append(out.Sources, s.Source)
		spread := absPct(s.Price, tick.Price)
		if spread > out.SpreadPct {
			out.SpreadPct = spread
		}
	}
	if out.SpreadPct > 1.0 {
		out.Diverged = true
		logger.Warnf("价格源偏差 %.3f%% 超过 1%%（sources=%v）", out.SpreadPct, out.Sources)
	}
	return out, nil
}

// Subscribe 注册主源 tick 订阅者
func (f *PriceFeed) Subscribe(sub Subscriber) {
	if sub == nil {
		return
	}
	f.mu.Lock()
	f.subscribers = append(f.subscribers, sub)
	f.mu.Unlock()
}

// RecentCandles 拉取 1 分钟 K 线（指标计算用）
func (f *PriceFeed) RecentCandles(ctx context.Context, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		limit = f.cfg.CandleCount
	}
	return f.candles.GetKlines(ctx, "BTCUSDT", "1m", limit)
}

// handleStreamTick stream 回调：Chainlink 是主源，其余 topic 归入次级
func (f *PriceFeed) handleStreamTick(tick domain.Tick) {
	if tick.Source == SourceChainlink {
		f.publishPrimary(tick)
		return
	}
	f.setSecondary(tick)
}

// WindowAnchor 某窗口的开盘锚定价（尾盘扫描用）
func (f *PriceFeed) WindowAnchor(timeframeMins int, openTs int64) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.anchors[domain.WindowID{TimeframeMins: timeframeMins, OpenTs: openTs}]
	return price, ok
}

// publishPrimary 主源 tick 落缓冲、记录窗口锚定并广播
func (f *PriceFeed) publishPrimary(tick domain.Tick) {
	f.mu.Lock()
	f.primary = &tick
	ts := tick.TimestampMs / 1000
	for _, tf := range []int{5, 15} {
		open := ts - ts%int64(tf*60)
		id := domain.WindowID{TimeframeMins: tf, OpenTs: open}
		if _, ok := f.anchors[id]; !ok {
			f.anchors[id] = tick.Price
		}
	}
	// 只保留最近的锚定，别让 map 无限增长
	if len(f.anchors) > 64 {
		horizon := ts - 2*3600
		for id := range f.anchors {
			if id.OpenTs < horizon {
				delete(f.anchors, id)
			}
		}
	}
	subs := make([]Subscriber, len(f.subscribers))
	copy(subs, f.subscribers)
	f.mu.Unlock()

	for _, sub := range subs {
		sub(tick)
	}
}

func (f *PriceFeed) setSecondary(tick domain.Tick) {
	f.mu.Lock()
	f.secondaries[tick.Source] = tick
	f.mu.Unlock()
}

func absPct(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	d := (a - b) / b * 100
	if d < 0 {
		return -d
	}
	return d
}
