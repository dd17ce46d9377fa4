package feed

import (
	"testing"
	"time"

	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/config"
)

func testFeed() *PriceFeed {
	return New(config.Default().Oracle)
}

func tick(source string, price float64, age time.Duration) domain.Tick {
	return domain.Tick{
		Source:      source,
		Asset:       "BTC",
		Price:       price,
		TimestampMs: time.Now().Add(-age).UnixMilli(),
	}
}

func TestLatest_FreshAndStale(t *testing.T) {
	f := testFeed()

	if _, err := f.Latest("BTC"); err != ErrNoTick {
		t.Fatalf("无 tick 时应返回 ErrNoTick，got %v", err)
	}

	f.publishPrimary(tick(SourceChainlink, 60000, 0))
	got, err := f.Latest("BTC")
	if err != nil || got.Price != 60000 {
		t.Fatalf("新鲜 tick 应可读: %v %v", got, err)
	}

	// 超过 30s → Stale（返回而不是阻塞，由调用方决定）
	f.publishPrimary(tick(SourceChainlink, 60000, 31*time.Second))
	if _, err := f.Latest("BTC"); err != ErrStale {
		t.Fatalf("过期 tick 应返回 ErrStale，got %v", err)
	}
}

func TestReconciled_SpreadAndDivergence(t *testing.T) {
	f := testFeed()
	f.publishPrimary(tick(SourceChainlink, 60000, 0))
	f.setSecondary(tick("binance", 60120, 0))   // +0.2%
	f.setSecondary(tick("coingecko", 59940, 0)) // -0.1%

	rec, err := f.Reconciled("BTC")
	if err != nil {
		t.Fatalf("Reconciled: %v", err)
	}
	if rec.Price != 60000 {
		t.Fatalf("价格应取主源，got %.2f", rec.Price)
	}
	if rec.SpreadPct < 0.19 || rec.SpreadPct > 0.21 {
		t.Fatalf("spread 应为最大偏差 ≈0.2%%，got %.3f", rec.SpreadPct)
	}
	if rec.Diverged {
		t.Fatal("0.2%% 偏差不应标记 Diverged")
	}
	if len(rec.Sources) != 3 {
		t.Fatalf("应有 3 个来源，got %v", rec.Sources)
	}

	// 偏差 > 1% → 只置位，不处置
	f.setSecondary(tick("binance", 61000, 0)) // +1.67%
	rec, _ = f.Reconciled("BTC")
	if !rec.Diverged {
		t.Fatal("1.67%% 偏差应标记 Diverged")
	}
}

func TestReconciled_IgnoresStaleSecondaries(t *testing.T) {
	f := testFeed()
	f.publishPrimary(tick(SourceChainlink, 60000, 0))
	f.setSecondary(tick("binance", 70000, 2*time.Minute)) // 过期，应被忽略

	rec, err := f.Reconciled("BTC")
	if err != nil {
		t.Fatalf("Reconciled: %v", err)
	}
	if rec.SpreadPct != 0 || len(rec.Sources) != 1 {
		t.Fatalf("过期次级源应被忽略: %+v", rec)
	}
}

// 窗口锚定：窗口内第一笔主源 tick 即锚定价，只写一次
func TestWindowAnchorCapture(t *testing.T) {
	f := testFeed()
	now := time.Now()
	open15 := now.Unix() - now.Unix()%900

	first := domain.Tick{Source: SourceChainlink, Asset: "BTC", Price: 60000, TimestampMs: now.UnixMilli()}
	second := domain.Tick{Source: SourceChainlink, Asset: "BTC", Price: 60500, TimestampMs: now.UnixMilli() + 1000}
	f.publishPrimary(first)
	f.publishPrimary(second)

	anchor, ok := f.WindowAnchor(15, open15)
	if !ok || anchor != 60000 {
		t.Fatalf("锚定价应是第一笔 tick (60000)，got %.2f ok=%v", anchor, ok)
	}
}

func TestSubscribeDeliversPrimaryTicks(t *testing.T) {
	f := testFeed()
	var got []float64
	f.Subscribe(func(tk domain.Tick) { got = append(got, tk.Price) })

	f.publishPrimary(tick(SourceChainlink, 60000, 0))
	f.handleStreamTick(tick("rtds_binance", 60010, 0)) // 次级不广播

	if len(got) != 1 || got[0] != 60000 {
		t.Fatalf("订阅者应只收到主源 tick: %v", got)
	}
}
