package domain

import (
	"testing"
	"time"
)

func TestWindowAnchorOnce(t *testing.T) {
	w := NewWindow(15, 1765985400)
	if w.CloseTs-w.OpenTs != 900 {
		t.Fatalf("close-open 应为 900s，got %d", w.CloseTs-w.OpenTs)
	}
	if w.State != WindowPending {
		t.Fatalf("初始状态应为 Pending，got %s", w.State)
	}

	now := time.Now()
	if err := w.Anchor(60000, now); err != nil {
		t.Fatalf("首次锚定应成功: %v", err)
	}
	if w.State != WindowAnchored || w.AnchorPrice == nil || *w.AnchorPrice != 60000 {
		t.Fatalf("锚定后状态不对: %+v", w)
	}

	// 只允许一次
	if err := w.Anchor(61000, now); err == nil {
		t.Fatal("二次锚定必须失败")
	}
	if *w.AnchorPrice != 60000 {
		t.Fatal("锚定价不能被覆盖")
	}
}

func TestWindowIDRoundTrip(t *testing.T) {
	id := WindowID{TimeframeMins: 5, OpenTs: 1765985400}
	parsed, err := ParseWindowID(id.String())
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if parsed != id {
		t.Fatalf("round-trip 不一致: %v != %v", parsed, id)
	}
}

func TestPositionResolvePnl(t *testing.T) {
	pos := &Position{
		Side:       SideYes,
		Shares:     44.6,
		EntryPrice: PriceFromDecimal(0.56),
	}
	win := pos.ResolvePnl(true)
	// 44.6 - 44.6*0.56 = 19.624
	if win < 19.6 || win > 19.65 {
		t.Fatalf("win pnl got=%.4f", win)
	}

	pos2 := &Position{Side: SideNo, Shares: 10, EntryPrice: PriceFromDecimal(0.40)}
	loss := pos2.ResolvePnl(false)
	if loss != -4 {
		t.Fatalf("loss pnl got=%.4f want=-4", loss)
	}
}

// 场景：套利捕获。YES=0.45, NO=0.48, sum=0.93 < 0.98，边际 7% ≥ 1%
func TestArbOpportunityTrigger(t *testing.T) {
	opp := ArbOpportunity{PYes: 0.45, PNo: 0.48}
	if !opp.IsArb(0.98, 1.0) {
		t.Fatal("sum=0.93 应触发")
	}
	if opp.EdgePct() < 6.9 || opp.EdgePct() > 7.1 {
		t.Fatalf("edge 应 ≈7%%，got %.2f", opp.EdgePct())
	}

	// sum 达阈值不触发
	if (ArbOpportunity{PYes: 0.50, PNo: 0.49}).IsArb(0.98, 1.0) {
		t.Fatal("sum=0.99 不应触发")
	}
	// 阈值更紧时边际检查独立生效：sum=0.975（edge 2.5%）过不了 3% 的下限
	if (ArbOpportunity{PYes: 0.49, PNo: 0.485}).IsArb(0.98, 3.0) {
		t.Fatal("边际 2.5%% 不应通过 3%% 下限")
	}
}

func TestTickStaleness(t *testing.T) {
	now := time.Now()
	fresh := Tick{TimestampMs: now.UnixMilli() - 29_000}
	stale := Tick{TimestampMs: now.UnixMilli() - 31_000}
	if fresh.IsStaleAt(now, 30_000) {
		t.Fatal("29s 的 tick 不应过期")
	}
	if !stale.IsStaleAt(now, 30_000) {
		t.Fatal("31s 的 tick 应过期")
	}
}
