package domain

import (
	"fmt"
	"time"
)

// WindowState 窗口状态
type WindowState string

const (
	WindowPending   WindowState = "pending"
	WindowAnchored  WindowState = "anchored"
	WindowEvaluated WindowState = "evaluated"
	WindowOrdered   WindowState = "ordered"
	WindowResolved  WindowState = "resolved"
	WindowSkipped   WindowState = "skipped"
)

// SkipReason 窗口被跳过的原因（错误分级里的 data-quality / veto 类）
type SkipReason string

const (
	SkipNoAnchor      SkipReason = "no_anchor"
	SkipSignal        SkipReason = "signal"
	SkipRisk          SkipReason = "risk"
	SkipOverlap       SkipReason = "overlap"
	SkipNoMarket      SkipReason = "no_market"
	SkipStaleTick     SkipReason = "stale_tick"
	SkipEntryExpired  SkipReason = "entry_expired"
	SkipInsufficientH SkipReason = "insufficient_history"
)

// WindowID 全局唯一：同一 (timeframe, openTs) 只允许一条流水线
type WindowID struct {
	TimeframeMins int
	OpenTs        int64 // Unix 秒，边界对齐
}

func (id WindowID) String() string {
	return fmt.Sprintf("btc-updown-%dm-%d", id.TimeframeMins, id.OpenTs)
}

// ParseWindowID 反解 slug（例如 btc-updown-15m-1765985400）
func ParseWindowID(s string) (WindowID, error) {
	var tf int
	var openTs int64
	if _, err := fmt.Sscanf(s, "btc-updown-%dm-%d", &tf, &openTs); err != nil {
		return WindowID{}, fmt.Errorf("无法解析 window id %q: %w", s, err)
	}
	return WindowID{TimeframeMins: tf, OpenTs: openTs}, nil
}

// Window 一个固定长度的二元 Up/Down 市场区间
//
// 不变量：
//   - CloseTs - OpenTs = TimeframeMins * 60
//   - AnchorPrice 只在 Pending → Anchored 迁移时写入一次
//   - 只有调度器可以修改 Window
type Window struct {
	ID          WindowID
	OpenTs      int64
	CloseTs     int64
	AnchorPrice *float64
	AnchorTs    *int64 // Unix 毫秒
	State       WindowState
	Skip        SkipReason // State==Skipped 时有效
}

// NewWindow 由调度器在边界 tick 上创建
func NewWindow(timeframeMins int, openTs int64) *Window {
	return &Window{
		ID:      WindowID{TimeframeMins: timeframeMins, OpenTs: openTs},
		OpenTs:  openTs,
		CloseTs: openTs + int64(timeframeMins)*60,
		State:   WindowPending,
	}
}

// Anchor 记录锚定价，Pending → Anchored（只允许一次）
func (w *Window) Anchor(price float64, ts time.Time) error {
	if w.State != WindowPending {
		return fmt.Errorf("window %s: anchor in state %s", w.ID, w.State)
	}
	if w.AnchorPrice != nil {
		return fmt.Errorf("window %s: anchor already set", w.ID)
	}
	ms := ts.UnixMilli()
	w.AnchorPrice = &price
	w.AnchorTs = &ms
	w.State = WindowAnchored
	return nil
}

// MarkSkipped 终态之一；记录跳过原因
func (w *Window) MarkSkipped(reason SkipReason) {
	w.State = WindowSkipped
	w.Skip = reason
}

// RemainingAt 距窗口关闭的剩余时间
func (w *Window) RemainingAt(now time.Time) time.Duration {
	return time.Unix(w.CloseTs, 0).Sub(now)
}

// DriftPct 当前价相对锚定价的漂移（百分比）
func (w *Window) DriftPct(current float64) float64 {
	if w.AnchorPrice == nil || *w.AnchorPrice <= 0 {
		return 0
	}
	return (current - *w.AnchorPrice) / *w.AnchorPrice * 100
}
