package signal

import (
	"fmt"
	"math"

	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/config"
)

// AnalyzeLateWindow 尾盘纯漂移判定。
//
// 窗口临近结束时，Chainlink 已经明显偏离锚定价的话，结局几乎确定，
// 不需要任何技术指标。置信度从 min_drift 处的 base 线性升到
// drift_scale 处的 max；剩余不足 60s 再加 0.02。
func AnalyzeLateWindow(cfg config.LateWindowConfig, id domain.WindowID, anchorPrice, currentPrice float64, remainingSecs float64) domain.Signal {
	if anchorPrice <= 0 {
		return domain.HoldSignal(id, "no anchor")
	}

	driftPct := (currentPrice - anchorPrice) / anchorPrice * 100
	absDrift := math.Abs(driftPct)

	if absDrift < cfg.MinDriftPct {
		sig := domain.HoldSignal(id, fmt.Sprintf("late drift %+.4f%% below %.2f%%", driftPct, cfg.MinDriftPct))
		sig.DriftPct = driftPct
		return sig
	}

	direction := domain.DirectionUp
	if driftPct < 0 {
		direction = domain.DirectionDown
	}

	confidence := cfg.MaxConf
	if absDrift < cfg.DriftScalePct {
		t := (absDrift - cfg.MinDriftPct) / (cfg.DriftScalePct - cfg.MinDriftPct)
		confidence = cfg.BaseConf + t*(cfg.MaxConf-cfg.BaseConf)
	}
	if remainingSecs < 60 {
		confidence = math.Min(cfg.MaxConf, confidence+0.02)
	}
	confidence = math.Max(cfg.BaseConf, math.Min(cfg.MaxConf, confidence))

	return domain.Signal{
		WindowID:    id,
		Direction:   direction,
		Confidence:  confidence,
		DriftPct:    driftPct,
		ShouldTrade: true,
		Reason:      fmt.Sprintf("late-window %s drift=%+.4f%% conf=%.2f (%.0fs left)", direction, driftPct, confidence, remainingSecs),
	}
}
