package risk

import (
	"fmt"
	"time"

	"github.com/betbot/oraclebot/pkg/config"
)

// VetoError 风控否决（带原因，调用方记 Skipped 后继续）
type VetoError struct {
	Bucket string
	Reason string
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("risk veto [%s]: %s", e.Bucket, e.Reason)
}

// Bucket 一条引擎通道的独立风控账本。
//
// 不变量：
//   - usedUSD 永远不超过 bankrollCapUSD
//   - lossesStreak 达到 maxStreak 后写入 cooldownUntil，到期前一律否决
//   - 对一个桶的任何写操作都不触碰其他桶的字段（由测试验证）
//
// 并发：桶本身不加锁，由 Manager 的锁保护。
type Bucket struct {
	name string
	cfg  config.BucketConfig

	bankrollCapUSD float64 // 预算上限（banroll × budget_pct）
	usedUSD        float64
	tradesToday    int
	lossesStreak   int
	cooldownUntil  time.Time
	dailyPnl       float64
	dayCapitalRef  float64 // 当日起始资金（损失百分比的分母）

	wins   int
	losses int
}

func newBucket(name string, cfg config.BucketConfig, bankroll float64) *Bucket {
	return &Bucket{
		name:           name,
		cfg:            cfg,
		bankrollCapUSD: bankroll * cfg.BudgetPct / 100,
		dayCapitalRef:  bankroll,
	}
}

// size 计算仓位或否决。now 显式传入方便测试。
func (b *Bucket) size(confidence, bankroll float64, now time.Time) (float64, error) {
	if now.Before(b.cooldownUntil) {
		remaining := int(b.cooldownUntil.Sub(now).Seconds())
		return 0, &VetoError{b.name, fmt.Sprintf("cooldown (%ds remaining)", remaining)}
	}
	if b.tradesToday >= b.cfg.MaxTrades {
		return 0, &VetoError{b.name, fmt.Sprintf("daily trade limit (%d)", b.cfg.MaxTrades)}
	}

	// 当日亏损熔断：分母用当日起始资金，不随盘中缩水变得过敏
	ref := b.dayCapitalRef
	if ref <= 0 {
		ref = bankroll
	}
	if ref > 0 && b.dailyPnl < 0 {
		lossPct := -b.dailyPnl / ref * 100
		if lossPct >= b.cfg.DailyLossCapPct {
			return 0, &VetoError{b.name, fmt.Sprintf("daily loss limit (%.1f%%)", lossPct)}
		}
	}
	if bankroll <= 0 {
		return 0, &VetoError{b.name, "no capital"}
	}

	// quarter-Kelly：edge = 2·conf − 1
	edge := 2*confidence - 1
	if edge < 0 {
		edge = 0
	}
	stake := bankroll * edge * b.cfg.KellyFraction

	if stake > b.cfg.HardCapUSD {
		stake = b.cfg.HardCapUSD
	}
	if remaining := b.bankrollCapUSD - b.usedUSD; stake > remaining {
		stake = remaining
	}

	minSize := b.cfg.MinTradeSizeUSD
	if minSize <= 0 {
		minSize = 1
	}
	if stake < minSize {
		return 0, &VetoError{b.name, fmt.Sprintf("stake $%.2f below minimum", stake)}
	}
	return stake, nil
}

// reserve 固定金额的预算申请（套利/做市这类不做 Kelly 的通道）
func (b *Bucket) reserve(usd float64, now time.Time) error {
	if now.Before(b.cooldownUntil) {
		return &VetoError{b.name, "cooldown"}
	}
	if b.tradesToday >= b.cfg.MaxTrades {
		return &VetoError{b.name, fmt.Sprintf("daily trade limit (%d)", b.cfg.MaxTrades)}
	}
	if ref := b.dayCapitalRef; ref > 0 && b.dailyPnl < 0 {
		if lossPct := -b.dailyPnl / ref * 100; lossPct >= b.cfg.DailyLossCapPct {
			return &VetoError{b.name, fmt.Sprintf("daily loss limit (%.1f%%)", lossPct)}
		}
	}
	if usd > b.bankrollCapUSD-b.usedUSD {
		return &VetoError{b.name, fmt.Sprintf("budget exhausted ($%.2f left)", b.bankrollCapUSD-b.usedUSD)}
	}
	return nil
}

// commit 下单成功后占用预算
func (b *Bucket) commit(usd float64) {
	b.usedUSD += usd
	if b.usedUSD > b.bankrollCapUSD {
		b.usedUSD = b.bankrollCapUSD
	}
	b.tradesToday++
}

// recordWin 胜：清空连亏
func (b *Bucket) recordWin(pnl float64) {
	b.wins++
	b.dailyPnl += pnl
	b.lossesStreak = 0
}

// recordLoss 负：连亏 +1，达到阈值进入冷却
func (b *Bucket) recordLoss(pnl float64, now time.Time) {
	b.losses++
	if pnl > 0 {
		pnl = -pnl
	}
	b.dailyPnl += pnl
	b.lossesStreak++
	if b.lossesStreak >= b.cfg.MaxStreak {
		b.cooldownUntil = now.Add(time.Duration(b.cfg.CooldownMins) * time.Minute)
	}
}

// recordPush 平推：连亏不变
func (b *Bucket) recordPush(pnl float64) {
	b.dailyPnl += pnl
}

// resetDaily UTC 零点重置：交易数/预算/当日盈亏归零，
// 连亏和冷却保留（隔夜不洗白）
func (b *Bucket) resetDaily(bankroll float64) {
	b.tradesToday = 0
	b.usedUSD = 0
	b.dailyPnl = 0
	b.wins = 0
	b.losses = 0
	b.dayCapitalRef = bankroll
	b.bankrollCapUSD = bankroll * b.cfg.BudgetPct / 100
}

// Snapshot 只读状态导出（控制台/性能快照用）
type BucketSnapshot struct {
	Name          string    `json:"name"`
	BankrollCap   float64   `json:"bankroll_cap_usd"`
	UsedUSD       float64   `json:"used_usd"`
	TradesToday   int       `json:"trades_today"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	LossesStreak  int       `json:"losses_streak"`
	DailyPnl      float64   `json:"daily_pnl"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

func (b *Bucket) snapshot() BucketSnapshot {
	return BucketSnapshot{
		Name:          b.name,
		BankrollCap:   b.bankrollCapUSD,
		UsedUSD:       b.usedUSD,
		TradesToday:   b.tradesToday,
		Wins:          b.wins,
		Losses:        b.losses,
		LossesStreak:  b.lossesStreak,
		DailyPnl:      b.dailyPnl,
		CooldownUntil: b.cooldownUntil,
	}
}
