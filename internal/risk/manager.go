package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/betbot/oraclebot/pkg/config"
	"github.com/betbot/oraclebot/pkg/logger"
)

// 桶名即引擎通道名
const (
	Bucket15m        = "15m"
	Bucket5m         = "5m"
	BucketLateWindow = "late_window"
	BucketArb        = "arb"
	BucketMM         = "mm"
)

// Manager 多桶风控。每条引擎通道一个独立账本，互不串扰。
//
// 被动记账：调度器在结算后调用 RecordWin/RecordLoss/RecordPush，
// Manager 不订阅任何事件（避免 执行器→仓位→风控→调度器 的环）。
type Manager struct {
	mu       sync.Mutex
	buckets  map[string]*Bucket
	bankroll float64
	dayKey   int // YYYYMMDD（UTC）

	nowFn func() time.Time // 测试注入
}

// NewManager 创建风控管理器
func NewManager(cfg config.RiskConfig, bankroll float64) *Manager {
	m := &Manager{
		buckets:  make(map[string]*Bucket),
		bankroll: bankroll,
		nowFn:    time.Now,
	}
	m.buckets[Bucket15m] = newBucket(Bucket15m, cfg.Bucket15m, bankroll)
	m.buckets[Bucket5m] = newBucket(Bucket5m, cfg.Bucket5m, bankroll)
	m.buckets[BucketLateWindow] = newBucket(BucketLateWindow, cfg.BucketLate, bankroll)
	m.buckets[BucketArb] = newBucket(BucketArb, cfg.BucketArb, bankroll)
	m.buckets[BucketMM] = newBucket(BucketMM, cfg.BucketMM, bankroll)
	m.dayKey = utcDayKey(m.nowFn())
	return m
}

func utcDayKey(t time.Time) int {
	u := t.UTC()
	return u.Year()*10000 + int(u.Month())*100 + u.Day()
}

// resetDailyIfNeededLocked 跨过 UTC 零点时重置所有桶的每日计数
func (m *Manager) resetDailyIfNeededLocked(now time.Time) {
	key := utcDayKey(now)
	if key == m.dayKey {
		return
	}
	logger.Infof("每日重置（UTC 零点）: %d -> %d", m.dayKey, key)
	m.dayKey = key
	for _, b := range m.buckets {
		b.resetDaily(m.bankroll)
	}
}

func (m *Manager) bucket(name string) (*Bucket, error) {
	b, ok := m.buckets[name]
	if !ok {
		return nil, fmt.Errorf("未知风控桶: %s", name)
	}
	return b, nil
}

// Size 请求仓位。否决时返回 *VetoError。
func (m *Manager) Size(bucketName string, confidence float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	m.resetDailyIfNeededLocked(now)

	b, err := m.bucket(bucketName)
	if err != nil {
		return 0, err
	}
	return b.size(confidence, m.bankroll, now)
}

// Reserve 固定金额预算申请。否决时返回 *VetoError。
func (m *Manager) Reserve(bucketName string, usd float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	m.resetDailyIfNeededLocked(now)

	b, err := m.bucket(bucketName)
	if err != nil {
		return err
	}
	return b.reserve(usd, now)
}

// Commit 下单后占用预算并计数
func (m *Manager) Commit(bucketName string, usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, err := m.bucket(bucketName); err == nil {
		b.commit(usd)
	}
}

// RecordWin 记录一笔盈利结算
func (m *Manager) RecordWin(bucketName string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	m.resetDailyIfNeededLocked(now)
	if b, err := m.bucket(bucketName); err == nil {
		b.recordWin(pnl)
		m.bankroll += pnl
		logger.Infof("风控 [%s]: 胜 %+.2f | trades=%d streak=0 capital=%.2f", bucketName, pnl, b.tradesToday, m.bankroll)
	}
}

// RecordLoss 记录一笔亏损结算
func (m *Manager) RecordLoss(bucketName string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	m.resetDailyIfNeededLocked(now)
	if b, err := m.bucket(bucketName); err == nil {
		b.recordLoss(pnl, now)
		if pnl > 0 {
			pnl = -pnl
		}
		m.bankroll += pnl
		if b.lossesStreak >= b.cfg.MaxStreak {
			logger.Warnf("风控 [%s]: 连亏 %d 次 — 冷却至 %s", bucketName, b.lossesStreak, b.cooldownUntil.Format("15:04:05"))
		}
	}
}

// RecordPush 记录平推（不影响连亏）
func (m *Manager) RecordPush(bucketName string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyIfNeededLocked(m.nowFn())
	if b, err := m.bucket(bucketName); err == nil {
		b.recordPush(pnl)
		m.bankroll += pnl
	}
}

// Bankroll 当前资金
func (m *Manager) Bankroll() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bankroll
}

// SetBankroll 实时资金同步（--sync-live-bankroll）
func (m *Manager) SetBankroll(usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if usd > 0 && usd != m.bankroll {
		logger.Infof("实时资金同步: %.2f -> %.2f", m.bankroll, usd)
		m.bankroll = usd
	}
}

// Snapshot 全部桶的只读状态
func (m *Manager) Snapshot() map[string]BucketSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]BucketSnapshot, len(m.buckets))
	for name, b := range m.buckets {
		out[name] = b.snapshot()
	}
	return out
}
