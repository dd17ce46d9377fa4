package risk

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"testing/quick"
	"time"

	"github.com/betbot/oraclebot/pkg/config"
)

func testManager(bankroll float64) *Manager {
	return NewManager(config.Default().Risk, bankroll)
}

// fixedClock 可拨动的测试时钟
type fixedClock struct{ now time.Time }

func (c *fixedClock) fn() time.Time { return c.now }

// 场景：干净的 Up 交易仓位。bankroll=500, conf=0.82, kelly=0.25,
// hard_cap=25 → size = min(25, 500×0.64×0.25) = 25
func TestSizing_KellyWithHardCap(t *testing.T) {
	m := testManager(500)
	size, err := m.Size(Bucket15m, 0.82)
	if err != nil {
		t.Fatalf("不应否决: %v", err)
	}
	if math.Abs(size-25) > 1e-9 {
		t.Fatalf("size got=%.2f want=25", size)
	}
}

func TestSizing_BelowMinimumVetoes(t *testing.T) {
	m := testManager(500)
	// conf=0.502 → edge 0.004 → 500×0.004×0.25 = 0.5 < $1
	_, err := m.Size(Bucket15m, 0.502)
	var veto *VetoError
	if !errors.As(err, &veto) {
		t.Fatalf("期望 VetoError，got %v", err)
	}
}

// 场景：连亏冷却。5 连亏 → cooldown 内否决 → 60 分钟后放行
func TestLossStreakCooldown(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)}
	m := testManager(500)
	m.nowFn = clock.fn

	for i := 0; i < 5; i++ {
		m.RecordLoss(Bucket15m, -5)
	}
	_, err := m.Size(Bucket15m, 0.82)
	var veto *VetoError
	if !errors.As(err, &veto) {
		t.Fatalf("冷却中应否决，got %v", err)
	}

	clock.now = clock.now.Add(61 * time.Minute)
	if _, err := m.Size(Bucket15m, 0.82); err != nil {
		t.Fatalf("冷却结束应放行: %v", err)
	}
}

// 属性：任意 size/commit/record 序列后 used_usd ≤ bankroll_cap_usd
func TestProperty_UsedNeverExceedsCap(t *testing.T) {
	property := func(ops []uint8) bool {
		m := testManager(500)
		for _, op := range ops {
			switch op % 4 {
			case 0:
				if size, err := m.Size(Bucket5m, 0.9); err == nil {
					m.Commit(Bucket5m, size)
				}
			case 1:
				m.Commit(Bucket5m, float64(op))
			case 2:
				m.RecordWin(Bucket5m, 2)
			case 3:
				m.RecordLoss(Bucket5m, -2)
			}
		}
		snap := m.Snapshot()[Bucket5m]
		return snap.UsedUSD <= snap.BankrollCap+1e-9
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Errorf("属性测试失败: %v", err)
	}
}

// 属性：桶隔离——对 5m 桶的任意操作序列不改变 15m 桶的任何字段
func TestProperty_BucketIsolation(t *testing.T) {
	property := func(ops []uint8) bool {
		m := testManager(500)
		before := m.Snapshot()[Bucket15m]
		for _, op := range ops {
			switch op % 5 {
			case 0:
				_, _ = m.Size(Bucket5m, 0.8)
			case 1:
				m.Commit(Bucket5m, 3)
			case 2:
				m.RecordWin(Bucket5m, 2)
			case 3:
				m.RecordLoss(Bucket5m, -2)
			case 4:
				m.RecordPush(Bucket5m, 0)
			}
		}
		after := m.Snapshot()[Bucket15m]
		return reflect.DeepEqual(before, after)
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 100}); err != nil {
		t.Errorf("隔离被破坏: %v", err)
	}
}

// 每日重置：trades_today 归零；losses_streak 与 cooldown_until 保留
func TestDailyReset(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 8, 5, 23, 0, 0, 0, time.UTC)}
	m := testManager(500)
	m.nowFn = clock.fn

	size, err := m.Size(Bucket15m, 0.82)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	m.Commit(Bucket15m, size)
	for i := 0; i < 5; i++ {
		m.RecordLoss(Bucket15m, -2)
	}

	before := m.Snapshot()[Bucket15m]
	if before.TradesToday != 1 || before.LossesStreak != 5 || before.CooldownUntil.IsZero() {
		t.Fatalf("前置状态不对: %+v", before)
	}

	// 跨过 UTC 零点
	clock.now = time.Date(2026, 8, 6, 0, 1, 0, 0, time.UTC)
	_, _ = m.Size(Bucket5m, 0.8) // 任意操作触发重置

	after := m.Snapshot()[Bucket15m]
	if after.TradesToday != 0 {
		t.Fatalf("trades_today 应归零，got %d", after.TradesToday)
	}
	if after.LossesStreak != 5 {
		t.Fatalf("losses_streak 应保留，got %d", after.LossesStreak)
	}
	if !after.CooldownUntil.Equal(before.CooldownUntil) {
		t.Fatalf("cooldown_until 应保留: %v != %v", after.CooldownUntil, before.CooldownUntil)
	}
}

func TestRecordWinResetsStreak(t *testing.T) {
	m := testManager(500)
	m.RecordLoss(Bucket15m, -2)
	m.RecordLoss(Bucket15m, -2)
	m.RecordPush(Bucket15m, 0)
	if s := m.Snapshot()[Bucket15m].LossesStreak; s != 2 {
		t.Fatalf("push 不应影响连亏，got %d", s)
	}
	m.RecordWin(Bucket15m, 3)
	if s := m.Snapshot()[Bucket15m].LossesStreak; s != 0 {
		t.Fatalf("win 应清空连亏，got %d", s)
	}
}

// 场景：套利配对预算。两腿各 $5 → Reserve($10) 放行并在 Commit 后扣减
func TestArbReserveAndCommit(t *testing.T) {
	m := testManager(500)
	if err := m.Reserve(BucketArb, 10); err != nil {
		t.Fatalf("套利预算应放行: %v", err)
	}
	m.Commit(BucketArb, 10)
	snap := m.Snapshot()[BucketArb]
	if snap.UsedUSD != 10 {
		t.Fatalf("used got=%.2f want=10", snap.UsedUSD)
	}
	if snap.TradesToday != 1 {
		t.Fatalf("trades got=%d want=1", snap.TradesToday)
	}

	// 预算上限（500 × 4% = $20）：再要 $12 应否决
	if err := m.Reserve(BucketArb, 12); err == nil {
		t.Fatal("超预算应否决")
	}
}

func TestDailyLossCircuitBreaker(t *testing.T) {
	m := testManager(500)
	// 15m 桶：daily_loss_cap 25% × 500 = $125
	m.RecordLoss(Bucket15m, -130)
	_, err := m.Size(Bucket15m, 0.9)
	var veto *VetoError
	if !errors.As(err, &veto) {
		t.Fatalf("熔断应否决，got %v", err)
	}
}
