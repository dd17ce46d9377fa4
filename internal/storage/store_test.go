package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/config"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := config.LoggingConfig{
		TradeLogFile:    filepath.Join(dir, "trades.jsonl"),
		StrategyLogFile: filepath.Join(dir, "strategy.jsonl"),
		OracleLogFile:   filepath.Join(dir, "oracle.jsonl"),
		ErrorLogFile:    filepath.Join(dir, "errors.jsonl"),
		PerformanceDir:  dir,
		SQLitePath:      filepath.Join(dir, "trades.db"),
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("打开存储层失败: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordOrderAndQuery(t *testing.T) {
	s := testStore(t)
	order := &domain.Order{
		OrderID:    "ord-1",
		WindowID:   domain.WindowID{TimeframeMins: 15, OpenTs: 1765985400},
		Side:       domain.SideYes,
		SizeUSD:    25,
		LimitPrice: domain.PriceFromDecimal(0.56),
		TIF:        domain.TIFFoK,
		State:      domain.OrderSubmitted,
		Shares:     44.6,
		CreatedAt:  time.Now(),
	}
	s.RecordOrder(order)

	// 同一订单的状态更新应 upsert 而不是新增
	order.State = domain.OrderFilled
	s.RecordOrder(order)

	rows, err := s.RecentTrades(10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("应只有 1 行，got %d", len(rows))
	}
	if rows[0].State != string(domain.OrderFilled) {
		t.Fatalf("状态应已更新，got %s", rows[0].State)
	}
}

func TestPerformanceSnapshotAtomicRewrite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LoggingConfig{
		TradeLogFile:   filepath.Join(dir, "trades.jsonl"),
		PerformanceDir: dir,
		SQLitePath:     filepath.Join(dir, "trades.db"),
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.SavePerformance(map[string]any{"bankroll": 500.0})
	s.SavePerformance(map[string]any{"bankroll": 510.0})

	b, err := os.ReadFile(filepath.Join(dir, "performance.json"))
	if err != nil {
		t.Fatalf("快照文件应存在: %v", err)
	}
	var snap map[string]any
	if err := json.Unmarshal(b, &snap); err != nil {
		t.Fatalf("快照应是完整 JSON: %v", err)
	}
	if snap["bankroll"].(float64) != 510 {
		t.Fatalf("快照应是最新值，got %v", snap["bankroll"])
	}
	// 不应留下写了一半的临时文件
	if _, err := os.Stat(filepath.Join(dir, "performance.json.tmp")); !os.IsNotExist(err) {
		t.Fatal("临时文件应已被 rename 掉")
	}
}

func TestJSONLAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategy.jsonl")
	s, err := New(config.LoggingConfig{
		StrategyLogFile: path,
		PerformanceDir:  dir,
		SQLitePath:      filepath.Join(dir, "trades.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.LogStrategy(map[string]any{"window_id": "w1", "direction": "up"})
	s.LogStrategy(map[string]any{"window_id": "w2", "direction": "down"})
	// 两条记录都应落盘为独立行（writer 每次 Write 都 flush）
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("策略日志应存在: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("应有 2 行，got %d", len(lines))
	}
}
