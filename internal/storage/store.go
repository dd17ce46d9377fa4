package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/config"
	"github.com/betbot/oraclebot/pkg/jsonl"
	"github.com/betbot/oraclebot/pkg/logger"
	"github.com/betbot/oraclebot/pkg/persistence"
)

// Store 落盘层：
//   - sqlite 交易明细（控制台查询用）
//   - JSONL 追加日志：trades / strategy / oracle / errors
//   - performance.json 原子快照（temp-file + rename）
//
// JSONL 写失败且原因是磁盘满时视为 Fatal，通过 FatalC 上报编排器。
type Store struct {
	db *sql.DB

	trades   *jsonl.Writer
	strategy *jsonl.Writer
	oracle   *jsonl.Writer
	errorsW  *jsonl.Writer

	perf persistence.Store

	fatalC chan error
}

// New 打开存储层
func New(cfg config.LoggingConfig) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 失败: %w", err)
	}
	// SQLite：单连接更稳定
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:       db,
		trades:   jsonl.New(cfg.TradeLogFile),
		strategy: jsonl.New(cfg.StrategyLogFile),
		oracle:   jsonl.New(cfg.OracleLogFile),
		errorsW:  jsonl.New(cfg.ErrorLogFile),
		perf:     persistence.NewJSONFileService(cfg.PerformanceDir).NewStore("performance"),
		fatalC:   make(chan error, 1),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS trades (
	order_id    TEXT PRIMARY KEY,
	window_id   TEXT NOT NULL,
	side        TEXT NOT NULL,
	size_usd    REAL NOT NULL,
	limit_price REAL NOT NULL,
	tif         TEXT NOT NULL,
	state       TEXT NOT NULL,
	shares      REAL NOT NULL DEFAULT 0,
	pnl         REAL,
	error_msg   TEXT,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_window ON trades(window_id);
`)
	if err != nil {
		return fmt.Errorf("sqlite migrate 失败: %w", err)
	}
	return nil
}

// FatalC 致命错误通道（磁盘满等），编排器据此退出码 2
func (s *Store) FatalC() <-chan error { return s.fatalC }

func (s *Store) writeJSONL(w *jsonl.Writer, v any) {
	if err := w.Write(v); err != nil {
		if isDiskFull(err) {
			select {
			case s.fatalC <- fmt.Errorf("JSONL 磁盘写满: %w", err):
			default:
			}
			return
		}
		logger.Errorf("JSONL 写入失败: %v", err)
	}
}

func isDiskFull(err error) bool {
	if err == nil {
		return false
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return strings.Contains(pathErr.Err.Error(), "no space left")
	}
	return strings.Contains(err.Error(), "no space left")
}

// RecordOrder 订单落盘（执行器回调，任何状态变化都 upsert）
func (s *Store) RecordOrder(order *domain.Order) {
	if order == nil {
		return
	}
	now := time.Now().Unix()
	_, err := s.db.Exec(`
INSERT INTO trades (order_id, window_id, side, size_usd, limit_price, tif, state, shares, error_msg, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(order_id) DO UPDATE SET state=excluded.state, shares=excluded.shares, error_msg=excluded.error_msg, updated_at=excluded.updated_at`,
		order.OrderID, order.WindowID.String(), string(order.Side), order.SizeUSD,
		order.LimitPrice.ToDecimal(), string(order.TIF), string(order.State),
		order.Shares, order.ErrorMsg, order.CreatedAt.Unix(), now)
	if err != nil {
		logger.Errorf("sqlite 写入订单失败: %v", err)
	}

	s.writeJSONL(s.trades, map[string]any{
		"ts":        now,
		"order_id":  order.OrderID,
		"window_id": order.WindowID.String(),
		"side":      order.Side,
		"size_usd":  order.SizeUSD,
		"price":     order.LimitPrice.ToDecimal(),
		"tif":       order.TIF,
		"state":     order.State,
		"shares":    order.Shares,
		"error":     order.ErrorMsg,
	})
}

// RecordPosition 建仓落盘
func (s *Store) RecordPosition(pos *domain.Position) {
	if pos == nil {
		return
	}
	s.writeJSONL(s.trades, map[string]any{
		"ts":        time.Now().Unix(),
		"type":      "position_opened",
		"window_id": pos.WindowID.String(),
		"side":      pos.Side,
		"shares":    pos.Shares,
		"entry":     pos.EntryPrice.ToDecimal(),
	})
}

// RecordResolution 结算落盘
func (s *Store) RecordResolution(windowID domain.WindowID, outcome string, pnl float64) {
	_, err := s.db.Exec(`UPDATE trades SET pnl=?, updated_at=? WHERE window_id=?`,
		pnl, time.Now().Unix(), windowID.String())
	if err != nil {
		logger.Errorf("sqlite 写入结算失败: %v", err)
	}
	s.writeJSONL(s.trades, map[string]any{
		"ts":        time.Now().Unix(),
		"type":      "resolution",
		"window_id": windowID.String(),
		"outcome":   outcome,
		"pnl":       pnl,
	})
}

// LogStrategy 策略判定 JSONL
func (s *Store) LogStrategy(v any) { s.writeJSONL(s.strategy, v) }

// LogOracle 预言机快照 JSONL
func (s *Store) LogOracle(v any) { s.writeJSONL(s.oracle, v) }

// LogError 错误 JSONL
func (s *Store) LogError(v any) { s.writeJSONL(s.errorsW, v) }

// SavePerformance 原子重写 performance.json
func (s *Store) SavePerformance(snapshot any) {
	if err := s.perf.Save(snapshot); err != nil {
		logger.Errorf("性能快照写入失败: %v", err)
	}
}

// TradeRow 控制台查询行
type TradeRow struct {
	OrderID  string  `json:"order_id"`
	WindowID string  `json:"window_id"`
	Side     string  `json:"side"`
	SizeUSD  float64 `json:"size_usd"`
	Price    float64 `json:"price"`
	State    string  `json:"state"`
	Pnl      *float64 `json:"pnl,omitempty"`
	Created  int64   `json:"created_at"`
}

// RecentTrades 最近 n 笔交易（控制台用）
func (s *Store) RecentTrades(n int) ([]TradeRow, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.Query(`
SELECT order_id, window_id, side, size_usd, limit_price, state, pnl, created_at
FROM trades ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var r TradeRow
		if err := rows.Scan(&r.OrderID, &r.WindowID, &r.Side, &r.SizeUSD, &r.Price, &r.State, &r.Pnl, &r.Created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close 刷盘并关闭
func (s *Store) Close() error {
	_ = s.trades.Close()
	_ = s.strategy.Close()
	_ = s.oracle.Close()
	_ = s.errorsW.Close()
	return s.db.Close()
}
