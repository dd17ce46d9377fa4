package app

import (
	"context"

	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/internal/events"
	"github.com/betbot/oraclebot/internal/execution"
	"github.com/betbot/oraclebot/internal/feed"
	"github.com/betbot/oraclebot/internal/risk"
	"github.com/betbot/oraclebot/internal/storage"
	"github.com/betbot/oraclebot/pkg/config"
	"github.com/betbot/oraclebot/pkg/shutdown"
)

// Context 显式依赖容器：每条引擎通道拿到同一份引用，没有全局单例。
// PriceFeed 和 Executor 是仅有的两个共享资源（均为并发安全）。
type Context struct {
	Cfg      *config.Config
	Feed     *feed.PriceFeed
	Executor *execution.Executor
	Risk     *risk.Manager
	Store    *storage.Store
	Events   *events.Bus
	Shutdown *shutdown.Manager
	Markets  MarketSource
	Books    BookSource
}

// BookSource 盘口查询能力面（clob.Client 实现；测试用 stub）
type BookSource interface {
	BestPrices(ctx context.Context, tokenID string) (bestBid, bestAsk float64, err error)
}

// MarketSource 市场发现能力面（Gamma API + 缓存；测试用 stub）
type MarketSource interface {
	// MarketForWindow 返回给定窗口的市场（不存在返回 nil, nil）
	MarketForWindow(ctx context.Context, timeframe string, openTs int64) (*domain.Market, error)
	// ActiveMarkets 某个 timeframe 当前活跃的市场（套利/做市扫描用）
	ActiveMarkets(ctx context.Context, timeframe string) ([]*domain.Market, error)
}

// Engine 引擎统一能力面：调度器按 tagged-union 启动选定的引擎
type Engine interface {
	Name() string
	Start(ctx context.Context)
	Stop()
}
