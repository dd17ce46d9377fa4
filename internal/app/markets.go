package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/betbot/oraclebot/clob"
	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/cache"
)

// timeframeSecs timeframe 字符串 → 秒
var timeframeSecs = map[string]int64{
	"5m":  300,
	"15m": 900,
	"30m": 1800,
	"1h":  3600,
}

// WindowSlug 市场 slug 约定：btc-updown-{timeframe}-{openTs}
func WindowSlug(timeframe string, openTs int64) string {
	return fmt.Sprintf("btc-updown-%s-%d", timeframe, openTs)
}

// GammaMarkets Gamma API 市场发现（带 TTL 缓存，减少对 API 的压力）
type GammaMarkets struct {
	client *clob.Client
	cache  *cache.InMemoryCache[string, *domain.Market]
}

// NewGammaMarkets 创建市场发现服务
func NewGammaMarkets(client *clob.Client) *GammaMarkets {
	return &GammaMarkets{
		client: client,
		cache:  cache.NewInMemoryCache[string, *domain.Market](30 * time.Second),
	}
}

// MarketForWindow 按窗口取市场
func (g *GammaMarkets) MarketForWindow(ctx context.Context, timeframe string, openTs int64) (*domain.Market, error) {
	slug := WindowSlug(timeframe, openTs)
	if m, ok := g.cache.Get(slug); ok {
		return m, nil
	}

	gm, err := g.client.FetchMarketBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if gm == nil || gm.Closed || !gm.AcceptingOrders {
		return nil, nil
	}
	m, err := toDomain(gm, timeframe, openTs)
	if err != nil {
		return nil, err
	}
	g.cache.Set(slug, m, 0)
	return m, nil
}

// ActiveMarkets 当前和下一个窗口的活跃市场
func (g *GammaMarkets) ActiveMarkets(ctx context.Context, timeframe string) ([]*domain.Market, error) {
	secs, ok := timeframeSecs[timeframe]
	if !ok {
		return nil, fmt.Errorf("未知 timeframe: %s", timeframe)
	}
	now := time.Now().Unix()
	current := now - now%secs

	var out []*domain.Market
	for _, ts := range []int64{current, current + secs} {
		m, err := g.MarketForWindow(ctx, timeframe, ts)
		if err != nil {
			continue // transient：下个轮询周期重试
		}
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func toDomain(gm *clob.GammaMarket, timeframe string, openTs int64) (*domain.Market, error) {
	yes, no, err := gm.TokenIDs()
	if err != nil {
		return nil, err
	}
	feeBps := 0
	if gm.FeeRateBps != "" {
		if v, err := strconv.Atoi(gm.FeeRateBps); err == nil {
			feeBps = v
		}
	}
	return &domain.Market{
		Slug:        gm.Slug,
		ConditionID: gm.ConditionID,
		YesTokenID:  yes,
		NoTokenID:   no,
		Question:    gm.Question,
		Timeframe:   timeframe,
		OpenTs:      openTs,
		CloseTs:     openTs + timeframeSecs[timeframe],
		Liquidity:   gm.Liquidity,
		FeeRateBps:  feeBps,
	}, nil
}
