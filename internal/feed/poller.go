package feed

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/logger"
)

// 次级源单次请求超时
const secondaryFetchTimeout = 3 * time.Second

// pollBinance Binance REST 现货价轮询（次级源，偏差检测用）
func (f *PriceFeed) pollBinance(ctx context.Context) {
	client := resty.New().
		SetBaseURL(f.cfg.BinanceBaseURL).
		SetTimeout(secondaryFetchTimeout)

	f.pollLoop(ctx, "binance", func(ctx context.Context) (float64, error) {
		var out struct {
			Price string `json:"price"`
		}
		resp, err := client.R().
			SetContext(ctx).
			SetQueryParam("symbol", "BTCUSDT").
			SetResult(&out).
			Get("/api/v3/ticker/price")
		if err != nil {
			return 0, err
		}
		if resp.IsError() {
			return 0, errStatus(resp.StatusCode())
		}
		return strconv.ParseFloat(out.Price, 64)
	})
}

// pollCoinGecko CoinGecko 轮询（次级源）
func (f *PriceFeed) pollCoinGecko(ctx context.Context) {
	client := resty.New().
		SetBaseURL(f.cfg.CoinGeckoURL).
		SetTimeout(secondaryFetchTimeout)

	f.pollLoop(ctx, "coingecko", func(ctx context.Context) (float64, error) {
		var out map[string]map[string]float64
		resp, err := client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"ids":           "bitcoin",
				"vs_currencies": "usd",
			}).
			SetResult(&out).
			Get("/simple/price")
		if err != nil {
			return 0, err
		}
		if resp.IsError() {
			return 0, errStatus(resp.StatusCode())
		}
		price := out["bitcoin"]["usd"]
		if price <= 0 {
			return 0, errEmptyPrice
		}
		return price, nil
	})
}

// pollLoop 次级源公共轮询循环（失败只打日志，transient 错误下个周期重试）
func (f *PriceFeed) pollLoop(ctx context.Context, source string, fetch func(context.Context) (float64, error)) {
	ticker := time.NewTicker(f.cfg.PollInterval())
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, secondaryFetchTimeout)
		price, err := fetch(fetchCtx)
		cancel()
		if err != nil {
			failures++
			if failures%10 == 1 {
				logger.Warnf("次级源 %s 获取失败（第 %d 次）: %v", source, failures, err)
			}
			continue
		}
		failures = 0
		f.setSecondary(domain.Tick{
			Source:      source,
			Asset:       "BTC",
			Price:       price,
			TimestampMs: time.Now().UnixMilli(),
		})
	}
}

type statusError int

func (e statusError) Error() string { return "unexpected status " + strconv.Itoa(int(e)) }

func errStatus(code int) error { return statusError(code) }

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errEmptyPrice = sentinelError("empty price")
