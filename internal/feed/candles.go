package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/betbot/oraclebot/internal/domain"
)

// BinanceClient fetches kline (candlestick) data from the Binance REST API.
// Used only for indicator history; it never feeds resolution decisions.
type BinanceClient struct {
	http *resty.Client
}

// NewBinanceClient creates a new Binance API client.
func NewBinanceClient(baseURL string) *BinanceClient {
	return &BinanceClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
	}
}

// GetKlines fetches kline data.
// symbol: e.g. "BTCUSDT"; interval: e.g. "1m"; limit: max 1000.
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	// Binance returns klines as array of arrays
	var rawKlines [][]interface{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&rawKlines).
		Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	if resp.StatusCode() == 429 {
		return nil, fmt.Errorf("binance rate limited (retry after %s)", resp.Header().Get("Retry-After"))
	}
	if resp.IsError() {
		return nil, fmt.Errorf("binance API error %d: %s", resp.StatusCode(), resp.String())
	}

	candles := make([]domain.Candle, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 6 {
			continue
		}
		openTime, ok := raw[0].(float64)
		if !ok {
			continue
		}
		c := domain.Candle{Timestamp: int64(openTime) / 1000}
		if s, ok := raw[1].(string); ok {
			c.Open, _ = strconv.ParseFloat(s, 64)
		}
		if s, ok := raw[2].(string); ok {
			c.High, _ = strconv.ParseFloat(s, 64)
		}
		if s, ok := raw[3].(string); ok {
			c.Low, _ = strconv.ParseFloat(s, 64)
		}
		if s, ok := raw[4].(string); ok {
			c.Close, _ = strconv.ParseFloat(s, 64)
		}
		if s, ok := raw[5].(string); ok {
			c.Volume, _ = strconv.ParseFloat(s, 64)
		}
		candles = append(candles, c)
	}
	return candles, nil
}
