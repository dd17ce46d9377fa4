package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"

	"github.com/betbot/oraclebot/pkg/ratelimit"
)

// Client Polymarket CLOB 客户端（请求经令牌桶限流，令牌耗尽时调用方排队；
// 客户端本身不串行化提交，同一钱包的串行提交由执行器负责）。
type Client struct {
	http  *resty.Client
	gamma *resty.Client

	chainID    int64
	privateKey *ecdsa.PrivateKey
	address    common.Address
	funder     string
	sigType    int

	orderBuilder builder.ExchangeOrderBuilder

	credsMu sync.Mutex
	creds   *ApiKeyCreds

	// 官方 API 限流：150 请求/10 秒
	limiter *ratelimit.TokenBucket
}

// Options 客户端初始化参数
type Options struct {
	APIURL      string
	GammaAPIURL string
	ChainID     int64
	PrivateKey  string // hex（允许 0x 前缀）
	Funder      string
	SigType     int
}

// New 创建 CLOB 客户端
func New(opts Options) (*Client, error) {
	pk := strings.TrimPrefix(strings.TrimSpace(opts.PrivateKey), "0x")
	key, err := crypto.HexToECDSA(pk)
	if err != nil {
		return nil, errors.Wrap(err, "无效私钥")
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY / HTTPS_PROXY）
	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.APIURL, "/")).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && (r.StatusCode() == 429 || r.StatusCode() >= 500)
		})
	gammaClient := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.GammaAPIURL, "/")).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Client{
		http:         httpClient,
		gamma:        gammaClient,
		chainID:      opts.ChainID,
		privateKey:   key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		funder:       strings.TrimSpace(opts.Funder),
		sigType:      opts.SigType,
		orderBuilder: builder.NewExchangeOrderBuilderImpl(big.NewInt(opts.ChainID), nil),
		limiter:      ratelimit.NewTokenBucket(150, 15),
	}, nil
}

// Address 钱包地址
func (c *Client) Address() string { return c.address.Hex() }

// signedOrderJSON 签名订单的 wire 格式
type signedOrderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

func toWire(o *model.SignedOrder) signedOrderJSON {
	side := "BUY"
	if o.Side.Cmp(big.NewInt(1)) == 0 {
		side = "SELL"
	}
	return signedOrderJSON{
		Salt:          o.Salt.Int64(),
		Maker:         o.Maker.Hex(),
		Signer:        o.Signer.Hex(),
		Taker:         o.Taker.Hex(),
		TokenID:       o.TokenId.String(),
		MakerAmount:   o.MakerAmount.String(),
		TakerAmount:   o.TakerAmount.String(),
		Expiration:    o.Expiration.String(),
		Nonce:         o.Nonce.String(),
		FeeRateBps:    o.FeeRateBps.String(),
		Side:          side,
		SignatureType: int(o.SignatureType.Int64()),
		Signature:     "0x" + common.Bytes2Hex(o.Signature),
	}
}

// PostOrder 提交已签名订单
func (c *Client) PostOrder(ctx context.Context, signed *model.SignedOrder, orderType OrderType) (*OrderResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"order":     toWire(signed),
		"owner":     c.ownerAPIKey(),
		"orderType": string(orderType),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "序列化订单失败")
	}

	headers, err := c.l2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, err
	}

	var out OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(string(body)).
		SetResult(&out).
		SetError(&out).
		Post("/order")
	if err != nil {
		return nil, errors.Wrap(err, "提交订单失败")
	}
	if resp.IsError() && out.ErrorMsg == "" {
		return nil, errors.Errorf("提交订单状态码 %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}

// CancelOrder 撤销订单
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"orderID": orderID})
	headers, err := c.l2Headers("DELETE", "/order", string(body))
	if err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(string(body)).
		Delete("/order")
	if err != nil {
		return errors.Wrap(err, "撤单失败")
	}
	if resp.IsError() {
		return errors.Errorf("撤单状态码 %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelAll 撤销全部挂单（退出前兜底）
func (c *Client) CancelAll(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	headers, err := c.l2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete("/cancel-all")
	if err != nil {
		return errors.Wrap(err, "全部撤单失败")
	}
	if resp.IsError() {
		return errors.Errorf("全部撤单状态码 %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetOrder 查询订单状态（成交复核用）
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OpenOrder, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/data/order/" + orderID
	headers, err := c.l2Headers("GET", path, "")
	if err != nil {
		return nil, err
	}
	var out OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&out).
		Get(path)
	if err != nil {
		return nil, errors.Wrap(err, "查询订单失败")
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, errors.Errorf("查询订单状态码 %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}

// GetBook 获取订单簿快照（公开接口）
func (c *Client) GetBook(ctx context.Context, tokenID string) (*Book, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out Book
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&out).
		Get("/book")
	if err != nil {
		return nil, errors.Wrap(err, "获取订单簿失败")
	}
	if resp.IsError() {
		return nil, errors.Errorf("获取订单簿状态码 %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}

// BestPrices 返回 (bestBid, bestAsk)，缺失侧返回 0
func (c *Client) BestPrices(ctx context.Context, tokenID string) (bestBid, bestAsk float64, err error) {
	book, err := c.GetBook(ctx, tokenID)
	if err != nil {
		return 0, 0, err
	}
	// bids 升序、asks 降序排列：最优档在末尾
	if n := len(book.Bids); n > 0 {
		bestBid, _ = strconv.ParseFloat(book.Bids[n-1].Price, 64)
	}
	if n := len(book.Asks); n > 0 {
		bestAsk, _ = strconv.ParseFloat(book.Asks[n-1].Price, 64)
	}
	return bestBid, bestAsk, nil
}

// FetchMarketBySlug 从 Gamma API 获取市场元数据
func (c *Client) FetchMarketBySlug(ctx context.Context, slug string) (*GammaMarket, error) {
	var out []GammaMarket
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&out).
		Get("/markets")
	if err != nil {
		return nil, errors.Wrap(err, "获取市场失败")
	}
	if resp.IsError() {
		return nil, errors.Errorf("获取市场状态码 %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// TokenIDs 解析 GammaMarket 的 clobTokenIds 字段
func (m *GammaMarket) TokenIDs() (yes, no string, err error) {
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
		return "", "", fmt.Errorf("解析 clobTokenIds 失败: %w", err)
	}
	if len(ids) < 2 {
		return "", "", fmt.Errorf("clobTokenIds 数量不足: %d", len(ids))
	}
	return ids[0], ids[1], nil
}

// GetCollateralBalance 查询 USDC 余额（--sync-live-bankroll 用）
func (c *Client) GetCollateralBalance(ctx context.Context) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	path := "/balance-allowance?asset_type=COLLATERAL"
	headers, err := c.l2Headers("GET", "/balance-allowance", "")
	if err != nil {
		return 0, err
	}
	var out struct {
		Balance string `json:"balance"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&out).
		Get(path)
	if err != nil {
		return 0, errors.Wrap(err, "查询余额失败")
	}
	if resp.IsError() {
		return 0, errors.Errorf("查询余额状态码 %d: %s", resp.StatusCode(), resp.String())
	}
	raw, err := strconv.ParseFloat(out.Balance, 64)
	if err != nil {
		return 0, errors.Wrap(err, "解析余额失败")
	}
	// 链上金额为 1e6 精度
	return raw / 1e6, nil
}

func (c *Client) ownerAPIKey() string {
	c.credsMu.Lock()
	defer c.credsMu.Unlock()
	if c.creds == nil {
		return ""
	}
	return c.creds.APIKey
}
