package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/polymarket/go-order-utils/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/oraclebot/clob"
	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/config"
)

// stubAPI 可编程的 CLOB stub（配对下单是并发的，所以要加锁）
type stubAPI struct {
	mu            sync.Mutex
	postResponses []*clob.OrderResponse
	postTypes     []clob.OrderType
	postErr       error

	orderStatuses []*clob.OpenOrder // GetOrder 依次返回
	statusCalls   int

	cancelled []string
	cancelErr error

	bid, ask float64
}

func (s *stubAPI) BuildSignedOrder(string, clob.Side, float64, float64, int, bool) (*model.SignedOrder, error) {
	return &model.SignedOrder{}, nil
}

func (s *stubAPI) PostOrder(_ context.Context, _ *model.SignedOrder, ot clob.OrderType) (*clob.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postTypes = append(s.postTypes, ot)
	if s.postErr != nil {
		return nil, s.postErr
	}
	if len(s.postResponses) == 0 {
		return &clob.OrderResponse{Success: false, Status: "unmatched"}, nil
	}
	resp := s.postResponses[0]
	s.postResponses = s.postResponses[1:]
	return resp, nil
}

func (s *stubAPI) CancelOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
	return s.cancelErr
}

func (s *stubAPI) CancelAll(context.Context) error { return nil }

func (s *stubAPI) GetOrder(context.Context, string) (*clob.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusCalls >= len(s.orderStatuses) {
		return nil, nil
	}
	out := s.orderStatuses[s.statusCalls]
	s.statusCalls++
	return out, nil
}

func (s *stubAPI) BestPrices(context.Context, string) (float64, float64, error) {
	return s.bid, s.ask, nil
}

func testExecutor(api ClobAPI) *Executor {
	e := New(api, config.Default().Clob, nil)
	// 测试里不等真实的 3s/2s 复核间隔
	e.sleepFn = func(context.Context, time.Duration) error { return nil }
	return e
}

func testMarket() *domain.Market {
	return &domain.Market{
		Slug:       "btc-updown-15m-1765985400",
		YesTokenID: "yes-token",
		NoTokenID:  "no-token",
		Timeframe:  "15m",
		OpenTs:     1765985400,
		CloseTs:    1765986300,
		Liquidity:  1000,
	}
}

func testRequest() Request {
	return Request{
		WindowID: domain.WindowID{TimeframeMins: 15, OpenTs: 1765985400},
		Market:   testMarket(),
		Side:     domain.SideYes,
		SizeUSD:  25,
	}
}

// 干净成交：FoK 成功 → 复核通过 → 建仓
func TestSubmit_CleanFill(t *testing.T) {
	api := &stubAPI{
		bid: 0.54, ask: 0.56,
		postResponses: []*clob.OrderResponse{
			{Success: true, Status: "matched", OrderID: "ord-1", TransactionHashes: []string{"0xabc"}},
		},
		// 状态比较大小写不敏感：故意用大写
		orderStatuses: []*clob.OpenOrder{
			{ID: "ord-1", Status: "MATCHED", SizeMatched: "44.6"},
		},
	}
	e := testExecutor(api)

	result, err := e.Submit(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, result.Position)
	assert.Equal(t, domain.OrderFilled, result.Order.State)
	assert.Equal(t, 44.6, result.Order.Shares)
	assert.Equal(t, []clob.OrderType{clob.OrderTypeFOK}, api.postTypes)
}

// 幽灵成交：提交响应成功，但 3s+2s 两次复核都查不到份额
// → Phantom，不建仓，返回错误
func TestSubmit_PhantomFill(t *testing.T) {
	api := &stubAPI{
		bid: 0.54, ask: 0.56,
		postResponses: []*clob.OrderResponse{
			{Success: true, Status: "matched", OrderID: "ord-2"},
		},
		orderStatuses: []*clob.OpenOrder{
			{ID: "ord-2", Status: "live", SizeMatched: "0"},
			{ID: "ord-2", Status: "live", SizeMatched: "0"},
		},
	}
	e := testExecutor(api)

	result, err := e.Submit(context.Background(), testRequest())
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.Position)
	assert.Equal(t, domain.OrderPhantom, result.Order.State)
	assert.Equal(t, 2, api.statusCalls, "应查询两次状态")
}

// 复核两次都查不到订单（404）同样按 Phantom 处理
func TestSubmit_PhantomWhenOrderMissing(t *testing.T) {
	api := &stubAPI{
		bid: 0.54, ask: 0.56,
		postResponses: []*clob.OrderResponse{
			{Success: true, Status: "matched", OrderID: "ord-3"},
		},
	}
	e := testExecutor(api)

	result, err := e.Submit(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, domain.OrderPhantom, result.Order.State)
	assert.Nil(t, result.Position)
}

// FoK 不成交 → 同价转 GTC → GTC 成交 → 复核建仓
func TestSubmit_FoKFallsBackToGTC(t *testing.T) {
	api := &stubAPI{
		bid: 0.54, ask: 0.56,
		postResponses: []*clob.OrderResponse{
			{Success: false, Status: "unmatched"},                    // FoK
			{Success: true, Status: "matched", OrderID: "ord-4"},     // GTC
		},
		orderStatuses: []*clob.OpenOrder{
			{ID: "ord-4", Status: "matched", SizeMatched: "44.6"},
		},
	}
	e := testExecutor(api)

	result, err := e.Submit(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, result.Position)
	assert.Equal(t, []clob.OrderType{clob.OrderTypeFOK, clob.OrderTypeGTC}, api.postTypes)
	assert.Equal(t, domain.TIFGTC, result.Order.TIF)
}

// GTC 挂着不成交 → 超时撤单，不建仓
func TestSubmit_GTCTimeoutCancelled(t *testing.T) {
	api := &stubAPI{
		bid: 0.54, ask: 0.56,
		postResponses: []*clob.OrderResponse{
			{Success: false, Status: "unmatched"},              // FoK
			{Success: false, Status: "live", OrderID: "ord-5"}, // GTC 挂簿
		},
		orderStatuses: []*clob.OpenOrder{
			{ID: "ord-5", Status: "live", SizeMatched: "0"},
		},
	}
	e := testExecutor(api)

	result, err := e.Submit(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Nil(t, result.Position)
	assert.Equal(t, domain.OrderCancelled, result.Order.State)
	assert.Contains(t, api.cancelled, "ord-5")
}

// 滑点带：ask 超出 mid×(1+band) 时限价被压回带内
func TestLimitWithinSlippageBand(t *testing.T) {
	api := &stubAPI{bid: 0.50, ask: 0.80} // mid=0.65, band 2% → 0.663
	e := testExecutor(api)

	price, err := e.limitWithinBand(context.Background(), "tok")
	require.NoError(t, err)
	assert.LessOrEqual(t, price.ToDecimal(), 0.663+1e-9)
}

// 场景：套利双腿都成交
func TestSubmitPair_BothFilled(t *testing.T) {
	api := &stubAPI{
		bid: 0.44, ask: 0.45,
		postResponses: []*clob.OrderResponse{
			{Success: true, Status: "matched", OrderID: "leg-a"},
			{Success: true, Status: "matched", OrderID: "leg-b"},
		},
	}
	e := testExecutor(api)

	result, err := e.SubmitPair(context.Background(), PairRequest{
		WindowID: domain.WindowID{TimeframeMins: 15, OpenTs: 1765985400},
		Market:   testMarket(),
		YesPrice: domain.PriceFromDecimal(0.45),
		NoPrice:  domain.PriceFromDecimal(0.48),
		SizeUSD:  5,
	})
	require.NoError(t, err)
	assert.True(t, result.BothFilled)
	assert.False(t, result.RolledBack)
}

// 单腿成交 → 反向单回滚
func TestSubmitPair_SingleLegRollsBack(t *testing.T) {
	api := &stubAPI{
		bid: 0.44, ask: 0.45,
		postResponses: []*clob.OrderResponse{
			{Success: true, Status: "matched", OrderID: "leg-a"},
			{Success: false, Status: "unmatched", ErrorMsg: "no liquidity"},
			{Success: true, Status: "matched", OrderID: "rollback"}, // 回滚卖单
		},
	}
	e := testExecutor(api)

	result, err := e.SubmitPair(context.Background(), PairRequest{
		WindowID: domain.WindowID{TimeframeMins: 15, OpenTs: 1765985400},
		Market:   testMarket(),
		YesPrice: domain.PriceFromDecimal(0.45),
		NoPrice:  domain.PriceFromDecimal(0.48),
		SizeUSD:  5,
	})
	require.NoError(t, err)
	assert.False(t, result.BothFilled)
	assert.True(t, result.RolledBack)
	assert.Len(t, api.postTypes, 3)
}

func TestEstimatedFee(t *testing.T) {
	e := testExecutor(&stubAPI{})
	// 50c 处最高（≈ fallback），两端衰减到 0
	at50 := e.EstimatedFeePct(0.5)
	at90 := e.EstimatedFeePct(0.9)
	assert.InDelta(t, config.Default().Clob.FeeFallbackPct, at50, 1e-9)
	assert.Less(t, at90, at50)
	assert.Equal(t, 0.0, e.EstimatedFeePct(1.0))
}
