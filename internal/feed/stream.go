package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/logger"
)

const (
	// 重连退避：5s 起步，指数翻倍，封顶 120s
	reconnectBackoffMin = 5 * time.Second
	reconnectBackoffMax = 120 * time.Second

	// 看门狗：30s 没有数据视为死连接，强制断开触发重连
	watchdogStale    = 30 * time.Second
	watchdogInterval = 10 * time.Second
)

// oracleStream 持久化 RTDS WebSocket 流。
//
// 订阅两个 topic：
//   - crypto_prices_chainlink（btc/usd）：结算预言机，权威
//   - crypto_prices（btcusdt）：Polymarket 自己的 Binance 转发流，只做偏差参考
type oracleStream struct {
	url     string
	onTick  func(domain.Tick)

	connMu sync.Mutex
	conn   *websocket.Conn

	lastMsgMu sync.Mutex
	lastMsgAt time.Time

	closed chan struct{}
	once   sync.Once
}

func newOracleStream(url string, onTick func(domain.Tick)) *oracleStream {
	return &oracleStream{
		url:    url,
		onTick: onTick,
		closed: make(chan struct{}),
	}
}

type rtdsSubscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters"`
}

type rtdsSubscribeMsg struct {
	Action        string             `json:"action"`
	Subscriptions []rtdsSubscription `json:"subscriptions"`
}

type rtdsMessage struct {
	Topic   string `json:"topic"`
	Payload struct {
		Symbol    string  `json:"symbol"`
		Value     float64 `json:"value"`
		Timestamp int64   `json:"timestamp"`
	} `json:"payload"`
}

// run 持续运行直到 ctx 取消：连接 → 订阅 → 读循环 → 断开 → 退避重连
func (s *oracleStream) run(ctx context.Context) {
	go s.watchdog(ctx)

	backoff := reconnectBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		default:
		}

		if err := s.connectAndRead(ctx); err != nil {
			logger.Warnf("RTDS 流断开: %v — %s 后重连", err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectBackoffMax {
			backoff = reconnectBackoffMax
		}
	}
}

func (s *oracleStream) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
		conn.Close()
	}()

	// 分开发送两条订阅（部分 RTDS 服务端不接受合并订阅）
	subs := []rtdsSubscribeMsg{
		{Action: "subscribe", Subscriptions: []rtdsSubscription{
			{Topic: "crypto_prices_chainlink", Type: "*", Filters: ""},
		}},
		{Action: "subscribe", Subscriptions: []rtdsSubscription{
			{Topic: "crypto_prices", Type: "update", Filters: "btcusdt"},
		}},
	}
	for _, msg := range subs {
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	logger.Info("RTDS 已连接 — 订阅 Chainlink + Binance topic")
	s.touch()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(watchdogStale + watchdogInterval))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.touch()
		s.handleMessage(raw)
	}
}

func (s *oracleStream) handleMessage(raw []byte) {
	if len(raw) == 0 {
		return
	}
	var msg rtdsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	ts := msg.Payload.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	// 有些消息用秒级时间戳
	if ts < 1e12 {
		ts *= 1000
	}

	switch msg.Topic {
	case "crypto_prices_chainlink":
		if msg.Payload.Symbol == "btc/usd" && msg.Payload.Value > 0 {
			s.onTick(domain.Tick{
				Source:      SourceChainlink,
				Asset:       "BTC",
				Price:       msg.Payload.Value,
				TimestampMs: ts,
			})
		}
	case "crypto_prices":
		if msg.Payload.Symbol == "btcusdt" && msg.Payload.Value > 0 {
			// rtds_binance 不是主源，但走同一条流；记录为 tick 由 feed 归类
			s.onTick(domain.Tick{
				Source:      "rtds_binance",
				Asset:       "BTC",
				Price:       msg.Payload.Value,
				TimestampMs: ts,
			})
		}
	}
}

// watchdog 周期检查流健康：超过 30s 无消息就强制断开，交给 run 重连
func (s *oracleStream) watchdog(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
		}

		s.lastMsgMu.Lock()
		last := s.lastMsgAt
		s.lastMsgMu.Unlock()
		if last.IsZero() {
			continue
		}
		if age := time.Since(last); age > watchdogStale {
			logger.Warnf("RTDS 看门狗: %s 无数据 — 强制断开触发重连", age.Truncate(time.Second))
			s.forceClose()
			s.lastMsgMu.Lock()
			s.lastMsgAt = time.Time{}
			s.lastMsgMu.Unlock()
		}
	}
}

func (s *oracleStream) touch() {
	s.lastMsgMu.Lock()
	s.lastMsgAt = time.Now()
	s.lastMsgMu.Unlock()
}

func (s *oracleStream) forceClose() {
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.connMu.Unlock()
}

// close 永久关闭（shutdown 用）
func (s *oracleStream) close() {
	s.once.Do(func() {
		close(s.closed)
		s.forceClose()
	})
}
