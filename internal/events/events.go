package events

import (
	"sync"
	"time"

	"github.com/betbot/oraclebot/internal/domain"
)

// Event 控制台推送事件（push-only）
type Event struct {
	Type      string      `json:"type"` // tick / window / signal / trade / engine_status
	Timestamp time.Time   `json:"ts"`
	Payload   interface{} `json:"payload"`
}

// TickPayload 价格心跳
type TickPayload struct {
	Source string  `json:"source"`
	Price  float64 `json:"price"`
	AgeMs  int64   `json:"age_ms"`
}

// WindowPayload 窗口状态变化
type WindowPayload struct {
	WindowID  string  `json:"window_id"`
	Timeframe int     `json:"timeframe_mins"`
	State     string  `json:"state"`
	Reason    string  `json:"reason,omitempty"`
	Anchor    float64 `json:"anchor,omitempty"`
}

// SignalPayload 策略判定
type SignalPayload struct {
	WindowID   string  `json:"window_id"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	DriftPct   float64 `json:"drift_pct"`
	Reason     string  `json:"reason"`
}

// TradePayload 交易事件
type TradePayload struct {
	WindowID string  `json:"window_id"`
	Engine   string  `json:"engine"`
	Side     string  `json:"side"`
	SizeUSD  float64 `json:"size_usd"`
	Price    float64 `json:"price"`
	State    string  `json:"state"`
	Pnl      float64 `json:"pnl,omitempty"`
}

// EngineStatusPayload 引擎状态
type EngineStatusPayload struct {
	Engine string `json:"engine"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler 事件处理回调
type Handler func(Event)

// Bus 进程内事件总线。广播非阻塞：慢订阅者丢事件，不拖住交易路径。
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe 注册处理器
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish 广播事件
func (b *Bus) Publish(eventType string, payload interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	ev := Event{Type: eventType, Timestamp: time.Now(), Payload: payload}
	for _, h := range handlers {
		h(ev)
	}
}

// PublishWindow 窗口事件便捷方法
func (b *Bus) PublishWindow(w *domain.Window) {
	if w == nil {
		return
	}
	p := WindowPayload{
		WindowID:  w.ID.String(),
		Timeframe: w.ID.TimeframeMins,
		State:     string(w.State),
		Reason:    string(w.Skip),
	}
	if w.AnchorPrice != nil {
		p.Anchor = *w.AnchorPrice
	}
	b.Publish("window", p)
}
