package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/betbot/oraclebot/internal/app"
	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/internal/events"
	"github.com/betbot/oraclebot/pkg/logger"
)

// Server 控制台：HTTP 静态页 + WebSocket 推送。
// 契约是服务端单向推送（tick / trade / engine_status），不接收指令。
type Server struct {
	appCtx *app.Context

	srv *http.Server

	mu      sync.Mutex
	clients map[*wsClient]bool

	stop chan struct{}
	once sync.Once
	done chan struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan events.Event
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 本地控制台，不做跨域限制
	CheckOrigin: func(*http.Request) bool { return true },
}

// New 创建控制台服务
func New(appCtx *app.Context) *Server {
	return &Server{
		appCtx:  appCtx,
		clients: make(map[*wsClient]bool),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *Server) Name() string { return "dashboard" }

// Start 启动 HTTP/WS 服务（阻塞直到取消）
func (s *Server) Start(ctx context.Context) {
	defer close(s.done)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", s.handleIndex)
	r.GET("/ws", s.handleWS)
	r.GET("/api/trades", s.handleTrades)
	r.GET("/api/risk", s.handleRisk)

	// 事件总线 → 所有 WS 客户端（非阻塞：慢客户端丢事件）
	s.appCtx.Events.Subscribe(s.broadcast)
	// 价格心跳
	s.appCtx.Feed.Subscribe(func(tick domain.Tick) {
		s.broadcast(events.Event{
			Type:      "tick",
			Timestamp: time.Now(),
			Payload: events.TickPayload{
				Source: tick.Source,
				Price:  tick.Price,
				AgeMs:  time.Now().UnixMilli() - tick.TimestampMs,
			},
		})
	})

	addr := fmt.Sprintf(":%d", s.appCtx.Cfg.Dashboard.Port)
	s.srv = &http.Server{Addr: addr, Handler: r}
	logger.Infof("控制台: http://localhost%s", addr)

	go func() {
		select {
		case <-ctx.Done():
		case <-s.stop:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("控制台启动失败: %v", err)
	}

	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
		_ = c.conn.Close()
	}
	s.clients = map[*wsClient]bool{}
	s.mu.Unlock()
}

// Stop 停止服务
func (s *Server) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := &wsClient{conn: conn, send: make(chan events.Event, 128)}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go s.writeLoop(client)
	// push-only：读循环只用于感知断开
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.dropClient(client)
				return
			}
		}
	}()
}

func (s *Server) writeLoop(client *wsClient) {
	for ev := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := client.conn.WriteJSON(ev); err != nil {
			s.dropClient(client)
			return
		}
	}
}

func (s *Server) dropClient(client *wsClient) {
	s.mu.Lock()
	if s.clients[client] {
		delete(s.clients, client)
		close(client.send)
	}
	s.mu.Unlock()
	_ = client.conn.Close()
}

func (s *Server) broadcast(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- ev:
		default:
			// 慢客户端：丢事件不丢连接
		}
	}
}

func (s *Server) handleTrades(c *gin.Context) {
	rows, err := s.appCtx.Store.RecentTrades(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"bankroll": s.appCtx.Risk.Bankroll(),
		"buckets":  s.appCtx.Risk.Snapshot(),
	})
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>oraclebot</title>
<style>
body { font-family: ui-monospace, monospace; background: #0d1117; color: #c9d1d9; margin: 2em; }
h1 { font-size: 1.2em; } .price { font-size: 2em; color: #58a6ff; }
#log { white-space: pre-wrap; font-size: 0.85em; color: #8b949e; max-height: 60vh; overflow-y: auto; }
</style></head>
<body>
<h1>oraclebot</h1>
<div class="price" id="price">—</div>
<div id="log"></div>
<script>
const ws = new WebSocket("ws://" + location.host + "/ws");
const log = document.getElementById("log");
ws.onmessage = (m) => {
  const ev = JSON.parse(m.data);
  if (ev.type === "tick") {
    document.getElementById("price").textContent = "$" + ev.payload.price.toLocaleString();
    return;
  }
  log.textContent = new Date().toISOString() + " " + ev.type + " " + JSON.stringify(ev.payload) + "\n" + log.textContent;
};
</script>
</body></html>`
