package result

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"signalbridge/internal/model"
	"signalbridge/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
	// 新连接建立时补发的最近结果条数
	replayCount = 20
)

type ClientConn struct {
	Conn *websocket.Conn
	Send chan []byte // 异步发送通道
}

// Hub 把编排结果实时推送给所有 websocket 连接
type Hub struct {
	feed     Recent
	mu       sync.RWMutex
	clients  map[*ClientConn]struct{}
	upgrader websocket.Upgrader
}

// Recent 新连接的补发来源
type Recent interface {
	Recent(ctx context.Context, limit int) ([]model.OrchestrationResult, error)
}

func NewHub(feed Recent) *Hub {
	return &Hub{
		feed:    feed,
		clients: make(map[*ClientConn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // 允许跨域
		},
	}
}

// Broadcast 结果总线的订阅者，发送队列满的连接直接丢弃该条
func (h *Hub) Broadcast(_ context.Context, r model.OrchestrationResult) {
	data, err := json.Marshal(r)
	if err != nil {
		logger.Error("marshal result failed", logger.Pair("runId", r.RunID), logger.Pair("err", err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Send <- data:
		default:
			logger.Warn("ws client send queue full, result dropped", logger.Pair("runId", r.RunID))
		}
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("ws upgrade failed", logger.Pair("err", err))
		return
	}
	client := &ClientConn{Conn: conn, Send: make(chan []byte, sendBuffer)}
	h.replay(c.Request.Context(), client)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		close(client.Send)
		h.mu.Unlock()
	}()

	go client.writePump()
	// 阻塞直到客户端断开
	client.readPump()
}

// replay 先补发最近的结果，旧的在前
func (h *Hub) replay(ctx context.Context, client *ClientConn) {
	if h.feed == nil {
		return
	}
	recent, err := h.feed.Recent(ctx, replayCount)
	if err != nil {
		logger.Warn("load recent results for ws client failed", logger.Pair("err", err))
		return
	}
	for i := len(recent) - 1; i >= 0; i-- {
		data, err := json.Marshal(recent[i])
		if err != nil {
			continue
		}
		select {
		case client.Send <- data:
		default:
			return
		}
	}
}

func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("ws write failed", logger.Pair("err", err))
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只读控制帧，客户端消息忽略
func (c *ClientConn) readPump() {
	defer c.Conn.Close()
	c.Conn.SetReadLimit(512)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
