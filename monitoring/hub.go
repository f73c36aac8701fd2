// Package monitoring pushes model status changes to websocket clients.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mailclass/logging"
)

// MessageType 消息类型
type MessageType string

// ModelStatus messages carry ModelStatusData.
const ModelStatus MessageType = "model_status"

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

// Message 消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ModelStatusData is the payload of a ModelStatus message.
type ModelStatusData struct {
	ModelStatus string `json:"model_status"`
	State       string `json:"state"`
	RunID       string `json:"run_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Stats 连接统计
type Stats struct {
	ConnectedClients int64     `json:"connected_clients"`
	MessagesSent     int64     `json:"messages_sent"`
	Dropped          int64     `json:"dropped"`
	StartTime        time.Time `json:"start_time"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to connected websocket clients. New clients
// receive the most recent message first so they start with current state.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	last      []byte
	connected atomic.Int64
	sent      atomic.Int64
	dropped   atomic.Int64
	started   time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub 创建Hub，调用 Run 启动
func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger:  logging.OrNop(logger),
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Run serves register, unregister and broadcast until ctx is cancelled,
// then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.connected.Store(int64(len(h.clients)))
			if h.last != nil {
				c.send <- h.last
			}
			h.logger.Debug("status client connected", zap.String("client_id", c.id), zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.connected.Store(int64(len(h.clients)))
			h.logger.Debug("status client disconnected", zap.String("client_id", c.id), zap.Int("clients", len(h.clients)))

		case msg := <-h.broadcast:
			h.last = msg
			for c := range h.clients {
				select {
				case c.send <- msg:
					h.sent.Add(1)
				default:
					// Slow consumer; drop it rather than block the hub.
					close(c.send)
					delete(h.clients, c)
					h.dropped.Add(1)
				}
			}
			h.connected.Store(int64(len(h.clients)))

		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.connected.Store(0)
			return
		}
	}
}

// Publish encodes data as a message of type t and queues it for broadcast.
func (h *Hub) Publish(t MessageType, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("monitoring: encode %s: %w", t, err)
	}
	msg, err := json.Marshal(Message{Type: t, Timestamp: time.Now().UTC(), Data: payload})
	if err != nil {
		return fmt.Errorf("monitoring: encode message: %w", err)
	}

	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return fmt.Errorf("monitoring: hub stopped")
	default:
		h.dropped.Add(1)
		h.logger.Warn("status broadcast queue full, dropping message", zap.String("type", string(t)))
		return nil
	}
}

// PublishModelStatus is a convenience wrapper for ModelStatus messages.
func (h *Hub) PublishModelStatus(data ModelStatusData) error {
	return h.Publish(ModelStatus, data)
}

// Stats 获取统计信息
func (h *Hub) Stats() Stats {
	return Stats{
		ConnectedClients: h.connected.Load(),
		MessagesSent:     h.sent.Load(),
		Dropped:          h.dropped.Load(),
		StartTime:        h.started,
	}
}

// ServeHTTP 升级为WebSocket连接并注册客户端
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump(h.logger)
	go c.readPump(h)
}

func (c *client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("websocket write failed", zap.String("client_id", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client input; it only exists to notice disconnects.
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}
