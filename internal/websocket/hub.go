package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempmail/inboxsync/internal/auth/jwt"
	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/middleware"
	"tempmail/inboxsync/internal/viewer"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 16
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			// 没有 Origin 视为同源请求
			return requestOrigin == ""
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	// 服务端发送
	MessageTypeSnapshot MessageType = "snapshot"
	MessageTypePing     MessageType = "ping"
	MessageTypeError    MessageType = "error"

	// 客户端发送
	MessageTypeRefresh    MessageType = "refresh"
	MessageTypeExpand     MessageType = "expand"
	MessageTypeNewAddress MessageType = "new_address"
	MessageTypePong       MessageType = "pong"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType      `json:"type"`
	MessageID string           `json:"messageId,omitempty"`
	Snapshot  *domain.Snapshot `json:"snapshot,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID     string
	viewer *viewer.Viewer
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	hub    *Hub
	log    *zap.Logger
}

// Hub 管理所有WebSocket连接，把查看者的快照变化推送给对应连接
type Hub struct {
	clients        map[string]*Client
	register       chan *Client
	unregister     chan *Client
	done           chan struct{}
	mu             sync.RWMutex
	tokens         *jwt.Manager
	viewers        *viewer.Registry
	allowedOrigins []string
	log            *zap.Logger
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - tokens: 查看者令牌管理器
//   - viewers: 查看者注册表
//   - allowedOrigins: 允许的 Origin 列表，为空时允许所有来源
func NewHub(tokens *jwt.Manager, viewers *viewer.Registry, allowedOrigins []string, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:        make(map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		tokens:         tokens,
		viewers:        viewers,
		allowedOrigins: allowedOrigins,
		log:            log.With(zap.String("component", "websocket")),
	}
}

// Run 启动Hub，ctx 结束后关闭所有连接并拒绝新连接。只能调用一次。
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			client.viewer.Attach()
			h.log.Info("client registered",
				zap.String("id", client.ID),
				zap.String("viewer_id", client.viewer.ID),
			)
			go client.forward()

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.ID]
			delete(h.clients, client.ID)
			h.mu.Unlock()
			if ok {
				client.close()
				client.viewer.Detach(time.Now())
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// Len 返回当前连接数
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// pingAllClients 向所有客户端发送应用层 ping
func (h *Hub) pingAllClients() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		client.sendMessage(&Message{Type: MessageTypePing, Timestamp: time.Now()})
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
		client.viewer.Detach(time.Now())
	}
}

// authenticate 解析查看者令牌并返回对应的查看者
func (h *Hub) authenticate(c *gin.Context) (*viewer.Viewer, error) {
	token := middleware.ExtractToken(c)
	if token == "" {
		return nil, errors.New("missing viewer token")
	}

	claims, err := h.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	return h.viewers.Get(claims.ViewerID)
}

// HandleWebSocket 处理WebSocket连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		select {
		case <-hub.done:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
			return
		default:
		}

		v, err := hub.authenticate(c)
		if err != nil {
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:     uuid.NewString(),
			viewer: v,
			conn:   conn,
			send:   make(chan []byte, sendBuffer),
			done:   make(chan struct{}),
			hub:    hub,
			log:    hub.log.With(zap.String("viewer_id", v.ID)),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			// Hub 在升级期间停止
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeTimeout))
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// forward 把引擎快照转发给客户端，直到连接关闭或引擎停止
func (c *Client) forward() {
	updates, cancel := c.viewer.Engine.Subscribe()
	defer cancel()

	for {
		select {
		case <-c.done:
			return
		case snap, ok := <-updates:
			if !ok {
				// 查看者已被回收
				c.conn.Close()
				return
			}
			c.sendMessage(&Message{Type: MessageTypeSnapshot, Snapshot: &snap, Timestamp: time.Now()})
		}
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.done:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket error", zap.Error(err))
			}
			return
		}
		c.viewer.Touch(time.Now())
		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息，耗时动作交给协程池执行
func (c *Client) handleMessage(msg *Message) {
	engine := c.viewer.Engine

	switch msg.Type {
	case MessageTypeRefresh:
		c.submit(func(ctx context.Context) error { return engine.RefreshNow(ctx) })
	case MessageTypeExpand:
		if msg.MessageID == "" {
			c.sendError("messageId is required")
			return
		}
		if !engine.ExpandAsync(msg.MessageID) {
			c.sendError("server busy, try again")
		}
	case MessageTypeNewAddress:
		c.submit(func(ctx context.Context) error {
			_, err := engine.CreateNewSession(ctx)
			if errors.Is(err, domain.ErrStaleResult) {
				return nil
			}
			return err
		})
	case MessageTypePong:
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	default:
		c.log.Warn("unknown message type", zap.String("type", string(msg.Type)))
		c.sendError("unknown message type: " + string(msg.Type))
	}
}

func (c *Client) submit(action func(ctx context.Context) error) {
	ok := c.viewer.Engine.Go(func(ctx context.Context) {
		if err := action(ctx); err != nil {
			c.sendError(err.Error())
		}
	})
	if !ok {
		c.sendError("server busy, try again")
	}
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{Type: MessageTypeError, Error: errMsg, Timestamp: time.Now()})
}

// sendMessage 发送消息给客户端，连接关闭后静默丢弃
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}
