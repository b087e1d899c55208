package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wyfcoding/bspricer/idgen"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 16
)

// Client 单个 websocket 连接。
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	manager *WSManager
	topics  map[string]struct{}
	mu      sync.Mutex
}

// ID 连接唯一标识。
func (c *Client) ID() string {
	return c.id
}

func (c *Client) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

// BroadcastMessage 广播消息。
type BroadcastMessage struct {
	Topic   string
	Payload []byte
}

// WSManager 管理全部活跃连接，按主题分发广播。实现 Server 接口。
type WSManager struct {
	clients    map[*Client]struct{}
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewWSManager allowedOrigins 为空时只接受同源与本地开发来源。
func NewWSManager(logger *slog.Logger, allowedOrigins []string) *WSManager {
	m := &WSManager{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan BroadcastMessage, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With("module", "websocket_manager"),
	}
	m.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, allowedOrigins)
		},
	}
	return m
}

func checkOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(allowed, origin) {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	requestHost, originHost := r.Host, u.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if h, _, err := net.SplitHostPort(originHost); err == nil {
		originHost = h
	}
	if strings.EqualFold(requestHost, originHost) {
		return true
	}
	return originHost == "localhost" || originHost == "127.0.0.1"
}

// Start 运行分发循环，直到 ctx 取消或 Stop 被调用。
func (m *WSManager) Start(ctx context.Context) error {
	m.Run(ctx)
	return nil
}

// Stop 结束分发循环并关闭所有连接。
func (m *WSManager) Stop(context.Context) error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

// Run 分发循环。
func (m *WSManager) Run(ctx context.Context) {
	defer m.closeAll()
	for {
		select {
		case <-ctx.Done():
			m.stopOnce.Do(func() { close(m.done) })
			return
		case <-m.done:
			return
		case client := <-m.register:
			m.mu.Lock()
			m.clients[client] = struct{}{}
			m.mu.Unlock()
			m.logger.Debug("client registered", "client_id", client.id, "addr", client.conn.RemoteAddr())
		case client := <-m.unregister:
			m.remove(client)
		case message := <-m.broadcast:
			m.dispatch(message)
		}
	}
}

func (m *WSManager) remove(client *Client) {
	m.mu.Lock()
	if _, ok := m.clients[client]; ok {
		delete(m.clients, client)
		close(client.send)
	}
	m.mu.Unlock()
	m.logger.Debug("client unregistered", "client_id", client.id)
}

func (m *WSManager) dispatch(message BroadcastMessage) {
	var slow []*Client
	m.mu.RLock()
	for client := range m.clients {
		if !client.subscribed(message.Topic) {
			continue
		}
		select {
		case client.send <- message.Payload:
		default:
			slow = append(slow, client)
		}
	}
	m.mu.RUnlock()

	// 缓冲区已满的慢客户端直接断开
	for _, client := range slow {
		m.logger.Warn("client buffer full, dropping", "client_id", client.id)
		m.remove(client)
	}
}

func (m *WSManager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for client := range m.clients {
		delete(m.clients, client)
		close(client.send)
	}
}

// Clients 当前连接数。
func (m *WSManager) Clients() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Broadcast 序列化 payload 后广播到 topic。
func (m *WSManager) Broadcast(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("failed to marshal broadcast data", "error", err)
		return
	}
	m.BroadcastRaw(topic, data)
}

// BroadcastRaw 广播原始字节，不阻塞调用方。分发循环已停止或队列已满时丢弃。
func (m *WSManager) BroadcastRaw(topic string, payload []byte) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.broadcast <- BroadcastMessage{Topic: topic, Payload: payload}:
	default:
		m.logger.Warn("broadcast queue full, dropping message", "topic", topic)
	}
}

// ServeHTTP 升级连接，客户端需通过 {"op":"subscribe","topic":...} 订阅主题。
func (m *WSManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.Serve(w, r, "", nil)
}

// InitialFunc 生成连接的首条消息，在客户端完成注册之后调用。
type InitialFunc func() ([]byte, error)

// Serve 升级连接并预先订阅 topic。initial 非空时其结果作为第一条消息发送，
// 注册之后才取值，因此注册期间发生的广播不会被漏掉。
func (m *WSManager) Serve(w http.ResponseWriter, r *http.Request, topic string, initial InitialFunc) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:      idgen.GenIDString(),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		manager: m,
		topics:  make(map[string]struct{}),
	}
	if topic != "" {
		client.topics[topic] = struct{}{}
	}

	select {
	case m.register <- client:
	case <-m.done:
		_ = conn.Close()
		return
	}

	if initial != nil {
		if err := client.writeInitial(initial); err != nil {
			m.logger.Warn("failed to send initial message", "client_id", client.id, "error", err)
			select {
			case m.unregister <- client:
			case <-m.done:
			}
			_ = conn.Close()
			return
		}
	}

	go client.writePump()
	go client.readPump()
}

// writeInitial 须在 writePump 启动前调用，此时连接只有一个写入方。
func (c *Client) writeInitial(initial InitialFunc) error {
	data, err := initial()
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd struct {
			Op    string `json:"op"`
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}
		c.mu.Lock()
		switch cmd.Op {
		case "subscribe":
			c.topics[cmd.Topic] = struct{}{}
		case "unsubscribe":
			delete(c.topics, cmd.Topic)
		}
		c.mu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.manager.logger.Debug("failed to write close message", "error", err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
