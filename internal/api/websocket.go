// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NekoFlux/CyberCompanion/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 生产环境应收紧来源检查
		return true
	},
}

// wsClient 一条订阅会话推送的WebSocket连接
type wsClient struct {
	conn     *websocket.Conn
	slid     string
	send     chan []byte
	closed   int32
	lastPing time.Time
}

func (c *wsClient) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.conn.Close()
	}
}

func (c *wsClient) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// wsHub 按角色会话分组管理WebSocket连接
// 流式增量与定稿事件通过 BroadcastToSession 推送给订阅者
type wsHub struct {
	mu          sync.RWMutex
	sessions    map[string]map[*wsClient]bool // slid -> clients
	register    chan *wsClient
	unregister  chan *wsClient
	pingTimeout time.Duration
}

var hub = &wsHub{
	sessions:    make(map[string]map[*wsClient]bool),
	register:    make(chan *wsClient, 64),
	unregister:  make(chan *wsClient, 64),
	pingTimeout: 60 * time.Second,
}

func init() {
	go hub.run()
}

func (h *wsHub) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-ticker.C:
			h.dropExpired()
		}
	}
}

func (h *wsHub) addClient(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[client.slid] == nil {
		h.sessions[client.slid] = make(map[*wsClient]bool)
	}
	h.sessions[client.slid][client] = true
	client.lastPing = time.Now()

	utils.GetLogger().Info("WebSocket客户端已连接", map[string]interface{}{"slid": client.slid})
}

func (h *wsHub) removeClient(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, exists := h.sessions[client.slid]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.sessions, client.slid)
		}
	}
	client.close()
}

func (h *wsHub) dropExpired() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for slid, clients := range h.sessions {
		for client := range clients {
			if client.isClosed() || time.Since(client.lastPing) > h.pingTimeout {
				client.close()
				delete(clients, client)
			}
		}
		if len(clients) == 0 {
			delete(h.sessions, slid)
		}
	}
}

// BroadcastToSession 向订阅指定角色会话的客户端推送事件
func (h *wsHub) BroadcastToSession(slid string, message map[string]interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		utils.GetLogger().Error("序列化推送消息失败", map[string]interface{}{"err": err.Error()})
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.sessions[slid]))
	for client := range h.sessions[slid] {
		if !client.isClosed() {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- data:
		default:
			// 队列满的连接视为失活
			client.close()
		}
	}
}

// Status 返回当前连接概况
func (h *wsHub) Status() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	sessions := make(map[string]int)
	for slid, clients := range h.sessions {
		sessions[slid] = len(clients)
		total += len(clients)
	}
	return map[string]interface{}{
		"total_connections": total,
		"sessions":          sessions,
	}
}

// serveClient 启动读写泵，读循环只负责续命与感知断开
func serveClient(client *wsClient) {
	hub.register <- client

	go func() {
		defer func() {
			hub.unregister <- client
		}()
		client.conn.SetReadLimit(4096)
		client.conn.SetReadDeadline(time.Now().Add(hub.pingTimeout))
		client.conn.SetPongHandler(func(string) error {
			client.lastPing = time.Now()
			client.conn.SetReadDeadline(time.Now().Add(hub.pingTimeout))
			return nil
		})
		for {
			if _, _, err := client.conn.ReadMessage(); err != nil {
				return
			}
			client.lastPing = time.Now()
		}
	}()

	go func() {
		pinger := time.NewTicker(30 * time.Second)
		defer pinger.Stop()
		for {
			select {
			case data, ok := <-client.send:
				if !ok {
					return
				}
				client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					client.close()
					return
				}
			case <-pinger.C:
				client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					client.close()
					return
				}
			}
		}
	}()
}
