package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

type Hub struct {
	// 每个任务可以有多个连接（多标签页、重连等场景）
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	JobID string
	Conn  *websocket.Conn
	mu    sync.Mutex // 写锁，防止并发写入
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.JobID] == nil {
		h.clients[client.JobID] = make(map[*Client]struct{})
	}
	h.clients[client.JobID][client] = struct{}{}

	log.Printf("Job %s: ws observer connected, job_conns: %d", client.JobID, len(h.clients[client.JobID]))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[client.JobID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.JobID)
		}
	}
	log.Printf("Job %s: ws observer disconnected", client.JobID)
}

// SendToJob 向订阅该任务的所有连接发送消息
func (h *Hub) SendToJob(jobID string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns, ok := h.clients[jobID]
	if !ok {
		h.mu.RUnlock()
		return nil
	}
	// 复制一份引用，避免长时间持锁
	clients := make([]*Client, 0, len(conns))
	for c := range conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.Conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			log.Printf("SendToJob write error for job %s: %v", jobID, err)
		}
	}
	return nil
}

// Send 向单个连接发送消息
func (c *Client) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// HasObservers 该任务是否有在线的 ws 订阅者
func (h *Hub) HasObservers(jobID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.clients[jobID]
	return ok && len(conns) > 0
}

// ConnectionCount 获取在线连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
