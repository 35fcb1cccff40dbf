package broadcast

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Publisher 向主题发布消息。投递语义为至多一次，仅送达当前在线的订阅者。
type Publisher interface {
	Publish(topic string, message any)
}

// RoomTopic 房间主题名
func RoomTopic(roomCode string) string {
	return "room/" + roomCode
}

// PollTopic 投票主题名
func PollTopic(roomCode, categoryID string) string {
	return "poll/" + roomCode + "/" + categoryID
}

// Client 代表一个WebSocket连接客户端
type Client struct {
	// 连接唯一标识
	ID string

	// 订阅的主题
	Topic string

	// WebSocket连接
	conn *websocket.Conn

	// 消息发送通道
	send chan []byte
}

// Hub 维护活跃的客户端集合并向客户端广播消息
type Hub struct {
	// 已注册的客户端，按主题分组
	clients map[string]map[*Client]bool

	// 注册请求
	register chan *Client

	// 注销请求
	unregister chan *Client

	// 互斥锁保护clients map
	mu sync.RWMutex
}

// NewHub 创建一个新的Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run 启动Hub消息处理循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.Topic]; !ok {
				h.clients[client.Topic] = make(map[*Client]bool)
			}
			h.clients[client.Topic][client] = true
			total := len(h.clients[client.Topic])
			h.mu.Unlock()
			log.Printf("Client %s registered for topic %s, total clients: %d", client.ID, client.Topic, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.Topic]; ok {
				if _, ok := h.clients[client.Topic][client]; ok {
					delete(h.clients[client.Topic], client)
					close(client.send)
					if len(h.clients[client.Topic]) == 0 {
						delete(h.clients, client.Topic)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client %s unregistered for topic %s", client.ID, client.Topic)
		}
	}
}

// Publish 向主题的所有连接客户端广播消息
func (h *Hub) Publish(topic string, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error converting message to JSON: %v", err)
		return
	}

	// 遍历和投递都在读锁内：注册/注销会并发修改clients map，
	// 而且send通道只会在写锁内被关闭，读锁保证投递时通道还活着。
	// 投递本身是非阻塞的，锁只占用极短时间。
	delivered := 0
	var evicted []*Client
	h.mu.RLock()
	for client := range h.clients[topic] {
		select {
		case client.send <- payload:
			delivered++
		default:
			// 客户端的发送缓冲区已满，记下来在写锁内移除
			evicted = append(evicted, client)
		}
	}
	h.mu.RUnlock()

	if len(evicted) > 0 {
		h.mu.Lock()
		for _, client := range evicted {
			// 可能已被并发的Publish或注销移除，关闭前必须确认还在
			if _, ok := h.clients[topic][client]; !ok {
				continue
			}
			delete(h.clients[topic], client)
			close(client.send)
			if len(h.clients[topic]) == 0 {
				delete(h.clients, topic)
			}
		}
		h.mu.Unlock()
	}
	log.Printf("Broadcast message to %d clients for topic %s", delivered, topic)
}

// SubscriberCount 主题当前在线的订阅者数量
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// RegisterClient 注册客户端到Hub
func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

// UnregisterClient 从Hub中注销客户端
func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}
