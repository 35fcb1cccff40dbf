package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"picksy-realtime-backend/models"
)

const (
	// 写入超时
	writeWait = 10 * time.Second

	// 读取超时
	pongWait = 60 * time.Second

	// 发送ping间隔时间，必须小于pongWait
	pingPeriod = (pongWait * 9) / 10

	// 最大消息大小
	maxMessageSize = 4096

	// 入站动作处理超时
	actionTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 允许所有跨域请求，生产环境应限制
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RoomActions 房间入站动作
type RoomActions interface {
	JoinRoom(ctx context.Context, roomCode string, participantID int64, username string) (int64, error)
	LeaveRoom(ctx context.Context, roomCode string, participantID int64) error
}

// PollActions 投票入站动作
type PollActions interface {
	Setup(ctx context.Context, roomCode string, categoryID, actorID int64, participantsCount int) error
	Vote(ctx context.Context, roomCode string, categoryID, voterID int64, optionIDs []int64) error
	UpdateParticipantsCount(ctx context.Context, roomCode string, categoryID, actorID int64, count int) error
	IncreaseVotedCount(ctx context.Context, roomCode string, categoryID, actorID int64) error
	End(ctx context.Context, roomCode string, categoryID, actorID int64) error
}

// Handler WebSocket处理器，连接订阅主题并分发入站动作
type Handler struct {
	hub   *Hub
	rooms RoomActions
	polls PollActions
}

// NewHandler 创建WebSocket处理器
func NewHandler(hub *Hub, rooms RoomActions, polls PollActions) *Handler {
	return &Handler{hub: hub, rooms: rooms, polls: polls}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws/room/:roomCode", h.HandleRoomConnection)
	router.GET("/ws/poll/:roomCode/:categoryId", h.HandlePollConnection)
}

// HandleRoomConnection 处理房间频道的WebSocket连接请求
func (h *Handler) HandleRoomConnection(c *gin.Context) {
	roomCode := c.Param("roomCode")
	client, ok := h.upgrade(c, RoomTopic(roomCode))
	if !ok {
		return
	}

	go h.writePump(client)
	go h.readPump(client, func(payload []byte) {
		h.dispatchRoomAction(roomCode, payload)
	})

	log.Printf("New WebSocket connection %s established for room %s", client.ID, roomCode)
}

// HandlePollConnection 处理投票频道的WebSocket连接请求
func (h *Handler) HandlePollConnection(c *gin.Context) {
	roomCode := c.Param("roomCode")
	categoryIDStr := c.Param("categoryId")
	categoryID, err := strconv.ParseInt(categoryIDStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category ID"})
		return
	}

	client, ok := h.upgrade(c, PollTopic(roomCode, categoryIDStr))
	if !ok {
		return
	}

	go h.writePump(client)
	go h.readPump(client, func(payload []byte) {
		h.dispatchPollAction(roomCode, categoryID, payload)
	})

	log.Printf("New WebSocket connection %s established for poll %s/%d", client.ID, roomCode, categoryID)
}

// upgrade 升级HTTP连接为WebSocket并注册到Hub
func (h *Handler) upgrade(c *gin.Context, topic string) (*Client, bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return nil, false
	}

	client := &Client{
		ID:    uuid.New().String(),
		Topic: topic,
		conn:  conn,
		send:  make(chan []byte, 256),
	}
	h.hub.RegisterClient(client)
	return client, true
}

// dispatchRoomAction 分发房间频道的入站动作
func (h *Handler) dispatchRoomAction(roomCode string, payload []byte) {
	var msg models.RoomMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("忽略格式错误的房间消息: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	switch msg.Type {
	case models.MessageJoin:
		if _, err := h.rooms.JoinRoom(ctx, roomCode, msg.ParticipantID, msg.Username); err != nil {
			log.Printf("加入房间失败 room=%s participant=%d: %v", roomCode, msg.ParticipantID, err)
		}
	case models.MessageLeave:
		if err := h.rooms.LeaveRoom(ctx, roomCode, msg.ParticipantID); err != nil {
			log.Printf("离开房间失败 room=%s participant=%d: %v", roomCode, msg.ParticipantID, err)
		}
	default:
		log.Printf("忽略未知的房间动作: %s", msg.Type)
	}
}

// dispatchPollAction 分发投票频道的入站动作
func (h *Handler) dispatchPollAction(roomCode string, categoryID int64, payload []byte) {
	var msg models.PollMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("忽略格式错误的投票消息: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	var err error
	switch msg.MessageType {
	case models.MessageSetup:
		err = h.polls.Setup(ctx, roomCode, categoryID, msg.VoterID, msg.ParticipantsCount)
	case models.MessageVote:
		err = h.polls.Vote(ctx, roomCode, categoryID, msg.VoterID, msg.OptionIDs)
	case models.MessageUpdateParticipantCount:
		err = h.polls.UpdateParticipantsCount(ctx, roomCode, categoryID, msg.VoterID, msg.ParticipantsCount)
	case models.MessageIncreaseVotedCount:
		err = h.polls.IncreaseVotedCount(ctx, roomCode, categoryID, msg.VoterID)
	case models.MessageEnd:
		err = h.polls.End(ctx, roomCode, categoryID, msg.VoterID)
	default:
		log.Printf("忽略未知的投票动作: %s", msg.MessageType)
		return
	}
	if err != nil {
		log.Printf("投票动作 %s 失败 room=%s category=%d: %v", msg.MessageType, roomCode, categoryID, err)
	}
}

// readPump 从WebSocket连接读取入站消息并交给动作分发器
func (h *Handler) readPump(client *Client, dispatch func(payload []byte)) {
	defer func() {
		h.hub.UnregisterClient(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Error reading message: %v", err)
			}
			break
		}
		dispatch(payload)
	}
}

// writePump 向WebSocket连接发送消息
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 通道已关闭
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := client.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 添加队列中的消息
			n := len(client.send)
			for i := 0; i < n; i++ {
				w.Write(<-client.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
