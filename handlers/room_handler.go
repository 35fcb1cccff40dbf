package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"picksy-realtime-backend/models"
	"picksy-realtime-backend/service"
)

// RoomHandler 房间和投票结果的REST处理器
type RoomHandler struct {
	rooms     service.RoomService
	decisions service.DecisionService
}

// NewRoomHandler 创建房间REST处理器
func NewRoomHandler(rooms service.RoomService, decisions service.DecisionService) *RoomHandler {
	return &RoomHandler{rooms: rooms, decisions: decisions}
}

// RegisterRoutes 注册房间相关路由。secure组要求X-User-Id头，
// public组按房间码开放查询。
func (h *RoomHandler) RegisterRoutes(api *gin.RouterGroup) {
	room := api.Group("/room")
	{
		secure := room.Group("/secure")
		{
			secure.POST("/create", h.CreateRoom)
			secure.PATCH("/start", h.StartVoting)
			secure.PATCH("/next", h.NextCategory)
			secure.PATCH("/finish", h.FinishVoting)
			secure.PATCH("/close", h.CloseRoom)
			secure.GET("/history", h.GetUserHistory)
		}

		public := room.Group("/public")
		{
			public.GET("/:roomCode/details", h.GetRoomDetails)
			public.GET("/:roomCode/results", h.GetPollResults)
			public.GET("/:roomCode/participants", h.GetParticipants)
			public.POST("/:roomCode/join", h.JoinRoom)
			public.POST("/:roomCode/leave", h.LeaveRoom)
		}
	}
}

// CreateRoomInput 创建房间请求体
type CreateRoomInput struct {
	Name       string               `json:"name" binding:"required"`
	Categories []models.CategoryRef `json:"categories" binding:"required"`
}

// RoomActionInput 房主操作请求体
type RoomActionInput struct {
	RoomCode string `json:"room_code" binding:"required"`
}

// JoinRoomInput 加入房间请求体。participant_id为0或负数代表匿名加入。
type JoinRoomInput struct {
	ParticipantID int64  `json:"participant_id"`
	Username      string `json:"username" binding:"required"`
}

// LeaveRoomInput 离开房间请求体
type LeaveRoomInput struct {
	ParticipantID int64 `json:"participant_id" binding:"required"`
}

// CreateRoom 创建房间，请求者成为房主
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var input CreateRoomInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), userID, input.Name, input.Categories)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// StartVoting 开始投票，仅房主
func (h *RoomHandler) StartVoting(c *gin.Context) {
	h.ownerAction(c, h.rooms.StartVoting, "Voting started.")
}

// NextCategory 切换到下一个类目，仅房主
func (h *RoomHandler) NextCategory(c *gin.Context) {
	h.ownerAction(c, h.rooms.NextCategory, "Current category changed.")
}

// FinishVoting 结束投票但不关闭房间，仅房主
func (h *RoomHandler) FinishVoting(c *gin.Context) {
	h.ownerAction(c, h.rooms.EndVoting, "Voting finished.")
}

// CloseRoom 关闭房间，仅房主
func (h *RoomHandler) CloseRoom(c *gin.Context) {
	h.ownerAction(c, h.rooms.CloseRoom, "Room closed.")
}

// ownerAction 房主操作的公共入口
func (h *RoomHandler) ownerAction(c *gin.Context, action func(ctx context.Context, ownerID int64, roomCode string) error, okMessage string) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var input RoomActionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := action(c.Request.Context(), userID, input.RoomCode); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": okMessage})
}

// JoinRoom 加入房间，返回分配的参与者ID
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var input JoinRoomInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	participantID, err := h.rooms.JoinRoom(c.Request.Context(), c.Param("roomCode"), input.ParticipantID, input.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participant_id": participantID})
}

// LeaveRoom 离开房间
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	var input LeaveRoomInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.rooms.LeaveRoom(c.Request.Context(), c.Param("roomCode"), input.ParticipantID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left the room."})
}

// GetRoomDetails 查询房间详情
func (h *RoomHandler) GetRoomDetails(c *gin.Context) {
	room, err := h.rooms.GetRoomDetails(c.Request.Context(), c.Param("roomCode"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// GetPollResults 查询房间所有类目的投票结果
func (h *RoomHandler) GetPollResults(c *gin.Context) {
	results, err := h.decisions.GetResults(c.Request.Context(), c.Param("roomCode"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// GetParticipants 查询房间当前成员数
func (h *RoomHandler) GetParticipants(c *gin.Context) {
	count, err := h.rooms.GetParticipantsCount(c.Request.Context(), c.Param("roomCode"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}

// GetUserHistory 查询请求者参与过的已关闭房间
func (h *RoomHandler) GetUserHistory(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	rooms, err := h.rooms.GetClosedRoomsForParticipant(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// requireUserID 从X-User-Id头解析调用者身份
func requireUserID(c *gin.Context) (int64, bool) {
	header := c.GetHeader("X-User-Id")
	if header == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing X-User-Id header"})
		return 0, false
	}
	userID, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid X-User-Id header"})
		return 0, false
	}
	return userID, true
}

// respondError 把业务错误映射为HTTP状态码
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrPollNotFound),
		errors.Is(err, service.ErrOptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
