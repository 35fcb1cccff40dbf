package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picksy-realtime-backend/models"
)

func performRequest(router *gin.Engine, method, path string, body any, userID string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createRoomViaAPI(t *testing.T, router *gin.Engine, userID string) models.RoomDTO {
	body := gin.H{
		"name": "电影之夜",
		"categories": []gin.H{
			{"set_id": 10, "category_id": 101},
			{"set_id": 10, "category_id": 102},
		},
	}
	w := performRequest(router, http.MethodPost, "/api/room/secure/create", body, userID)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var dto models.RoomDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dto))
	return dto
}

func joinRoomViaAPI(t *testing.T, router *gin.Engine, roomCode string, participantID int64, username string) {
	w := performRequest(router, http.MethodPost, "/api/room/public/"+roomCode+"/join",
		gin.H{"participant_id": participantID, "username": username}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCreateRoomEndpoint(t *testing.T) {
	router := SetupTestEnvironment(t)

	dto := createRoomViaAPI(t, router, "1")
	assert.Len(t, dto.RoomCode, 7)
	assert.Equal(t, int64(1), dto.OwnerID)
	assert.Len(t, dto.Categories, 2)
}

func TestCreateRoomRequiresUserHeader(t *testing.T) {
	router := SetupTestEnvironment(t)

	w := performRequest(router, http.MethodPost, "/api/room/secure/create",
		gin.H{"name": "x", "categories": []gin.H{}}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, http.MethodPost, "/api/room/secure/create",
		gin.H{"name": "x", "categories": []gin.H{}}, "not-a-number")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRoomValidatesBody(t *testing.T) {
	router := SetupTestEnvironment(t)

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing name", gin.H{"categories": []gin.H{}}},
		{"missing categories", gin.H{"name": "电影之夜"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(router, http.MethodPost, "/api/room/secure/create", tt.body, "1")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestStartVotingEndpoint(t *testing.T) {
	router := SetupTestEnvironment(t)
	room := createRoomViaAPI(t, router, "1")

	// 非房主被拒
	w := performRequest(router, http.MethodPatch, "/api/room/secure/start",
		gin.H{"room_code": room.RoomCode}, "2")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = performRequest(router, http.MethodPatch, "/api/room/secure/start",
		gin.H{"room_code": room.RoomCode}, "1")
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, http.MethodGet, "/api/room/public/"+room.RoomCode+"/details", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var dto models.RoomDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dto))
	assert.True(t, dto.VotingStarted)
}

func TestRoomNotFoundMapsTo404(t *testing.T) {
	router := SetupTestEnvironment(t)

	w := performRequest(router, http.MethodGet, "/api/room/public/0000000/details", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performRequest(router, http.MethodPatch, "/api/room/secure/start",
		gin.H{"room_code": "0000000"}, "1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJoinEndpointConflicts(t *testing.T) {
	router := SetupTestEnvironment(t)
	room := createRoomViaAPI(t, router, "1")
	joinRoomViaAPI(t, router, room.RoomCode, 42, "alice")

	// 重复加入
	w := performRequest(router, http.MethodPost, "/api/room/public/"+room.RoomCode+"/join",
		gin.H{"participant_id": 42, "username": "alice"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// 投票开始后禁止加入
	w = performRequest(router, http.MethodPatch, "/api/room/secure/start",
		gin.H{"room_code": room.RoomCode}, "1")
	require.Equal(t, http.StatusOK, w.Code)
	w = performRequest(router, http.MethodPost, "/api/room/public/"+room.RoomCode+"/join",
		gin.H{"participant_id": 43, "username": "bob"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAnonymousJoinEndpoint(t *testing.T) {
	router := SetupTestEnvironment(t)
	room := createRoomViaAPI(t, router, "1")

	w := performRequest(router, http.MethodPost, "/api/room/public/"+room.RoomCode+"/join",
		gin.H{"username": "guest"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ParticipantID int64 `json:"participant_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Negative(t, resp.ParticipantID)
}

func TestParticipantsEndpoint(t *testing.T) {
	router := SetupTestEnvironment(t)
	room := createRoomViaAPI(t, router, "1")
	joinRoomViaAPI(t, router, room.RoomCode, 42, "alice")
	joinRoomViaAPI(t, router, room.RoomCode, 43, "bob")

	w := performRequest(router, http.MethodGet, "/api/room/public/"+room.RoomCode+"/participants", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Body.String())
}

func TestLeaveEndpoint(t *testing.T) {
	router := SetupTestEnvironment(t)
	room := createRoomViaAPI(t, router, "1")
	joinRoomViaAPI(t, router, room.RoomCode, 42, "alice")

	w := performRequest(router, http.MethodPost, "/api/room/public/"+room.RoomCode+"/leave",
		gin.H{"participant_id": 42}, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// 不是成员
	w = performRequest(router, http.MethodPost, "/api/room/public/"+room.RoomCode+"/leave",
		gin.H{"participant_id": 42}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFinishVotingEndpointInvalidState(t *testing.T) {
	router := SetupTestEnvironment(t)
	room := createRoomViaAPI(t, router, "1")

	// 还没开始投票
	w := performRequest(router, http.MethodPatch, "/api/room/secure/finish",
		gin.H{"room_code": room.RoomCode}, "1")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestResultsEndpoint(t *testing.T) {
	router := SetupTestEnvironment(t)
	room := createRoomViaAPI(t, router, "1")

	w := performRequest(router, http.MethodGet, "/api/room/public/"+room.RoomCode+"/results", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var results []models.PollResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	// 每个配置的类目一条占位
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Nil(t, r.PollID)
		assert.Empty(t, r.Choices)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	router := SetupTestEnvironment(t)
	room := createRoomViaAPI(t, router, "1")
	joinRoomViaAPI(t, router, room.RoomCode, 42, "alice")

	for _, path := range []string{"start", "close"} {
		w := performRequest(router, http.MethodPatch, "/api/room/secure/"+path,
			gin.H{"room_code": room.RoomCode}, "1")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := performRequest(router, http.MethodGet, "/api/room/secure/history", nil, "42")
	require.Equal(t, http.StatusOK, w.Code)

	var history []models.RoomDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, room.RoomCode, history[0].RoomCode)

	// 房主没进过房间，查不到历史
	w = performRequest(router, http.MethodGet, "/api/room/secure/history", nil, "1")
	require.Equal(t, http.StatusOK, w.Code)
	var ownerHistory []models.RoomDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ownerHistory))
	assert.Empty(t, ownerHistory)
}

func TestCloseRoomEndpoint(t *testing.T) {
	router := SetupTestEnvironment(t)
	room := createRoomViaAPI(t, router, "1")

	w := performRequest(router, http.MethodPatch, "/api/room/secure/close",
		gin.H{"room_code": room.RoomCode}, "1")
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, http.MethodGet,
		fmt.Sprintf("/api/room/public/%s/details", room.RoomCode), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var dto models.RoomDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dto))
	assert.True(t, dto.RoomClosed)
}
