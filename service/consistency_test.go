package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"picksy-realtime-backend/models"
)

func seedConsistencyData(t *testing.T, db *gorm.DB) {
	room := models.Room{
		RoomCode: "7654321",
		Name:     "晚餐选择",
		OwnerID:  1,
		Categories: []models.RoomCategory{
			{SetID: 10, CategoryID: 101, Position: 0},
			{SetID: 10, CategoryID: 102, Position: 1},
			{SetID: 20, CategoryID: 201, Position: 2},
		},
	}
	require.NoError(t, db.Create(&room).Error)

	polls := []models.Poll{
		{RoomCode: room.RoomCode, CategoryID: 101, CategoryType: models.Swipe, ParticipantsCount: 2},
		{RoomCode: room.RoomCode, CategoryID: 102, CategoryType: models.Pick, ParticipantsCount: 2},
		{RoomCode: room.RoomCode, CategoryID: 201, CategoryType: models.Swipe, ParticipantsCount: 2},
	}
	for i := range polls {
		require.NoError(t, db.Create(&polls[i]).Error)
	}

	choices := []models.Choice{
		{PollID: polls[0].ID, OptionID: 7, Count: 1},
		{PollID: polls[1].ID, OptionID: 8, Count: 2},
		{PollID: polls[2].ID, OptionID: 7, Count: 1},
	}
	for i := range choices {
		require.NoError(t, db.Create(&choices[i]).Error)
	}
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	var count int64
	require.NoError(t, db.Model(model).Where(query, args...).Count(&count).Error)
	return count
}

func TestHandleDeletionCategory(t *testing.T) {
	db := SetupTestDB(t)
	seedConsistencyData(t, db)
	svc := NewConsistencyService(db)
	ctx := context.Background()

	event := models.DeletionEvent{ID: 101, Type: models.DeletionKindCategory}
	require.NoError(t, svc.HandleDeletion(ctx, event))

	assert.Zero(t, countRows(t, db, &models.RoomCategory{}, "category_id = ?", 101))
	assert.Zero(t, countRows(t, db, &models.Poll{}, "category_id = ?", 101))

	// 其它类目不受影响
	assert.Equal(t, int64(1), countRows(t, db, &models.Poll{}, "category_id = ?", 102))
	assert.Equal(t, int64(1), countRows(t, db, &models.Choice{}, "option_id = ?", 8))

	// 至少一次投递：重复处理同一事件没有副作用
	require.NoError(t, svc.HandleDeletion(ctx, event))
	assert.Equal(t, int64(1), countRows(t, db, &models.Poll{}, "category_id = ?", 102))
}

func TestHandleDeletionSet(t *testing.T) {
	db := SetupTestDB(t)
	seedConsistencyData(t, db)
	svc := NewConsistencyService(db)

	event := models.DeletionEvent{ID: 10, Type: models.DeletionKindSet}
	require.NoError(t, svc.HandleDeletion(context.Background(), event))

	// 集合10的两个类目连同投票和选项一起清掉
	assert.Zero(t, countRows(t, db, &models.RoomCategory{}, "set_id = ?", 10))
	assert.Zero(t, countRows(t, db, &models.Poll{}, "category_id IN ?", []int64{101, 102}))
	assert.Zero(t, countRows(t, db, &models.Choice{}, "option_id = ?", 8))

	// 集合20幸存
	assert.Equal(t, int64(1), countRows(t, db, &models.RoomCategory{}, "set_id = ?", 20))
	assert.Equal(t, int64(1), countRows(t, db, &models.Poll{}, "category_id = ?", 201))
}

func TestHandleDeletionOption(t *testing.T) {
	db := SetupTestDB(t)
	seedConsistencyData(t, db)
	svc := NewConsistencyService(db)

	event := models.DeletionEvent{ID: 7, Type: models.DeletionKindOption}
	require.NoError(t, svc.HandleDeletion(context.Background(), event))

	// 该选项在所有投票里的计票行都被移除，投票本身保留
	assert.Zero(t, countRows(t, db, &models.Choice{}, "option_id = ?", 7))
	assert.Equal(t, int64(1), countRows(t, db, &models.Choice{}, "option_id = ?", 8))
	assert.Equal(t, int64(3), countRows(t, db, &models.Poll{}, "1 = 1"))
}

func TestHandleDeletionUnknownKind(t *testing.T) {
	db := SetupTestDB(t)
	seedConsistencyData(t, db)
	svc := NewConsistencyService(db)

	event := models.DeletionEvent{ID: 101, Type: "PLANET"}
	require.NoError(t, svc.HandleDeletion(context.Background(), event))

	assert.Equal(t, int64(3), countRows(t, db, &models.Poll{}, "1 = 1"))
}

func TestHandleTypeUpdateApplied(t *testing.T) {
	db := SetupTestDB(t)
	svc := NewConsistencyService(db)
	ctx := context.Background()

	poll := models.Poll{RoomCode: "7654321", CategoryID: 101, CategoryType: models.Swipe, ParticipantsCount: 2}
	require.NoError(t, db.Create(&poll).Error)

	event := models.TypeUpdateEvent{CategoryID: 101, NewType: "PICK"}
	require.NoError(t, svc.HandleTypeUpdate(ctx, event))

	var updated models.Poll
	require.NoError(t, db.First(&updated, poll.ID).Error)
	assert.Equal(t, models.Pick, updated.CategoryType)
}

func TestHandleTypeUpdateRejectedWhenVoted(t *testing.T) {
	db := SetupTestDB(t)
	svc := NewConsistencyService(db)
	ctx := context.Background()

	// 有计票记录的投票保持原模式
	voted := models.Poll{RoomCode: "7654321", CategoryID: 101, CategoryType: models.Swipe, ParticipantsCount: 2}
	require.NoError(t, db.Create(&voted).Error)
	require.NoError(t, db.Create(&models.Choice{PollID: voted.ID, OptionID: 7, Count: 1}).Error)

	// 同类目下没有计票的投票照常切换
	fresh := models.Poll{RoomCode: "1111111", CategoryID: 101, CategoryType: models.Swipe, ParticipantsCount: 3}
	require.NoError(t, db.Create(&fresh).Error)

	event := models.TypeUpdateEvent{CategoryID: 101, NewType: "PICK"}
	require.NoError(t, svc.HandleTypeUpdate(ctx, event))

	var got models.Poll
	require.NoError(t, db.First(&got, voted.ID).Error)
	assert.Equal(t, models.Swipe, got.CategoryType)

	got = models.Poll{}
	require.NoError(t, db.First(&got, fresh.ID).Error)
	assert.Equal(t, models.Pick, got.CategoryType)
}

func TestHandleTypeUpdateRejectedWhenVotedCountPositive(t *testing.T) {
	db := SetupTestDB(t)
	svc := NewConsistencyService(db)

	poll := models.Poll{RoomCode: "7654321", CategoryID: 102, CategoryType: models.Pick, ParticipantsCount: 2, VotedCount: 1}
	require.NoError(t, db.Create(&poll).Error)

	event := models.TypeUpdateEvent{CategoryID: 102, NewType: "SWIPE"}
	require.NoError(t, svc.HandleTypeUpdate(context.Background(), event))

	var got models.Poll
	require.NoError(t, db.First(&got, poll.ID).Error)
	assert.Equal(t, models.Pick, got.CategoryType)
}

func TestHandleTypeUpdateUnknownType(t *testing.T) {
	db := SetupTestDB(t)
	svc := NewConsistencyService(db)

	poll := models.Poll{RoomCode: "7654321", CategoryID: 101, CategoryType: models.Swipe, ParticipantsCount: 2}
	require.NoError(t, db.Create(&poll).Error)

	event := models.TypeUpdateEvent{CategoryID: 101, NewType: "RANKED"}
	require.NoError(t, svc.HandleTypeUpdate(context.Background(), event))

	var got models.Poll
	require.NoError(t, db.First(&got, poll.ID).Error)
	assert.Equal(t, models.Swipe, got.CategoryType)
}
