package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"gorm.io/gorm"

	"picksy-realtime-backend/broadcast"
	"picksy-realtime-backend/cache"
	"picksy-realtime-backend/models"
)

const (
	// JS安全整数上限，匿名参与者的伪ID取(-maxSafeJS, 0)区间
	maxSafeJS = int64(9007199254740991)

	// 房间操作锁的过期时间
	roomLockExpiry = 8 * time.Second
)

// RoomService 房间会话服务接口
type RoomService interface {
	CreateRoom(ctx context.Context, ownerID int64, name string, categories []models.CategoryRef) (*models.RoomDTO, error)
	StartVoting(ctx context.Context, ownerID int64, roomCode string) error
	NextCategory(ctx context.Context, ownerID int64, roomCode string) error
	EndVoting(ctx context.Context, ownerID int64, roomCode string) error
	CloseRoom(ctx context.Context, ownerID int64, roomCode string) error

	JoinRoom(ctx context.Context, roomCode string, participantID int64, username string) (int64, error)
	LeaveRoom(ctx context.Context, roomCode string, participantID int64) error

	GetRoomDetails(ctx context.Context, roomCode string) (*models.RoomDTO, error)
	GetParticipantsCount(ctx context.Context, roomCode string) (int, error)
	GetClosedRoomsForParticipant(ctx context.Context, participantID int64) ([]models.RoomDTO, error)
	IsParticipant(ctx context.Context, roomCode string, participantID int64) (bool, error)
}

// RoomServiceImpl 房间会话服务实现
type RoomServiceImpl struct {
	db    *gorm.DB
	pub   broadcast.Publisher
	locks cache.LockService
}

// NewRoomService 创建房间会话服务
func NewRoomService(db *gorm.DB, pub broadcast.Publisher, locks cache.LockService) *RoomServiceImpl {
	return &RoomServiceImpl{db: db, pub: pub, locks: locks}
}

// CreateRoom 创建房间并分配全局唯一的房间码
func (s *RoomServiceImpl) CreateRoom(ctx context.Context, ownerID int64, name string, categories []models.CategoryRef) (*models.RoomDTO, error) {
	code, err := s.generateUniqueRoomCode(ctx)
	if err != nil {
		return nil, err
	}

	room := models.Room{
		RoomCode: code,
		Name:     name,
		OwnerID:  ownerID,
	}
	for i, c := range categories {
		room.Categories = append(room.Categories, models.RoomCategory{
			SetID:      c.SetID,
			CategoryID: c.CategoryID,
			Position:   i,
		})
	}

	if err := s.db.WithContext(ctx).Create(&room).Error; err != nil {
		return nil, err
	}

	dto := room.ToDTO()
	return &dto, nil
}

// generateUniqueRoomCode 生成7位数字房间码，冲突时重试
func (s *RoomServiceImpl) generateUniqueRoomCode(ctx context.Context) (string, error) {
	for {
		code := fmt.Sprintf("%d", rand.Int63n(9000000)+1000000)

		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Room{}).
			Where("room_code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
}

// StartVoting 开始投票，仅房主可操作
func (s *RoomServiceImpl) StartVoting(ctx context.Context, ownerID int64, roomCode string) error {
	return s.withRoomLock(roomCode, func() error {
		room, err := s.loadRoom(ctx, roomCode)
		if err != nil {
			return err
		}
		if room.OwnerID != ownerID {
			return fmt.Errorf("%w: only the owner can start voting", ErrForbidden)
		}

		if err := s.db.WithContext(ctx).Model(&models.Room{}).
			Where("id = ?", room.ID).
			Update("voting_started", true).Error; err != nil {
			return err
		}

		msg := models.RoomMessage{Type: models.MessageVotingStarted, ParticipantID: room.OwnerID}
		if category, ok := room.CategoryAt(room.CurrentCategoryIndex); ok {
			msg.Category = &category
		}
		s.pub.Publish(broadcast.RoomTopic(roomCode), &msg)
		return nil
	})
}

// NextCategory 推进到下一个类目。越过最后一个类目则关闭房间并广播VOTING_FINISHED，
// 此后重复调用房间保持关闭，不会再发NEXT_CATEGORY。
func (s *RoomServiceImpl) NextCategory(ctx context.Context, ownerID int64, roomCode string) error {
	return s.withRoomLock(roomCode, func() error {
		room, err := s.loadRoom(ctx, roomCode)
		if err != nil {
			return err
		}
		if room.OwnerID != ownerID {
			return fmt.Errorf("%w: only the owner can change the voting category", ErrForbidden)
		}

		messageType := models.MessageNextCategory
		nextIndex := room.CurrentCategoryIndex + 1

		// 默认带上最后一个类目，越界时沿用
		category, _ := room.CategoryAt(len(room.Categories) - 1)

		updates := map[string]any{"current_category_index": nextIndex}
		if nextIndex >= len(room.Categories) {
			messageType = models.MessageVotingFinished
			updates["room_closed"] = true
		} else {
			category, _ = room.CategoryAt(nextIndex)
		}

		if err := s.db.WithContext(ctx).Model(&models.Room{}).
			Where("id = ?", room.ID).Updates(updates).Error; err != nil {
			return err
		}

		msg := models.RoomMessage{Type: messageType, ParticipantID: room.OwnerID}
		if len(room.Categories) > 0 {
			msg.Category = &category
		}
		s.pub.Publish(broadcast.RoomTopic(roomCode), &msg)
		return nil
	})
}

// EndVoting 广播VOTING_FINISHED但不改变房间状态，仅房主可操作
func (s *RoomServiceImpl) EndVoting(ctx context.Context, ownerID int64, roomCode string) error {
	room, err := s.loadRoom(ctx, roomCode)
	if err != nil {
		return err
	}
	if room.OwnerID != ownerID {
		return fmt.Errorf("%w: only the owner can end voting", ErrForbidden)
	}
	if room.RoomClosed {
		return fmt.Errorf("%w: room is closed", ErrConflict)
	}
	if !room.VotingStarted {
		return fmt.Errorf("%w: voting has not started", ErrInvalidState)
	}

	s.pub.Publish(broadcast.RoomTopic(roomCode), &models.RoomMessage{Type: models.MessageVotingFinished})
	return nil
}

// CloseRoom 关闭房间，仅房主可操作
func (s *RoomServiceImpl) CloseRoom(ctx context.Context, ownerID int64, roomCode string) error {
	return s.withRoomLock(roomCode, func() error {
		room, err := s.loadRoom(ctx, roomCode)
		if err != nil {
			return err
		}
		if room.OwnerID != ownerID {
			return fmt.Errorf("%w: only the owner can close the room", ErrForbidden)
		}

		if err := s.db.WithContext(ctx).Model(&models.Room{}).
			Where("id = ?", room.ID).
			Update("room_closed", true).Error; err != nil {
			return err
		}

		s.pub.Publish(broadcast.RoomTopic(roomCode), &models.RoomMessage{
			Type:          models.MessageRoomClosed,
			ParticipantID: room.OwnerID,
		})
		return nil
	})
}

// JoinRoom 加入房间。participantID<=0视为匿名，分配负数伪ID并在冲突时重试。
// 整个过程在房间锁内执行，保证重复加入和伪ID冲突的检查没有竞态。
func (s *RoomServiceImpl) JoinRoom(ctx context.Context, roomCode string, participantID int64, username string) (int64, error) {
	var assignedID int64
	err := s.withRoomLock(roomCode, func() error {
		room, err := s.loadRoom(ctx, roomCode)
		if err != nil {
			return err
		}
		if room.RoomClosed {
			return fmt.Errorf("%w: room is closed", ErrConflict)
		}
		if room.VotingStarted {
			return fmt.Errorf("%w: voting has already started", ErrConflict)
		}

		if participantID <= 0 {
			// 匿名参与者：随机负数ID，撞到已有成员则重新生成
			for {
				participantID = -(rand.Int63n(maxSafeJS-1) + 1)
				if !room.HasParticipant(participantID) {
					break
				}
			}
		} else if room.HasParticipant(participantID) {
			return fmt.Errorf("%w: already joined this room", ErrConflict)
		}

		participant := models.RoomParticipant{
			RoomID:        room.ID,
			ParticipantID: participantID,
			Username:      username,
		}
		if err := s.db.WithContext(ctx).Create(&participant).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: already joined this room", ErrConflict)
			}
			return err
		}

		assignedID = participantID
		s.pub.Publish(broadcast.RoomTopic(roomCode), &models.RoomMessage{
			Type:          models.MessageJoin,
			ParticipantID: participantID,
			Username:      username,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return assignedID, nil
}

// LeaveRoom 离开房间。房主离开时直接关闭房间并广播ROOM_CLOSED，不发LEAVE。
func (s *RoomServiceImpl) LeaveRoom(ctx context.Context, roomCode string, participantID int64) error {
	return s.withRoomLock(roomCode, func() error {
		room, err := s.loadRoom(ctx, roomCode)
		if err != nil {
			return err
		}
		if !room.HasParticipant(participantID) {
			return fmt.Errorf("%w: not a member of this room", ErrConflict)
		}

		// 房主提前退出
		if participantID == room.OwnerID {
			s.pub.Publish(broadcast.RoomTopic(roomCode), &models.RoomMessage{
				Type:          models.MessageRoomClosed,
				ParticipantID: room.OwnerID,
			})
			return s.db.WithContext(ctx).Model(&models.Room{}).
				Where("id = ?", room.ID).
				Update("room_closed", true).Error
		}

		if err := s.db.WithContext(ctx).
			Where("room_id = ? AND participant_id = ?", room.ID, participantID).
			Delete(&models.RoomParticipant{}).Error; err != nil {
			return err
		}

		s.pub.Publish(broadcast.RoomTopic(roomCode), &models.RoomMessage{
			Type:          models.MessageLeave,
			ParticipantID: participantID,
		})
		return nil
	})
}

// GetRoomDetails 查询房间详情
func (s *RoomServiceImpl) GetRoomDetails(ctx context.Context, roomCode string) (*models.RoomDTO, error) {
	room, err := s.loadRoom(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	dto := room.ToDTO()
	return &dto, nil
}

// GetParticipantsCount 查询房间当前成员数
func (s *RoomServiceImpl) GetParticipantsCount(ctx context.Context, roomCode string) (int, error) {
	room, err := s.findRoomID(ctx, roomCode)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.RoomParticipant{}).
		Where("room_id = ?", room).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetClosedRoomsForParticipant 查询参与者的历史房间（已关闭且投过票的）
func (s *RoomServiceImpl) GetClosedRoomsForParticipant(ctx context.Context, participantID int64) ([]models.RoomDTO, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN room_participants ON room_participants.room_id = rooms.id").
		Where("room_participants.participant_id = ? AND rooms.room_closed = ? AND rooms.voting_started = ?",
			participantID, true, true).
		Preload("Categories", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Participants").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}

	dtos := make([]models.RoomDTO, 0, len(rooms))
	for i := range rooms {
		dtos = append(dtos, rooms[i].ToDTO())
	}
	return dtos, nil
}

// IsParticipant 查询某人是否是房间成员。房间不存在返回false而不是错误。
func (s *RoomServiceImpl) IsParticipant(ctx context.Context, roomCode string, participantID int64) (bool, error) {
	roomID, err := s.findRoomID(ctx, roomCode)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return false, nil
		}
		return false, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.RoomParticipant{}).
		Where("room_id = ? AND participant_id = ?", roomID, participantID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// loadRoom 按房间码加载房间及其类目、成员
func (s *RoomServiceImpl) loadRoom(ctx context.Context, roomCode string) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).
		Preload("Categories", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Participants").
		Where("room_code = ?", roomCode).
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// findRoomID 按房间码查主键
func (s *RoomServiceImpl) findRoomID(ctx context.Context, roomCode string) (int64, error) {
	var room models.Room
	err := s.db.WithContext(ctx).Select("id").
		Where("room_code = ?", roomCode).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrRoomNotFound
		}
		return 0, err
	}
	return room.ID, nil
}

// withRoomLock 在房间级锁内执行操作
func (s *RoomServiceImpl) withRoomLock(roomCode string, action func() error) error {
	return s.locks.WithLock("room:"+roomCode, roomLockExpiry, action)
}
