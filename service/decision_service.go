package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"picksy-realtime-backend/broadcast"
	"picksy-realtime-backend/clients"
	"picksy-realtime-backend/models"
)

// MembershipChecker 房间成员检查，投票动作只接受房间成员
type MembershipChecker interface {
	IsParticipant(ctx context.Context, roomCode string, participantID int64) (bool, error)
}

// DecisionService 投票协调服务接口
type DecisionService interface {
	Setup(ctx context.Context, roomCode string, categoryID, actorID int64, participantsCount int) error
	Vote(ctx context.Context, roomCode string, categoryID, voterID int64, optionIDs []int64) error
	UpdateParticipantsCount(ctx context.Context, roomCode string, categoryID, actorID int64, count int) error
	IncreaseVotedCount(ctx context.Context, roomCode string, categoryID, actorID int64) error
	End(ctx context.Context, roomCode string, categoryID, actorID int64) error
	GetResults(ctx context.Context, roomCode string) ([]models.PollResult, error)
}

// DecisionServiceImpl 投票协调服务实现
type DecisionServiceImpl struct {
	db         *gorm.DB
	pub        broadcast.Publisher
	categories clients.CategoryClient
	members    MembershipChecker
}

// NewDecisionService 创建投票协调服务
func NewDecisionService(db *gorm.DB, pub broadcast.Publisher, categories clients.CategoryClient, members MembershipChecker) *DecisionServiceImpl {
	return &DecisionServiceImpl{db: db, pub: pub, categories: categories, members: members}
}

// Setup 查找或创建投票。并发创建撞唯一键时重新读取已有投票继续。
// 非成员的请求被静默忽略。
func (s *DecisionServiceImpl) Setup(ctx context.Context, roomCode string, categoryID, actorID int64, participantsCount int) error {
	member, err := s.checkMembership(ctx, roomCode, actorID)
	if err != nil || !member {
		return err
	}

	poll, err := s.findPoll(ctx, roomCode, categoryID)
	if errors.Is(err, ErrPollNotFound) {
		poll, err = s.createPoll(ctx, roomCode, categoryID, participantsCount)
	}
	if err != nil {
		return err
	}

	s.pub.Publish(broadcast.PollTopic(roomCode, fmt.Sprint(categoryID)), &models.PollMessage{
		MessageType:       models.MessageStart,
		ParticipantsCount: poll.ParticipantsCount,
	})
	return nil
}

// createPoll 创建投票，类型由category服务解析。并发插入冲突时读取胜者的记录。
func (s *DecisionServiceImpl) createPoll(ctx context.Context, roomCode string, categoryID int64, participantsCount int) (*models.Poll, error) {
	categoryType, err := s.categories.GetCategoryType(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("%w: category type lookup failed: %v", ErrUnavailable, err)
	}

	poll := models.Poll{
		RoomCode:          roomCode,
		CategoryID:        categoryID,
		CategoryType:      categoryType,
		ParticipantsCount: participantsCount,
	}
	if err := s.db.WithContext(ctx).Create(&poll).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 另一个请求刚刚插入，读取它的结果
			return s.findPoll(ctx, roomCode, categoryID)
		}
		return nil, err
	}
	return &poll, nil
}

// Vote 记录一次投票。SWIPE模式单选项计数，满员命中即广播MATCH；
// PICK模式逐选项计数并累加已投人数，全员投完即广播END。
// 计数更新用带旧值条件的乐观重试，保证阈值恰好被观察到一次。
func (s *DecisionServiceImpl) Vote(ctx context.Context, roomCode string, categoryID, voterID int64, optionIDs []int64) error {
	member, err := s.checkMembership(ctx, roomCode, voterID)
	if err != nil || !member {
		return err
	}

	poll, err := s.findPoll(ctx, roomCode, categoryID)
	if err != nil {
		return err
	}

	switch poll.CategoryType {
	case models.Swipe:
		if len(optionIDs) != 1 {
			return fmt.Errorf("%w: swipe vote carries exactly one option", ErrInvalidState)
		}
		newCount, err := s.incrementChoice(ctx, poll.ID, optionIDs[0])
		if err != nil {
			return err
		}
		// 全员命中同一选项
		if newCount == poll.ParticipantsCount {
			s.pub.Publish(broadcast.PollTopic(roomCode, fmt.Sprint(categoryID)), &models.PollMessage{
				OptionIDs:         []int64{optionIDs[0]},
				MessageType:       models.MessageMatch,
				ParticipantsCount: poll.ParticipantsCount,
			})
		}

	case models.Pick:
		for _, optionID := range optionIDs {
			if _, err := s.incrementChoice(ctx, poll.ID, optionID); err != nil {
				return err
			}
		}
		newVoted, err := s.incrementVotedCount(ctx, poll.ID)
		if err != nil {
			return err
		}
		// 所有人都投完了
		if newVoted == poll.ParticipantsCount {
			s.pub.Publish(broadcast.PollTopic(roomCode, fmt.Sprint(categoryID)), &models.PollMessage{
				MessageType:       models.MessageEnd,
				ParticipantsCount: poll.ParticipantsCount,
			})
		}

	default:
		return fmt.Errorf("%w: unknown voting mode %s", ErrInvalidState, poll.CategoryType)
	}
	return nil
}

// UpdateParticipantsCount 更新投票的预期参与人数
func (s *DecisionServiceImpl) UpdateParticipantsCount(ctx context.Context, roomCode string, categoryID, actorID int64, count int) error {
	member, err := s.checkMembership(ctx, roomCode, actorID)
	if err != nil || !member {
		return err
	}

	poll, err := s.findPoll(ctx, roomCode, categoryID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ?", poll.ID).
		Update("participants_count", count).Error
}

// IncreaseVotedCount 投票进度上报：已投人数加一并广播当前值
func (s *DecisionServiceImpl) IncreaseVotedCount(ctx context.Context, roomCode string, categoryID, actorID int64) error {
	member, err := s.checkMembership(ctx, roomCode, actorID)
	if err != nil || !member {
		return err
	}

	poll, err := s.findPoll(ctx, roomCode, categoryID)
	if err != nil {
		return err
	}

	newVoted, err := s.incrementVotedCount(ctx, poll.ID)
	if err != nil {
		return err
	}

	s.pub.Publish(broadcast.PollTopic(roomCode, fmt.Sprint(categoryID)), &models.PollMessage{
		OptionIDs:         []int64{int64(newVoted)},
		MessageType:       models.MessageIncreaseVotedCount,
		ParticipantsCount: poll.ParticipantsCount,
	})
	return nil
}

// End 转发END广播，投票必须存在
func (s *DecisionServiceImpl) End(ctx context.Context, roomCode string, categoryID, actorID int64) error {
	member, err := s.checkMembership(ctx, roomCode, actorID)
	if err != nil || !member {
		return err
	}

	poll, err := s.findPoll(ctx, roomCode, categoryID)
	if err != nil {
		return err
	}

	s.pub.Publish(broadcast.PollTopic(roomCode, fmt.Sprint(categoryID)), &models.PollMessage{
		MessageType:       models.MessageEnd,
		ParticipantsCount: poll.ParticipantsCount,
	})
	return nil
}

// GetResults 按房间类目顺序返回结果，每个配置的类目恰好一条，
// 没有投票数据的类目返回空占位
func (s *DecisionServiceImpl) GetResults(ctx context.Context, roomCode string) ([]models.PollResult, error) {
	var room models.Room
	err := s.db.WithContext(ctx).
		Preload("Categories", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("room_code = ?", roomCode).
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	var polls []models.Poll
	if err := s.db.WithContext(ctx).Preload("Choices").
		Where("room_code = ?", roomCode).Find(&polls).Error; err != nil {
		return nil, err
	}

	byCategory := make(map[int64]*models.Poll, len(polls))
	for i := range polls {
		byCategory[polls[i].CategoryID] = &polls[i]
	}

	results := make([]models.PollResult, 0, len(room.Categories))
	for _, category := range room.Categories {
		ref := models.CategoryRef{SetID: category.SetID, CategoryID: category.CategoryID}

		poll, ok := byCategory[category.CategoryID]
		if !ok {
			// 该类目还没有任何投票数据
			results = append(results, models.PollResult{
				Category: ref,
				Choices:  []models.ChoiceDTO{},
			})
			continue
		}

		choices := make([]models.ChoiceDTO, 0, len(poll.Choices))
		for _, choice := range poll.Choices {
			choices = append(choices, models.ChoiceDTO{OptionID: choice.OptionID, Count: choice.Count})
		}
		pollID := poll.ID
		results = append(results, models.PollResult{
			PollID:            &pollID,
			Category:          ref,
			Choices:           choices,
			ParticipantsCount: poll.ParticipantsCount,
		})
	}
	return results, nil
}

// checkMembership 确认操作者是房间成员。查询失败视为外部服务不可用，
// 非成员不报错，动作被静默忽略。
func (s *DecisionServiceImpl) checkMembership(ctx context.Context, roomCode string, participantID int64) (bool, error) {
	member, err := s.members.IsParticipant(ctx, roomCode, participantID)
	if err != nil {
		return false, fmt.Errorf("%w: membership check failed: %v", ErrUnavailable, err)
	}
	if !member {
		log.Printf("忽略非房间成员的投票动作 room=%s participant=%d", roomCode, participantID)
	}
	return member, nil
}

// findPoll 按(roomCode, categoryID)查找投票
func (s *DecisionServiceImpl) findPoll(ctx context.Context, roomCode string, categoryID int64) (*models.Poll, error) {
	var poll models.Poll
	err := s.db.WithContext(ctx).
		Where("room_code = ? AND category_id = ?", roomCode, categoryID).
		First(&poll).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, err
	}
	return &poll, nil
}

// incrementChoice 对选项计数加一并返回新值。选项行在首次投票时懒创建，
// 更新带旧值条件，并发冲突时重读重试。
func (s *DecisionServiceImpl) incrementChoice(ctx context.Context, pollID, optionID int64) (int, error) {
	for {
		var choice models.Choice
		err := s.db.WithContext(ctx).
			Where("poll_id = ? AND option_id = ?", pollID, optionID).
			First(&choice).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			choice = models.Choice{PollID: pollID, OptionID: optionID}
			if createErr := s.db.WithContext(ctx).Create(&choice).Error; createErr != nil {
				if errors.Is(createErr, gorm.ErrDuplicatedKey) {
					// 另一个投票者刚创建了该选项行
					continue
				}
				return 0, createErr
			}
		} else if err != nil {
			return 0, err
		}

		res := s.db.WithContext(ctx).Model(&models.Choice{}).
			Where("id = ? AND count = ?", choice.ID, choice.Count).
			Update("count", choice.Count+1)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			return choice.Count + 1, nil
		}
		// 计数被并发修改，重试
	}
}

// incrementVotedCount 对已投人数加一并返回新值，同样用乐观重试
func (s *DecisionServiceImpl) incrementVotedCount(ctx context.Context, pollID int64) (int, error) {
	for {
		var poll models.Poll
		if err := s.db.WithContext(ctx).Where("id = ?", pollID).First(&poll).Error; err != nil {
			return 0, err
		}

		res := s.db.WithContext(ctx).Model(&models.Poll{}).
			Where("id = ? AND voted_count = ?", pollID, poll.VotedCount).
			Update("voted_count", poll.VotedCount+1)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			return poll.VotedCount + 1, nil
		}
	}
}
