package service

import (
	"context"
	"log"
	"strings"

	"gorm.io/gorm"

	"picksy-realtime-backend/models"
)

// ConsistencyService 消费类目域的删除和模式变更事件，修复本地数据。
// 事件总线是至少一次投递，所有处理都必须幂等。
type ConsistencyService interface {
	HandleDeletion(ctx context.Context, event models.DeletionEvent) error
	HandleTypeUpdate(ctx context.Context, event models.TypeUpdateEvent) error
}

// ConsistencyServiceImpl 一致性修复服务实现
type ConsistencyServiceImpl struct {
	db *gorm.DB
}

// NewConsistencyService 创建一致性修复服务
func NewConsistencyService(db *gorm.DB) *ConsistencyServiceImpl {
	return &ConsistencyServiceImpl{db: db}
}

// HandleDeletion 处理删除事件。未知种类只记录日志，不阻塞后续事件。
func (s *ConsistencyServiceImpl) HandleDeletion(ctx context.Context, event models.DeletionEvent) error {
	log.Printf("处理删除事件: %s id=%d", event.Type, event.ID)

	switch strings.ToUpper(event.Type) {
	case models.DeletionKindCategory:
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("category_id = ?", event.ID).
				Delete(&models.RoomCategory{}).Error; err != nil {
				return err
			}
			return deletePollsByCategories(tx, []int64{event.ID})
		})

	case models.DeletionKindSet:
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// 先收集该集合涉及的类目，再删除房间序列中的行
			var categoryIDs []int64
			if err := tx.Model(&models.RoomCategory{}).Distinct("category_id").
				Where("set_id = ?", event.ID).Pluck("category_id", &categoryIDs).Error; err != nil {
				return err
			}
			if err := tx.Where("set_id = ?", event.ID).
				Delete(&models.RoomCategory{}).Error; err != nil {
				return err
			}
			return deletePollsByCategories(tx, categoryIDs)
		})

	case models.DeletionKindOption:
		return s.db.WithContext(ctx).Where("option_id = ?", event.ID).
			Delete(&models.Choice{}).Error

	default:
		log.Printf("忽略未知的删除事件种类: %q", event.Type)
		return nil
	}
}

// HandleTypeUpdate 处理类目模式变更。逐个投票在事务内应用；
// 已经有投票记录的投票拒绝变更，保持原模式（中途换模式会破坏计数语义）。
func (s *ConsistencyServiceImpl) HandleTypeUpdate(ctx context.Context, event models.TypeUpdateEvent) error {
	newType, ok := models.ParseCategoryType(event.NewType)
	if !ok {
		log.Printf("忽略未知的类目模式: %q", event.NewType)
		return nil
	}

	var pollIDs []int64
	if err := s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("category_id = ?", event.CategoryID).
		Pluck("id", &pollIDs).Error; err != nil {
		return err
	}

	for _, pollID := range pollIDs {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var poll models.Poll
			if err := tx.Where("id = ?", pollID).First(&poll).Error; err != nil {
				// 事件处理期间投票可能已被删除
				return nil
			}

			hasVotes, err := pollHasVotes(tx, &poll)
			if err != nil {
				return err
			}
			if hasVotes {
				log.Printf("投票 %d 已有投票记录，拒绝模式变更 %s -> %s",
					poll.ID, poll.CategoryType, newType)
				return nil
			}

			return tx.Model(&models.Poll{}).Where("id = ?", poll.ID).
				Update("category_type", newType).Error
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// deletePollsByCategories 删除类目对应的投票及其选项行
func deletePollsByCategories(tx *gorm.DB, categoryIDs []int64) error {
	if len(categoryIDs) == 0 {
		return nil
	}

	var pollIDs []int64
	if err := tx.Model(&models.Poll{}).
		Where("category_id IN ?", categoryIDs).
		Pluck("id", &pollIDs).Error; err != nil {
		return err
	}
	if len(pollIDs) == 0 {
		return nil
	}

	if err := tx.Where("poll_id IN ?", pollIDs).Delete(&models.Choice{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", pollIDs).Delete(&models.Poll{}).Error
}

// pollHasVotes 判断投票是否已有任何计票记录
func pollHasVotes(tx *gorm.DB, poll *models.Poll) (bool, error) {
	if poll.VotedCount > 0 {
		return true, nil
	}
	var count int64
	err := tx.Model(&models.Choice{}).
		Where("poll_id = ? AND count > 0", poll.ID).
		Count(&count).Error
	return count > 0, err
}
