package models

import (
	"time"
)

// CategoryType defines how a category is voted on.
// We use iota for enum-like behavior.
type CategoryType int

const (
	Swipe CategoryType = iota // 0: 单选滑动模式，全员命中同一选项即匹配
	Pick                      // 1: 多选模式，每人提交一组选项
)

// String returns the wire name used by the category service.
func (t CategoryType) String() string {
	switch t {
	case Swipe:
		return "SWIPE"
	case Pick:
		return "PICK"
	}
	return "UNKNOWN"
}

// ParseCategoryType maps the category service's wire name to a CategoryType.
func ParseCategoryType(s string) (CategoryType, bool) {
	switch s {
	case "SWIPE":
		return Swipe, true
	case "PICK":
		return Pick, true
	}
	return 0, false
}

// Poll represents one voting round for a (room, category) pair.
// The pair is unique; concurrent setup resolves duplicates by re-reading.
type Poll struct {
	ID                int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomCode          string       `gorm:"size:16;not null;uniqueIndex:idx_room_category" json:"room_code"`
	CategoryID        int64        `gorm:"not null;uniqueIndex:idx_room_category" json:"category_id"`
	CategoryType      CategoryType `gorm:"not null;default:0" json:"category_type"`
	ParticipantsCount int          `gorm:"not null;default:0" json:"participants_count"`
	VotedCount        int          `gorm:"not null;default:0" json:"voted_count"` // 已完成投票的人数（PICK模式）
	Choices           []Choice     `gorm:"foreignKey:PollID" json:"choices"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Choice is the per-option tally inside a poll. Created lazily on the first
// vote that names the option.
type Choice struct {
	ID       int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	PollID   int64 `gorm:"not null;uniqueIndex:idx_poll_option" json:"poll_id"`
	OptionID int64 `gorm:"not null;uniqueIndex:idx_poll_option" json:"option_id"`
	Count    int   `gorm:"not null;default:0" json:"count"`
}

// ChoiceDTO is the tally shape returned by the results endpoint.
type ChoiceDTO struct {
	OptionID int64 `json:"option_id"`
	Count    int   `json:"count"`
}

// PollResult is one entry of the per-room results listing: always one per
// configured category, with zeroed tallies when nobody voted on it.
type PollResult struct {
	PollID            *int64      `json:"poll_id"`
	Category          CategoryRef `json:"category"`
	Choices           []ChoiceDTO `json:"choices"`
	ParticipantsCount int         `json:"participants_count"`
}
