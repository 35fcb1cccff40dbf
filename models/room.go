package models

import (
	"time"
)

// Room is a voting session identified by a globally unique room code.
// It owns its category sequence and participant rows outright.
type Room struct {
	ID                   int64             `gorm:"primaryKey;autoIncrement" json:"-"`
	RoomCode             string            `gorm:"size:16;not null;uniqueIndex" json:"room_code"`
	Name                 string            `gorm:"not null" json:"name"`
	OwnerID              int64             `gorm:"not null;index" json:"owner_id"`
	VotingStarted        bool              `gorm:"not null;default:false" json:"voting_started"`
	RoomClosed           bool              `gorm:"not null;default:false" json:"room_closed"`
	CurrentCategoryIndex int               `gorm:"not null;default:0" json:"current_category_index"`
	Categories           []RoomCategory    `gorm:"foreignKey:RoomID" json:"categories"`
	Participants         []RoomParticipant `gorm:"foreignKey:RoomID" json:"participants"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"-"`
}

// RoomCategory is one entry of the room's ordered category sequence.
// 只保存标识符，类别数据本身归category服务所有，删除时由一致性监听器清理。
type RoomCategory struct {
	ID         int64 `gorm:"primaryKey;autoIncrement" json:"-"`
	RoomID     int64 `gorm:"not null;index" json:"-"`
	SetID      int64 `gorm:"not null;index" json:"set_id"`
	CategoryID int64 `gorm:"not null;index" json:"category_id"`
	Position   int   `gorm:"not null" json:"position"`
}

// RoomParticipant is one member of a room. Anonymous participants carry a
// generated negative id; registered ones keep their account id.
type RoomParticipant struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"-"`
	RoomID        int64  `gorm:"not null;uniqueIndex:idx_room_participant" json:"-"`
	ParticipantID int64  `gorm:"not null;uniqueIndex:idx_room_participant" json:"participant_id"`
	Username      string `gorm:"not null" json:"username"`
}

// CategoryRef identifies a category inside a category set, by id only.
type CategoryRef struct {
	SetID      int64 `json:"set_id"`
	CategoryID int64 `json:"category_id"`
}

// RoomDTO is the read model returned by the details and history endpoints.
type RoomDTO struct {
	RoomCode             string          `json:"room_code"`
	Name                 string          `json:"name"`
	Categories           []CategoryRef   `json:"categories"`
	VotingStarted        bool            `json:"voting_started"`
	RoomClosed           bool            `json:"room_closed"`
	Participants         map[int64]string `json:"participants"`
	OwnerID              int64           `json:"owner_id"`
	CurrentCategoryIndex int             `json:"current_category_index"`
	CreatedAt            time.Time       `json:"created_at"`
}

// ToDTO flattens the owned rows into the wire shape.
func (r *Room) ToDTO() RoomDTO {
	categories := make([]CategoryRef, 0, len(r.Categories))
	for _, c := range r.Categories {
		categories = append(categories, CategoryRef{SetID: c.SetID, CategoryID: c.CategoryID})
	}
	participants := make(map[int64]string, len(r.Participants))
	for _, p := range r.Participants {
		participants[p.ParticipantID] = p.Username
	}
	return RoomDTO{
		RoomCode:             r.RoomCode,
		Name:                 r.Name,
		Categories:           categories,
		VotingStarted:        r.VotingStarted,
		RoomClosed:           r.RoomClosed,
		Participants:         participants,
		OwnerID:              r.OwnerID,
		CurrentCategoryIndex: r.CurrentCategoryIndex,
		CreatedAt:            r.CreatedAt,
	}
}

// CategoryAt returns the category reference at the given sequence position.
func (r *Room) CategoryAt(index int) (CategoryRef, bool) {
	if index < 0 || index >= len(r.Categories) {
		return CategoryRef{}, false
	}
	c := r.Categories[index]
	return CategoryRef{SetID: c.SetID, CategoryID: c.CategoryID}, true
}

// HasParticipant reports membership by participant id.
func (r *Room) HasParticipant(participantID int64) bool {
	for _, p := range r.Participants {
		if p.ParticipantID == participantID {
			return true
		}
	}
	return false
}
