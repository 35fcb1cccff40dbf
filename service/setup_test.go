package service

import (
	"context"
	"log"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"picksy-realtime-backend/cache"
	"picksy-realtime-backend/database"
	"picksy-realtime-backend/models"
)

// SetupTestDB opens the shared in-memory SQLite database and migrates the schema.
func SetupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		// 与生产配置一致，唯一键冲突要翻译成gorm.ErrDuplicatedKey
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	ClearTables(db)
	return db
}

// ClearTables removes all rows between tests.
func ClearTables(db *gorm.DB) {
	// Order matters due to foreign key constraints
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Choice{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Poll{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RoomParticipant{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RoomCategory{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Room{})
}

// recordingPublisher captures broadcasts for assertions.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

type publishedMessage struct {
	Topic   string
	Message any
}

func (p *recordingPublisher) Publish(topic string, message any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{Topic: topic, Message: message})
}

// roomMessages returns the room broadcasts published on the given topic.
func (p *recordingPublisher) roomMessages(topic string) []models.RoomMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []models.RoomMessage
	for _, m := range p.messages {
		if m.Topic != topic {
			continue
		}
		if msg, ok := m.Message.(*models.RoomMessage); ok {
			out = append(out, *msg)
		}
	}
	return out
}

// pollMessages returns the poll broadcasts published on the given topic.
func (p *recordingPublisher) pollMessages(topic string) []models.PollMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []models.PollMessage
	for _, m := range p.messages {
		if m.Topic != topic {
			continue
		}
		if msg, ok := m.Message.(*models.PollMessage); ok {
			out = append(out, *msg)
		}
	}
	return out
}

// countPollMessages counts poll broadcasts of one type on a topic.
func (p *recordingPublisher) countPollMessages(topic, messageType string) int {
	count := 0
	for _, msg := range p.pollMessages(topic) {
		if msg.MessageType == messageType {
			count++
		}
	}
	return count
}

// stubCategoryClient resolves category types from a fixed map.
type stubCategoryClient struct {
	types map[int64]models.CategoryType
	err   error
}

func (c *stubCategoryClient) GetCategoryType(ctx context.Context, categoryID int64) (models.CategoryType, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.types[categoryID], nil
}

// stubMembership is a canned membership check.
type stubMembership struct {
	members map[int64]bool
	err     error
}

func (m *stubMembership) IsParticipant(ctx context.Context, roomCode string, participantID int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.members[participantID], nil
}

// newTestRoomService wires a RoomService over the test database with a local lock.
func newTestRoomService(db *gorm.DB, pub *recordingPublisher) *RoomServiceImpl {
	return NewRoomService(db, pub, cache.NewLocalLockService())
}
