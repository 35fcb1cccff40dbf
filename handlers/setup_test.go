package handlers

import (
	"context"
	"log"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"picksy-realtime-backend/cache"
	"picksy-realtime-backend/database"
	"picksy-realtime-backend/models"
	"picksy-realtime-backend/service"
)

// noopPublisher discards broadcasts; the REST tests assert on HTTP responses only.
type noopPublisher struct{}

func (noopPublisher) Publish(topic string, message any) {}

type fixedCategoryClient struct {
	types map[int64]models.CategoryType
}

func (c *fixedCategoryClient) GetCategoryType(ctx context.Context, categoryID int64) (models.CategoryType, error) {
	return c.types[categoryID], nil
}

// SetupTestEnvironment builds the full REST stack over an in-memory database.
func SetupTestEnvironment(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
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

	categories := &fixedCategoryClient{types: map[int64]models.CategoryType{
		101: models.Swipe,
		102: models.Pick,
	}}
	rooms := service.NewRoomService(db, noopPublisher{}, cache.NewLocalLockService())
	decisions := service.NewDecisionService(db, noopPublisher{}, categories, rooms)

	router := gin.New()
	api := router.Group("/api")
	NewRoomHandler(rooms, decisions).RegisterRoutes(api)
	return router
}

// ClearTables removes all rows between tests.
func ClearTables(db *gorm.DB) {
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Choice{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Poll{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RoomParticipant{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RoomCategory{})
	db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Room{})
}
