package migrations

import (
	"log"

	"gorm.io/gorm"
)

// AddCurrentCategoryIndexToRoom 为rooms表补充current_category_index字段。
// 早期部署的表没有该列，AutoMigrate会补齐，这里保证旧行回填为0。
func AddCurrentCategoryIndexToRoom(db *gorm.DB) error {
	log.Println("执行迁移: 为rooms表回填current_category_index")

	if !db.Migrator().HasColumn(&room{}, "current_category_index") {
		if err := db.Exec("ALTER TABLE rooms ADD COLUMN current_category_index INTEGER NOT NULL DEFAULT 0").Error; err != nil {
			log.Printf("迁移失败: %v", err)
			return err
		}
		log.Println("迁移成功: 已添加current_category_index字段")
		return nil
	}

	if err := db.Exec("UPDATE rooms SET current_category_index = 0 WHERE current_category_index IS NULL").Error; err != nil {
		log.Printf("迁移回填失败: %v", err)
		return err
	}

	log.Println("迁移完成: current_category_index已就绪")
	return nil
}

// 定义一个简单的room结构体，仅用于检查字段
type room struct {
	CurrentCategoryIndex int
}

// TableName 指定检查用的表名
func (room) TableName() string {
	return "rooms"
}
