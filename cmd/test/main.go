// 手动测试工具：向事件总线投递类目域事件，验证一致性消费链路。
//
// 用法:
//
//	go run ./cmd/test deletion CATEGORY 42
//	go run ./cmd/test deletion SET 7
//	go run ./cmd/test deletion OPTION 1001
//	go run ./cmd/test retype 42 PICK
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"picksy-realtime-backend/cache"
	"picksy-realtime-backend/models"
	"picksy-realtime-backend/mq"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cache.InitRedis()
	client, err := cache.GetClient()
	if err != nil {
		log.Fatalf("需要可用的Redis连接: %v", err)
	}
	redisMQ := mq.NewRedisMQ(client, nil)

	switch os.Args[1] {
	case "deletion":
		if len(os.Args) != 4 {
			usage()
		}
		id := parseID(os.Args[3])
		event := models.DeletionEvent{ID: id, Type: os.Args[2]}
		if err := redisMQ.SendEvent(mq.TopicCategoryDeletion, event); err != nil {
			log.Fatalf("发送删除事件失败: %v", err)
		}
		fmt.Printf("删除事件已发送: %s id=%d\n", event.Type, event.ID)

	case "retype":
		if len(os.Args) != 4 {
			usage()
		}
		categoryID := parseID(os.Args[2])
		event := models.TypeUpdateEvent{CategoryID: categoryID, NewType: os.Args[3]}
		if err := redisMQ.SendEvent(mq.TopicCategoryTypeUpdate, event); err != nil {
			log.Fatalf("发送模式变更事件失败: %v", err)
		}
		fmt.Printf("模式变更事件已发送: category=%d newType=%s\n", event.CategoryID, event.NewType)

	default:
		usage()
	}
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Fatalf("无效的ID: %s", s)
	}
	return id
}

func usage() {
	fmt.Fprintln(os.Stderr, "用法: test deletion <CATEGORY|SET|OPTION> <id> | test retype <categoryId> <SWIPE|PICK>")
	os.Exit(2)
}
