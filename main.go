package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"picksy-realtime-backend/broadcast"
	"picksy-realtime-backend/cache"
	"picksy-realtime-backend/clients"
	"picksy-realtime-backend/database"
	"picksy-realtime-backend/handlers"
	"picksy-realtime-backend/mq"
	"picksy-realtime-backend/routes"
	"picksy-realtime-backend/service"
)

func main() {
	// 初始化数据库连接
	if err := database.InitDB(); err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("数据库连接初始化成功")

	// 初始化Redis连接，失败时降级为本地模式
	cache.InitRedis()

	// 广播中心
	hub := broadcast.NewHub()
	go hub.Run()

	// 锁服务：Redis可用时为分布式锁，否则为进程内锁
	lockService := cache.NewLockService()

	// 初始化服务
	categoryClient := clients.NewHTTPCategoryClient()
	roomService := service.NewRoomService(database.DB, hub, lockService)
	decisionService := service.NewDecisionService(database.DB, hub, categoryClient, roomService)
	consistencyService := service.NewConsistencyService(database.DB)

	// 启动事件总线消费（自动选择RocketMQ或Redis MQ）
	mqAdapter := mq.NewMQAdapter()
	if err := mqAdapter.Start(consistencyService); err != nil {
		log.Printf("警告: 事件总线初始化失败，一致性事件将不被消费: %v", err)
	} else {
		log.Printf("事件总线状态: %v", mqAdapter.GetQueueStats())
	}

	// 初始化处理器并设置路由
	roomHandler := handlers.NewRoomHandler(roomService, decisionService)
	systemHandler := handlers.NewSystemHandler(mqAdapter)
	wsHandler := broadcast.NewHandler(hub, roomService, decisionService)

	router := routes.SetupRouter(roomHandler, systemHandler, wsHandler)
	log.Println("路由设置完成")

	// 启动服务器
	srv := routes.StartServer(router)
	log.Println("服务器启动成功")

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("关闭服务器...")

	// 不接受新请求并等待现有请求完成
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务器强制关闭: %v", err)
	}

	// 关闭数据库、Redis和事件总线连接
	mqAdapter.Close()
	cache.CloseRedis()
	database.CloseDB()

	log.Println("服务器优雅关闭")
}
