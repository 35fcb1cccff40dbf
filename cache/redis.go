package cache

import (
	"context"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 全局Redis客户端
var (
	redisClient *redis.Client
	redisCtx    = context.Background()
	initOnce    sync.Once
	available   bool
)

// InitRedis 初始化Redis连接。连接失败时服务降级为本地模式，
// 分布式锁退化为进程内锁，不影响单实例部署。
func InitRedis() {
	initOnce.Do(func() {
		redisAddr := os.Getenv("REDIS_ADDR")
		if redisAddr == "" {
			host := getEnv("REDIS_HOST", "localhost")
			port := getEnv("REDIS_PORT", "6379")
			redisAddr = host + ":" + port
		}
		redisPassword := os.Getenv("REDIS_PASSWORD")
		redisDb := 0
		if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				redisDb = db
			}
		}

		log.Printf("初始化Redis连接, 地址: %s", redisAddr)

		client := redis.NewClient(&redis.Options{
			Addr:        redisAddr,
			Password:    redisPassword,
			DB:          redisDb,
			DialTimeout: 3 * time.Second,
			ReadTimeout: 3 * time.Second,
			PoolSize:    10,
		})

		if _, err := client.Ping(redisCtx).Result(); err != nil {
			log.Printf("Redis连接失败: %v，降级为本地模式", err)
			return
		}

		redisClient = client
		available = true
		log.Println("Redis连接初始化成功")
	})
}

// Available 报告Redis是否可用
func Available() bool {
	return available
}

// GetClient 获取Redis客户端实例
func GetClient() (*redis.Client, error) {
	if !available {
		return nil, ErrRedisNotAvailable
	}
	return redisClient, nil
}

// CloseRedis 关闭Redis连接
func CloseRedis() {
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("关闭Redis连接失败: %v", err)
		}
		redisClient = nil
		available = false
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
