package mq

import (
	"fmt"
	"log"
	"os"
	"sync"

	"picksy-realtime-backend/cache"
)

// MQAdapter 事件总线适配器，优先使用RocketMQ，
// 未配置时退回到基于Redis List的队列
type MQAdapter struct {
	rocketEnabled bool
	redisEnabled  bool

	rocketConsumers *RocketConsumers
	redisMQ         *RedisMQ

	initOnce    sync.Once
	initialized bool
}

// NewMQAdapter 创建事件总线适配器
func NewMQAdapter() *MQAdapter {
	return &MQAdapter{}
}

// Start 初始化并启动事件消费。适配器选择顺序：
// 设置了ROCKETMQ_NAMESRV_ADDR则用RocketMQ，否则用Redis MQ。
func (a *MQAdapter) Start(sink EventSink) error {
	var err error
	a.initOnce.Do(func() {
		if os.Getenv("ROCKETMQ_NAMESRV_ADDR") != "" {
			consumers, rocketErr := StartRocketConsumers(sink)
			if rocketErr == nil {
				a.rocketConsumers = consumers
				a.rocketEnabled = true
				a.initialized = true
				log.Println("事件总线: RocketMQ模式")
				return
			}
			log.Printf("RocketMQ初始化失败: %v，尝试Redis MQ", rocketErr)
		}

		client, cacheErr := cache.GetClient()
		if cacheErr != nil {
			err = fmt.Errorf("无法初始化事件总线: RocketMQ未配置且Redis不可用")
			return
		}

		a.redisMQ = NewRedisMQ(client, sink)
		if startErr := a.redisMQ.Start(); startErr != nil {
			err = fmt.Errorf("启动Redis MQ消费者失败: %v", startErr)
			return
		}

		a.redisEnabled = true
		a.initialized = true
		log.Println("事件总线: Redis MQ模式")
	})
	return err
}

// IsInitialized 检查适配器是否已初始化
func (a *MQAdapter) IsInitialized() bool {
	return a.initialized
}

// Close 关闭事件总线
func (a *MQAdapter) Close() {
	if a.rocketEnabled && a.rocketConsumers != nil {
		a.rocketConsumers.Close()
	}
	if a.redisEnabled && a.redisMQ != nil {
		a.redisMQ.Stop()
	}
	log.Println("事件总线已关闭")
}

// RetryDeadLetters 重试死信队列中的消息（仅Redis MQ模式可用）
func (a *MQAdapter) RetryDeadLetters() error {
	if !a.initialized {
		return fmt.Errorf("事件总线适配器未初始化")
	}
	if a.redisEnabled && a.redisMQ != nil {
		return a.redisMQ.RetryDeadLetters()
	}
	return fmt.Errorf("当前事件总线模式不支持死信队列操作")
}

// GetQueueStats 获取队列统计信息
func (a *MQAdapter) GetQueueStats() map[string]interface{} {
	stats := make(map[string]interface{})

	if !a.initialized {
		stats["status"] = "未初始化"
		return stats
	}

	if a.rocketEnabled {
		stats["type"] = "RocketMQ"
		stats["status"] = "正常运行"
	} else if a.redisEnabled {
		stats["type"] = "Redis MQ"
		stats["status"] = "正常运行"
		stats["queues"] = a.redisMQ.GetQueueStats()
	}
	return stats
}
