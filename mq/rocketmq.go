package mq

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
)

// RocketConsumers 订阅类目域事件主题的RocketMQ推模式消费者
type RocketConsumers struct {
	consumers []rocketmq.PushConsumer

	// 幂等性处理：已处理消息的Key映射
	processed      map[string]bool
	processedMutex sync.RWMutex
}

// StartRocketConsumers 创建并启动两个推模式消费者，
// 分别订阅删除事件和模式变更事件主题
func StartRocketConsumers(sink EventSink) (*RocketConsumers, error) {
	nameServerAddr := os.Getenv("ROCKETMQ_NAMESRV_ADDR")
	if nameServerAddr == "" {
		nameServerAddr = "localhost:9876"
	}
	log.Printf("初始化RocketMQ消费者, 地址: %s", nameServerAddr)

	rc := &RocketConsumers{processed: make(map[string]bool)}

	subscriptions := []struct {
		topic string
		group string
	}{
		{TopicCategoryDeletion, "room-service-group"},
		{TopicCategoryTypeUpdate, "decision-group"},
	}

	for _, sub := range subscriptions {
		c, err := rocketmq.NewPushConsumer(
			consumer.WithNameServer([]string{nameServerAddr}),
			consumer.WithGroupName(sub.group),
			consumer.WithConsumerModel(consumer.Clustering),
			consumer.WithConsumeFromWhere(consumer.ConsumeFromLastOffset),
		)
		if err != nil {
			rc.Close()
			return nil, err
		}

		topic := sub.topic
		err = c.Subscribe(topic, consumer.MessageSelector{},
			func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
				for _, msg := range msgs {
					// 幂等性检查
					if rc.isProcessed(msg.MsgId) {
						log.Printf("消息已处理过，跳过: %s", msg.MsgId)
						continue
					}

					if err := dispatchEvent(ctx, sink, topic, msg.Body); err != nil {
						if err == errMalformed {
							log.Printf("丢弃无法解析的消息 topic=%s id=%s", topic, msg.MsgId)
							continue
						}
						log.Printf("处理消息失败 topic=%s id=%s: %v", topic, msg.MsgId, err)
						return consumer.ConsumeRetryLater, nil
					}

					rc.markProcessed(msg.MsgId)
				}
				return consumer.ConsumeSuccess, nil
			})
		if err != nil {
			rc.Close()
			return nil, err
		}

		if err := c.Start(); err != nil {
			rc.Close()
			return nil, err
		}

		rc.consumers = append(rc.consumers, c)
		log.Printf("RocketMQ消费者启动成功 topic=%s group=%s", topic, sub.group)
	}

	return rc, nil
}

// Close 关闭所有消费者
func (rc *RocketConsumers) Close() {
	for _, c := range rc.consumers {
		if err := c.Shutdown(); err != nil {
			log.Printf("关闭RocketMQ消费者失败: %v", err)
		}
	}
	rc.consumers = nil
}

func (rc *RocketConsumers) isProcessed(messageID string) bool {
	rc.processedMutex.RLock()
	defer rc.processedMutex.RUnlock()
	return rc.processed[messageID]
}

func (rc *RocketConsumers) markProcessed(messageID string) {
	rc.processedMutex.Lock()
	rc.processed[messageID] = true
	rc.processedMutex.Unlock()

	// 过期清理，避免映射无限增长
	go func(id string) {
		time.Sleep(24 * time.Hour)
		rc.processedMutex.Lock()
		delete(rc.processed, id)
		rc.processedMutex.Unlock()
	}(messageID)
}
