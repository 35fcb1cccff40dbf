package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMQ 基于Redis List实现的事件队列，用于没有RocketMQ的部署。
// 每个主题一组队列：主队列、处理中队列、死信队列和重试计数。
type RedisMQ struct {
	client            *redis.Client
	ctx               context.Context
	sink              EventSink
	topics            []string
	isRunning         bool
	stopChan          chan struct{}
	wg                sync.WaitGroup
	processingTimeout time.Duration // 消息处理超时时间
	retryDelay        time.Duration // 重试延迟
	maxRetries        int           // 最大重试次数
}

// 每个主题的队列命名
func mainQueue(topic string) string       { return topic }
func processingQueue(topic string) string { return topic + ":processing" }
func deadLetterQueue(topic string) string { return topic + ":dead_letter" }
func retriesHash(topic string) string     { return topic + ":retries" }
func processedSet(topic string) string    { return topic + ":processed_ids" }

// NewRedisMQ 创建基于Redis的事件队列
func NewRedisMQ(redisClient *redis.Client, sink EventSink) *RedisMQ {
	return &RedisMQ{
		client:            redisClient,
		ctx:               context.Background(),
		sink:              sink,
		topics:            []string{TopicCategoryDeletion, TopicCategoryTypeUpdate},
		stopChan:          make(chan struct{}),
		processingTimeout: 5 * time.Minute,
		retryDelay:        30 * time.Second,
		maxRetries:        3,
	}
}

// SendEvent 把事件负载包进信封后推入主题队列，重复的消息ID直接跳过
func (r *RedisMQ) SendEvent(topic string, payload any) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %v", err)
	}

	msg := EventMessage{
		MessageID: generateMessageID(topic),
		Topic:     topic,
		Payload:   jsonPayload,
		Timestamp: time.Now().Unix(),
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}

	// 幂等性检查
	exists, err := r.client.SIsMember(r.ctx, processedSet(topic), msg.MessageID).Result()
	if err != nil {
		log.Printf("检查消息幂等性出错: %v", err)
	} else if exists {
		log.Printf("消息已处理过，跳过: %s", msg.MessageID)
		return nil
	}

	if err := r.client.LPush(r.ctx, mainQueue(topic), jsonData).Err(); err != nil {
		return fmt.Errorf("发送消息到队列失败: %v", err)
	}

	log.Printf("消息成功发送到Redis队列: %s, 消息ID: %s", topic, msg.MessageID)
	return nil
}

// Start 启动所有主题的消费循环和超时检查
func (r *RedisMQ) Start() error {
	if r.sink == nil {
		return fmt.Errorf("事件处理端未注册")
	}
	if r.isRunning {
		return nil
	}

	r.isRunning = true
	log.Println("Redis事件队列消费者启动中...")

	for _, topic := range r.topics {
		r.wg.Add(1)
		go r.consumeLoop(topic)
	}

	r.wg.Add(1)
	go r.timeoutCheckLoop()

	log.Println("Redis事件队列消费者已启动")
	return nil
}

// Stop 关闭消费者
func (r *RedisMQ) Stop() {
	if !r.isRunning {
		return
	}

	log.Println("正在关闭Redis事件队列消费者...")
	close(r.stopChan)
	r.wg.Wait()
	r.isRunning = false
	log.Println("Redis事件队列消费者已关闭")
}

// consumeLoop 单个主题的主消费循环
func (r *RedisMQ) consumeLoop(topic string) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		default:
			// BRPOPLPUSH原子地从主队列取出并放入处理中队列
			result, err := r.client.BRPopLPush(r.ctx, mainQueue(topic), processingQueue(topic), 1*time.Second).Result()
			if err != nil {
				if err != redis.Nil { // 忽略超时
					log.Printf("从队列 %s 获取消息失败: %v", topic, err)
				}
				continue
			}

			r.processMessage(topic, result)
		}
	}
}

// processMessage 处理单个消息
func (r *RedisMQ) processMessage(topic string, msgData string) {
	var msg EventMessage
	if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
		log.Printf("解析消息失败: %v", err)
		r.moveToDeadLetter(topic, msgData)
		return
	}

	// 幂等性检查
	exists, err := r.client.SIsMember(r.ctx, processedSet(topic), msg.MessageID).Result()
	if err == nil && exists {
		log.Printf("消息已处理过，跳过: %s", msg.MessageID)
		r.client.LRem(r.ctx, processingQueue(topic), 1, msgData)
		return
	}

	log.Printf("处理事件消息: topic=%s id=%s", topic, msg.MessageID)

	if err := dispatchEvent(r.ctx, r.sink, topic, msg.Payload); err != nil {
		if err == errMalformed {
			log.Printf("丢弃无法解析的消息 topic=%s id=%s", topic, msg.MessageID)
			r.moveToDeadLetter(topic, msgData)
			return
		}
		log.Printf("处理消息失败: %v", err)
		r.retryOrDeadLetter(topic, msg, msgData)
		return
	}

	// 处理成功：记入幂等集合并从处理中队列移除
	if err := r.client.SAdd(r.ctx, processedSet(topic), msg.MessageID).Err(); err != nil {
		log.Printf("添加消息ID到幂等性集合出错: %v", err)
	}
	r.client.Expire(r.ctx, processedSet(topic), 48*time.Hour)
	r.client.LRem(r.ctx, processingQueue(topic), 1, msgData)
	log.Printf("消息处理成功: %s", msg.MessageID)
}

// retryOrDeadLetter 处理失败的消息延迟重试，超过最大次数进死信队列
func (r *RedisMQ) retryOrDeadLetter(topic string, msg EventMessage, msgData string) {
	retries, _ := r.client.HGet(r.ctx, retriesHash(topic), msg.MessageID).Int()

	if retries >= r.maxRetries {
		log.Printf("消息 %s 超过最大重试次数，移至死信队列", msg.MessageID)
		r.moveToDeadLetter(topic, msgData)
		return
	}

	r.client.HIncrBy(r.ctx, retriesHash(topic), msg.MessageID, 1)
	r.client.LRem(r.ctx, processingQueue(topic), 1, msgData)

	msg.Timestamp = time.Now().Unix()
	updatedData, _ := json.Marshal(msg)

	time.AfterFunc(r.retryDelay, func() {
		r.client.LPush(r.ctx, mainQueue(topic), updatedData)
		log.Printf("消息 %s 重新入队，重试次数: %d", msg.MessageID, retries+1)
	})
}

// timeoutCheckLoop 定期把卡在处理中队列的消息重新入队
func (r *RedisMQ) timeoutCheckLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			for _, topic := range r.topics {
				r.checkTimeouts(topic)
			}
		}
	}
}

// checkTimeouts 检查单个主题的处理超时消息
func (r *RedisMQ) checkTimeouts(topic string) {
	messages, err := r.client.LRange(r.ctx, processingQueue(topic), 0, -1).Result()
	if err != nil {
		log.Printf("获取处理中队列消息失败: %v", err)
		return
	}

	now := time.Now().Unix()

	for _, msgData := range messages {
		var msg EventMessage
		if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
			log.Printf("解析消息数据失败: %v", err)
			continue
		}

		if now-msg.Timestamp > int64(r.processingTimeout.Seconds()) {
			r.retryOrDeadLetter(topic, msg, msgData)
		}
	}
}

// moveToDeadLetter 把消息移入死信队列
func (r *RedisMQ) moveToDeadLetter(topic string, msgData string) {
	r.client.LPush(r.ctx, deadLetterQueue(topic), msgData)
	r.client.LRem(r.ctx, processingQueue(topic), 1, msgData)
}

// RetryDeadLetters 把所有主题死信队列中的消息移回主队列
func (r *RedisMQ) RetryDeadLetters() error {
	for _, topic := range r.topics {
		messages, err := r.client.LRange(r.ctx, deadLetterQueue(topic), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("获取死信队列消息失败: %v", err)
		}

		count := 0
		for _, msgData := range messages {
			if err := r.client.LPush(r.ctx, mainQueue(topic), msgData).Err(); err != nil {
				log.Printf("重新入队消息失败: %v", err)
				continue
			}
			r.client.LRem(r.ctx, deadLetterQueue(topic), 1, msgData)

			// 重置重试计数
			var msg EventMessage
			if json.Unmarshal([]byte(msgData), &msg) == nil {
				r.client.HDel(r.ctx, retriesHash(topic), msg.MessageID)
			}
			count++
		}
		log.Printf("成功将 %d 条消息从死信队列移回主队列 topic=%s", count, topic)
	}
	return nil
}

// GetQueueStats 获取各主题队列的消息数量统计
func (r *RedisMQ) GetQueueStats() map[string]int64 {
	stats := make(map[string]int64)
	for _, topic := range r.topics {
		mainLen, _ := r.client.LLen(r.ctx, mainQueue(topic)).Result()
		procLen, _ := r.client.LLen(r.ctx, processingQueue(topic)).Result()
		deadLen, _ := r.client.LLen(r.ctx, deadLetterQueue(topic)).Result()

		stats[topic+":main"] = mainLen
		stats[topic+":processing"] = procLen
		stats[topic+":dead_letter"] = deadLen
	}
	return stats
}

// ClearAllQueues 清空所有队列（仅用于测试）
func (r *RedisMQ) ClearAllQueues() error {
	for _, topic := range r.topics {
		err := r.client.Del(r.ctx,
			mainQueue(topic), processingQueue(topic), deadLetterQueue(topic),
			retriesHash(topic), processedSet(topic)).Err()
		if err != nil {
			return fmt.Errorf("清空队列失败: %v", err)
		}
	}
	return nil
}
