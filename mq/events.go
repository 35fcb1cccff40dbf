package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"picksy-realtime-backend/models"
)

// 类目域事件的主题常量
const (
	TopicCategoryDeletion   = "category-deletion-topic"
	TopicCategoryTypeUpdate = "category-type-update-topic"
)

// EventSink 一致性事件的处理端。投递语义是至少一次，实现必须幂等。
type EventSink interface {
	HandleDeletion(ctx context.Context, event models.DeletionEvent) error
	HandleTypeUpdate(ctx context.Context, event models.TypeUpdateEvent) error
}

// EventMessage 队列消息信封，MessageID用于幂等处理
type EventMessage struct {
	MessageID string          `json:"message_id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// errMalformed 负载无法解析，丢弃而不是重试
var errMalformed = fmt.Errorf("malformed event payload")

// dispatchEvent 按主题解析负载并交给处理端。返回errMalformed表示消息应被丢弃，
// 其他错误代表处理端的可重试失败。
func dispatchEvent(ctx context.Context, sink EventSink, topic string, payload []byte) error {
	switch topic {
	case TopicCategoryDeletion:
		var event models.DeletionEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return errMalformed
		}
		return sink.HandleDeletion(ctx, event)

	case TopicCategoryTypeUpdate:
		var event models.TypeUpdateEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return errMalformed
		}
		return sink.HandleTypeUpdate(ctx, event)

	default:
		return errMalformed
	}
}

// generateMessageID 生成唯一的消息ID
func generateMessageID(topic string) string {
	return fmt.Sprintf("%s_%d", topic, time.Now().UnixNano())
}
