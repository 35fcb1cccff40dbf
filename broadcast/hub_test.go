package broadcast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picksy-realtime-backend/models"
)

func newTestClient(topic string) *Client {
	return &Client{
		ID:    "test-" + topic,
		Topic: topic,
		send:  make(chan []byte, 8),
	}
}

func registerAndWait(t *testing.T, hub *Hub, client *Client) {
	hub.RegisterClient(client)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(client.Topic) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestHubPublishReachesTopicSubscribers(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	roomClient := newTestClient(RoomTopic("1234567"))
	otherClient := newTestClient(RoomTopic("7654321"))
	registerAndWait(t, hub, roomClient)
	registerAndWait(t, hub, otherClient)

	hub.Publish(RoomTopic("1234567"), &models.RoomMessage{
		Type:          models.MessageJoin,
		ParticipantID: 42,
		Username:      "alice",
	})

	select {
	case payload := <-roomClient.send:
		var msg models.RoomMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, models.MessageJoin, msg.Type)
		assert.Equal(t, int64(42), msg.ParticipantID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the broadcast")
	}

	// 其它主题的订阅者收不到
	select {
	case <-otherClient.send:
		t.Fatal("message leaked to another topic")
	default:
	}
}

func TestHubUnregisterRemovesSubscriber(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	topic := PollTopic("1234567", "101")
	client := newTestClient(topic)
	registerAndWait(t, hub, client)
	assert.Equal(t, 1, hub.SubscriberCount(topic))

	hub.UnregisterClient(client)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(topic) == 0
	}, time.Second, 5*time.Millisecond)

	// send通道被关闭
	_, open := <-client.send
	assert.False(t, open)
}

func TestHubEvictsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	topic := RoomTopic("1234567")
	slow := &Client{ID: "slow", Topic: topic, send: make(chan []byte)}
	registerAndWait(t, hub, slow)

	var logs bytes.Buffer
	log.SetOutput(&logs)
	defer log.SetOutput(log.Writer())

	// 无缓冲通道没人读，发布时直接被踢掉
	hub.Publish(topic, &models.RoomMessage{Type: models.MessageJoin})
	assert.Equal(t, 0, hub.SubscriberCount(topic))

	// 送达计数不包含被踢掉的订阅者
	assert.Contains(t, logs.String(), "Broadcast message to 0 clients")
}

func TestHubConcurrentPublishSingleEviction(t *testing.T) {
	// 两个并发的Publish同时发现同一个阻塞的订阅者，
	// 只能有一个关闭它的通道，重复close会panic
	for i := 0; i < 50; i++ {
		hub := NewHub()
		go hub.Run()

		topic := RoomTopic("1234567")
		slow := &Client{ID: "slow", Topic: topic, send: make(chan []byte)}
		registerAndWait(t, hub, slow)

		var wg sync.WaitGroup
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				hub.Publish(topic, &models.RoomMessage{Type: models.MessageJoin})
			}()
		}
		wg.Wait()

		assert.Equal(t, 0, hub.SubscriberCount(topic))
	}
}

func TestHubPublishDuringSubscriberChurn(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	topic := RoomTopic("1234567")

	// 一批稳定的订阅者，缓冲足够大保证它们不会被当作慢客户端踢掉
	const stable = 100
	const publishes = 500
	for i := 0; i < stable; i++ {
		c := &Client{ID: fmt.Sprintf("sub-%d", i), Topic: topic, send: make(chan []byte, publishes)}
		hub.RegisterClient(c)
	}
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(topic) == stable
	}, time.Second, 5*time.Millisecond)

	// 广播和订阅者进出并发进行，任何一侧都不能让对方崩溃
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < publishes; i++ {
			hub.Publish(topic, &models.RoomMessage{
				Type:          models.MessageJoin,
				ParticipantID: int64(i),
			})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			c := &Client{ID: fmt.Sprintf("churn-%d", i), Topic: topic, send: make(chan []byte, 16)}
			hub.RegisterClient(c)
			go func(c *Client) {
				for range c.send {
				}
			}(c)
			hub.UnregisterClient(c)
		}
	}()

	wg.Wait()

	// 注销是异步处理的，等进出的订阅者全部离场
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(topic) == stable
	}, time.Second, 5*time.Millisecond)
}

func TestTopicNames(t *testing.T) {
	assert.Equal(t, "room/1234567", RoomTopic("1234567"))
	assert.Equal(t, "poll/1234567/101", PollTopic("1234567", "101"))
}
