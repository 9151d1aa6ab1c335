package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"meowchat_client/internal/chat/domain"
	"meowchat_client/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultEventsChannel redis channel 所有 client 共用
const DefaultEventsChannel = "chat:events"

// RedisPubSub definition redis pub/sub
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub create RedisPubSub
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish 將 message 序列化後，發布到指定 channel
func (r *RedisPubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe 訂閱 channel，收到訊息後呼叫 handler 處理, 回傳前確認訂閱已生效
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (*redis.PubSub, error) {
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(m.Payload))
			case <-ctx.Done():
				logger.Log.Info(fmt.Sprintf("%s , sub close", channel))
				// 當 ctx 被取消時，退出循環並關閉訂閱
				_ = sub.Close()
				return
			}
		}
	}()
	return sub, nil
}

// RedisEventChannel EventChannel over redis pub/sub
type RedisEventChannel struct {
	pubsub  *RedisPubSub
	channel string

	mu  sync.Mutex
	sub *redis.PubSub
}

// NewRedisEventChannel channel 空字串時用 DefaultEventsChannel
func NewRedisEventChannel(client *redis.Client, channel string) *RedisEventChannel {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &RedisEventChannel{pubsub: NewRedisPubSub(client), channel: channel}
}

// Emit publish the event
func (r *RedisEventChannel) Emit(ctx context.Context, event domain.Event) error {
	return r.pubsub.Publish(ctx, r.channel, event)
}

// Subscribe decode every payload into an Event, 格式錯誤的 payload 直接丟掉
func (r *RedisEventChannel) Subscribe(ctx context.Context, handler func(domain.Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return fmt.Errorf("redis channel %s already subscribed", r.channel)
	}

	sub, err := r.pubsub.Subscribe(ctx, r.channel, func(payload []byte) {
		event, err := DecodeEvent(payload)
		if err != nil {
			logger.Log.Warn("drop redis event", zap.String("channel", r.channel), zap.Error(err))
			return
		}
		handler(event)
	})
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

// Close close the subscription, redis client 由 caller 管理
func (r *RedisEventChannel) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return nil
	}
	err := r.sub.Close()
	r.sub = nil
	return err
}
