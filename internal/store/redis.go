package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broadcast event names carried on the per-user channel.
const (
	EventNotificationNew  = "notification.new"
	EventNotificationRead = "notification.read"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(opts *redis.Options) *RedisStore {
	rdb := redis.NewClient(opts)
	return &RedisStore{client: rdb}
}

// TryAcquire claims the dedup key for (userID, notiType) with a single
// SET NX round trip. A separate exists-then-set would race under concurrent
// triggers; SetNX guarantees at most one winner per TTL window.
func (s *RedisStore) TryAcquire(ctx context.Context, userID int, notiType string, ttl time.Duration) (bool, error) {
	key := dedupKey(userID, notiType)
	return s.client.SetNX(ctx, key, 1, ttl).Result()
}

// PublishNotification pushes an event onto the user's realtime channel.
// Fire-and-forget: nobody connected means the message is dropped; the
// notifications table is the durable source of truth.
func (s *RedisStore) PublishNotification(ctx context.Context, userID int, event string, payload any) error {
	msg, err := json.Marshal(map[string]any{
		"event": event,
		"data":  payload,
	})
	if err != nil {
		return err
	}

	return s.client.Publish(ctx, notificationChannel(userID), msg).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, userID int) *redis.PubSub {
	return s.client.Subscribe(ctx, notificationChannel(userID))
}

func dedupKey(userID int, notiType string) string {
	return fmt.Sprintf("notify:user:%d:%s", userID, notiType)
}

func notificationChannel(userID int) string {
	return fmt.Sprintf("notifications.%d", userID)
}
