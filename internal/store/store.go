package store

import (
	"context"
	"errors"
	"time"

	"event-notify-go/internal/models"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by lookups addressed to a missing row.
var ErrNotFound = errors.New("not found")

// SubscriptionStore handles push subscription rows (PostgreSQL)
type SubscriptionStore interface {
	// SavePushSubscription upserts by (userID, endpoint): re-subscribing the
	// same endpoint updates the keys and device name instead of duplicating.
	SavePushSubscription(ctx context.Context, userID int, endpoint, p256dh, auth, deviceName string) (models.PushSubscription, error)
	// DeletePushSubscription returns false when no matching row existed.
	DeletePushSubscription(ctx context.Context, userID int, endpoint string) (bool, error)
	// DeleteAllPushSubscriptions removes every endpoint of a user (logout all
	// devices) and returns the number of rows removed.
	DeleteAllPushSubscriptions(ctx context.Context, userID int) (int, error)
	GetPushSubscriptions(ctx context.Context, userID int) ([]models.PushSubscription, error)
	// AllSubscriptionsInBatches streams every subscription in fixed-size
	// batches. This is the only full-table scan; everything else is indexed
	// by user id.
	AllSubscriptionsInBatches(ctx context.Context, batchSize int, visit func([]models.PushSubscription) error) error
}

// NotificationStore handles in-app notification records (PostgreSQL)
type NotificationStore interface {
	CreateNotification(ctx context.Context, title, message string, senderID *int, receiverID int, notiType string, data models.NotificationData) (models.Notification, error)
	// GetNotificationsByUser returns newest-first, with sender display fields
	// joined in. A missing sender yields empty fields, not an error.
	GetNotificationsByUser(ctx context.Context, userID int) ([]models.Notification, error)
	// MarkNotificationRead is idempotent; marking an already-read row again
	// returns the same record. ErrNotFound when the id does not exist.
	MarkNotificationRead(ctx context.Context, id int) (models.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, userID int) error
	UnreadNotificationCount(ctx context.Context, userID int) (int, error)
	// DeleteNotification returns false when the id did not exist.
	DeleteNotification(ctx context.Context, id int) (bool, error)
}

// Directory resolves users and event participants for audience resolution.
type Directory interface {
	CreateUser(ctx context.Context, username, email, password, role string) (models.User, error)
	GetUser(ctx context.Context, id int) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetAllUserIDs(ctx context.Context) ([]int, error)
	// GetEventParticipantIDs returns the accepted participants of an event.
	// ErrNotFound when the event itself does not exist.
	GetEventParticipantIDs(ctx context.Context, eventID int) ([]int, error)
}

// Store is the full PostgreSQL surface the handlers and the notifier use.
type Store interface {
	SubscriptionStore
	NotificationStore
	Directory
}

// Gate is the TTL-based dedup/rate gate (Redis)
type Gate interface {
	// TryAcquire atomically claims the (userID, notiType) key for ttl.
	// True means the caller may notify; false means the pair was already
	// notified within the cooldown window.
	TryAcquire(ctx context.Context, userID int, notiType string, ttl time.Duration) (bool, error)
}

// Broadcaster is the per-user realtime channel (Redis pub/sub)
type Broadcaster interface {
	PublishNotification(ctx context.Context, userID int, event string, payload any) error
	Subscribe(ctx context.Context, userID int) *redis.PubSub
}
