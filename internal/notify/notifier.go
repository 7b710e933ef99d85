package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"event-notify-go/internal/models"
	"event-notify-go/internal/store"
)

// ErrAudience marks a failure to resolve the target audience. The whole
// fan-out call is aborted; no notifications are sent.
var ErrAudience = errors.New("audience resolution failed")

const (
	defaultCooldown    = 60 * time.Second
	broadcastBatchSize = 100
)

// Stats summarizes one fan-out call: receivers processed and endpoints
// attempted. Callers report "sent to N users (M devices)".
type Stats struct {
	Total   int `json:"total"`
	Devices int `json:"devices"`
}

// Message is one logical notification before fan-out.
type Message struct {
	Title    string
	Body     string
	SenderID *int // nil for system-originated notifications
	Type     string
	Data     models.NotificationData
	SkipPush bool // in-app record and realtime broadcast only
}

// Notifier fans one message out to an audience: it persists an in-app record
// per receiver, publishes a realtime event, and best-effort delivers web
// push to each of the receiver's registered endpoints. The record always
// lands before push is attempted; push failures never undo it.
type Notifier struct {
	store  store.Store
	gate   store.Gate
	bcast  store.Broadcaster
	sender PushSender
}

func NewNotifier(st store.Store, gate store.Gate, bcast store.Broadcaster, sender PushSender) *Notifier {
	return &Notifier{store: st, gate: gate, bcast: bcast, sender: sender}
}

func (n *Notifier) NotifyUser(ctx context.Context, userID int, msg Message) (Stats, error) {
	fanoutRequestsTotal.WithLabelValues("user").Inc()
	return n.fanOut(ctx, []int{userID}, msg)
}

func (n *Notifier) NotifyUsers(ctx context.Context, userIDs []int, msg Message) (Stats, error) {
	fanoutRequestsTotal.WithLabelValues("users").Inc()
	return n.fanOut(ctx, userIDs, msg)
}

func (n *Notifier) NotifyAllUsers(ctx context.Context, msg Message) (Stats, error) {
	fanoutRequestsTotal.WithLabelValues("all").Inc()

	userIDs, err := n.store.GetAllUserIDs(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrAudience, err)
	}

	return n.fanOut(ctx, userIDs, msg)
}

func (n *Notifier) NotifyEventParticipants(ctx context.Context, eventID int, msg Message) (Stats, error) {
	fanoutRequestsTotal.WithLabelValues("event").Inc()

	userIDs, err := n.store.GetEventParticipantIDs(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Stats{}, fmt.Errorf("%w: event %d not found", ErrAudience, eventID)
		}
		return Stats{}, fmt.Errorf("%w: %v", ErrAudience, err)
	}

	return n.fanOut(ctx, userIDs, msg)
}

// NotifyUserRateLimited sends to one user unless the same (user, type) pair
// was already notified within the cooldown window. The skipped call is a
// complete no-op: no record, no broadcast, no push. Returns false when
// skipped.
func (n *Notifier) NotifyUserRateLimited(ctx context.Context, userID int, msg Message, cooldown time.Duration) (Stats, bool, error) {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	ok, err := n.gate.TryAcquire(ctx, userID, msg.Type, cooldown)
	if err != nil {
		return Stats{}, false, err
	}
	if !ok {
		return Stats{}, false, nil
	}

	stats, err := n.NotifyUser(ctx, userID, msg)
	return stats, true, err
}

// PushToAllSubscribers is the push-only system broadcast: no in-app records,
// just web push to every registered endpoint, streamed in batches to bound
// memory. Total counts distinct subscribed users.
func (n *Notifier) PushToAllSubscribers(ctx context.Context, msg Message) (Stats, error) {
	fanoutRequestsTotal.WithLabelValues("broadcast").Inc()

	payload, err := json.Marshal(newPushPayload(msg))
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	seen := make(map[int]struct{})
	err = n.store.AllSubscriptionsInBatches(ctx, broadcastBatchSize, func(batch []models.PushSubscription) error {
		for _, sub := range batch {
			if _, ok := seen[sub.UserID]; !ok {
				seen[sub.UserID] = struct{}{}
				stats.Total++
			}
		}
		stats.Devices += len(batch)

		results := n.sender.DeliverBatch(ctx, batch, payload)
		n.handleResults(ctx, batch, results)
		return nil
	})

	return stats, err
}

func (n *Notifier) fanOut(ctx context.Context, userIDs []int, msg Message) (Stats, error) {
	stats := Stats{Total: len(userIDs)}
	if len(userIDs) == 0 {
		return stats, nil
	}

	payload, err := json.Marshal(newPushPayload(msg))
	if err != nil {
		return stats, err
	}

	for _, userID := range userIDs {
		// The in-app record is the durability guarantee; it lands before any
		// push is attempted for this receiver.
		noti, err := n.store.CreateNotification(ctx, msg.Title, msg.Body, msg.SenderID, userID, msg.Type, msg.Data)
		if err != nil {
			// Skip this receiver; the loop continues for the rest.
			log.Printf("notify: failed to create notification for user %d: %v", userID, err)
			continue
		}
		notificationsCreatedTotal.Inc()

		if err := n.bcast.PublishNotification(ctx, userID, store.EventNotificationNew, noti); err != nil {
			log.Printf("notify: failed to broadcast to user %d: %v", userID, err)
		}

		if msg.SkipPush {
			continue
		}

		subs, err := n.store.GetPushSubscriptions(ctx, userID)
		if err != nil {
			log.Printf("notify: failed to load subscriptions for user %d: %v", userID, err)
			continue
		}
		if len(subs) == 0 {
			continue
		}

		stats.Devices += len(subs)
		results := n.sender.DeliverBatch(ctx, subs, payload)
		n.handleResults(ctx, subs, results)
	}

	return stats, nil
}

func (n *Notifier) handleResults(ctx context.Context, subs []models.PushSubscription, results []DeliveryResult) {
	deleted := 0
	for i, res := range results {
		switch {
		case res.Success:
			pushDeliveriesTotal.WithLabelValues("ok").Inc()
		case res.RemoveSubscription:
			pushDeliveriesTotal.WithLabelValues("gone").Inc()
			if _, err := n.store.DeletePushSubscription(ctx, subs[i].UserID, subs[i].Endpoint); err != nil {
				log.Printf("notify: failed to remove gone subscription for user %d: %v", subs[i].UserID, err)
			} else {
				subscriptionsPrunedTotal.Inc()
				deleted++
			}
		default:
			pushDeliveriesTotal.WithLabelValues("failed").Inc()
			log.Printf("notify: push to %s failed: status=%d err=%v", res.Endpoint, res.StatusCode, res.Err)
		}
	}
	if deleted > 0 {
		log.Printf("notify: removed %d inactive push subscriptions", deleted)
	}
}

// pushPayload is the JSON the service worker receives.
type pushPayload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	URL       string `json:"url"`
	Icon      string `json:"icon"`
	Badge     string `json:"badge"`
	Tag       string `json:"tag"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Renotify  bool   `json:"renotify"`
}

func newPushPayload(msg Message) pushPayload {
	p := pushPayload{
		Title:     msg.Title,
		Body:      msg.Body,
		URL:       "/notifications",
		Icon:      "/icons/notification-icon.png",
		Badge:     "/icons/badge-icon.png",
		Tag:       "event-notification",
		Type:      msg.Type,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Renotify:  true,
	}
	if url, ok := msg.Data["url"].(string); ok && url != "" {
		p.URL = url
	}
	if icon, ok := msg.Data["icon"].(string); ok && icon != "" {
		p.Icon = icon
	}
	return p
}
