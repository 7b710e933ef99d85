package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"event-notify-go/internal/models"

	"github.com/SherClockHolmes/webpush-go"
)

// VAPIDConfig is the process-wide push identity, configured once at startup.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string // mailto: contact reported to the push provider
}

// DeliveryResult reports the outcome of one push to one endpoint.
// RemoveSubscription is set when the provider reports the endpoint as
// permanently gone and the subscription row should be garbage-collected.
type DeliveryResult struct {
	Endpoint           string
	Success            bool
	StatusCode         int
	RemoveSubscription bool
	Err                error
}

type PushSender interface {
	Deliver(ctx context.Context, sub models.PushSubscription, payload []byte) DeliveryResult
	// DeliverBatch delivers to many endpoints; each endpoint's failure is
	// independent and never aborts delivery to the others.
	DeliverBatch(ctx context.Context, subs []models.PushSubscription, payload []byte) []DeliveryResult
}

// WebPushSender sends VAPID-signed, encrypted messages over the Web Push
// protocol. It does not retry; retry policy, if any, belongs to the caller.
type WebPushSender struct {
	vapid   VAPIDConfig
	timeout time.Duration
	workers int

	sendFn func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)
}

func NewWebPushSender(vapid VAPIDConfig, timeout time.Duration, workers int) *WebPushSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if workers <= 0 {
		workers = 8
	}
	return &WebPushSender{
		vapid:   vapid,
		timeout: timeout,
		workers: workers,
		sendFn:  webpush.SendNotificationWithContext,
	}
}

func (s *WebPushSender) Deliver(ctx context.Context, sub models.PushSubscription, payload []byte) DeliveryResult {
	// Each push carries its own timeout so one unresponsive endpoint cannot
	// stall the whole fan-out.
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.sendFn(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.vapid.Subscriber,
		VAPIDPublicKey:  s.vapid.PublicKey,
		VAPIDPrivateKey: s.vapid.PrivateKey,
		TTL:             60,
	})
	if err != nil {
		// Timeouts and transport errors are transient; keep the subscription.
		return DeliveryResult{Endpoint: sub.Endpoint, Err: err}
	}
	defer resp.Body.Close()

	return resultForStatus(sub.Endpoint, resp.StatusCode)
}

func (s *WebPushSender) DeliverBatch(ctx context.Context, subs []models.PushSubscription, payload []byte) []DeliveryResult {
	results := make([]DeliveryResult, len(subs))
	if len(subs) == 0 {
		return results
	}

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, sub models.PushSubscription) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.Deliver(ctx, sub, payload)
		}(i, sub)
	}
	wg.Wait()

	return results
}

func resultForStatus(endpoint string, status int) DeliveryResult {
	res := DeliveryResult{Endpoint: endpoint, StatusCode: status}
	switch {
	case status >= 200 && status < 300:
		res.Success = true
	case status == http.StatusNotFound || status == http.StatusGone:
		// The subscription is no longer active at the provider.
		res.RemoveSubscription = true
	}
	return res
}
