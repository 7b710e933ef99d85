package notify

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"event-notify-go/internal/models"

	"github.com/SherClockHolmes/webpush-go"
)

func testSub(endpoint string) models.PushSubscription {
	return models.PushSubscription{UserID: 1, Endpoint: endpoint, P256dh: "p", Auth: "a"}
}

func stubResponse(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}
}

func TestResultForStatus(t *testing.T) {
	tests := []struct {
		status  int
		success bool
		remove  bool
	}{
		{200, true, false},
		{201, true, false},
		{404, false, true},
		{410, false, true},
		{429, false, false},
		{500, false, false},
		{502, false, false},
	}

	for _, tt := range tests {
		res := resultForStatus("ep", tt.status)
		if res.Success != tt.success || res.RemoveSubscription != tt.remove {
			t.Errorf("status %d: got success=%v remove=%v, want success=%v remove=%v",
				tt.status, res.Success, res.RemoveSubscription, tt.success, tt.remove)
		}
		if res.StatusCode != tt.status {
			t.Errorf("status %d: StatusCode = %d", tt.status, res.StatusCode)
		}
	}
}

func TestDeliverBatchIndependentResults(t *testing.T) {
	s := NewWebPushSender(VAPIDConfig{}, time.Second, 4)
	s.sendFn = func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		switch sub.Endpoint {
		case "https://push.example/gone":
			return stubResponse(410), nil
		case "https://push.example/down":
			return stubResponse(500), nil
		default:
			return stubResponse(201), nil
		}
	}

	subs := []models.PushSubscription{
		testSub("https://push.example/ok-1"),
		testSub("https://push.example/gone"),
		testSub("https://push.example/down"),
		testSub("https://push.example/ok-2"),
	}

	results := s.DeliverBatch(context.Background(), subs, []byte(`{}`))
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}

	// Results line up with the input order regardless of dispatch order.
	for i, sub := range subs {
		if results[i].Endpoint != sub.Endpoint {
			t.Errorf("results[%d].Endpoint = %q, want %q", i, results[i].Endpoint, sub.Endpoint)
		}
	}

	if !results[0].Success || !results[3].Success {
		t.Errorf("healthy endpoints did not succeed: %+v %+v", results[0], results[3])
	}
	if !results[1].RemoveSubscription {
		t.Errorf("410 endpoint not flagged for removal: %+v", results[1])
	}
	if results[2].Success || results[2].RemoveSubscription {
		t.Errorf("500 endpoint should be a transient failure: %+v", results[2])
	}
}

func TestDeliverBatchBoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	inflight, maxInflight := 0, 0

	s := NewWebPushSender(VAPIDConfig{}, time.Second, 2)
	s.sendFn = func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		mu.Lock()
		inflight++
		if inflight > maxInflight {
			maxInflight = inflight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inflight--
		mu.Unlock()
		return stubResponse(201), nil
	}

	subs := make([]models.PushSubscription, 8)
	for i := range subs {
		subs[i] = testSub("https://push.example/ep")
	}

	s.DeliverBatch(context.Background(), subs, []byte(`{}`))

	if maxInflight > 2 {
		t.Errorf("max in-flight deliveries = %d, want <= 2", maxInflight)
	}
}

func TestDeliverTimeoutIsTransient(t *testing.T) {
	s := NewWebPushSender(VAPIDConfig{}, 10*time.Millisecond, 1)
	s.sendFn = func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	res := s.Deliver(context.Background(), testSub("https://push.example/slow"), []byte(`{}`))
	if res.Success {
		t.Errorf("timed-out delivery reported success")
	}
	if res.RemoveSubscription {
		t.Errorf("timeout must not remove the subscription")
	}
	if res.Err == nil {
		t.Errorf("timed-out delivery has no error")
	}
}
