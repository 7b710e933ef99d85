package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"event-notify-go/internal/models"
	"event-notify-go/internal/notify"
	"event-notify-go/internal/store"

	"github.com/redis/go-redis/v9"
)

type memStore struct {
	mu     sync.Mutex
	nextID int

	users        map[int]models.User
	subs         []models.PushSubscription
	notis        []models.Notification
	participants map[int][]int
}

func newMemStore() *memStore {
	return &memStore{
		users:        make(map[int]models.User),
		participants: make(map[int][]int),
	}
}

func (m *memStore) SavePushSubscription(ctx context.Context, userID int, endpoint, p256dh, auth, deviceName string) (models.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subs {
		if m.subs[i].UserID == userID && m.subs[i].Endpoint == endpoint {
			m.subs[i].P256dh = p256dh
			m.subs[i].Auth = auth
			if deviceName != "" {
				m.subs[i].DeviceName = deviceName
			}
			m.subs[i].UpdatedAt = time.Now()
			return m.subs[i], nil
		}
	}
	m.nextID++
	sub := models.PushSubscription{
		ID: m.nextID, UserID: userID, Endpoint: endpoint,
		P256dh: p256dh, Auth: auth, DeviceName: deviceName,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *memStore) DeletePushSubscription(ctx context.Context, userID int, endpoint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subs {
		if m.subs[i].UserID == userID && m.subs[i].Endpoint == endpoint {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DeleteAllPushSubscriptions(ctx context.Context, userID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []models.PushSubscription
	count := 0
	for _, sub := range m.subs {
		if sub.UserID == userID {
			count++
		} else {
			kept = append(kept, sub)
		}
	}
	m.subs = kept
	return count, nil
}

func (m *memStore) GetPushSubscriptions(ctx context.Context, userID int) ([]models.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PushSubscription
	for _, sub := range m.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *memStore) AllSubscriptionsInBatches(ctx context.Context, batchSize int, visit func([]models.PushSubscription) error) error {
	m.mu.Lock()
	all := append([]models.PushSubscription(nil), m.subs...)
	m.mu.Unlock()
	if len(all) == 0 {
		return nil
	}
	return visit(all)
}

func (m *memStore) CreateNotification(ctx context.Context, title, message string, senderID *int, receiverID int, notiType string, data models.NotificationData) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n := models.Notification{
		ID: m.nextID, Title: title, Message: message, SenderID: senderID,
		ReceiverID: receiverID, Type: notiType, Data: data, CreatedAt: time.Now(),
	}
	m.notis = append(m.notis, n)
	return n, nil
}

func (m *memStore) GetNotificationsByUser(ctx context.Context, userID int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for i := len(m.notis) - 1; i >= 0; i-- {
		if m.notis[i].ReceiverID == userID {
			out = append(out, m.notis[i])
		}
	}
	return out, nil
}

func (m *memStore) MarkNotificationRead(ctx context.Context, id int) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notis {
		if m.notis[i].ID == id {
			m.notis[i].IsRead = true
			return m.notis[i], nil
		}
	}
	return models.Notification{}, store.ErrNotFound
}

func (m *memStore) MarkAllNotificationsRead(ctx context.Context, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notis {
		if m.notis[i].ReceiverID == userID {
			m.notis[i].IsRead = true
		}
	}
	return nil
}

func (m *memStore) UnreadNotificationCount(ctx context.Context, userID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notis {
		if n.ReceiverID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *memStore) DeleteNotification(ctx context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notis {
		if m.notis[i].ID == id {
			m.notis = append(m.notis[:i], m.notis[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateUser(ctx context.Context, username, email, password, role string) (models.User, error) {
	hash, err := models.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	user := models.User{ID: m.nextID, Username: username, Email: email, PasswordHash: hash, Role: role, CreatedAt: time.Now()}
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) GetUser(ctx context.Context, id int) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return models.User{}, store.ErrNotFound
}

func (m *memStore) GetAllUserIDs(ctx context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int
	for id := range m.users {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) GetEventParticipantIDs(ctx context.Context, eventID int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, ok := m.participants[eventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ids, nil
}

type memBroadcast struct {
	mu        sync.Mutex
	published []string // "<userID>:<event>"
}

func (b *memBroadcast) PublishNotification(ctx context.Context, userID int, event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, fmt.Sprintf("%d:%s", userID, event))
	return nil
}

func (b *memBroadcast) Subscribe(ctx context.Context, userID int) *redis.PubSub {
	return nil
}

type allowGate struct{}

func (allowGate) TryAcquire(ctx context.Context, userID int, notiType string, ttl time.Duration) (bool, error) {
	return true, nil
}

type okSender struct{}

func (okSender) Deliver(ctx context.Context, sub models.PushSubscription, payload []byte) notify.DeliveryResult {
	return notify.DeliveryResult{Endpoint: sub.Endpoint, Success: true, StatusCode: 201}
}

func (s okSender) DeliverBatch(ctx context.Context, subs []models.PushSubscription, payload []byte) []notify.DeliveryResult {
	results := make([]notify.DeliveryResult, len(subs))
	for i, sub := range subs {
		results[i] = s.Deliver(ctx, sub, payload)
	}
	return results
}

// newTestEnv builds a handler over in-memory stores and logs in one user
// with the given role, returning the session cookies.
func newTestEnv(t *testing.T, role string) (*Handler, *memStore, []*http.Cookie) {
	t.Helper()

	st := newMemStore()
	bcast := &memBroadcast{}
	notifier := notify.NewNotifier(st, allowGate{}, bcast, okSender{})
	h := NewHandler(st, bcast, notifier, "test-secret", "test-public-key")

	if _, err := st.CreateUser(context.Background(), "alice", "alice@example.com", "password1", role); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"alice","password":"password1"}`))
	rec := httptest.NewRecorder()
	h.LoginHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}

	return h, st, rec.Result().Cookies()
}

func doJSON(h http.HandlerFunc, method, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestSubscribeValidation(t *testing.T) {
	h, _, cookies := newTestEnv(t, "user")

	rec := doJSON(h.SubscribeHandler, http.MethodPost, "/api/push/subscribe",
		`{"endpoint":"","keys":{"p256dh":"","auth":""}}`, cookies)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	var resp struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"endpoint", "keys.p256dh", "keys.auth"} {
		if resp.Errors[field] == "" {
			t.Errorf("missing field error for %q", field)
		}
	}
}

func TestSubscribeUpsert(t *testing.T) {
	h, st, cookies := newTestEnv(t, "user")

	first := `{"endpoint":"https://push.example/ep","keys":{"p256dh":"key-1","auth":"auth-1"},"device_name":"Chrome"}`
	if rec := doJSON(h.SubscribeHandler, http.MethodPost, "/api/push/subscribe", first, cookies); rec.Code != http.StatusCreated {
		t.Fatalf("first subscribe = %d: %s", rec.Code, rec.Body.String())
	}

	second := `{"endpoint":"https://push.example/ep","keys":{"p256dh":"key-2","auth":"auth-2"}}`
	if rec := doJSON(h.SubscribeHandler, http.MethodPost, "/api/push/subscribe", second, cookies); rec.Code != http.StatusCreated {
		t.Fatalf("re-subscribe = %d: %s", rec.Code, rec.Body.String())
	}

	subs, _ := st.GetPushSubscriptions(context.Background(), 1)
	if len(subs) != 1 {
		t.Fatalf("subscriptions = %d, want exactly 1 after re-subscribe", len(subs))
	}
	if subs[0].P256dh != "key-2" || subs[0].Auth != "auth-2" {
		t.Errorf("keys not updated: %+v", subs[0])
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h, _, cookies := newTestEnv(t, "user")

	// Unsubscribing an endpoint that was never registered is not a server error.
	rec := doJSON(h.UnsubscribeHandler, http.MethodPost, "/api/push/unsubscribe",
		`{"endpoint":"https://push.example/never"}`, cookies)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown endpoint = %d, want 404", rec.Code)
	}

	doJSON(h.SubscribeHandler, http.MethodPost, "/api/push/subscribe",
		`{"endpoint":"https://push.example/ep","keys":{"p256dh":"k","auth":"a"}}`, cookies)

	if rec := doJSON(h.UnsubscribeHandler, http.MethodPost, "/api/push/unsubscribe",
		`{"endpoint":"https://push.example/ep"}`, cookies); rec.Code != http.StatusOK {
		t.Fatalf("unsubscribe = %d", rec.Code)
	}
	if rec := doJSON(h.UnsubscribeHandler, http.MethodPost, "/api/push/unsubscribe",
		`{"endpoint":"https://push.example/ep"}`, cookies); rec.Code != http.StatusNotFound {
		t.Fatalf("second unsubscribe = %d, want 404", rec.Code)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	h, _, cookies := newTestEnv(t, "user")

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"endpoint":"https://push.example/ep-%d","keys":{"p256dh":"k","auth":"a"}}`, i)
		doJSON(h.SubscribeHandler, http.MethodPost, "/api/push/subscribe", body, cookies)
	}

	rec := doJSON(h.UnsubscribeAllHandler, http.MethodPost, "/api/push/unsubscribe-all", "", cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("unsubscribe-all = %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	h, st, cookies := newTestEnv(t, "user")

	ctx := context.Background()
	var firstID int
	for i := 0; i < 3; i++ {
		n, _ := st.CreateNotification(ctx, "T", "M", nil, 1, "announcement", nil)
		if i == 0 {
			firstID = n.ID
		}
	}

	rec := doJSON(h.UnreadCountHandler, http.MethodGet, "/api/notifications/unread-count", "", cookies)
	var count struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &count)
	if count.Count != 3 {
		t.Fatalf("unread count = %d, want 3", count.Count)
	}

	path := fmt.Sprintf("/api/notifications/%d/read", firstID)
	if rec := doJSON(h.NotificationItemHandler, http.MethodPost, path, "", cookies); rec.Code != http.StatusOK {
		t.Fatalf("mark read = %d: %s", rec.Code, rec.Body.String())
	}
	// Marking the same notification read again is a no-op, not an error.
	if rec := doJSON(h.NotificationItemHandler, http.MethodPost, path, "", cookies); rec.Code != http.StatusOK {
		t.Fatalf("second mark read = %d", rec.Code)
	}

	rec = doJSON(h.UnreadCountHandler, http.MethodGet, "/api/notifications/unread-count", "", cookies)
	json.Unmarshal(rec.Body.Bytes(), &count)
	if count.Count != 2 {
		t.Fatalf("unread count after mark read = %d, want 2", count.Count)
	}

	if rec := doJSON(h.MarkAllReadHandler, http.MethodPost, "/api/notifications/read-all", "", cookies); rec.Code != http.StatusOK {
		t.Fatalf("read-all = %d", rec.Code)
	}
	rec = doJSON(h.UnreadCountHandler, http.MethodGet, "/api/notifications/unread-count", "", cookies)
	json.Unmarshal(rec.Body.Bytes(), &count)
	if count.Count != 0 {
		t.Fatalf("unread count after read-all = %d, want 0", count.Count)
	}
}

func TestMarkReadMissingNotification(t *testing.T) {
	h, _, cookies := newTestEnv(t, "user")

	rec := doJSON(h.NotificationItemHandler, http.MethodPost, "/api/notifications/999/read", "", cookies)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteNotification(t *testing.T) {
	h, st, cookies := newTestEnv(t, "user")

	n, _ := st.CreateNotification(context.Background(), "T", "M", nil, 1, "custom", nil)

	path := fmt.Sprintf("/api/notifications/%d", n.ID)
	if rec := doJSON(h.NotificationItemHandler, http.MethodDelete, path, "", cookies); rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := doJSON(h.NotificationItemHandler, http.MethodDelete, path, "", cookies); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", rec.Code)
	}
}

func TestSendToUsers(t *testing.T) {
	h, st, cookies := newTestEnv(t, "admin")

	ctx := context.Background()
	st.CreateUser(ctx, "bob", "bob@example.com", "pw", "user")
	st.CreateUser(ctx, "carol", "c@example.com", "pw", "user")
	st.SavePushSubscription(ctx, 2, "https://push.example/bob", "k", "a", "")

	rec := doJSON(h.SendToUsersHandler, http.MethodPost, "/api/notifications/send-to-users",
		`{"user_ids":[2,3],"title":"Hello","message":"World"}`, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("send-to-users = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool         `json:"success"`
		Stats   notify.Stats `json:"stats"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success || resp.Stats.Total != 2 || resp.Stats.Devices != 1 {
		t.Errorf("resp = %+v, want success with {Total:2 Devices:1}", resp)
	}

	// Sender is attributed to the logged-in admin.
	notis, _ := st.GetNotificationsByUser(ctx, 2)
	if len(notis) != 1 || notis[0].SenderID == nil || *notis[0].SenderID != 1 {
		t.Errorf("receiver 2 notifications = %+v, want one from sender 1", notis)
	}
}

func TestSendToEventParticipantsMissingEvent(t *testing.T) {
	h, _, cookies := newTestEnv(t, "admin")

	rec := doJSON(h.SendToEventParticipantsHandler, http.MethodPost, "/api/notifications/send-to-event-participants",
		`{"event_id":42,"title":"T","message":"M"}`, cookies)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	h, _, _ := newTestEnv(t, "user")

	rec := doJSON(h.ListNotificationsHandler, http.MethodGet, "/api/notifications", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without session = %d, want 401", rec.Code)
	}
}

func TestAdminRequired(t *testing.T) {
	h, _, cookies := newTestEnv(t, "user")

	rec := doJSON(h.AdminMiddleware(h.SendToAllHandler), http.MethodPost, "/api/notifications/send-to-all",
		`{"title":"T","message":"M"}`, cookies)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin = %d, want 403", rec.Code)
	}
}
