package handlers

import (
	"encoding/json"
	"net/http"

	"event-notify-go/internal/notify"
	"event-notify-go/internal/store"

	"github.com/gorilla/sessions"
)

type Handler struct {
	Store     store.Store
	Broadcast store.Broadcaster
	Notifier  *notify.Notifier

	sessions    *sessions.CookieStore
	vapidPublic string
}

func NewHandler(s store.Store, b store.Broadcaster, n *notify.Notifier, sessionSecret, vapidPublicKey string) *Handler {
	return &Handler{
		Store:       s,
		Broadcast:   b,
		Notifier:    n,
		sessions:    sessions.NewCookieStore([]byte(sessionSecret)),
		vapidPublic: vapidPublicKey,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
