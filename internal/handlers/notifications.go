package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"event-notify-go/internal/store"
)

// ListNotificationsHandler returns the current user's notifications,
// newest first, with sender display info joined in
func (h *Handler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	notis, err := h.Store.GetNotificationsByUser(r.Context(), userID)
	if err != nil {
		log.Printf("Failed to list notifications: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve notifications")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"notifications": notis,
	})
}

// UnreadCountHandler returns the number of unread notifications
func (h *Handler) UnreadCountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	count, err := h.Store.UnreadNotificationCount(r.Context(), userID)
	if err != nil {
		log.Printf("Failed to count unread notifications: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to count notifications")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"count": count})
}

// MarkAllReadHandler flips every unread notification of the current user
func (h *Handler) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := h.CurrentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.Store.MarkAllNotificationsRead(r.Context(), userID); err != nil {
		log.Printf("Failed to mark all read: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to mark notifications read")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// NotificationItemHandler dispatches /api/notifications/{id} operations:
// POST {id}/read marks one read, DELETE {id} removes it.
func (h *Handler) NotificationItemHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}

	switch {
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "read":
		h.markRead(w, r, id, userID)
	case r.Method == http.MethodDelete && len(parts) == 1:
		h.deleteNotification(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request, id, userID int) {
	noti, err := h.Store.MarkNotificationRead(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Notification not found")
		return
	}
	if err != nil {
		log.Printf("Failed to mark notification %d read: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Failed to mark notification read")
		return
	}

	// Let the user's other connected clients update their bell immediately.
	if err := h.Broadcast.PublishNotification(r.Context(), userID, store.EventNotificationRead, map[string]any{
		"notification_id": id,
	}); err != nil {
		log.Printf("Failed to broadcast read event: %v", err)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"notification": noti,
	})
}

func (h *Handler) deleteNotification(w http.ResponseWriter, r *http.Request, id int) {
	deleted, err := h.Store.DeleteNotification(r.Context(), id)
	if err != nil {
		log.Printf("Failed to delete notification %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Failed to delete notification")
		return
	}

	if !deleted {
		respondError(w, http.StatusNotFound, "Notification not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}
