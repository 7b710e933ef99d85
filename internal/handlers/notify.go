package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"event-notify-go/internal/models"
	"event-notify-go/internal/notify"
)

type sendRequest struct {
	UserIDs []int                   `json:"user_ids"`
	EventID int                     `json:"event_id"`
	Title   string                  `json:"title"`
	Message string                  `json:"message"`
	Type    string                  `json:"type"`
	Data    models.NotificationData `json:"data"`
}

func (h *Handler) decodeSendRequest(w http.ResponseWriter, r *http.Request) (*sendRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return nil, false
	}

	fieldErrors := map[string]string{}
	if req.Title == "" {
		fieldErrors["title"] = "title is required"
	}
	if req.Message == "" {
		fieldErrors["message"] = "message is required"
	}
	if len(fieldErrors) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"success": false,
			"message": "Validation failed",
			"errors":  fieldErrors,
		})
		return nil, false
	}

	return &req, true
}

func (h *Handler) message(r *http.Request, req *sendRequest, defaultType string) notify.Message {
	notiType := req.Type
	if notiType == "" {
		notiType = defaultType
	}

	msg := notify.Message{
		Title: req.Title,
		Body:  req.Message,
		Type:  notiType,
		Data:  req.Data,
	}
	if senderID, ok := h.CurrentUserID(r); ok {
		msg.SenderID = &senderID
	}
	return msg
}

// SendToUsersHandler notifies an explicit list of users
func (h *Handler) SendToUsersHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSendRequest(w, r)
	if !ok {
		return
	}
	if len(req.UserIDs) == 0 {
		respondError(w, http.StatusBadRequest, "user_ids is required")
		return
	}

	stats, err := h.Notifier.NotifyUsers(r.Context(), req.UserIDs, h.message(r, req, models.TypeCustom))
	h.respondStats(w, stats, err)
}

// SendToAllHandler notifies every user in the system
func (h *Handler) SendToAllHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSendRequest(w, r)
	if !ok {
		return
	}

	stats, err := h.Notifier.NotifyAllUsers(r.Context(), h.message(r, req, models.TypeAnnouncement))
	h.respondStats(w, stats, err)
}

// SendToEventParticipantsHandler notifies the accepted participants of an event
func (h *Handler) SendToEventParticipantsHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSendRequest(w, r)
	if !ok {
		return
	}
	if req.EventID == 0 {
		respondError(w, http.StatusBadRequest, "event_id is required")
		return
	}

	stats, err := h.Notifier.NotifyEventParticipants(r.Context(), req.EventID, h.message(r, req, models.TypeEventUpdate))
	h.respondStats(w, stats, err)
}

// PushBroadcastHandler pushes to every registered endpoint without creating
// in-app records
func (h *Handler) PushBroadcastHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSendRequest(w, r)
	if !ok {
		return
	}

	stats, err := h.Notifier.PushToAllSubscribers(r.Context(), h.message(r, req, models.TypeAnnouncement))
	h.respondStats(w, stats, err)
}

func (h *Handler) respondStats(w http.ResponseWriter, stats notify.Stats, err error) {
	if errors.Is(err, notify.ErrAudience) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		log.Printf("Failed to send notification: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to send notification")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Notification sent to %d users (%d devices)", stats.Total, stats.Devices),
		"stats":   stats,
	})
}
