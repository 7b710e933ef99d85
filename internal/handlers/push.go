package handlers

import (
	"encoding/json"
	"log"
	"net/http"
)

// VAPIDPublicKeyHandler returns the public VAPID key for frontend
// subscription registration
func (h *Handler) VAPIDPublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"publicKey": h.vapidPublic,
	})
}

// SubscribeHandler registers a push endpoint for the current user.
// Re-subscribing the same endpoint updates the existing row.
func (h *Handler) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := h.CurrentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
		DeviceName string `json:"device_name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	fieldErrors := map[string]string{}
	if req.Endpoint == "" {
		fieldErrors["endpoint"] = "endpoint is required"
	}
	if req.Keys.P256dh == "" {
		fieldErrors["keys.p256dh"] = "keys.p256dh is required"
	}
	if req.Keys.Auth == "" {
		fieldErrors["keys.auth"] = "keys.auth is required"
	}
	if len(fieldErrors) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"success": false,
			"message": "Validation failed",
			"errors":  fieldErrors,
		})
		return
	}

	sub, err := h.Store.SavePushSubscription(r.Context(), userID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth, req.DeviceName)
	if err != nil {
		log.Printf("Failed to save subscription: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to save subscription")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Push subscription saved",
		"data":    sub,
	})
}

// UnsubscribeHandler removes one endpoint. Removing an endpoint that was
// never subscribed is a no-op, not a server error.
func (h *Handler) UnsubscribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := h.CurrentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		respondError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	deleted, err := h.Store.DeletePushSubscription(r.Context(), userID, req.Endpoint)
	if err != nil {
		log.Printf("Failed to remove subscription: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to remove subscription")
		return
	}

	if !deleted {
		respondJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": "Subscription not found",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Push subscription removed",
	})
}

// UnsubscribeAllHandler removes every endpoint of the current user
// (logout all devices)
func (h *Handler) UnsubscribeAllHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := h.CurrentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	count, err := h.Store.DeleteAllPushSubscriptions(r.Context(), userID)
	if err != nil {
		log.Printf("Failed to remove subscriptions: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to remove subscriptions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "All push subscriptions removed",
		"count":   count,
	})
}

// ListSubscriptionsHandler lists the current user's registered devices
func (h *Handler) ListSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.CurrentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	subs, err := h.Store.GetPushSubscriptions(r.Context(), userID)
	if err != nil {
		log.Printf("Failed to list subscriptions: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve subscriptions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    subs,
		"count":   len(subs),
	})
}
