package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"event-notify-go/internal/store"
)

const sessionName = "event-notify-session"

// LoginHandler handles login
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	user, err := h.Store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if !user.CheckPassword(req.Password) {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Values["user_id"] = user.ID
	session.Values["username"] = user.Username
	session.Values["role"] = user.Role
	session.Save(r, w)

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
}

// LogoutHandler clears the session
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	session.Values["user_id"] = nil
	session.Options.MaxAge = -1
	session.Save(r, w)

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// AuthMiddleware checks if a user is logged in
func (h *Handler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.CurrentUserID(r); !ok {
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// AdminMiddleware checks if the logged-in user is an admin
func (h *Handler) AdminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, _ := h.sessions.Get(r, sessionName)
		role, ok := session.Values["role"].(string)
		if !ok || role != "admin" {
			respondError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next(w, r)
	}
}

// CurrentUserID returns the logged-in user's id from the session
func (h *Handler) CurrentUserID(r *http.Request) (int, bool) {
	session, _ := h.sessions.Get(r, sessionName)
	userID, ok := session.Values["user_id"].(int)
	if !ok || userID == 0 {
		return 0, false
	}
	return userID, true
}

// InitAdmin creates a default admin user if none exists
func (h *Handler) InitAdmin(ctx context.Context) {
	_, err := h.Store.GetUserByUsername(ctx, "admin")
	if errors.Is(err, store.ErrNotFound) {
		user, err := h.Store.CreateUser(ctx, "admin", "admin@localhost", "admin123", "admin")
		if err != nil {
			log.Println("Failed to create default admin:", err)
		} else {
			log.Printf("Created default admin user: %s / admin123", user.Username)
		}
	}
}
