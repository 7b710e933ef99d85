package models

import "time"

// Notification types. The type string doubles as the dedup key suffix for
// rate-limited sends, so keep these stable.
const (
	TypeEventApproval    = "event_approval"
	TypeEventAccepted    = "event_accepted"
	TypeEventRejected    = "event_rejected"
	TypeEventJoinRequest = "event_join_request"
	TypeEventUpdate      = "event_update"
	TypeAnnouncement     = "announcement"
	TypeCustom           = "custom"
)

// NotificationData is the free-form payload stored alongside a notification
// (event ids, deep-link urls, icons). Persisted as JSONB.
type NotificationData map[string]any

type Notification struct {
	ID         int              `json:"id"`
	Title      string           `json:"title"`
	Message    string           `json:"message,omitempty"`
	SenderID   *int             `json:"sender_id"` // nil for system notifications
	ReceiverID int              `json:"receiver_id"`
	Type       string           `json:"type"`
	Data       NotificationData `json:"data,omitempty"`
	IsRead     bool             `json:"is_read"`
	CreatedAt  time.Time        `json:"created_at"`

	// Sender display fields, joined in when listing.
	SenderUsername string `json:"sender_username,omitempty"`
	SenderEmail    string `json:"sender_email,omitempty"`
	SenderImage    string `json:"sender_image,omitempty"`
	SenderRole     string `json:"sender_role,omitempty"`
}
