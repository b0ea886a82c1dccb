package domain

import "time"

// NotificationType classifies user-facing messages.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

// Notification is an append-only user message.
type Notification struct {
	ID        string
	UserID    string
	JobID     string
	Title     string
	Message   string
	Type      NotificationType
	CreatedAt time.Time
}
