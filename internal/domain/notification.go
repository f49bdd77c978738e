package domain

import "time"

// NotificationKind selects the iconography of a notification
type NotificationKind string

const (
	NotificationInfo    NotificationKind = "info"
	NotificationSuccess NotificationKind = "success"
	NotificationWarning NotificationKind = "warning"
	NotificationError   NotificationKind = "error"
)

// Notification is a user-visible message shown in the single global slot
type Notification struct {
	ID      string           `json:"id"`
	Kind    NotificationKind `json:"kind"`
	Title   string           `json:"title"`
	Body    string           `json:"body"`
	Timeout time.Duration    `json:"timeout,omitempty"`
}
