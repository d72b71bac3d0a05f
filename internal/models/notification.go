package models

import "time"

// Notification kinds emitted by the dispatcher.
const (
	NotificationKindInvitation = "invitation"
	NotificationKindGraded     = "graded"
)

// Delivery outcomes recorded for every dispatched notification.
const (
	DeliveryStatusSent    = "sent"
	DeliveryStatusFailed  = "failed"
	DeliveryStatusDropped = "dropped"
)

// NotificationDelivery is the dispatcher's own log of outbound notifications.
type NotificationDelivery struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AssignmentID uint      `gorm:"not null;index" json:"assignment_id"`
	Kind         string    `gorm:"size:32;not null" json:"kind"`
	Recipient    string    `gorm:"size:255" json:"recipient"`
	Status       string    `gorm:"size:32;not null" json:"status"`
	Error        string    `gorm:"type:text" json:"error"`
	CreatedAt    time.Time `json:"created_at"`
}
