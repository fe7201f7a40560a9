package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// NotificationAttempt records one delivery of a listing to one sink.
type NotificationAttempt struct {
	ID        uuid.UUID
	ListingID uuid.UUID
	Sink      string
	Status    NotificationStatus
	Error     string

	CreatedAt time.Time
	SentAt    *time.Time
}
