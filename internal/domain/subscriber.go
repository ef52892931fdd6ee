package domain

import "time"

// Subscriber is a recipient of rate-limited push alerts.
type Subscriber struct {
	RecipientID    int64      // Chat-platform user ID
	PushKey        string     // Push-service user key
	LastNotifiedAt *time.Time // Nil if the recipient was never notified
	CreatedAt      time.Time
}
