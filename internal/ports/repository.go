package ports

import (
	"context"
	"time"

	"whaleTracker/internal/domain"
)

// TradeStore is the rolling, time-ordered store of trades per monitored account.
// Append, Range and Trim are individually atomic with respect to each other.
type TradeStore interface {
	// Append inserts a trade keyed by its execution time.
	// Appending a trade whose Key is already stored is a no-op and returns false.
	// A trade executed before the trim watermark or the retention cutoff is refused with ErrStaleTrade,
	// since its Key may already have been forgotten.
	Append(ctx context.Context, account string, trade *domain.Trade) (bool, error)
	// Range returns all trades with start <= ExecutedAt < end, ordered by ExecutedAt then ID.
	Range(ctx context.Context, account string, start, end time.Time) ([]*domain.Trade, error)
	// Trim removes trades with ExecutedAt < olderThan and returns how many were removed.
	// olderThan becomes the trim watermark unless an earlier call set a later one.
	Trim(ctx context.Context, account string, olderThan time.Time) (int, error)
}

// CooldownStore is the subscriber store contract consumed by the notifier.
type CooldownStore interface {
	// ListSubscribers returns every currently subscribed recipient.
	ListSubscribers(ctx context.Context) ([]*domain.Subscriber, error)
	// GetCooldown returns the recipient's last notification time, or nil if absent.
	GetCooldown(ctx context.Context, recipientID int64) (*time.Time, error)
	// TryMarkNotified atomically records now as the last notification time, but only if no prior
	// record exists or now - last >= cooldown. It returns false when the recipient is still cooling down.
	TryMarkNotified(ctx context.Context, recipientID int64, now time.Time, cooldown time.Duration) (bool, error)
	// ReleaseMark clears a mark made by TryMarkNotified if it still equals markedAt.
	ReleaseMark(ctx context.Context, recipientID int64, markedAt time.Time) error
}

// SubscriberRepository manages subscriber records.
type SubscriberRepository interface {
	// UpsertSubscriber inserts a subscriber or updates its push key.
	UpsertSubscriber(ctx context.Context, recipientID int64, pushKey string) error
	// DeleteSubscriber removes a subscriber and its cooldown. Returns false if it did not exist.
	DeleteSubscriber(ctx context.Context, recipientID int64) (bool, error)
	// CountSubscribers returns the number of subscribers.
	CountSubscribers(ctx context.Context) (int, error)
}
