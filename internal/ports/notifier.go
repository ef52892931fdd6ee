package ports

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"whaleTracker/internal/domain"
)

// ReportPublisher posts aggregation reports.
type ReportPublisher interface {
	// PublishReport posts one aggregation report.
	PublishReport(ctx context.Context, report *domain.Report) error
}

// Broadcaster delivers messages to the public broadcast channel.
type Broadcaster interface {
	ReportPublisher
	// PublishSellAlert posts the unconditional alert for one sell trade.
	PublishSellAlert(ctx context.Context, alert *domain.SellAlert) error
}

// PushSender delivers a rate-limited push alert to one recipient.
// Failures are per recipient and never fatal to the batch.
type PushSender interface {
	Send(ctx context.Context, recipient *domain.Subscriber, alert *domain.SellAlert) error
}

// PriceReference looks up an external reference price for a market.
type PriceReference interface {
	// LastPrice returns the last traded price for the market.
	// The second return value is false when the market has no configured reference.
	LastPrice(ctx context.Context, market string) (decimal.Decimal, bool, error)
}

// RateLimitError is returned by sinks when the remote service throttled the request.
// It matches ErrRateLimited with errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration // Zero when the service gave no hint
	Service    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %v (retry after %s)", e.Service, ErrRateLimited, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %v", e.Service, ErrRateLimited)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
