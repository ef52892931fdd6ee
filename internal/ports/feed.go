package ports

import (
	"context"

	"whaleTracker/internal/domain"
)

// TradeHandler consumes decoded trades in feed-delivery order.
type TradeHandler interface {
	HandleTrade(ctx context.Context, trade *domain.Trade)
}

// TradeHandlerFunc adapts a function to the TradeHandler interface.
type TradeHandlerFunc func(ctx context.Context, trade *domain.Trade)

// HandleTrade calls f(ctx, trade).
func (f TradeHandlerFunc) HandleTrade(ctx context.Context, trade *domain.Trade) {
	f(ctx, trade)
}
