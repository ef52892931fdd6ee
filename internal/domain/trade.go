package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade represents one executed transaction for the monitored account.
// Trades are immutable once decoded.
type Trade struct {
	ID         string          // Feed-assigned identifier, unique per account+market
	Account    string          // Monitored account the trade belongs to
	Market     string          // Market identifier (e.g., "1" or "ETH-PERP")
	Side       Side            // Side of the monitored account
	Price      decimal.Decimal // Execution price
	Size       decimal.Decimal // Size in base units
	USDValue   decimal.Decimal // Notional value in USD, never negative
	ExecutedAt time.Time       // Execution time on the feed clock
}

// IsSell reports whether the monitored account sold in this trade.
func (t *Trade) IsSell() bool {
	return t.Side == Sell
}

// Key identifies the trade within its account. Feed IDs are only unique per market.
func (t *Trade) Key() string {
	return t.Market + "/" + t.ID
}

// Before orders trades by execution time, with ties broken by ID and then market.
func (t *Trade) Before(other *Trade) bool {
	if !t.ExecutedAt.Equal(other.ExecutedAt) {
		return t.ExecutedAt.Before(other.ExecutedAt)
	}
	if t.ID != other.ID {
		return t.ID < other.ID
	}
	return t.Market < other.Market
}
