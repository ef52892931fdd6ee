package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStats holds cumulative buy/sell totals for one market inside a window.
type MarketStats struct {
	Market    string          `json:"market"`
	BuyUSD    decimal.Decimal `json:"buy_usd"`
	SellUSD   decimal.Decimal `json:"sell_usd"`
	BuyCount  int             `json:"buy_count"`
	SellCount int             `json:"sell_count"`
}

// TotalUSD returns buy plus sell volume.
func (m MarketStats) TotalUSD() decimal.Decimal {
	return m.BuyUSD.Add(m.SellUSD)
}

// Report is the aggregated summary of one window.
// Markets are sorted by total USD volume descending, ties broken by market identifier.
// An empty Markets slice is the "no activity" report.
type Report struct {
	ID           string          `json:"id"`
	Account      string          `json:"account"`
	Window       Window          `json:"window"`
	Markets      []MarketStats   `json:"markets"`
	TotalBuyUSD  decimal.Decimal `json:"total_buy_usd"`
	TotalSellUSD decimal.Decimal `json:"total_sell_usd"`
	TradeCount   int             `json:"trade_count"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// NoActivity reports whether the window contained no trades.
func (r *Report) NoActivity() bool {
	return len(r.Markets) == 0
}

// SellAlert is the payload handed to the broadcast and push sinks for a single sell trade.
type SellAlert struct {
	Account        string           `json:"account"`
	TradeID        string           `json:"trade_id"`
	Market         string           `json:"market"`
	Price          decimal.Decimal  `json:"price"`
	Size           decimal.Decimal  `json:"size"`
	USDValue       decimal.Decimal  `json:"usd_value"`
	ExecutedAt     time.Time        `json:"executed_at"`
	ReferencePrice *decimal.Decimal `json:"reference_price,omitempty"` // Optional external last price
}

// NewSellAlert builds the alert payload for a sell trade.
func NewSellAlert(t *Trade) *SellAlert {
	return &SellAlert{
		Account:    t.Account,
		TradeID:    t.ID,
		Market:     t.Market,
		Price:      t.Price,
		Size:       t.Size,
		USDValue:   t.USDValue,
		ExecutedAt: t.ExecutedAt,
	}
}
