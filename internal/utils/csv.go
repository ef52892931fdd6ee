package utils

import (
	"encoding/csv"
	"io"
	"os"
	"time"

	"whaleTracker/internal/domain"
)

// WriteTradesToCSV writes trades to filename, one row per trade.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return WriteTrades(file, trades)
}

// WriteTrades writes a header and one row per trade to w.
func WriteTrades(w io.Writer, trades []*domain.Trade) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	// Write header
	if err := writer.Write([]string{"executed_at", "trade_id", "account", "market", "side", "price", "size", "usd_value"}); err != nil {
		return err
	}

	for _, t := range trades {
		if err := writer.Write([]string{
			t.ExecutedAt.UTC().Format(time.RFC3339Nano),
			t.ID,
			t.Account,
			t.Market,
			t.Side.String(),
			t.Price.String(),
			t.Size.String(),
			t.USDValue.StringFixed(2),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
