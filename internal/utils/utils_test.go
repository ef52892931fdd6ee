package utils

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whaleTracker/internal/domain"
)

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0.00"},
		{"5", "$5.00"},
		{"999.999", "$1,000.00"},
		{"1234.5", "$1,234.50"},
		{"1234567.891", "$1,234,567.89"},
		{"-42000", "-$42,000.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUSD(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestWriteTrades(t *testing.T) {
	trades := []*domain.Trade{{
		ID:         "101",
		Account:    "714638",
		Market:     "1",
		Side:       domain.Sell,
		Price:      decimal.RequireFromString("3000.5"),
		Size:       decimal.RequireFromString("2"),
		USDValue:   decimal.RequireFromString("6001"),
		ExecutedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteTrades(&buf, trades))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "executed_at", rows[0][0])
	assert.Equal(t, []string{"2026-03-01T12:00:00Z", "101", "714638", "1", "SELL", "3000.5", "2", "6001.00"}, rows[1])
}

func TestWriteTradesToCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, WriteTradesToCSV(nil, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "executed_at,trade_id,account,market,side,price,size,usd_value\n", string(data))
}
