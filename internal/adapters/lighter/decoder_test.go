package lighter

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"
)

const testAccountID int64 = 714638

func TestDecoder_DecodeTrade(t *testing.T) {
	d := NewDecoder(testAccountID)

	tests := []struct {
		name       string
		raw        string
		marketHint string
		wantErr    string // DecodeError field, empty for success
		check      func(t *testing.T, tr *domain.Trade)
	}{
		{
			name: "sell by ask account with computed usd value",
			raw:  `{"trade_id":101,"market_id":1,"size":"2.5","price":"3000","ask_account_id":714638,"bid_account_id":5,"timestamp":1760000000000}`,
			check: func(t *testing.T, tr *domain.Trade) {
				assert.Equal(t, "101", tr.ID)
				assert.Equal(t, "714638", tr.Account)
				assert.Equal(t, "1", tr.Market)
				assert.Equal(t, domain.Sell, tr.Side)
				assert.True(t, decimal.RequireFromString("7500").Equal(tr.USDValue), "usd value: %s", tr.USDValue)
				assert.Equal(t, time.UnixMilli(1760000000000).UTC(), tr.ExecutedAt)
			},
		},
		{
			name: "buy by bid account",
			raw:  `{"trade_id":"102","market_id":"2","size":1,"price":2,"bid_account_id":714638,"ask_account_id":9,"timestamp":1760000000001}`,
			check: func(t *testing.T, tr *domain.Trade) {
				assert.Equal(t, domain.Buy, tr.Side)
				assert.True(t, decimal.NewFromInt(2).Equal(tr.USDValue))
			},
		},
		{
			name: "explicit usd amount wins over price times size",
			raw:  `{"trade_id":103,"market_id":1,"size":"1","price":"10","usd_amount":"9.99","ask_account_id":714638,"timestamp":1}`,
			check: func(t *testing.T, tr *domain.Trade) {
				assert.True(t, decimal.RequireFromString("9.99").Equal(tr.USDValue))
			},
		},
		{
			name: "side token used when account ids are absent",
			raw:  `{"trade_id":104,"market_id":1,"size":"1","price":"1","side":"ask","timestamp":1}`,
			check: func(t *testing.T, tr *domain.Trade) {
				assert.Equal(t, domain.Sell, tr.Side)
			},
		},
		{
			name:       "market falls back to the frame key",
			raw:        `{"trade_id":105,"size":"1","price":"1","bid_account_id":714638,"timestamp":1}`,
			marketHint: "7",
			check: func(t *testing.T, tr *domain.Trade) {
				assert.Equal(t, "7", tr.Market)
			},
		},
		{
			name: "zero size is accepted",
			raw:  `{"trade_id":106,"market_id":1,"size":"0","price":"1","bid_account_id":714638,"timestamp":1}`,
			check: func(t *testing.T, tr *domain.Trade) {
				assert.True(t, tr.USDValue.IsZero())
			},
		},
		{name: "missing id", raw: `{"market_id":1,"size":"1","price":"1","bid_account_id":714638,"timestamp":1}`, wantErr: "trade_id"},
		{name: "missing market", raw: `{"trade_id":1,"size":"1","price":"1","bid_account_id":714638,"timestamp":1}`, wantErr: "market_id"},
		{name: "missing price", raw: `{"trade_id":1,"market_id":1,"size":"1","bid_account_id":714638,"timestamp":1}`, wantErr: "price"},
		{name: "negative price", raw: `{"trade_id":1,"market_id":1,"size":"1","price":"-1","bid_account_id":714638,"timestamp":1}`, wantErr: "price"},
		{name: "negative size", raw: `{"trade_id":1,"market_id":1,"size":"-0.5","price":"1","bid_account_id":714638,"timestamp":1}`, wantErr: "size"},
		{name: "negative usd amount", raw: `{"trade_id":1,"market_id":1,"size":"1","price":"1","usd_amount":"-3","bid_account_id":714638,"timestamp":1}`, wantErr: "usd_amount"},
		{name: "missing timestamp", raw: `{"trade_id":1,"market_id":1,"size":"1","price":"1","bid_account_id":714638}`, wantErr: "timestamp"},
		{name: "unknown side token", raw: `{"trade_id":1,"market_id":1,"size":"1","price":"1","side":"sideways","timestamp":1}`, wantErr: "side"},
		{name: "account on neither side", raw: `{"trade_id":1,"market_id":1,"size":"1","price":"1","bid_account_id":1,"ask_account_id":2,"timestamp":1}`, wantErr: "side"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := d.DecodeTrade([]byte(tt.raw), tt.marketHint)
			if tt.wantErr != "" {
				require.Error(t, err)
				var de *DecodeError
				require.True(t, errors.As(err, &de))
				assert.Equal(t, tt.wantErr, de.Field)
				assert.True(t, errors.Is(err, ports.ErrDecode))
				assert.Nil(t, tr)
				return
			}
			require.NoError(t, err)
			tt.check(t, tr)
		})
	}
}

func TestDecoder_DecodeFrame(t *testing.T) {
	d := NewDecoder(testAccountID)

	t.Run("invalid JSON", func(t *testing.T) {
		f, err := d.DecodeFrame([]byte("not json"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ports.ErrDecode))
		assert.Nil(t, f)
	})

	t.Run("trades are ordered and rejects are collected", func(t *testing.T) {
		raw := `{"type":"update/account_all_trades","channel":"account_all_trades:714638","trades":{
			"1":[{"trade_id":3,"size":"1","price":"1","ask_account_id":714638,"timestamp":3000},
			     {"trade_id":1,"size":"1","price":"1","ask_account_id":714638,"timestamp":1000}],
			"2":[{"trade_id":2,"size":"-1","price":"1","bid_account_id":714638,"timestamp":2000},
			     {"trade_id":4,"size":"1","price":"1","bid_account_id":714638,"timestamp":1000}]}}`
		f, err := d.DecodeFrame([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, FrameTrades, f.Kind)
		require.Len(t, f.Trades, 3)
		assert.Equal(t, "1", f.Trades[0].ID)
		assert.Equal(t, "4", f.Trades[1].ID)
		assert.Equal(t, "3", f.Trades[2].ID)
		assert.Equal(t, "2", f.Trades[1].Market)
		assert.Len(t, f.Rejects, 1)
	})

	t.Run("control frames", func(t *testing.T) {
		cases := map[string]FrameKind{
			`{"type":"ping"}`:                           FramePing,
			`{"type":"connected","session_id":"abc"}`:   FrameConnected,
			`{"type":"subscribed/account_all_trades"}`:  FrameSubscribed,
			`{"type":"account_all_trades","trades":{}}`: FrameTrades,
			`{"type":"update/height"}`:                  FrameOther,
		}
		for raw, want := range cases {
			f, err := d.DecodeFrame([]byte(raw))
			require.NoError(t, err, raw)
			assert.Equal(t, want, f.Kind, raw)
		}
	})

	t.Run("error frames are classified", func(t *testing.T) {
		f, err := d.DecodeFrame([]byte(`{"error":{"code":30003,"message":"Invalid channel"}}`))
		require.NoError(t, err)
		assert.Equal(t, FrameError, f.Kind)
		assert.True(t, errors.Is(f.Err, ports.ErrProtocol))
		assert.True(t, errors.Is(f.Err, ports.ErrSubscriptionRejected))
		assert.Contains(t, f.Err.Error(), "code 30003")

		f, err = d.DecodeFrame([]byte(`{"type":"error","message":"invalid auth token"}`))
		require.NoError(t, err)
		assert.True(t, errors.Is(f.Err, ports.ErrAuthenticationFailed))
	})
}
