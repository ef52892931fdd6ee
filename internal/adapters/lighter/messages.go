package lighter

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Frame types sent by the Lighter stream.
const (
	typeConnected      = "connected"
	typePing           = "ping"
	typePong           = "pong"
	typeSubscribe      = "subscribe"
	typeSubscribed     = "subscribed/account_all_trades"
	typeTradesUpdate   = "update/account_all_trades"
	typeTradesSnapshot = "account_all_trades"
	typeError          = "error"
)

// subscribeRequest is the outbound subscription frame.
type subscribeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

type pongFrame struct {
	Type string `json:"type"`
}

// channelFor returns the subscription channel for an account.
func channelFor(accountID int64) string {
	return fmt.Sprintf("account_all_trades/%d", accountID)
}

// wireFrame is the envelope of every inbound message.
type wireFrame struct {
	Type    string                       `json:"type"`
	Channel string                       `json:"channel"`
	Trades  map[string][]json.RawMessage `json:"trades"`
	Error   json.RawMessage              `json:"error"`
	Message string                       `json:"message"`
}

// wireError is the error payload, either an object or a plain string.
type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wireTrade is one trade as delivered by the feed.
type wireTrade struct {
	TradeID      flexString       `json:"trade_id"`
	MarketID     flexString       `json:"market_id"`
	Size         *decimal.Decimal `json:"size"`
	Price        *decimal.Decimal `json:"price"`
	USDAmount    *decimal.Decimal `json:"usd_amount"`
	BidAccountID *int64           `json:"bid_account_id"`
	AskAccountID *int64           `json:"ask_account_id"`
	Side         string           `json:"side"`
	Timestamp    *int64           `json:"timestamp"` // milliseconds
}

// flexString accepts either a JSON string or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
