package lighter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"
)

// DecodeError describes why a single feed message or trade was dropped.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode: %s", e.Reason)
	}
	return fmt.Sprintf("decode %s: %s", e.Field, e.Reason)
}

// Unwrap lets callers match decode failures with errors.Is(err, ports.ErrDecode).
func (e *DecodeError) Unwrap() error {
	return ports.ErrDecode
}

// FrameKind classifies an inbound message.
type FrameKind int

const (
	FrameOther FrameKind = iota
	FramePing
	FrameConnected
	FrameSubscribed
	FrameTrades
	FrameError
)

// Frame is a decoded inbound message.
type Frame struct {
	Kind    FrameKind
	Type    string
	Trades  []*domain.Trade // Valid trades, ordered by execution time then ID
	Rejects []error         // One DecodeError per dropped trade
	Err     error           // Set for FrameError
}

// Decoder turns raw feed messages into typed trades for one monitored account.
type Decoder struct {
	accountID int64
	account   string
}

// NewDecoder creates a decoder for the given account.
func NewDecoder(accountID int64) *Decoder {
	return &Decoder{accountID: accountID, account: strconv.FormatInt(accountID, 10)}
}

// DecodeFrame classifies a raw message and decodes any trades it carries.
// A non-JSON message yields a DecodeError; malformed trades inside a valid frame are reported in Rejects.
func (d *Decoder) DecodeFrame(raw []byte) (*Frame, error) {
	var wf wireFrame
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	f := &Frame{Type: wf.Type}
	switch {
	case len(wf.Error) > 0 && string(wf.Error) != "null", wf.Type == typeError:
		f.Kind = FrameError
		f.Err = classifyFeedError(wf)
		return f, nil
	case wf.Type == typePing:
		f.Kind = FramePing
		return f, nil
	case wf.Type == typeConnected:
		f.Kind = FrameConnected
		return f, nil
	case wf.Type == typeSubscribed:
		f.Kind = FrameSubscribed
	case wf.Type == typeTradesUpdate, wf.Type == typeTradesSnapshot:
		f.Kind = FrameTrades
	default:
		f.Kind = FrameOther
		return f, nil
	}

	for marketKey, rawTrades := range wf.Trades {
		for _, rt := range rawTrades {
			t, err := d.DecodeTrade(rt, marketKey)
			if err != nil {
				f.Rejects = append(f.Rejects, err)
				continue
			}
			f.Trades = append(f.Trades, t)
		}
	}
	sort.Slice(f.Trades, func(i, j int) bool { return f.Trades[i].Before(f.Trades[j]) })
	return f, nil
}

// DecodeTrade validates and normalizes a single raw trade.
// marketHint is used when the trade itself carries no market_id.
func (d *Decoder) DecodeTrade(raw []byte, marketHint string) (*domain.Trade, error) {
	var wt wireTrade
	if err := json.Unmarshal(raw, &wt); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid trade JSON: %v", err)}
	}

	id := strings.TrimSpace(string(wt.TradeID))
	if id == "" {
		return nil, &DecodeError{Field: "trade_id", Reason: "missing"}
	}
	market := strings.TrimSpace(string(wt.MarketID))
	if market == "" {
		market = strings.TrimSpace(marketHint)
	}
	if market == "" {
		return nil, &DecodeError{Field: "market_id", Reason: "missing"}
	}
	if wt.Price == nil {
		return nil, &DecodeError{Field: "price", Reason: "missing"}
	}
	if wt.Price.IsNegative() {
		return nil, &DecodeError{Field: "price", Reason: "negative"}
	}
	if wt.Size == nil {
		return nil, &DecodeError{Field: "size", Reason: "missing"}
	}
	if wt.Size.IsNegative() {
		return nil, &DecodeError{Field: "size", Reason: "negative"}
	}
	if wt.Timestamp == nil || *wt.Timestamp <= 0 {
		return nil, &DecodeError{Field: "timestamp", Reason: "missing or not positive"}
	}

	side, err := d.resolveSide(&wt)
	if err != nil {
		return nil, err
	}

	usd := wt.Price.Mul(*wt.Size)
	if wt.USDAmount != nil {
		if wt.USDAmount.IsNegative() {
			return nil, &DecodeError{Field: "usd_amount", Reason: "negative"}
		}
		usd = *wt.USDAmount
	}

	return &domain.Trade{
		ID:         id,
		Account:    d.account,
		Market:     market,
		Side:       side,
		Price:      *wt.Price,
		Size:       *wt.Size,
		USDValue:   usd,
		ExecutedAt: time.UnixMilli(*wt.Timestamp).UTC(),
	}, nil
}

// resolveSide derives the monitored account's side. The bid/ask account IDs take
// precedence over an explicit side token.
func (d *Decoder) resolveSide(wt *wireTrade) (domain.Side, error) {
	if wt.BidAccountID != nil && *wt.BidAccountID == d.accountID {
		return domain.Buy, nil
	}
	if wt.AskAccountID != nil && *wt.AskAccountID == d.accountID {
		return domain.Sell, nil
	}
	if wt.Side != "" {
		if side, ok := domain.ParseSide(wt.Side); ok {
			return side, nil
		}
		return "", &DecodeError{Field: "side", Reason: fmt.Sprintf("unknown token %q", wt.Side)}
	}
	return "", &DecodeError{Field: "side", Reason: "account is neither bid nor ask"}
}

// classifyFeedError maps an error frame to ErrAuthenticationFailed or ErrSubscriptionRejected.
func classifyFeedError(wf wireFrame) error {
	msg := wf.Message
	if len(wf.Error) > 0 {
		var we wireError
		if err := json.Unmarshal(wf.Error, &we); err == nil {
			if we.Message != "" {
				msg = we.Message
			}
			if we.Code != 0 {
				msg = fmt.Sprintf("code %d: %s", we.Code, msg)
			}
		} else {
			var s string
			if err := json.Unmarshal(wf.Error, &s); err == nil {
				msg = s
			}
		}
	}
	if msg == "" {
		msg = "no reason given"
	}

	lower := strings.ToLower(msg)
	if strings.Contains(lower, "auth") || strings.Contains(lower, "token") || strings.Contains(lower, "unauthorized") {
		return fmt.Errorf("%w: %w: %s", ports.ErrProtocol, ports.ErrAuthenticationFailed, msg)
	}
	return fmt.Errorf("%w: %w: %s", ports.ErrProtocol, ports.ErrSubscriptionRejected, msg)
}
