package domain

import "strings"

// Side represents which side of a trade the monitored account was on.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide normalizes a feed side token into a Side.
// The second return value is false for tokens outside the known vocabulary.
func ParseSide(token string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "buy", "bid", "b", "long":
		return Buy, true
	case "sell", "ask", "s", "a", "short":
		return Sell, true
	default:
		return "", false
	}
}

// String returns the string representation of the Side.
func (s Side) String() string {
	return string(s)
}
