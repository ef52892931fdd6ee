package domain

import "time"

// ConnectionState is the state of the feed connection manager.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StateBackoff
)

// String returns the string representation of the ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateSubscribing:
		return "Subscribing"
	case StateStreaming:
		return "Streaming"
	case StateBackoff:
		return "Backoff"
	default:
		return "Unknown"
	}
}

// ConnectionStatus is a point-in-time snapshot of the connection manager.
type ConnectionStatus struct {
	State         ConnectionState
	RetryCount    int       // Consecutive failures since the last Streaming state
	NextAttemptAt time.Time // Only meaningful in StateBackoff
	Reconnects    int64     // Number of times the manager re-entered Connecting after a failure
	DecodeErrors  int64     // Messages dropped by the decoder
	ConnectedAt   time.Time // Start of the current Streaming session
}
