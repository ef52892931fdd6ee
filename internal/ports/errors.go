package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")
	ErrConnectionFailed   = errors.New("failed to connect to external service")

	// Feed Errors
	ErrTransport            = errors.New("feed transport error")
	ErrProtocol             = errors.New("feed protocol violation")
	ErrSubscriptionRejected = errors.New("feed subscription rejected")
	ErrAuthenticationFailed = errors.New("feed authentication failed (check auth token)")
	ErrHeartbeatTimeout     = errors.New("feed heartbeat timeout")
	ErrDecode               = errors.New("malformed feed message")
	ErrMaxConnectionAge     = errors.New("feed connection reached max age")

	// Delivery Errors
	ErrDeliveryFailed = errors.New("message delivery failed")
	ErrRateLimited    = errors.New("API rate limit exceeded")

	// Storage Errors
	ErrStore          = errors.New("trade store error")
	ErrStaleTrade     = errors.New("trade is older than the rolling window")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
	ErrDeleteFailed   = errors.New("database delete failed")
	ErrDuplicateEntry = errors.New("record already exists")
)
