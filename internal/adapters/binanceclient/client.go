package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"whaleTracker/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultCacheTTL = 5 * time.Second
)

// Client implements the ports.PriceReference interface using the go-binance futures API.
// Only public endpoints are used, so no API keys are needed.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	symbols       map[string]string // Lighter market -> futures symbol
	cacheTTL      time.Duration
	now           func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

var _ ports.PriceReference = (*Client)(nil)

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	UseTestnet bool
	BaseURL    string            // Overrides the production/testnet URL when set
	Symbols    map[string]string // Market identifier to futures symbol, e.g. "1" -> "ETHUSDT"
	CacheTTL   time.Duration     // How long a fetched price is reused
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	client := futures.NewClient("", "")
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance reference price client configured", map[string]interface{}{"baseURL": client.BaseURL, "symbols": len(cfg.Symbols)})

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	symbols := make(map[string]string, len(cfg.Symbols))
	for market, symbol := range cfg.Symbols {
		symbols[market] = strings.ToUpper(symbol)
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		symbols:       symbols,
		cacheTTL:      ttl,
		now:           time.Now,
		cache:         make(map[string]cachedPrice),
	}, nil
}

// Symbol returns the futures symbol mapped to a market.
func (c *Client) Symbol(market string) (string, bool) {
	s, ok := c.symbols[market]
	return s, ok
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1121: // Invalid symbol
			mappedErr = ports.ErrNotFound
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			// General classification for unmapped API errors
			mappedErr = ports.ErrUnknown
		}
		c.logger.Warn(ctx, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		// Default for other errors (e.g., parsing errors within the adapter)
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Warn(ctx, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// LastPrice retrieves the last traded futures price for the symbol mapped to market.
// Markets without a mapping report ok=false and no error.
func (c *Client) LastPrice(ctx context.Context, market string) (decimal.Decimal, bool, error) {
	op := "LastPrice"
	symbol, ok := c.symbols[market]
	if !ok {
		return decimal.Zero, false, nil
	}

	c.mu.Lock()
	cached, hit := c.cache[symbol]
	c.mu.Unlock()
	if hit && c.now().Sub(cached.fetchedAt) < c.cacheTTL {
		return cached.price, true, nil
	}

	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, false, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return decimal.Zero, false, c.handleError(ctx, err, op)
	}

	price, err := decimal.NewFromString(tickers[0].LastPrice)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].LastPrice, err)
		return decimal.Zero, false, c.handleError(ctx, parseErr, op)
	}

	c.mu.Lock()
	c.cache[symbol] = cachedPrice{price: price, fetchedAt: c.now()}
	c.mu.Unlock()
	return price, true, nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}
