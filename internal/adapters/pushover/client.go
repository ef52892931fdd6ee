// Package pushover delivers per-recipient sell alerts through the Pushover messages API.
package pushover

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"
	"whaleTracker/internal/utils"
)

const (
	defaultBaseURL    = "https://api.pushover.net"
	defaultTitle      = "Lighter SELL Alert"
	defaultTimeout    = 10 * time.Second
	defaultRetryAfter = 2 * time.Second
	messagesPath      = "/1/messages.json"
)

// Config holds configuration for the Pushover client.
type Config struct {
	BaseURL    string
	AppToken   string
	Title      string
	PairURL    string // Optional link attached to every push
	HTTPClient *http.Client
	Limiter    *rate.Limiter // Defaults to 2 requests per second
	Logger     ports.Logger
}

// Client implements ports.PushSender.
type Client struct {
	baseURL  string
	appToken string
	title    string
	pairURL  string
	http     *http.Client
	limiter  *rate.Limiter
	logger   ports.Logger
}

var _ ports.PushSender = (*Client)(nil)

// New creates a new Pushover client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Pushover client")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("pushover app token is required: %w", ports.ErrConfigurationError)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	title := cfg.Title
	if title == "" {
		title = defaultTitle
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(2), 2)
	}
	return &Client{
		baseURL:  baseURL,
		appToken: cfg.AppToken,
		title:    title,
		pairURL:  cfg.PairURL,
		http:     client,
		limiter:  limiter,
		logger:   cfg.Logger,
	}, nil
}

type messageResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors"`
}

// Send pushes the alert to one recipient.
func (c *Client) Send(ctx context.Context, recipient *domain.Subscriber, alert *domain.SellAlert) error {
	op := "Send"
	if recipient == nil || recipient.PushKey == "" {
		return fmt.Errorf("%s failed: recipient has no push key: %w", op, ports.ErrInvalidRequest)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s failed: rate limiter wait: %w: %w", op, ports.ErrContextCanceled, err)
	}

	form := url.Values{}
	form.Set("token", c.appToken)
	form.Set("user", recipient.PushKey)
	form.Set("title", c.title)
	form.Set("message", FormatMessage(alert))
	form.Set("timestamp", strconv.FormatInt(alert.ExecutedAt.Unix(), 10))
	if c.pairURL != "" {
		form.Set("url", c.pairURL)
		form.Set("url_title", "Open pair")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s failed: build request: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := defaultRetryAfter
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		c.logger.Warn(ctx, op+": Pushover rate limited", map[string]interface{}{"recipientID": recipient.RecipientID, "retryAfter": retryAfter.String()})
		return fmt.Errorf("%s failed: %w", op, &ports.RateLimitError{Service: "pushover", RetryAfter: retryAfter})
	}

	var out messageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return fmt.Errorf("%s failed: status %d, undecodable response: %w: %w", op, resp.StatusCode, ports.ErrDeliveryFailed, err)
	}
	if resp.StatusCode != http.StatusOK || out.Status != 1 {
		return fmt.Errorf("%s failed: %w: status %d: %s", op, ports.ErrDeliveryFailed, resp.StatusCode, strings.Join(out.Errors, "; "))
	}

	c.logger.Debug(ctx, op+": Push delivered", map[string]interface{}{"recipientID": recipient.RecipientID, "request": out.Request})
	return nil
}

// FormatMessage renders the push body for a sell alert.
func FormatMessage(a *domain.SellAlert) string {
	msg := fmt.Sprintf("SELL detected on market %s at %s | USD Size: %s",
		a.Market, a.ExecutedAt.UTC().Format(time.RFC3339), utils.FormatUSD(a.USDValue))
	if a.ReferencePrice != nil {
		msg += " | Ref price: " + a.ReferencePrice.String()
	}
	return msg
}
