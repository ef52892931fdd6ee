// Package telegram publishes sell alerts and window reports to a Telegram channel through the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Config holds configuration for the Telegram sink.
type Config struct {
	BaseURL    string // Defaults to the public Bot API
	BotToken   string
	ChatID     string // Channel username (@name) or numeric ID
	HTTPClient *http.Client
	Limiter    *rate.Limiter // Defaults to 1 message per second, burst 3
	Logger     ports.Logger
}

// Sink implements ports.Broadcaster.
type Sink struct {
	baseURL string
	token   string
	chatID  string
	http    *http.Client
	limiter *rate.Limiter
	logger  ports.Logger
}

var _ ports.Broadcaster = (*Sink)(nil)

// New creates a new Telegram sink.
func New(cfg Config) (*Sink, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Telegram sink")
	}
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram bot token and chat ID are required: %w", ports.ErrConfigurationError)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Second), 3)
	}
	return &Sink{
		baseURL: baseURL,
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		http:    client,
		limiter: limiter,
		logger:  cfg.Logger,
	}, nil
}

// PublishSellAlert posts the alert for one sell trade.
func (s *Sink) PublishSellAlert(ctx context.Context, alert *domain.SellAlert) error {
	return s.send(ctx, "PublishSellAlert", FormatSellAlert(alert))
}

// PublishReport posts one window report.
func (s *Sink) PublishReport(ctx context.Context, report *domain.Report) error {
	return s.send(ctx, "PublishReport", FormatReport(report))
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (s *Sink) send(ctx context.Context, op, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s failed: rate limiter wait: %w: %w", op, ports.ErrContextCanceled, err)
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                s.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("%s failed: encode request: %w: %w", op, ports.ErrInvalidRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/bot"+s.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s failed: build request: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		// The URL carries the bot token, so only the cause is kept.
		return fmt.Errorf("%s failed: %w: %s", op, ports.ErrDeliveryFailed, redact(err.Error(), s.token))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("%s failed: read response: %w: %w", op, ports.ErrDeliveryFailed, err)
	}
	var out apiResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode == http.StatusTooManyRequests || out.ErrorCode == http.StatusTooManyRequests {
		rl := &ports.RateLimitError{Service: "telegram"}
		if out.Parameters != nil && out.Parameters.RetryAfter > 0 {
			rl.RetryAfter = time.Duration(out.Parameters.RetryAfter) * time.Second
		}
		s.logger.Warn(ctx, op+": Telegram rate limited", map[string]interface{}{"retryAfter": rl.RetryAfter.String()})
		return fmt.Errorf("%s failed: %w", op, rl)
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = truncate(string(raw), maxErrorBody)
		}
		return fmt.Errorf("%s failed: %w: status %d: %s", op, ports.ErrDeliveryFailed, resp.StatusCode, desc)
	}

	s.logger.Debug(ctx, op+": Telegram message delivered", map[string]interface{}{"chatID": s.chatID})
	return nil
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<redacted>")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
