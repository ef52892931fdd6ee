package lighter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"
)

const (
	defaultBaseDelay        = 2 * time.Second
	defaultMaxDelay         = 60 * time.Second
	defaultSubscribeTimeout = 10 * time.Second
	defaultHeartbeatTimeout = 90 * time.Second
	defaultDialTimeout      = 15 * time.Second
	defaultJitterFraction   = 0.1

	// The exchange drops every connection after 24h; reconnect slightly before that.
	defaultMaxConnectionAge = 23*time.Hour + 30*time.Minute

	writeTimeout = 5 * time.Second
)

// Conn is the subset of *websocket.Conn used by the client.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a feed connection.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// wsDialer dials with gorilla/websocket.
type wsDialer struct {
	dialer *websocket.Dialer
}

func (d wsDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %w: handshake status %d", ports.ErrProtocol, ports.ErrAuthenticationFailed, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// Config holds configuration for the Lighter stream client.
type Config struct {
	URL              string
	AccountID        int64
	AuthToken        string // Opaque, sent with the subscription request
	Logger           ports.Logger
	Handler          ports.TradeHandler
	BaseDelay        time.Duration // First backoff delay
	MaxDelay         time.Duration // Backoff cap
	JitterFraction   float64       // Added jitter as a fraction of the delay (e.g. 0.1)
	SubscribeTimeout time.Duration // Bound on waiting for the subscription acknowledgment
	HeartbeatTimeout time.Duration // Max silence on an established stream
	MaxConnectionAge time.Duration // Clean reconnect after this long
	DialTimeout      time.Duration
	Dialer           Dialer // Optional, defaults to gorilla/websocket
}

// Client owns one persistent connection to the account trade feed.
// It never stops retrying until its context is canceled.
type Client struct {
	cfg     Config
	logger  ports.Logger
	handler ports.TradeHandler
	dialer  Dialer
	decoder *Decoder
	backoff *backoff.Backoff

	mu     sync.RWMutex
	status domain.ConnectionStatus
}

// New creates a new stream client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Lighter client")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("trade handler is required for Lighter client")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("stream URL is required: %w", ports.ErrConfigurationError)
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	} else if cfg.JitterFraction == 0 {
		cfg.JitterFraction = defaultJitterFraction
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = defaultSubscribeTimeout
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if cfg.MaxConnectionAge <= 0 {
		cfg.MaxConnectionAge = defaultMaxConnectionAge
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = wsDialer{dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		}}
	}

	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		handler: cfg.Handler,
		dialer:  dialer,
		decoder: NewDecoder(cfg.AccountID),
		backoff: &backoff.Backoff{Min: cfg.BaseDelay, Max: cfg.MaxDelay, Factor: 2},
	}, nil
}

// Status returns a snapshot of the connection state and counters.
func (c *Client) Status() domain.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// State returns the current connection state.
func (c *Client) State() domain.ConnectionState {
	return c.Status().State
}

// Run connects, subscribes and streams until ctx is canceled. Every failure leads to
// Backoff and another attempt. Run returns nil once the context is done.
func (c *Client) Run(ctx context.Context) error {
	op := "Run"
	defer c.transition(context.Background(), domain.StateDisconnected, nil)

	for {
		if ctx.Err() != nil {
			return nil
		}
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info(ctx, op+": Context cancelled, stopping connection attempts.", map[string]interface{}{"account": c.cfg.AccountID})
			return nil
		}
		if errors.Is(err, ports.ErrMaxConnectionAge) {
			c.logger.Info(ctx, op+": Max connection age reached, reconnecting.", map[string]interface{}{"maxAge": c.cfg.MaxConnectionAge.String()})
			c.mu.Lock()
			c.status.Reconnects++
			c.mu.Unlock()
			continue
		}
		if !c.wait(ctx, err) {
			c.logger.Info(ctx, op+": Context cancelled during backoff.", map[string]interface{}{"account": c.cfg.AccountID})
			return nil
		}
	}
}

// session runs one connection lifetime: Connecting, Subscribing, Streaming.
// It always returns a non-nil error describing why the connection ended.
func (c *Client) session(ctx context.Context) error {
	c.transition(ctx, domain.StateConnecting, nil)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.dialer.Dial(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		if errors.Is(err, ports.ErrProtocol) {
			return err
		}
		return fmt.Errorf("dial failed: %w: %w", ports.ErrTransport, err)
	}
	defer conn.Close()

	// Closing the connection is the only way to unblock a pending read.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	c.transition(ctx, domain.StateSubscribing, nil)
	if err := c.subscribe(ctx, conn); err != nil {
		return err
	}

	connectedAt := time.Now()
	c.mu.Lock()
	c.status.RetryCount = 0
	c.status.NextAttemptAt = time.Time{}
	c.status.ConnectedAt = connectedAt
	c.mu.Unlock()
	c.transition(ctx, domain.StateStreaming, nil)

	return c.stream(ctx, conn, connectedAt.Add(c.cfg.MaxConnectionAge))
}

// subscribe sends the subscription request and waits for a positive acknowledgment.
func (c *Client) subscribe(ctx context.Context, conn Conn) error {
	req, err := json.Marshal(subscribeRequest{
		Type:    typeSubscribe,
		Channel: channelFor(c.cfg.AccountID),
		Auth:    c.cfg.AuthToken,
	})
	if err != nil {
		return fmt.Errorf("encode subscribe request: %w: %w", ports.ErrProtocol, err)
	}
	if err := c.write(conn, req); err != nil {
		return fmt.Errorf("send subscribe request: %w: %w", ports.ErrTransport, err)
	}

	deadline := time.Now().Add(c.cfg.SubscribeTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set read deadline: %w: %w", ports.ErrTransport, err)
	}
	for {
		frame, err := c.read(ctx, conn)
		if err != nil {
			if isTimeout(err) {
				return fmt.Errorf("subscription acknowledgment not received within %s: %w: %w", c.cfg.SubscribeTimeout, ports.ErrProtocol, ports.ErrTimeout)
			}
			return err
		}
		if frame == nil {
			continue
		}
		switch frame.Kind {
		case FrameError:
			return frame.Err
		case FrameSubscribed, FrameTrades:
			c.logger.Info(ctx, "Subscription acknowledged", map[string]interface{}{"channel": channelFor(c.cfg.AccountID), "type": frame.Type})
			c.deliver(ctx, frame)
			return nil
		default:
			if err := c.handleControl(ctx, conn, frame); err != nil {
				return err
			}
		}
	}
}

// stream reads frames until a failure, the heartbeat timeout or the max connection age.
func (c *Client) stream(ctx context.Context, conn Conn, ageDeadline time.Time) error {
	for {
		deadline := time.Now().Add(c.cfg.HeartbeatTimeout)
		if ageDeadline.Before(deadline) {
			deadline = ageDeadline
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("set read deadline: %w: %w", ports.ErrTransport, err)
		}

		frame, err := c.read(ctx, conn)
		if err != nil {
			if isTimeout(err) {
				if !time.Now().Before(ageDeadline) {
					return ports.ErrMaxConnectionAge
				}
				return fmt.Errorf("no message for %s: %w: %w", c.cfg.HeartbeatTimeout, ports.ErrTransport, ports.ErrHeartbeatTimeout)
			}
			return err
		}
		if frame == nil {
			continue
		}
		switch frame.Kind {
		case FrameError:
			return frame.Err
		case FrameSubscribed, FrameTrades:
			c.deliver(ctx, frame)
		default:
			if err := c.handleControl(ctx, conn, frame); err != nil {
				return err
			}
		}
	}
}

// read returns the next decoded frame. A nil frame with a nil error means the
// message was dropped as undecodable.
func (c *Client) read(ctx context.Context, conn Conn) (*Frame, error) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			return nil, err
		}
		return nil, fmt.Errorf("read failed: %w: %w", ports.ErrTransport, err)
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected message type %d: %w", msgType, ports.ErrProtocol)
	}

	frame, err := c.decoder.DecodeFrame(data)
	if err != nil {
		c.recordDecodeError(ctx, err, data)
		return nil, nil
	}
	return frame, nil
}

// handleControl answers pings and ignores other control frames.
func (c *Client) handleControl(ctx context.Context, conn Conn, frame *Frame) error {
	switch frame.Kind {
	case FramePing:
		pong, _ := json.Marshal(pongFrame{Type: typePong})
		if err := c.write(conn, pong); err != nil {
			return fmt.Errorf("send pong: %w: %w", ports.ErrTransport, err)
		}
		c.logger.Debug(ctx, "Replied to server ping with pong")
	case FrameConnected:
		c.logger.Debug(ctx, "Server greeting received")
	default:
		c.logger.Debug(ctx, "Ignoring message", map[string]interface{}{"type": frame.Type})
	}
	return nil
}

// deliver dispatches a trade update. The subscription snapshot replays account history
// on every connect and is skipped.
func (c *Client) deliver(ctx context.Context, frame *Frame) {
	if frame.Kind == FrameSubscribed {
		if len(frame.Trades) > 0 || len(frame.Rejects) > 0 {
			c.logger.Debug(ctx, "Skipping subscription snapshot", map[string]interface{}{"trades": len(frame.Trades)})
		}
		return
	}
	c.dispatch(ctx, frame)
}

// dispatch forwards decoded trades to the handler in order and counts rejects.
func (c *Client) dispatch(ctx context.Context, frame *Frame) {
	for _, rejectErr := range frame.Rejects {
		c.recordDecodeError(ctx, rejectErr, nil)
	}
	for _, t := range frame.Trades {
		c.handler.HandleTrade(ctx, t)
	}
}

func (c *Client) recordDecodeError(ctx context.Context, err error, raw []byte) {
	c.mu.Lock()
	c.status.DecodeErrors++
	c.mu.Unlock()

	fields := map[string]interface{}{}
	if raw != nil {
		snippet := string(raw)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		fields["raw"] = snippet
	}
	c.logger.Warn(ctx, "Dropped malformed feed message: "+err.Error(), fields)
}

func (c *Client) write(conn Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// wait enters Backoff for the computed delay. It returns false if ctx ended first.
func (c *Client) wait(ctx context.Context, cause error) bool {
	c.mu.Lock()
	retry := c.status.RetryCount
	delay := c.nextDelay(retry)
	next := time.Now().Add(delay)
	c.status.RetryCount = retry + 1
	c.status.NextAttemptAt = next
	c.mu.Unlock()

	c.transition(ctx, domain.StateBackoff, cause)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		c.mu.Lock()
		c.status.Reconnects++
		c.mu.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

// nextDelay returns min(base * 2^retry, max) plus up to JitterFraction of added jitter.
func (c *Client) nextDelay(retry int) time.Duration {
	delay := c.backoff.ForAttempt(float64(retry))
	if span := int64(float64(delay) * c.cfg.JitterFraction); span > 0 {
		delay += time.Duration(rand.Int64N(span + 1))
	}
	return delay
}

func (c *Client) transition(ctx context.Context, to domain.ConnectionState, cause error) {
	c.mu.Lock()
	from := c.status.State
	c.status.State = to
	retry := c.status.RetryCount
	next := c.status.NextAttemptAt
	c.mu.Unlock()

	if from == to {
		return
	}
	fields := map[string]interface{}{"from": from.String(), "to": to.String()}
	switch {
	case to == domain.StateBackoff && errors.Is(cause, ports.ErrProtocol):
		fields["retryCount"] = retry
		fields["nextAttemptIn"] = time.Until(next).Round(time.Millisecond).String()
		c.logger.Error(ctx, cause, "Feed connection state changed", fields)
	case to == domain.StateBackoff:
		fields["retryCount"] = retry
		fields["nextAttemptIn"] = time.Until(next).Round(time.Millisecond).String()
		if cause != nil {
			fields["error"] = cause.Error()
		}
		c.logger.Warn(ctx, "Feed connection state changed", fields)
	default:
		c.logger.Info(ctx, "Feed connection state changed", fields)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
