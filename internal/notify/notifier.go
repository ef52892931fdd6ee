// Package notify dispatches sell alerts: one unconditional broadcast per sell trade and a
// cooldown-gated push to every subscriber.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"
)

const (
	defaultCooldown      = 2 * time.Hour
	defaultAttempts      = 2
	defaultRetryDelay    = time.Second
	defaultMaxRetryDelay = 30 * time.Second
	defaultConcurrency   = 4
	defaultPriceTimeout  = 2 * time.Second
)

// Config holds configuration for the Notifier.
type Config struct {
	Broadcaster   ports.Broadcaster
	Pusher        ports.PushSender
	Cooldowns     ports.CooldownStore
	Prices        ports.PriceReference // Optional
	Logger        ports.Logger
	Cooldown      time.Duration // Minimum time between two pushes to the same recipient
	Attempts      int           // Delivery attempts per message, including the first
	RetryDelay    time.Duration // Wait between attempts unless the sink asks for longer
	MaxRetryDelay time.Duration // Upper bound for a sink-provided Retry-After
	Concurrency   int           // Parallel push deliveries per sell event
	PriceTimeout  time.Duration
	Now           func() time.Time
}

// Result summarizes the dispatch of one sell trade.
type Result struct {
	Broadcast  bool // Broadcast alert delivered
	Pushed     int  // Pushes delivered
	Suppressed int  // Recipients skipped by cooldown
	Failed     int  // Pushes that failed after all attempts
}

// Notifier implements the cooldown-gated sell alert dispatch.
type Notifier struct {
	broadcaster ports.Broadcaster
	pusher      ports.PushSender
	cooldowns   ports.CooldownStore
	prices      ports.PriceReference
	logger      ports.Logger

	cooldown      time.Duration
	attempts      int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	concurrency   int
	priceTimeout  time.Duration
	now           func() time.Time
}

// New creates a new Notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for notifier")
	}
	if cfg.Broadcaster == nil || cfg.Pusher == nil || cfg.Cooldowns == nil {
		return nil, fmt.Errorf("broadcaster, push sender and cooldown store are required: %w", ports.ErrConfigurationError)
	}
	n := &Notifier{
		broadcaster:   cfg.Broadcaster,
		pusher:        cfg.Pusher,
		cooldowns:     cfg.Cooldowns,
		prices:        cfg.Prices,
		logger:        cfg.Logger,
		cooldown:      cfg.Cooldown,
		attempts:      cfg.Attempts,
		retryDelay:    cfg.RetryDelay,
		maxRetryDelay: cfg.MaxRetryDelay,
		concurrency:   cfg.Concurrency,
		priceTimeout:  cfg.PriceTimeout,
		now:           cfg.Now,
	}
	if n.cooldown <= 0 {
		n.cooldown = defaultCooldown
	}
	if n.attempts <= 0 {
		n.attempts = defaultAttempts
	}
	if n.retryDelay <= 0 {
		n.retryDelay = defaultRetryDelay
	}
	if n.maxRetryDelay <= 0 {
		n.maxRetryDelay = defaultMaxRetryDelay
	}
	if n.concurrency <= 0 {
		n.concurrency = defaultConcurrency
	}
	if n.priceTimeout <= 0 {
		n.priceTimeout = defaultPriceTimeout
	}
	if n.now == nil {
		n.now = time.Now
	}
	return n, nil
}

// NotifySell dispatches the alerts for one sell trade.
// Delivery failures are logged and counted in the Result; the returned error reports a
// failed broadcast or an unreadable subscriber list.
func (n *Notifier) NotifySell(ctx context.Context, trade *domain.Trade) (Result, error) {
	op := "NotifySell"
	var res Result
	if trade == nil || !trade.IsSell() {
		return res, fmt.Errorf("%s: only sell trades are alerted: %w", op, ports.ErrInvalidRequest)
	}

	alert := domain.NewSellAlert(trade)
	n.attachReferencePrice(ctx, alert)

	var errs []error
	err := n.deliver(ctx, func(ctx context.Context) error { return n.broadcaster.PublishSellAlert(ctx, alert) })
	if err != nil {
		n.logger.Error(ctx, err, op+": Broadcast alert dropped", map[string]interface{}{"tradeID": trade.ID, "market": trade.Market})
		errs = append(errs, fmt.Errorf("broadcast alert: %w", err))
	} else {
		res.Broadcast = true
	}

	subscribers, err := n.cooldowns.ListSubscribers(ctx)
	if err != nil {
		n.logger.Error(ctx, err, op+": Failed to list subscribers, skipping pushes", map[string]interface{}{"tradeID": trade.ID})
		errs = append(errs, fmt.Errorf("list subscribers: %w: %w", ports.ErrStore, err))
		return res, errors.Join(errs...)
	}

	n.fanOut(ctx, subscribers, alert, &res)

	n.logger.Info(ctx, op+": Sell alert dispatched", map[string]interface{}{
		"tradeID":    trade.ID,
		"market":     trade.Market,
		"usdValue":   trade.USDValue.StringFixed(2),
		"broadcast":  res.Broadcast,
		"pushed":     res.Pushed,
		"suppressed": res.Suppressed,
		"failed":     res.Failed,
	})
	return res, errors.Join(errs...)
}

// fanOut pushes to every subscriber with at most n.concurrency deliveries in flight.
func (n *Notifier) fanOut(ctx context.Context, subscribers []*domain.Subscriber, alert *domain.SellAlert, res *Result) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, n.concurrency)
	)
	for _, sub := range subscribers {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(sub *domain.Subscriber) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := n.pushOne(ctx, sub, alert)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case pushSent:
				res.Pushed++
			case pushSuppressed:
				res.Suppressed++
			case pushFailed:
				res.Failed++
			}
		}(sub)
	}
	wg.Wait()
}

type pushOutcome int

const (
	pushSent pushOutcome = iota
	pushSuppressed
	pushFailed
)

// pushOne gates one recipient on its cooldown and delivers the push.
func (n *Notifier) pushOne(ctx context.Context, sub *domain.Subscriber, alert *domain.SellAlert) pushOutcome {
	now := n.now()
	marked, err := n.cooldowns.TryMarkNotified(ctx, sub.RecipientID, now, n.cooldown)
	if err != nil {
		n.logger.Error(ctx, err, "Cooldown check failed, skipping recipient", map[string]interface{}{"recipientID": sub.RecipientID})
		return pushFailed
	}
	if !marked {
		n.logger.Debug(ctx, "Recipient in cooldown, push skipped", map[string]interface{}{"recipientID": sub.RecipientID})
		return pushSuppressed
	}

	err = n.deliver(ctx, func(ctx context.Context) error { return n.pusher.Send(ctx, sub, alert) })
	if err == nil {
		return pushSent
	}

	n.logger.Error(ctx, err, "Push delivery failed", map[string]interface{}{"recipientID": sub.RecipientID, "tradeID": alert.TradeID})
	// Keep the recipient eligible for the next sell. The release must not depend on ctx,
	// which may already be canceled.
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if relErr := n.cooldowns.ReleaseMark(releaseCtx, sub.RecipientID, now); relErr != nil {
		n.logger.Warn(ctx, "Failed to release cooldown mark", map[string]interface{}{"recipientID": sub.RecipientID, "error": relErr.Error()})
	}
	return pushFailed
}

// deliver calls send up to n.attempts times. A canceled context stops further attempts.
func (n *Notifier) deliver(ctx context.Context, send func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if err = send(ctx); err == nil {
			return nil
		}
		if attempt == n.attempts || ctx.Err() != nil {
			break
		}

		delay := n.retryDelay
		var rl *ports.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = min(rl.RetryAfter, n.maxRetryDelay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", err, ports.ErrContextCanceled)
		case <-timer.C:
		}
	}
	return err
}

// attachReferencePrice adds the external last price when one is configured for the market.
func (n *Notifier) attachReferencePrice(ctx context.Context, alert *domain.SellAlert) {
	if n.prices == nil {
		return
	}
	priceCtx, cancel := context.WithTimeout(ctx, n.priceTimeout)
	defer cancel()

	price, ok, err := n.prices.LastPrice(priceCtx, alert.Market)
	if err != nil {
		n.logger.Warn(ctx, "Reference price unavailable", map[string]interface{}{"market": alert.Market, "error": err.Error()})
		return
	}
	if ok {
		alert.ReferencePrice = &price
	}
}
