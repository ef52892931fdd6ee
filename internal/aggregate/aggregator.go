// Package aggregate turns the rolling trade window into periodic buy/sell reports.
package aggregate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"
)

const (
	defaultInterval   = 5 * time.Minute
	defaultAttempts   = 1
	defaultRetryDelay = time.Second
)

// Config holds configuration for the Aggregator.
type Config struct {
	Store      ports.TradeStore
	Publisher  ports.ReportPublisher
	Logger     ports.Logger
	Account    string
	Interval   time.Duration // Report cadence, default 5 minutes
	Start      time.Time     // Start of the first window, default now
	Attempts   int           // Publish attempts per report before giving up on it
	RetryDelay time.Duration
	Now        func() time.Time
}

// Stats are the aggregator counters.
type Stats struct {
	ReportsEmitted int64
	ReportFailures int64
	StoreErrors    int64
	TradesTrimmed  int64
}

// CycleOutcome describes what one aggregation cycle did.
type CycleOutcome int

const (
	CycleReported    CycleOutcome = iota // Report published, window advanced, store trimmed
	CyclePublishFail                     // Report lost, window advanced, trim skipped
	CycleStoreFail                       // Range failed, window extended to the next boundary
)

// Aggregator emits one report per interval for a single account.
type Aggregator struct {
	store      ports.TradeStore
	publisher  ports.ReportPublisher
	logger     ports.Logger
	account    string
	interval   time.Duration
	attempts   int
	retryDelay time.Duration
	now        func() time.Time

	cycleMu sync.Mutex // Serializes cycles
	mu      sync.Mutex // Guards window only, never held across I/O
	window  domain.Window

	reportsEmitted atomic.Int64
	reportFailures atomic.Int64
	storeErrors    atomic.Int64
	tradesTrimmed  atomic.Int64
}

// New creates a new Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for aggregator")
	}
	if cfg.Store == nil || cfg.Publisher == nil {
		return nil, fmt.Errorf("trade store and report publisher are required: %w", ports.ErrConfigurationError)
	}
	if cfg.Account == "" {
		return nil, fmt.Errorf("account is required: %w", ports.ErrConfigurationError)
	}
	a := &Aggregator{
		store:      cfg.Store,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger,
		account:    cfg.Account,
		interval:   cfg.Interval,
		attempts:   cfg.Attempts,
		retryDelay: cfg.RetryDelay,
		now:        cfg.Now,
	}
	if a.interval <= 0 {
		a.interval = defaultInterval
	}
	if a.attempts <= 0 {
		a.attempts = defaultAttempts
	}
	if a.retryDelay <= 0 {
		a.retryDelay = defaultRetryDelay
	}
	if a.now == nil {
		a.now = time.Now
	}
	start := cfg.Start
	if start.IsZero() {
		start = a.now()
	}
	a.window = domain.NewWindow(start, a.interval)
	return a, nil
}

// Window returns the window the next cycle will report on.
func (a *Aggregator) Window() domain.Window {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.window
}

func (a *Aggregator) setWindow(w domain.Window) {
	a.mu.Lock()
	a.window = w
	a.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (a *Aggregator) Stats() Stats {
	return Stats{
		ReportsEmitted: a.reportsEmitted.Load(),
		ReportFailures: a.reportFailures.Load(),
		StoreErrors:    a.storeErrors.Load(),
		TradesTrimmed:  a.tradesTrimmed.Load(),
	}
}

// Run fires a cycle at every scheduled window end until ctx is canceled.
// Boundaries come from the window, not from the wall clock, so late ticks catch up without drift.
func (a *Aggregator) Run(ctx context.Context) error {
	op := "Run"
	a.logger.Info(ctx, op+": Window aggregator started", map[string]interface{}{
		"account":     a.account,
		"interval":    a.interval.String(),
		"firstReport": a.Window().End.Format(time.RFC3339),
	})
	for {
		w := a.Window()
		timer := time.NewTimer(time.Until(w.End))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info(ctx, op+": Context cancelled, stopping aggregator.")
			return nil
		case <-timer.C:
		}
		a.RunCycle(ctx)
	}
}

// RunCycle reports on the current window and moves to the next one.
func (a *Aggregator) RunCycle(ctx context.Context) CycleOutcome {
	op := "RunCycle"
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	w := a.Window()

	trades, err := a.store.Range(ctx, a.account, w.Start, w.End)
	if err != nil {
		// Keep the start so the skipped trades are reported with the next window.
		a.storeErrors.Add(1)
		extended := w
		extended.End = w.End.Add(a.interval)
		a.setWindow(extended)
		a.logger.Error(ctx, err, op+": Failed to read trades, skipping report", map[string]interface{}{
			"windowStart": w.Start.Format(time.RFC3339),
			"nextEnd":     extended.End.Format(time.RFC3339),
		})
		return CycleStoreFail
	}

	report := Summarize(a.account, w, trades)
	report.ID = uuid.NewString()
	report.GeneratedAt = a.now().UTC()

	pubErr := a.publish(ctx, report)
	a.setWindow(w.Next(a.interval))
	fields := map[string]interface{}{
		"reportID":    report.ID,
		"windowStart": w.Start.Format(time.RFC3339),
		"windowEnd":   w.End.Format(time.RFC3339),
		"markets":     len(report.Markets),
		"trades":      report.TradeCount,
	}
	if pubErr != nil {
		// Not retried past this cycle. The trades stay in the store until a later trim.
		a.reportFailures.Add(1)
		a.logger.Error(ctx, pubErr, op+": Failed to publish report, trim skipped", fields)
		return CyclePublishFail
	}
	a.reportsEmitted.Add(1)
	a.logger.Info(ctx, op+": Report published", fields)

	removed, err := a.store.Trim(ctx, a.account, w.Start)
	if err != nil {
		a.storeErrors.Add(1)
		a.logger.Warn(ctx, op+": Failed to trim trade store", map[string]interface{}{"olderThan": w.Start.Format(time.RFC3339), "error": err.Error()})
	} else {
		a.tradesTrimmed.Add(int64(removed))
	}
	return CycleReported
}

func (a *Aggregator) publish(ctx context.Context, report *domain.Report) error {
	var err error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		if err = a.publisher.PublishReport(ctx, report); err == nil {
			return nil
		}
		if attempt == a.attempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", err, ports.ErrContextCanceled)
		case <-time.After(a.retryDelay):
		}
	}
	return err
}
