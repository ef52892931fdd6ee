package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"whaleTracker/internal/aggregate"
	"whaleTracker/internal/domain"
	"whaleTracker/internal/notify"
	"whaleTracker/internal/ports"
)

const (
	defaultQueueSize     = 256
	defaultShutdownGrace = 5 * time.Second
)

// Feed is the account trade stream. It delivers trades to the service's HandleTrade.
type Feed interface {
	Run(ctx context.Context) error
	Status() domain.ConnectionStatus
}

// WindowAggregator produces the periodic reports.
type WindowAggregator interface {
	Run(ctx context.Context) error
	Window() domain.Window
	Stats() aggregate.Stats
}

// SellNotifier dispatches the alerts for one sell trade.
type SellNotifier interface {
	NotifySell(ctx context.Context, trade *domain.Trade) (notify.Result, error)
}

// Runner is any background component that runs until its context is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// Config holds the dependencies of the tracker service.
type Config struct {
	Logger        ports.Logger
	Store         ports.TradeStore
	Notifier      SellNotifier
	Aggregator    WindowAggregator
	Account       string
	QueueSize     int           // Buffered sell alerts awaiting dispatch
	ShutdownGrace time.Duration // Max wait for components after cancellation
	HandleSignals bool          // Cancel on SIGINT/SIGTERM
}

// TrackerService wires the feed into the store and the notifier and runs the aggregator.
type TrackerService struct {
	logger        ports.Logger
	store         ports.TradeStore
	notifier      SellNotifier
	aggregator    WindowAggregator
	account       string
	shutdownGrace time.Duration
	handleSignals bool

	alerts chan *domain.Trade

	mu        sync.RWMutex
	feed      Feed
	startedAt time.Time

	tradesIngested atomic.Int64
	duplicates     atomic.Int64
	staleTrades    atomic.Int64
	storeErrors    atomic.Int64
	sellAlerts     atomic.Int64
	alertsDropped  atomic.Int64
	broadcastFails atomic.Int64
	pushesSent     atomic.Int64
	pushesSkipped  atomic.Int64
	pushFailures   atomic.Int64
}

var _ ports.TradeHandler = (*TrackerService)(nil)

// NewTrackerService creates a new application service instance.
func NewTrackerService(cfg Config) (*TrackerService, error) {
	// Validate dependencies
	if cfg.Logger == nil || cfg.Store == nil || cfg.Notifier == nil || cfg.Aggregator == nil {
		return nil, fmt.Errorf("missing required dependencies for TrackerService")
	}
	if cfg.Account == "" {
		return nil, fmt.Errorf("monitored account must be set: %w", ports.ErrConfigurationError)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}

	return &TrackerService{
		logger:        cfg.Logger,
		store:         cfg.Store,
		notifier:      cfg.Notifier,
		aggregator:    cfg.Aggregator,
		account:       cfg.Account,
		shutdownGrace: cfg.ShutdownGrace,
		handleSignals: cfg.HandleSignals,
		alerts:        make(chan *domain.Trade, cfg.QueueSize),
	}, nil
}

// HandleTrade ingests one decoded trade. It runs on the feed's read loop and never blocks on
// outbound delivery: sells are queued for the notification worker and dropped when the queue is full.
func (s *TrackerService) HandleTrade(ctx context.Context, trade *domain.Trade) {
	op := "HandleTrade"
	fields := map[string]interface{}{"tradeID": trade.ID, "market": trade.Market, "side": trade.Side.String()}

	added, err := s.store.Append(ctx, s.account, trade)
	if errors.Is(err, ports.ErrStaleTrade) {
		// Already outside the window, typically a replayed snapshot after a trim.
		s.staleTrades.Add(1)
		s.logger.Debug(ctx, op+": Stale trade ignored", fields)
		return
	}
	if err != nil {
		// The trade is lost for aggregation; sells are still alerted.
		s.storeErrors.Add(1)
		s.logger.Error(ctx, err, op+": Failed to append trade to store", fields)
	} else if !added {
		s.duplicates.Add(1)
		s.logger.Debug(ctx, op+": Duplicate trade ignored", fields)
		return
	}
	s.tradesIngested.Add(1)

	if !trade.IsSell() {
		return
	}
	s.sellAlerts.Add(1)
	select {
	case s.alerts <- trade:
	default:
		s.alertsDropped.Add(1)
		s.logger.Warn(ctx, op+": Alert queue full, sell alert dropped", fields)
	}
}

// notificationWorker dispatches queued sell alerts until ctx is canceled.
// Alerts still queued at shutdown are abandoned.
func (s *TrackerService) notificationWorker(ctx context.Context) {
	op := "notificationWorker"
	for {
		select {
		case <-ctx.Done():
			if n := len(s.alerts); n > 0 {
				s.logger.Warn(ctx, op+": Abandoning queued sell alerts", map[string]interface{}{"count": n})
			}
			return
		case trade := <-s.alerts:
			s.dispatch(ctx, trade)
		}
	}
}

func (s *TrackerService) dispatch(ctx context.Context, trade *domain.Trade) {
	op := "dispatch"
	res, err := s.notifier.NotifySell(ctx, trade)
	s.pushesSent.Add(int64(res.Pushed))
	s.pushesSkipped.Add(int64(res.Suppressed))
	s.pushFailures.Add(int64(res.Failed))
	if !res.Broadcast {
		s.broadcastFails.Add(1)
	}
	if err != nil {
		s.logger.Warn(ctx, op+": Sell alert delivered partially", map[string]interface{}{"tradeID": trade.ID, "error": err.Error()})
	}
}

// Start runs the feed, the aggregator, the notification worker and any extra runners until ctx
// is canceled (or a shutdown signal arrives when HandleSignals is set).
func (s *TrackerService) Start(ctx context.Context, feed Feed, runners ...Runner) error {
	if feed == nil {
		return fmt.Errorf("feed is required: %w", ports.ErrConfigurationError)
	}
	s.logger.Info(ctx, "Starting Tracker Service...", map[string]interface{}{"account": s.account})

	s.mu.Lock()
	s.feed = feed
	s.startedAt = time.Now()
	s.mu.Unlock()

	// Create a context that can be canceled by signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.handleSignals {
		// Handle graceful shutdown
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
				cancel() // Cancel the main context
			case <-ctx.Done():
			}
		}()
	}

	var wg sync.WaitGroup
	feedDone := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		feedDone <- feed.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.notificationWorker(ctx)
	}()

	all := append([]Runner{s.aggregator}, runners...)
	for _, r := range all {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error(ctx, err, "Background component stopped with error")
			}
		}(r)
	}
	s.logger.Info(ctx, "Tracker Service running", map[string]interface{}{"components": len(all) + 2})

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info(ctx, "Main context cancelled, initiating shutdown...")
	case err := <-feedDone:
		if ctx.Err() != nil {
			s.logger.Info(ctx, "Main context cancelled, initiating shutdown...")
			break
		}
		// The feed only returns on its own when it cannot continue.
		if err == nil {
			err = fmt.Errorf("feed stopped unexpectedly")
		}
		s.logger.Error(ctx, err, "Feed stream stopped")
		runErr = fmt.Errorf("feed stream stopped: %w", err)
		cancel()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info(ctx, "All components shut down gracefully")
	case <-time.After(s.shutdownGrace):
		s.logger.Warn(ctx, "Timeout waiting for components to shut down", map[string]interface{}{"grace": s.shutdownGrace.String()})
	}

	s.logger.Info(ctx, "Tracker Service stopped.", map[string]interface{}{"tradesIngested": s.tradesIngested.Load(), "sellAlerts": s.sellAlerts.Load()})
	return runErr
}

// Status returns a snapshot of the connection state, the current window and all counters.
func (s *TrackerService) Status() domain.ServiceStatus {
	s.mu.RLock()
	feed, startedAt := s.feed, s.startedAt
	s.mu.RUnlock()

	var conn domain.ConnectionStatus
	if feed != nil {
		conn = feed.Status()
	}
	agg := s.aggregator.Stats()

	return domain.ServiceStatus{
		Account:    s.account,
		Connection: conn,
		Window:     s.aggregator.Window(),
		StartedAt:  startedAt,
		Counters: domain.Counters{
			TradesIngested: s.tradesIngested.Load(),
			Duplicates:     s.duplicates.Load(),
			StaleTrades:    s.staleTrades.Load(),
			DecodeErrors:   conn.DecodeErrors,
			StoreErrors:    s.storeErrors.Load() + agg.StoreErrors,
			ReportsEmitted: agg.ReportsEmitted,
			ReportFailures: agg.ReportFailures,
			Reconnects:     conn.Reconnects,
			SellAlerts:     s.sellAlerts.Load(),
			AlertsDropped:  s.alertsDropped.Load(),
			BroadcastFails: s.broadcastFails.Load(),
			PushesSent:     s.pushesSent.Load(),
			PushesSkipped:  s.pushesSkipped.Load(),
			PushFailures:   s.pushFailures.Load(),
		},
	}
}
